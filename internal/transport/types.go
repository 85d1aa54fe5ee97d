package transport

import (
	"context"
	"errors"
	"time"
)

// ErrDelivery wraps outbound delivery failures.
var ErrDelivery = errors.New("delivery failed")

// Kind classifies the payload of an inbound message.
type Kind string

const (
	KindText        Kind = "text"
	KindAudio       Kind = "audio"
	KindUnsupported Kind = "unsupported"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindAudio, KindUnsupported:
		return true
	default:
		return false
	}
}

// Inbound is one normalized message event from a channel. MediaID references
// audio still held by the channel that has not been downloaded yet.
type Inbound struct {
	Channel    string    `json:"channel"`
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id,omitempty"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Audio      []byte    `json:"-"`
	AudioMIME  string    `json:"audio_mime,omitempty"`
	MediaID    string    `json:"media_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Audio is a rendered voice clip.
type Audio struct {
	Data     []byte
	MIMEType string
}

// Reply is one outbound message.
type Reply struct {
	Channel string
	UserID  string
	Text    string
	Audio   *Audio
}

// Deliverer sends replies back to a user.
type Deliverer interface {
	Deliver(ctx context.Context, reply Reply) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, reply Reply) error

func (f DelivererFunc) Deliver(ctx context.Context, reply Reply) error { return f(ctx, reply) }

// MediaFetcher downloads audio referenced by a channel-specific media id.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error)
}
