package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ent0n29/reysq/internal/transport"
)

// Channel is the transport channel name for WhatsApp turns.
const Channel = "whatsapp"

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// WebhookPayload is the subset of the Cloud API notification envelope this
// gateway reads.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Messages []Message `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// Message is one inbound WhatsApp message.
type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Audio *struct {
		ID       string `json:"id"`
		MIMEType string `json:"mime_type"`
		Voice    bool   `json:"voice"`
	} `json:"audio,omitempty"`
}

// ParseWebhook decodes a notification body into inbound turns. Status
// updates and other notifications without messages yield no turns.
func ParseWebhook(body []byte) ([]transport.Inbound, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	var out []transport.Inbound
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				out = append(out, msg.Inbound())
			}
		}
	}
	return out, nil
}

// Inbound normalizes the message. Anything other than text or audio is
// reported as unsupported so the sender can be told.
func (m Message) Inbound() transport.Inbound {
	in := transport.Inbound{
		Channel:    Channel,
		UserID:     strings.TrimSpace(m.From),
		MessageID:  m.ID,
		ReceivedAt: parseTimestamp(m.Timestamp),
	}
	switch {
	case m.Type == "text" && m.Text != nil:
		in.Kind = transport.KindText
		in.Text = m.Text.Body
	case m.Type == "audio" && m.Audio != nil:
		in.Kind = transport.KindAudio
		in.MediaID = m.Audio.ID
		in.AudioMIME = m.Audio.MIMEType
	default:
		in.Kind = transport.KindUnsupported
	}
	return in
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

// VerifyChallenge answers the subscription handshake. It returns the
// challenge to echo and whether the request is legitimate.
func VerifyChallenge(query url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" {
		return "", false
	}
	if query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(query.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// request body.
func VerifySignature(appSecret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the header value Meta would send for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
