package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/reysq/internal/audio"
	"github.com/ent0n29/reysq/internal/reliability"
	"github.com/ent0n29/reysq/internal/transport"
)

const (
	defaultElevenLabsWSBaseURL = "wss://api.elevenlabs.io"
	defaultElevenLabsModelID   = "eleven_multilingual_v2"
	defaultElevenLabsFormat    = "mp3_44100_128"
)

var (
	elevenLabsBackoffBase = 300 * time.Millisecond
	elevenLabsBackoffCap  = 2 * time.Second
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
	MaxAttempts  int
	Settings     VoiceSettings
}

// VoiceSettings are sent once when the stream is primed. Zero values pick
// the defaults below.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Speed           float64
}

type voiceSettingsFrame struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed"`
}

func (s VoiceSettings) frame() *voiceSettingsFrame {
	return &voiceSettingsFrame{
		Stability:       clampOr(s.Stability, 0.42, 0, 1),
		SimilarityBoost: clampOr(s.SimilarityBoost, 0.85, 0, 1),
		Speed:           clampOr(s.Speed, 1.0, 0.7, 1.2),
	}
}

// clampOr returns def for unset values and bounds everything else.
func clampOr(v, def, lo, hi float64) float64 {
	if v <= 0 {
		return def
	}
	return min(max(v, lo), hi)
}

type inputFrame struct {
	Text                 string              `json:"text"`
	VoiceSettings        *voiceSettingsFrame `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool                `json:"try_trigger_generation,omitempty"`
}

// outputFrame covers both spellings of the final marker the service has used.
type outputFrame struct {
	Audio       string `json:"audio"`
	IsFinal     bool   `json:"isFinal"`
	IsFinalAlt  bool   `json:"is_final"`
	Error       string `json:"error"`
	MessageType string `json:"message_type"`
}

// ElevenLabsSynthesizer renders replies through the ElevenLabs stream-input
// websocket and returns the collected clip once the server marks it final.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = defaultElevenLabsWSBaseURL
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = defaultElevenLabsModelID
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = defaultElevenLabsFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &ElevenLabsSynthesizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// streamError is an error frame sent by the server.
type streamError struct {
	messageType string
	detail      string
}

func (e *streamError) Error() string {
	if e.messageType == "" {
		return "tts stream error: " + e.detail
	}
	return fmt.Sprintf("tts stream error (%s): %s", e.messageType, e.detail)
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (transport.Audio, error) {
	spoken := SpeakableText(text)
	if spoken == "" {
		return transport.Audio{}, fmt.Errorf("%w: nothing speakable in reply", ErrSynthesis)
	}
	if strings.TrimSpace(s.cfg.VoiceID) == "" {
		return transport.Audio{}, fmt.Errorf("%w: voice_id is required", ErrSynthesis)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var clip []byte
	err := reliability.Retry(ctx, s.cfg.MaxAttempts, elevenLabsBackoffBase, elevenLabsBackoffCap, func() (bool, error) {
		var streamErr error
		clip, streamErr = s.stream(ctx, spoken)
		if streamErr == nil {
			return false, nil
		}
		var se *streamError
		if errors.As(streamErr, &se) {
			return reliability.IsRetryableRealtimeMessageType(se.messageType), streamErr
		}
		return ctx.Err() == nil, streamErr
	})
	if err != nil {
		return transport.Audio{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	if rate, ok := audio.PCMSampleRate(s.cfg.OutputFormat); ok {
		wav, err := audio.EncodeWAVPCM16LE(clip, rate)
		if err != nil {
			return transport.Audio{}, fmt.Errorf("%w: wrap pcm: %w", ErrSynthesis, err)
		}
		clip = wav
	}
	return transport.Audio{Data: clip, MIMEType: audio.MIMEType(s.cfg.OutputFormat)}, nil
}

func (s *ElevenLabsSynthesizer) streamURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(s.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model_id", s.cfg.ModelID)
	q.Set("output_format", s.cfg.OutputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *ElevenLabsSynthesizer) stream(ctx context.Context, text string) ([]byte, error) {
	target, err := s.streamURL()
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("xi-api-key", s.cfg.APIKey)

	conn, _, err := s.dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	// A single space primes the voice, an empty text closes input.
	for _, frame := range []inputFrame{
		{Text: " ", VoiceSettings: s.cfg.Settings.frame()},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	} {
		if err := conn.WriteJSON(frame); err != nil {
			return nil, fmt.Errorf("write tts frame: %w", err)
		}
	}

	var clip bytes.Buffer
	for {
		var msg outputFrame
		if err := conn.ReadJSON(&msg); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			if clip.Len() > 0 && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return clip.Bytes(), nil
			}
			return nil, fmt.Errorf("read tts stream: %w", err)
		}
		if msg.Error != "" {
			return nil, &streamError{messageType: msg.MessageType, detail: msg.Error}
		}
		if msg.Audio != "" {
			decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return nil, fmt.Errorf("decode audio chunk: %w", err)
			}
			clip.Write(decoded)
		}
		if msg.IsFinal || msg.IsFinalAlt {
			if clip.Len() == 0 {
				return nil, errors.New("tts stream ended without audio")
			}
			return clip.Bytes(), nil
		}
	}
}
