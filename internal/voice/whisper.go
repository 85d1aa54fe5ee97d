package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/reysq/internal/reliability"
)

const (
	defaultTranscribeBaseURL = "https://api.openai.com/v1"
	defaultTranscribeModel   = "whisper-1"
	maxVoiceNoteBytes        = 25 << 20
)

var (
	whisperBackoffBase = 250 * time.Millisecond
	whisperBackoffCap  = 2 * time.Second
)

type WhisperConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
}

// WhisperTranscriber posts voice notes to an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperTranscriber struct {
	baseURL     string
	apiKey      string
	model       string
	maxAttempts int
	client      *http.Client
}

func NewWhisperTranscriber(cfg WhisperConfig) *WhisperTranscriber {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultTranscribeBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultTranscribeModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &WhisperTranscriber{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		maxAttempts: attempts,
		client:      &http.Client{Timeout: timeout},
	}
}

type whisperStatusError struct {
	code int
	body string
}

func (e *whisperStatusError) Error() string {
	return fmt.Sprintf("transcriptions http status %d: %s", e.code, e.body)
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", ErrTranscription)
	}
	if len(audio) > maxVoiceNoteBytes {
		return "", fmt.Errorf("%w: voice note is %d bytes", ErrTranscription, len(audio))
	}
	body, contentType, err := w.encode(audio, mimeType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	var text string
	err = reliability.Retry(ctx, w.maxAttempts, whisperBackoffBase, whisperBackoffCap, func() (bool, error) {
		var doErr error
		text, doErr = w.do(ctx, body, contentType)
		if doErr == nil {
			return false, nil
		}
		var se *whisperStatusError
		return errors.As(doErr, &se) && reliability.IsRetryableHTTPStatus(se.code), doErr
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	return text, nil
}

func (w *WhisperTranscriber) encode(audio []byte, mimeType string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", w.model); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return nil, "", err
	}
	part, err := mw.CreateFormFile("file", "voice-note"+extensionFor(mimeType))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (w *WhisperTranscriber) do(ctx context.Context, body []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	res, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		if len(raw) > 4<<10 {
			raw = raw[:4<<10]
		}
		return "", &whisperStatusError{code: res.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// extensionFor picks a filename extension the transcription API uses to
// sniff the container. WhatsApp voice notes arrive as "audio/ogg; codecs=opus".
func extensionFor(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/aac":
		return ".m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ".ogg"
	}
}
