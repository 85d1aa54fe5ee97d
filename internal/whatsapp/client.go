package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ent0n29/reysq/internal/reliability"
	"github.com/ent0n29/reysq/internal/transport"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com"
	defaultGraphVersion = "v19.0"

	// maxTextRunes is the Cloud API limit for a text message body.
	maxTextRunes = 4096
	maxMediaSize = 16 << 20
)

var (
	graphBackoffBase = 300 * time.Millisecond
	graphBackoffCap  = 3 * time.Second
)

type ClientConfig struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	Version       string
	RatePerSec    float64
	Timeout       time.Duration
	MaxAttempts   int
}

// Client talks to the WhatsApp Cloud API: it sends replies and downloads
// inbound media. Outbound calls share a rate limiter.
type Client struct {
	token       string
	phoneID     string
	baseURL     string
	version     string
	maxAttempts int
	limiter     *rate.Limiter
	http        *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGraphBaseURL
	}
	version := strings.Trim(strings.TrimSpace(cfg.Version), "/")
	if version == "" {
		version = defaultGraphVersion
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 20
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Client{
		token:       strings.TrimSpace(cfg.Token),
		phoneID:     strings.TrimSpace(cfg.PhoneNumberID),
		baseURL:     baseURL,
		version:     version,
		maxAttempts: attempts,
		limiter:     rate.NewLimiter(rate.Limit(perSec), burst),
		http:        &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("graph api http status %d", e.Status)
	}
	return fmt.Sprintf("graph api http status %d: %s (code %d)", e.Status, e.Message, e.Code)
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/" + c.version + "/" + strings.Join(parts, "/")
}

// Deliver sends the reply text, split to the message size limit, followed
// by the voice note when one is attached.
func (c *Client) Deliver(ctx context.Context, reply transport.Reply) error {
	to := strings.TrimSpace(reply.UserID)
	if to == "" {
		return fmt.Errorf("%w: empty recipient", transport.ErrDelivery)
	}
	for _, chunk := range transport.SplitMessage(FormatMarkdown(reply.Text), maxTextRunes) {
		if err := c.SendText(ctx, to, chunk); err != nil {
			return fmt.Errorf("%w: %w", transport.ErrDelivery, err)
		}
	}
	if reply.Audio != nil && len(reply.Audio.Data) > 0 {
		if err := c.SendAudio(ctx, to, *reply.Audio); err != nil {
			return fmt.Errorf("%w: %w", transport.ErrDelivery, err)
		}
	}
	return nil
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             *struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	} `json:"text,omitempty"`
	Audio *struct {
		ID string `json:"id"`
	} `json:"audio,omitempty"`
}

func (c *Client) SendText(ctx context.Context, to, body string) error {
	msg := textMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text"}
	msg.Text = &struct {
		PreviewURL bool   `json:"preview_url"`
		Body       string `json:"body"`
	}{Body: body}
	return c.postMessage(ctx, msg)
}

// SendAudio uploads the clip and sends it as an audio message.
func (c *Client) SendAudio(ctx context.Context, to string, clip transport.Audio) error {
	mediaID, err := c.UploadMedia(ctx, clip)
	if err != nil {
		return err
	}
	msg := textMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "audio"}
	msg.Audio = &struct {
		ID string `json:"id"`
	}{ID: mediaID}
	return c.postMessage(ctx, msg)
}

func (c *Client) postMessage(ctx context.Context, msg textMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.call(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.phoneID, "messages"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, nil)
}

// UploadMedia stores clip with the Cloud API and returns its media id.
func (c *Client) UploadMedia(ctx context.Context, clip transport.Audio) (string, error) {
	mimeType := strings.TrimSpace(clip.MIMEType)
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", mimeType); err != nil {
		return "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="reply`+extensionFor(mimeType)+`"`)
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	body := buf.Bytes()

	var out struct {
		ID string `json:"id"`
	}
	err = c.call(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.phoneID, "media"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, &out)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("upload media: response has no id")
	}
	return out.ID, nil
}

// FetchMedia resolves a media id to its download URL and fetches the bytes.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	if strings.TrimSpace(mediaID) == "" {
		return nil, "", errors.New("media id is required")
	}
	var meta struct {
		URL      string `json:"url"`
		MIMEType string `json:"mime_type"`
		FileSize int64  `json:"file_size"`
	}
	err := c.call(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(mediaID), nil)
	}, &meta)
	if err != nil {
		return nil, "", fmt.Errorf("resolve media %s: %w", mediaID, err)
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("resolve media %s: no download url", mediaID)
	}
	if meta.FileSize > maxMediaSize {
		return nil, "", fmt.Errorf("media %s is %d bytes", mediaID, meta.FileSize)
	}

	var data []byte
	err = c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return &APIError{Status: res.StatusCode}
		}
		data, err = io.ReadAll(io.LimitReader(res.Body, maxMediaSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxMediaSize {
			return fmt.Errorf("media %s exceeds %d bytes", mediaID, maxMediaSize)
		}
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("download media %s: %w", mediaID, err)
	}
	return data, meta.MIMEType, nil
}

// call sends an authenticated Graph request and decodes a JSON answer into
// out when it is non-nil. Requests are rebuilt per attempt.
func (c *Client) call(ctx context.Context, build func() (*http.Request, error), out any) error {
	return c.retry(ctx, func() error {
		req, err := build()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			apiErr := &APIError{Status: res.StatusCode}
			var envelope struct {
				Error *APIError `json:"error"`
			}
			if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
				apiErr.Code = envelope.Error.Code
				apiErr.Message = envelope.Error.Message
				apiErr.Type = envelope.Error.Type
			}
			return apiErr
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) retry(ctx context.Context, fn func() error) error {
	return reliability.Retry(ctx, c.maxAttempts, graphBackoffBase, graphBackoffCap, func() (bool, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, err
		}
		err := fn()
		if err == nil {
			return false, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return reliability.IsRetryableHTTPStatus(apiErr.Status), err
		}
		return ctx.Err() == nil, err
	})
}

func extensionFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mimeType, "audio/aac"):
		return ".aac"
	case strings.HasPrefix(mimeType, "audio/mp4"):
		return ".m4a"
	case strings.HasPrefix(mimeType, "audio/wav"):
		return ".wav"
	default:
		return ".bin"
	}
}
