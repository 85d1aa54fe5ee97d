package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCompletion wraps every failure of the completion service: timeouts,
// quota errors and malformed responses alike.
var ErrCompletion = errors.New("completion failed")

// Message is one entry of the ordered context handed to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer turns an ordered message context into reply text.
type Completer interface {
	Complete(ctx context.Context, messages []Message, maxTokens int) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message, maxTokens int) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	return f(ctx, messages, maxTokens)
}

// Config controls completer construction.
type Config struct {
	Mode    string
	APIKey  string
	BaseURL string
	Model   string
	// FallbackModel, when set, is tried after Model fails.
	FallbackModel string
	Temperature   float64
	Timeout       time.Duration
	MaxAttempts   int
}

// NewCompleter selects a completer for cfg.Mode. auto uses the OpenAI-compatible
// endpoint when a key is configured and falls back to the mock otherwise.
func NewCompleter(cfg Config) (Completer, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewMockCompleter(), nil
		}
		return newOpenAIWithFallback(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("openai api key is required for openai mode")
		}
		return newOpenAIWithFallback(cfg), nil
	case "mock":
		return NewMockCompleter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

func newOpenAIWithFallback(cfg Config) Completer {
	primary := NewOpenAICompleter(cfg)
	if strings.TrimSpace(cfg.FallbackModel) == "" || strings.TrimSpace(cfg.FallbackModel) == strings.TrimSpace(cfg.Model) {
		return primary
	}
	secondaryCfg := cfg
	secondaryCfg.Model = cfg.FallbackModel
	return NewFallbackCompleter(primary, NewOpenAICompleter(secondaryCfg))
}

func completionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCompletion, fmt.Sprintf(format, args...))
}
