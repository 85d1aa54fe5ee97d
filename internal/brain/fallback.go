package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackCompleter attempts a primary completer first and falls back on error.
type FallbackCompleter struct {
	primary  Completer
	fallback Completer
}

func NewFallbackCompleter(primary, fallback Completer) *FallbackCompleter {
	return &FallbackCompleter{primary: primary, fallback: fallback}
}

func (c *FallbackCompleter) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	if c == nil || c.primary == nil {
		if c != nil && c.fallback != nil {
			return c.fallback.Complete(ctx, messages, maxTokens)
		}
		return "", fmt.Errorf("%w: fallback completer misconfigured", ErrCompletion)
	}
	text, err := c.primary.Complete(ctx, messages, maxTokens)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || c.fallback == nil {
		return "", err
	}
	text, fallbackErr := c.fallback.Complete(ctx, messages, maxTokens)
	if fallbackErr != nil {
		return "", fmt.Errorf("primary completer error: %w; fallback completer error: %v", err, fallbackErr)
	}
	return text, nil
}
