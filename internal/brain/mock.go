package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockCompleter provides deterministic local replies when no model is configured.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

func (m *MockCompleter) Complete(ctx context.Context, messages []Message, _ int) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrCompletion, ctx.Err())
	default:
	}
	return buildMockReply(messages), nil
}

func buildMockReply(messages []Message) string {
	var (
		lastUser string
		memory   string
	)
	for i, m := range messages {
		switch m.Role {
		case "user":
			lastUser = strings.TrimSpace(m.Content)
		case "system":
			// The first system message is the persona; a later one carries the summary.
			if i > 0 {
				memory = strings.TrimSpace(m.Content)
			}
		}
	}
	if lastUser == "" {
		lastUser = "I am listening."
	}
	if memory == "" {
		return fmt.Sprintf("I hear you: %s", lastUser)
	}
	return fmt.Sprintf("I hear you: %s\nI also remember: %s", lastUser, memory)
}
