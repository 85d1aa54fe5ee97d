package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Load when no record exists for the user.
	ErrNotFound = errors.New("conversation record not found")
	// ErrUnavailable wraps backend I/O failures. Callers may retry.
	ErrUnavailable = errors.New("memory store unavailable")
)

// Role attributes a turn to one side of the conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Turn is one message in a conversation. Turns are never edited after they
// are appended; only the containing window is truncated or replaced.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewTurn stamps a turn with a fresh id.
func NewTurn(role Role, content string, at time.Time) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: at.UTC(),
	}
}

// Record is the single conversation record kept per user.
type Record struct {
	UserID         string    `json:"user_id"`
	Summary        string    `json:"summary"`
	RecentTurns    []Turn    `json:"recent_turns"`
	Compactions    int       `json:"compactions"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Clone returns a copy whose turn slice can be modified independently.
func (r Record) Clone() Record {
	out := r
	if r.RecentTurns != nil {
		out.RecentTurns = make([]Turn, len(r.RecentTurns))
		copy(out.RecentTurns, r.RecentTurns)
	}
	return out
}

// Append returns a copy of the record with turn added at the end.
func (r Record) Append(turn Turn) Record {
	out := r.Clone()
	out.RecentTurns = append(out.RecentTurns, turn)
	return out
}

// Store persists one conversation record per user.
type Store interface {
	// Load returns ErrNotFound when the user has no record.
	Load(ctx context.Context, userID string) (Record, error)
	// Create inserts an empty record unless one already exists. created is
	// true only for the call that actually inserted it.
	Create(ctx context.Context, userID string) (record Record, created bool, err error)
	// Save replaces the stored record. Last writer wins.
	Save(ctx context.Context, record Record) error
	Close() error
}

func newRecord(userID string, now time.Time) Record {
	now = now.UTC()
	return Record{
		UserID:         userID,
		RecentTurns:    []Turn{},
		LastActivityAt: time.Time{},
		CreatedAt:      now,
	}
}
