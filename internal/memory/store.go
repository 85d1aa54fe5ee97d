package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	DatabaseURL string
	SQLitePath  string
}

// NewStore creates a postgres-backed store when a database URL is configured,
// a sqlite-backed store when a path is configured, otherwise in-memory.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		return NewPostgresStore(ctx, cfg.DatabaseURL)
	case strings.TrimSpace(cfg.SQLitePath) != "":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return NewInMemoryStore(), nil
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func encodeTurns(turns []Turn) ([]byte, error) {
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(turns)
}

func decodeTurns(data []byte) ([]Turn, error) {
	turns := []Turn{}
	if len(data) == 0 {
		return turns, nil
	}
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode recent turns: %w", err)
	}
	for i := range turns {
		turns[i].CreatedAt = turns[i].CreatedAt.UTC()
	}
	return turns, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
