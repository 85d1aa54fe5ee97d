package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversation records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the conversation database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids writer lock contention between goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			recent_turns TEXT NOT NULL DEFAULT '[]',
			compactions INTEGER NOT NULL DEFAULT 0,
			last_activity_at_ms INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) (Record, error) {
	var (
		rec            Record
		turns          string
		lastActivityMS int64
		createdAtMS    int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, summary, recent_turns, compactions, last_activity_at_ms, created_at_ms
		 FROM conversations WHERE user_id = ?`,
		userID,
	).Scan(&rec.UserID, &rec.Summary, &turns, &rec.Compactions, &lastActivityMS, &createdAtMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, unavailable("load record", err)
	}
	decoded, err := decodeTurns([]byte(turns))
	if err != nil {
		return Record{}, err
	}
	rec.RecentTurns = decoded
	rec.LastActivityAt = fromMillis(lastActivityMS)
	rec.CreatedAt = fromMillis(createdAtMS)
	return rec, nil
}

func (s *SQLiteStore) Create(ctx context.Context, userID string) (Record, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, created_at_ms) VALUES (?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return Record{}, false, unavailable("create record", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, unavailable("create record", err)
	}
	rec, err := s.Load(ctx, userID)
	if err != nil {
		return Record{}, false, err
	}
	return rec, affected == 1, nil
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) error {
	turns, err := encodeTurns(record.RecentTurns)
	if err != nil {
		return err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, summary, recent_turns, compactions, last_activity_at_ms, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			summary = excluded.summary,
			recent_turns = excluded.recent_turns,
			compactions = excluded.compactions,
			last_activity_at_ms = excluded.last_activity_at_ms`,
		record.UserID,
		record.Summary,
		string(turns),
		record.Compactions,
		toMillis(record.LastActivityAt),
		toMillis(createdAt),
	)
	if err != nil {
		return unavailable("save record", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
