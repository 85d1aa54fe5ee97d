package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation records in PostgreSQL, one row per user.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			user_id TEXT PRIMARY KEY,
			summary TEXT NOT NULL DEFAULT '',
			recent_turns JSONB NOT NULL DEFAULT '[]'::jsonb,
			compactions INTEGER NOT NULL DEFAULT 0,
			last_activity_at TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_last_activity ON conversations (last_activity_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, userID string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, summary, recent_turns, compactions, last_activity_at, created_at
		 FROM conversations WHERE user_id=$1`,
		userID,
	)
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, unavailable("load record", err)
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, userID string) (Record, bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (user_id, created_at) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
		time.Now().UTC(),
	)
	if err != nil {
		return Record{}, false, unavailable("create record", err)
	}
	rec, err := s.Load(ctx, userID)
	if err != nil {
		return Record{}, false, err
	}
	return rec, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	turns, err := encodeTurns(record.RecentTurns)
	if err != nil {
		return err
	}
	var lastActivity *time.Time
	if !record.LastActivityAt.IsZero() {
		t := record.LastActivityAt.UTC()
		lastActivity = &t
	}
	createdAt := record.CreatedAt.UTC()
	if record.CreatedAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (user_id, summary, recent_turns, compactions, last_activity_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			recent_turns = EXCLUDED.recent_turns,
			compactions = EXCLUDED.compactions,
			last_activity_at = EXCLUDED.last_activity_at`,
		record.UserID,
		record.Summary,
		string(turns),
		record.Compactions,
		lastActivity,
		createdAt,
	)
	if err != nil {
		return unavailable("save record", err)
	}
	return nil
}

func scanPostgresRecord(row pgx.Row) (Record, error) {
	var (
		rec          Record
		turns        []byte
		lastActivity *time.Time
	)
	if err := row.Scan(&rec.UserID, &rec.Summary, &turns, &rec.Compactions, &lastActivity, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	decoded, err := decodeTurns(turns)
	if err != nil {
		return Record{}, err
	}
	rec.RecentTurns = decoded
	rec.CreatedAt = rec.CreatedAt.UTC()
	if lastActivity != nil {
		rec.LastActivityAt = lastActivity.UTC()
	}
	return rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
