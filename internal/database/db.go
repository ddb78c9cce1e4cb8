// Package database persists call history in PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// Store wraps the connection pool.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an existing pool.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.With(zap.String("component", "database"))}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HealthCheck verifies database connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_sessions (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		max_participants INTEGER NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		closed_at        TIMESTAMPTZ,
		close_reason     TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS call_session_events (
		id         BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		client_id  TEXT NOT NULL,
		event_type TEXT NOT NULL,
		username   TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS call_transcripts (
		id         BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		client_id  TEXT NOT NULL,
		username   TEXT,
		language   TEXT,
		text       TEXT NOT NULL,
		confidence DOUBLE PRECISION,
		spoken_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_transcripts_session ON call_transcripts (session_id, spoken_at)`,
}

// EnsureSchema creates the history tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
