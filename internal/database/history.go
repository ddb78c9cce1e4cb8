package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"realtime-call-translator/internal/session"
)

const (
	EventJoined = "joined"
	EventLeft   = "left"
)

type TranscriptInput struct {
	SessionID  string
	ClientID   string
	Username   string
	Language   string
	Text       string
	Confidence float64
	SpokenAt   time.Time
}

type TranscriptRecord struct {
	ID         int64     `json:"id"`
	ClientID   string    `json:"client_id"`
	Username   string    `json:"username"`
	Language   string    `json:"language"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	SpokenAt   time.Time `json:"spoken_at"`
}

func (s *Store) CreateSession(ctx context.Context, sum session.Summary) error {
	query := `
		INSERT INTO call_sessions (id, name, max_participants, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, sum.SessionID, sum.Name, sum.MaxParticipants, sum.CreatedAt); err != nil {
		return fmt.Errorf("insert call session: %w", err)
	}
	return nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID, reason string, at time.Time) error {
	query := `
		UPDATE call_sessions
		SET closed_at = $2, close_reason = NULLIF($3, '')
		WHERE id = $1 AND closed_at IS NULL
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, at, reason); err != nil {
		return fmt.Errorf("close call session: %w", err)
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, sessionID, clientID, eventType, username string, at time.Time) error {
	query := `
		INSERT INTO call_session_events (session_id, client_id, event_type, username, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, clientID, eventType, username, at); err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

func (s *Store) CreateTranscript(ctx context.Context, in TranscriptInput) (int64, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return 0, fmt.Errorf("session_id is required")
	}

	query := `
		INSERT INTO call_transcripts (session_id, client_id, username, language, text, confidence, spoken_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		in.SessionID,
		in.ClientID,
		in.Username,
		in.Language,
		in.Text,
		in.Confidence,
		in.SpokenAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transcript: %w", err)
	}
	return id, nil
}

// ListTranscripts returns a session's transcripts in speaking order.
func (s *Store) ListTranscripts(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, client_id, COALESCE(username, ''), COALESCE(language, ''), text, COALESCE(confidence, 0), spoken_at
		FROM call_transcripts
		WHERE session_id = $1
		ORDER BY spoken_at ASC, id ASC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	out := make([]TranscriptRecord, 0)
	for rows.Next() {
		var r TranscriptRecord
		if err := rows.Scan(&r.ID, &r.ClientID, &r.Username, &r.Language, &r.Text, &r.Confidence, &r.SpokenAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcripts: %w", err)
	}
	return out, nil
}
