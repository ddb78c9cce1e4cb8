package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-call-translator/internal/session"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil), mock
}

func TestEnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS call_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS call_session_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS call_transcripts").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_call_transcripts_session").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_Error(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := store.EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}

func TestCreateSession(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO call_sessions").
		WithArgs("s-1", "standup", 2, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CreateSession(context.Background(), session.Summary{
		SessionID: "s-1", Name: "standup", MaxParticipants: 2, CreatedAt: created,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTranscript(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now()
	mock.ExpectQuery("INSERT INTO call_transcripts").
		WithArgs("s-1", "c-1", "alice", "en", "hello", 0.9, at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := store.CreateTranscript(context.Background(), TranscriptInput{
		SessionID: "s-1", ClientID: "c-1", Username: "alice", Language: "en",
		Text: "hello", Confidence: 0.9, SpokenAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = store.CreateTranscript(context.Background(), TranscriptInput{Text: "x"})
	assert.ErrorContains(t, err, "session_id is required")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTranscripts(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "client_id", "username", "language", "text", "confidence", "spoken_at"}).
		AddRow(1, "c-1", "alice", "en", "hello", 1.0, at).
		AddRow(2, "c-2", "bob", "es", "hola", 0.5, at.Add(time.Second))
	mock.ExpectQuery("SELECT (.+) FROM call_transcripts").
		WithArgs("s-1", 1000).
		WillReturnRows(rows)

	got, err := store.ListTranscripts(context.Background(), "s-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].Username)
	assert.Equal(t, "hola", got[1].Text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_WritesInOrderAndFlushesOnClose(t *testing.T) {
	store, mock := newMockStore(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO call_sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO call_session_events").
		WithArgs("s-1", "c-1", EventJoined, "alice", fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO call_transcripts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("INSERT INTO call_session_events").
		WithArgs("s-1", "c-1", EventLeft, "", fixed).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec("UPDATE call_sessions").
		WithArgs("s-1", fixed, "empty").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := NewRecorder(store, 0)
	rec.now = func() time.Time { return fixed }

	rec.SessionCreated(session.Summary{SessionID: "s-1", Name: "call", MaxParticipants: 2, CreatedAt: fixed})
	rec.ParticipantJoined("s-1", "c-1", session.ParticipantInfo{Username: "alice"})
	rec.RecordTranscript("s-1", "c-1", "alice", "en", "hello", 1, fixed)
	rec.ParticipantLeft("s-1", "c-1")
	rec.SessionClosed("s-1", "empty")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())

	// writes after close are ignored
	rec.ParticipantLeft("s-1", "c-2")
	require.NoError(t, rec.Close(ctx))
}

func TestHealthCheck(t *testing.T) {
	var nilStore *Store
	assert.Error(t, nilStore.HealthCheck(context.Background()))
	assert.NoError(t, nilStore.Close())

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing()
	assert.NoError(t, New(db, nil).HealthCheck(context.Background()))
}
