package database

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"realtime-call-translator/internal/session"
)

const (
	defaultRecorderBuffer = 256
	writeTimeout          = 5 * time.Second
)

type write func(ctx context.Context) error

// Recorder writes lifecycle events and transcripts on a background goroutine
// so callers on the call path never wait for the database. Writes that do not
// fit the buffer are dropped and logged.
type Recorder struct {
	store  *Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	writes chan write
	done   chan struct{}
}

func NewRecorder(store *Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	r := &Recorder{
		store:  store,
		logger: store.logger.With(zap.String("component", "history")),
		now:    time.Now,
		writes: make(chan write, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for w := range r.writes {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w(ctx); err != nil {
			r.logger.Warn("history write failed", zap.Error(err))
		}
		cancel()
	}
}

func (r *Recorder) enqueue(kind string, w write) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.writes <- w:
	default:
		r.logger.Warn("history buffer full, dropping write", zap.String("kind", kind))
	}
}

// Close flushes pending writes or gives up when ctx ends.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.writes)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) SessionCreated(s session.Summary) {
	r.enqueue("session_created", func(ctx context.Context) error {
		return r.store.CreateSession(ctx, s)
	})
}

func (r *Recorder) ParticipantJoined(sessionID, clientID string, info session.ParticipantInfo) {
	at := r.now()
	r.enqueue("participant_joined", func(ctx context.Context) error {
		return r.store.CreateEvent(ctx, sessionID, clientID, EventJoined, info.Username, at)
	})
}

func (r *Recorder) ParticipantLeft(sessionID, clientID string) {
	at := r.now()
	r.enqueue("participant_left", func(ctx context.Context) error {
		return r.store.CreateEvent(ctx, sessionID, clientID, EventLeft, "", at)
	})
}

func (r *Recorder) SessionClosed(sessionID, reason string) {
	at := r.now()
	r.enqueue("session_closed", func(ctx context.Context) error {
		return r.store.CloseSession(ctx, sessionID, reason, at)
	})
}

func (r *Recorder) RecordTranscript(sessionID, clientID, username, language, text string, confidence float64, at time.Time) {
	in := TranscriptInput{
		SessionID:  sessionID,
		ClientID:   clientID,
		Username:   username,
		Language:   language,
		Text:       text,
		Confidence: confidence,
		SpokenAt:   at,
	}
	r.enqueue("transcript", func(ctx context.Context) error {
		_, err := r.store.CreateTranscript(ctx, in)
		return err
	})
}
