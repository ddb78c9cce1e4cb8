package queue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Manager owns one Queue per client identity.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*Queue
	opts   Options
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewManager creates a registry whose queues are built with opts.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		queues: make(map[string]*Queue),
		opts:   opts,
		logger: opts.Logger.With(zap.String("component", "queue_manager")),
	}
}

// Queue returns the queue for clientID, creating it on first use.
func (m *Manager) Queue(clientID string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[clientID]
	if !ok {
		opts := m.opts
		opts.Logger = m.opts.Logger.With(zap.String("client_id", clientID))
		q = New(opts)
		m.queues[clientID] = q
	}
	return q
}

// Add enqueues msg on the client's queue.
func (m *Manager) Add(clientID string, msg []byte) {
	m.Queue(clientID).Add(msg)
}

// AddProcessor registers fn on the client's queue.
func (m *Manager) AddProcessor(clientID string, fn Processor) {
	m.Queue(clientID).AddProcessor(fn)
}

// Remove detaches the client's queue and stops it in the background.
// Unknown clients are ignored.
func (m *Manager) Remove(clientID string) {
	m.mu.Lock()
	q, ok := m.queues[clientID]
	if ok {
		delete(m.queues, clientID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		q.Stop()
		q.Clear()
		m.logger.Debug("removed client queue", zap.String("client_id", clientID))
	}()
}

// has reports whether a queue exists for clientID.
func (m *Manager) has(clientID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queues[clientID]
	return ok
}

// Len returns the number of registered queues.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}

// StopAll stops and removes every queue and waits for pending removals,
// or until ctx is done.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	queues := m.queues
	m.queues = make(map[string]*Queue)
	m.mu.Unlock()

	for _, q := range queues {
		q.Stop()
		q.Clear()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
