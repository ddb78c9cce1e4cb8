package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"realtime-call-translator/internal/metrics"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionFull      = errors.New("session is full")
	ErrAlreadyInSession = errors.New("client already in a session")
	ErrNotInSession     = errors.New("client not in a session")
)

const (
	DefaultInactivityThreshold = 30 * time.Minute
	DefaultSweepInterval       = 5 * time.Minute
)

// Recorder receives session lifecycle events, typically for persistence.
// Calls are made without the manager lock held.
type Recorder interface {
	SessionCreated(s Summary)
	ParticipantJoined(sessionID, clientID string, info ParticipantInfo)
	ParticipantLeft(sessionID, clientID string)
	SessionClosed(sessionID, reason string)
}

type Options struct {
	InactivityThreshold time.Duration
	SweepInterval       time.Duration
	Logger              *zap.Logger
	Metrics             *metrics.Collector
	Recorder            Recorder
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Peer is another participant of the caller's session.
type Peer struct {
	ClientID string
	Info     ParticipantInfo
}

// Departure describes the result of a successful LeaveSession.
type Departure struct {
	SessionID   string
	Participant ParticipantInfo
	Remaining   []string
	Closed      bool
}

// Expired is a session removed by the inactivity sweep together with the
// clients that were still attached to it.
type Expired struct {
	SessionID string
	Name      string
	Clients   []string
}

// Manager owns every live session and the client→session index.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	clients  map[string]string
	onExpire func(Expired)

	sweepOnce sync.Once
	sweepDone chan struct{}
}

func NewManager(opts Options) *Manager {
	if opts.InactivityThreshold <= 0 {
		opts.InactivityThreshold = DefaultInactivityThreshold
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:      opts,
		logger:    opts.Logger.With(zap.String("component", "session")),
		sessions:  make(map[string]*Session),
		clients:   make(map[string]string),
		sweepDone: make(chan struct{}),
	}
}

// OnExpire registers fn to be called for every session removed by Sweep.
func (m *Manager) OnExpire(fn func(Expired)) {
	m.mu.Lock()
	m.onExpire = fn
	m.mu.Unlock()
}

// CreateSession creates an empty session. Values of maxParticipants ≤ 0 use
// DefaultMaxParticipants.
func (m *Manager) CreateSession(name string, maxParticipants int) Summary {
	s := newSession(uuid.NewString(), name, maxParticipants, m.opts.Now())

	m.mu.Lock()
	m.sessions[s.ID] = s
	sum := s.summary()
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", sum.SessionID), zap.String("name", sum.Name))
	m.opts.Metrics.SetSessions(count)
	if m.opts.Recorder != nil {
		m.opts.Recorder.SessionCreated(sum)
	}
	return sum
}

// JoinSession adds clientID to the session. The capacity check and the
// insert happen under one lock.
func (m *Manager) JoinSession(sessionID, clientID string, info ParticipantInfo) (Summary, error) {
	m.mu.Lock()
	if cur, ok := m.clients[clientID]; ok {
		m.mu.Unlock()
		m.logger.Warn("join rejected, client already in a session",
			zap.String("client_id", clientID), zap.String("session_id", cur))
		return Summary{}, ErrAlreadyInSession
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("join rejected, no such session", zap.String("session_id", sessionID))
		return Summary{}, ErrSessionNotFound
	}
	if !s.add(clientID, info, m.opts.Now()) {
		m.mu.Unlock()
		m.logger.Warn("join rejected, session full", zap.String("session_id", sessionID))
		return Summary{}, ErrSessionFull
	}
	m.clients[clientID] = sessionID
	sum := s.summary()
	m.mu.Unlock()

	m.logger.Info("client joined session",
		zap.String("client_id", clientID),
		zap.String("session_id", sessionID),
		zap.Int("participants", sum.ParticipantCount))
	if m.opts.Recorder != nil {
		m.opts.Recorder.ParticipantJoined(sessionID, clientID, info)
	}
	return sum, nil
}

// Move is the outcome of MoveSession.
type Move struct {
	Joined Summary
	// Left is set when the client departed another session to join.
	Left *Departure
	// Already is true when the client was a member of the target before the call.
	Already bool
}

// MoveSession joins clientID to targetID, leaving its current session in the
// same critical section. A failed move changes nothing. Moving into the
// session the client is already in only refreshes its info.
func (m *Manager) MoveSession(clientID, targetID string, info ParticipantInfo) (Move, error) {
	now := m.opts.Now()

	m.mu.Lock()
	target, ok := m.sessions[targetID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("move rejected, no such session", zap.String("session_id", targetID))
		return Move{}, ErrSessionNotFound
	}
	curID, inSession := m.clients[clientID]
	if inSession && curID == targetID {
		target.participants[clientID] = info
		target.touch(now)
		mv := Move{Joined: target.summary(), Already: true}
		m.mu.Unlock()
		return mv, nil
	}
	if target.full() {
		m.mu.Unlock()
		m.logger.Warn("move rejected, session full", zap.String("session_id", targetID))
		return Move{}, ErrSessionFull
	}

	var mv Move
	if inSession {
		delete(m.clients, clientID)
		if old, ok := m.sessions[curID]; ok {
			prev, _ := old.remove(clientID, now)
			d := Departure{SessionID: curID, Participant: prev, Remaining: old.clientIDs()}
			if old.empty() {
				delete(m.sessions, curID)
				d.Closed = true
			}
			mv.Left = &d
		}
	}
	target.add(clientID, info, now)
	m.clients[clientID] = targetID
	mv.Joined = target.summary()
	count := len(m.sessions)
	m.mu.Unlock()

	if d := mv.Left; d != nil {
		m.logger.Info("client left session",
			zap.String("client_id", clientID),
			zap.String("session_id", d.SessionID),
			zap.Int("remaining", len(d.Remaining)))
		if m.opts.Recorder != nil {
			m.opts.Recorder.ParticipantLeft(d.SessionID, clientID)
		}
		if d.Closed {
			m.logger.Info("removed empty session", zap.String("session_id", d.SessionID))
			m.opts.Metrics.SetSessions(count)
			if m.opts.Recorder != nil {
				m.opts.Recorder.SessionClosed(d.SessionID, "empty")
			}
		}
	}
	m.logger.Info("client joined session",
		zap.String("client_id", clientID),
		zap.String("session_id", targetID),
		zap.Int("participants", mv.Joined.ParticipantCount))
	if m.opts.Recorder != nil {
		m.opts.Recorder.ParticipantJoined(targetID, clientID, info)
	}
	return mv, nil
}

// LeaveSession removes clientID from its session and deletes the session
// once it is empty.
func (m *Manager) LeaveSession(clientID string) (Departure, error) {
	m.mu.Lock()
	sessionID, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return Departure{}, ErrNotInSession
	}
	delete(m.clients, clientID)

	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Departure{}, ErrNotInSession
	}
	info, _ := s.remove(clientID, m.opts.Now())
	d := Departure{
		SessionID:   sessionID,
		Participant: info,
		Remaining:   s.clientIDs(),
	}
	if s.empty() {
		delete(m.sessions, sessionID)
		d.Closed = true
	}
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.Info("client left session",
		zap.String("client_id", clientID),
		zap.String("session_id", sessionID),
		zap.Int("remaining", len(d.Remaining)))
	if m.opts.Recorder != nil {
		m.opts.Recorder.ParticipantLeft(sessionID, clientID)
	}
	if d.Closed {
		m.logger.Info("removed empty session", zap.String("session_id", sessionID))
		m.opts.Metrics.SetSessions(count)
		if m.opts.Recorder != nil {
			m.opts.Recorder.SessionClosed(sessionID, "empty")
		}
	}
	return d, nil
}

// ListAvailableSessions returns every non-full session, oldest first.
func (m *Manager) ListAvailableSessions() []Summary {
	m.mu.Lock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		if !s.full() {
			out = append(out, s.summary())
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetOtherParticipants returns the caller's session peers, excluding the caller.
func (m *Manager) GetOtherParticipants(clientID string) []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[m.clients[clientID]]
	if !ok {
		return nil
	}
	peers := make([]Peer, 0, len(s.participants))
	for id, info := range s.participants {
		if id != clientID {
			peers = append(peers, Peer{ClientID: id, Info: info})
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ClientID < peers[j].ClientID })
	return peers
}

// UpdateParticipant replaces the stored info of a joined client.
func (m *Manager) UpdateParticipant(clientID string, info ParticipantInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[m.clients[clientID]]
	if !ok {
		return false
	}
	if _, ok := s.participants[clientID]; !ok {
		return false
	}
	s.participants[clientID] = info
	return true
}

func (m *Manager) GetSession(sessionID string) (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Summary{}, false
	}
	return s.summary(), true
}

// ClientSession returns the session clientID currently belongs to.
func (m *Manager) ClientSession(clientID string) (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[m.clients[clientID]]
	if !ok {
		return Summary{}, false
	}
	return s.summary(), true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes every session idle for longer than the inactivity threshold,
// regardless of how many participants remain, along with their index entries.
func (m *Manager) Sweep(now time.Time) []Expired {
	m.mu.Lock()
	var expired []Expired
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) <= m.opts.InactivityThreshold {
			continue
		}
		clients := s.clientIDs()
		sort.Strings(clients)
		for _, c := range clients {
			delete(m.clients, c)
		}
		delete(m.sessions, id)
		expired = append(expired, Expired{SessionID: id, Name: s.Name, Clients: clients})
	}
	count := len(m.sessions)
	onExpire := m.onExpire
	m.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].SessionID < expired[j].SessionID })

	m.opts.Metrics.SetSessions(count)
	m.opts.Metrics.SessionsExpired(len(expired))
	for _, e := range expired {
		m.logger.Info("removing inactive session",
			zap.String("session_id", e.SessionID), zap.Int("clients", len(e.Clients)))
		if m.opts.Recorder != nil {
			m.opts.Recorder.SessionClosed(e.SessionID, "inactive")
		}
		if onExpire != nil {
			m.notifyExpired(onExpire, e)
		}
	}
	return expired
}

func (m *Manager) notifyExpired(fn func(Expired), e Expired) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("expire hook panicked", zap.Any("panic", r), zap.String("session_id", e.SessionID))
		}
	}()
	fn(e)
}

// EnsureSweeper starts the periodic inactivity sweep once. It runs until ctx
// is done.
func (m *Manager) EnsureSweeper(ctx context.Context) {
	m.sweepOnce.Do(func() {
		m.logger.Info("starting inactivity sweeper",
			zap.Duration("interval", m.opts.SweepInterval),
			zap.Duration("threshold", m.opts.InactivityThreshold))
		go m.sweepLoop(ctx)
	})
}

// sweeperDone is closed when the sweeper started by EnsureSweeper exits.
func (m *Manager) sweeperDone() <-chan struct{} {
	return m.sweepDone
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.sweepDone)

	t := time.NewTicker(m.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweepSafely()
		}
	}
}

func (m *Manager) sweepSafely() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session sweep panicked", zap.Any("panic", r))
		}
	}()
	m.Sweep(m.opts.Now())
}
