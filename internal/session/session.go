// Package session groups call participants into capacity-bounded sessions.
package session

import (
	"time"
)

const DefaultMaxParticipants = 2

type Role string

const (
	RoleSpeaker  Role = "speaker"
	RoleListener Role = "listener"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSpeaker || r == RoleListener
}

// ParticipantInfo is what a session knows about one member.
type ParticipantInfo struct {
	Username       string `json:"username"`
	Role           Role   `json:"role"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// Summary is the public view of a session. It never carries participant
// identities or language settings.
type Summary struct {
	SessionID        string    `json:"session_id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
	ParticipantCount int       `json:"participant_count"`
	MaxParticipants  int       `json:"max_participants"`
}

// Session is owned by a Manager and only touched under its lock.
type Session struct {
	ID              string
	Name            string
	CreatedAt       time.Time
	LastActivity    time.Time
	MaxParticipants int
	participants    map[string]ParticipantInfo
}

func newSession(id, name string, maxParticipants int, now time.Time) *Session {
	if name == "" {
		name = "Session " + shortID(id)
	}
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &Session{
		ID:              id,
		Name:            name,
		CreatedAt:       now,
		LastActivity:    now,
		MaxParticipants: maxParticipants,
		participants:    make(map[string]ParticipantInfo),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *Session) full() bool {
	return len(s.participants) >= s.MaxParticipants
}

func (s *Session) empty() bool {
	return len(s.participants) == 0
}

func (s *Session) add(clientID string, info ParticipantInfo, now time.Time) bool {
	if s.full() {
		return false
	}
	s.participants[clientID] = info
	s.touch(now)
	return true
}

func (s *Session) remove(clientID string, now time.Time) (ParticipantInfo, bool) {
	info, ok := s.participants[clientID]
	if !ok {
		return ParticipantInfo{}, false
	}
	delete(s.participants, clientID)
	s.touch(now)
	return info, true
}

// touch moves LastActivity forward only.
func (s *Session) touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

func (s *Session) clientIDs() []string {
	ids := make([]string, 0, len(s.participants))
	for id := range s.participants {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) summary() Summary {
	return Summary{
		SessionID:        s.ID,
		Name:             s.Name,
		CreatedAt:        s.CreatedAt,
		LastActivity:     s.LastActivity,
		ParticipantCount: len(s.participants),
		MaxParticipants:  s.MaxParticipants,
	}
}
