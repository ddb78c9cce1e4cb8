package call

import (
	"time"

	"realtime-call-translator/internal/session"
)

const (
	TypeConfig          = "config"
	TypeSessionCreate   = "session_create"
	TypeSessionJoin     = "session_join"
	TypeSessionLeave    = "session_leave"
	TypePing            = "ping"
	TypeConfigUpdated   = "config_updated"
	TypeSessionCreated  = "session_created"
	TypeSessionJoined   = "session_joined"
	TypeSessionLeft     = "session_left"
	TypeSessionExpired  = "session_expired"
	TypeParticipantJoin = "participant_joined"
	TypeParticipantLeft = "participant_left"
	TypeError           = "error"
	TypePong            = "pong"
	TypeRoleInfo        = "role_info"
	TypeTranscription   = "transcription"
	TypeTranslation     = "translation"
)

// inbound is every field any client control frame may carry.
type inbound struct {
	Type string `json:"type"`

	SourceLanguage *string `json:"source_language"`
	TargetLanguage *string `json:"target_language"`
	Role           *string `json:"role"`
	Username       *string `json:"username"`

	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants"`
	SessionID       string `json:"session_id"`
}

// ClientConfig is the per-connection settings echoed in config_updated.
type ClientConfig struct {
	ClientID       string       `json:"client_id"`
	Username       string       `json:"username"`
	Role           session.Role `json:"role"`
	SourceLanguage string       `json:"source_language"`
	TargetLanguage string       `json:"target_language"`
	SessionID      string       `json:"session_id,omitempty"`
}

func (c ClientConfig) participant() session.ParticipantInfo {
	return session.ParticipantInfo{
		Username:       c.Username,
		Role:           c.Role,
		SourceLanguage: c.SourceLanguage,
		TargetLanguage: c.TargetLanguage,
	}
}

// Frame is an outbound server message.
type Frame interface {
	FrameType() string
}

type header struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (h header) FrameType() string { return h.Type }

func newHeader(t string) header {
	return header{Type: t, Timestamp: time.Now().UTC()}
}

type ConfigUpdatedFrame struct {
	header
	Config ClientConfig `json:"config"`
}

type SessionFrame struct {
	header
	Session session.Summary `json:"session"`
}

type ParticipantFrame struct {
	header
	Username string `json:"username"`
}

type MessageFrame struct {
	header
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type PongFrame struct {
	header
}

type RoleInfoFrame struct {
	header
	Message   string       `json:"message"`
	Role      session.Role `json:"role"`
	QueueSize int          `json:"queue_size"`
}

type TranscriptionFrame struct {
	header
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

type TranslationFrame struct {
	header
	OriginalText           string `json:"original_text"`
	TranslatedText         string `json:"translated_text"`
	DetectedSourceLanguage string `json:"detected_source_language"`
	SourceLanguage         string `json:"source_language"`
	TargetLanguage         string `json:"target_language"`
	Speaker                string `json:"speaker,omitempty"`
}

func errorFrame(msg string) MessageFrame {
	return MessageFrame{header: newHeader(TypeError), Message: msg}
}
