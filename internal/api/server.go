// Package api exposes the gateway over HTTP: REST helpers around the engines,
// session listing and the call WebSocket.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"realtime-call-translator/internal/asr"
	"realtime-call-translator/internal/auth"
	"realtime-call-translator/internal/call"
	"realtime-call-translator/internal/database"
	"realtime-call-translator/internal/metrics"
	"realtime-call-translator/internal/session"
	"realtime-call-translator/internal/translate"
	"realtime-call-translator/internal/tts"
)

const Version = "0.1.0"

// Authenticator verifies a request's caller.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

// ArtifactStore keeps uploaded and generated audio.
type ArtifactStore interface {
	UploadBytes(ctx context.Context, objectKey string, data []byte, contentType string) (string, int64, error)
}

// TranscriptLister reads persisted call transcripts.
type TranscriptLister interface {
	ListTranscripts(ctx context.Context, sessionID string, limit int) ([]database.TranscriptRecord, error)
}

// Deps are the collaborators of the HTTP layer. Auth, Artifacts and History
// are optional; leave them nil to disable the feature.
type Deps struct {
	Sessions    *session.Manager
	Calls       *call.Server
	Recognizer  asr.Recognizer
	Translator  translate.Translator
	Synthesizer tts.Synthesizer
	Auth        Authenticator
	Artifacts   ArtifactStore
	History     TranscriptLister
	Metrics     *metrics.Collector
	Logger      *zap.Logger

	AllowedOrigins []string
	MaxUploadBytes int64
}

type Handler struct {
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 32 << 20
	}
	h := &Handler{
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "api")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	if len(deps.AllowedOrigins) == 0 {
		h.logger.Warn("ALLOWED_ORIGINS not set - allowing all origins (development mode)")
	}
	return h
}

// Routes returns the full HTTP surface.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleHealth)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/sessions/{id}/transcripts", h.requireAuth(h.handleTranscripts))
	mux.HandleFunc("/speech-to-text", h.requireAuth(h.handleSpeechToText))
	mux.HandleFunc("/translate", h.requireAuth(h.handleTranslate))
	mux.HandleFunc("/speak", h.requireAuth(h.handleSpeak))
	mux.HandleFunc("/ws", h.handleWebSocket)
	if reg := h.deps.Metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return h.logRequests(mux)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.deps.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.deps.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	h.logger.Warn("rejected WebSocket connection from unauthorized origin", zap.String("origin", origin))
	return false
}

type identityKey struct{}

func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey{}).(auth.Identity)
	return id
}

// authenticate resolves the caller, writing a 401 when auth is enabled and
// the request is not authenticated.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if h.deps.Auth == nil {
		return r, true
	}
	id, err := h.deps.Auth.Authenticate(r)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			sendUnauthorized(w, "Authentication required")
		} else {
			h.logger.Debug("token rejected", zap.Error(err))
			sendUnauthorized(w, "Invalid token")
		}
		return r, false
	}
	return r.WithContext(context.WithValue(r.Context(), identityKey{}, id)), true
}

func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r, ok := h.authenticate(w, r)
		if !ok {
			return
		}
		next(w, r)
	}
}

// statusRecorder keeps the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}
