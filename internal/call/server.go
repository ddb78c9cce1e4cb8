// Package call runs the per-connection protocol of a translated call: control
// frames, audio intake, recognition results and relay to session peers.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"realtime-call-translator/internal/asr"
	"realtime-call-translator/internal/metrics"
	"realtime-call-translator/internal/queue"
	"realtime-call-translator/internal/session"
	"realtime-call-translator/internal/streaming"
	"realtime-call-translator/internal/translate"
)

const (
	DefaultSourceLanguage   = "en"
	DefaultTargetLanguage   = "es"
	DefaultWriteTimeout     = 10 * time.Second
	DefaultMaxMessageBytes  = 1 << 20
	DefaultRoleInfoInterval = time.Second
	DefaultTranslateTimeout = 30 * time.Second
	maxParallelTranslations = 4
)

// TranscriptRecorder persists recognized speech of clients that are in a session.
type TranscriptRecorder interface {
	RecordTranscript(sessionID, clientID, username, language, text string, confidence float64, at time.Time)
}

// Identity is what the transport knows about the caller before any frame.
type Identity struct {
	Username string
}

type Options struct {
	Sessions   *session.Manager
	Queues     *queue.Manager
	Hub        *Hub
	Recognizer asr.Recognizer
	Translator translate.Translator
	Recorder   TranscriptRecorder
	Streaming  streaming.Config
	Metrics    *metrics.Collector
	Logger     *zap.Logger

	WriteTimeout     time.Duration
	MaxMessageBytes  int64
	RoleInfoInterval time.Duration
	TranslateTimeout time.Duration
}

// Server owns the shared registries and serves one goroutine per connection.
type Server struct {
	opts    Options
	logger  *zap.Logger
	baseCtx context.Context
}

// NewServer wires the expire notification into the session manager. baseCtx
// bounds background work such as the inactivity sweep.
func NewServer(baseCtx context.Context, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(session.Options{Logger: opts.Logger, Metrics: opts.Metrics})
	}
	if opts.Queues == nil {
		opts.Queues = queue.NewManager(queue.Options{Logger: opts.Logger, OnDrop: opts.Metrics.QueueDropped})
	}
	if opts.Translator == nil {
		opts.Translator = translate.Stub{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if opts.RoleInfoInterval <= 0 {
		opts.RoleInfoInterval = DefaultRoleInfoInterval
	}
	if opts.TranslateTimeout <= 0 {
		opts.TranslateTimeout = DefaultTranslateTimeout
	}
	if opts.Streaming.Logger == nil {
		opts.Streaming.Logger = opts.Logger
	}
	if opts.Streaming.Metrics == nil {
		opts.Streaming.Metrics = opts.Metrics
	}

	s := &Server{
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "call")),
		baseCtx: baseCtx,
	}
	opts.Sessions.OnExpire(s.notifyExpired)
	return s
}

func (s *Server) Hub() *Hub                  { return s.opts.Hub }
func (s *Server) Sessions() *session.Manager { return s.opts.Sessions }

// Shutdown closes every live connection and stops all queues.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opts.Hub.CloseAll()
	return s.opts.Queues.StopAll(ctx)
}

func (s *Server) notifyExpired(e session.Expired) {
	s.opts.Hub.Broadcast(e.Clients, MessageFrame{
		header:    newHeader(TypeSessionExpired),
		Message:   "Session closed after inactivity",
		SessionID: e.SessionID,
	})
}

// connection is the state of one WebSocket client.
type connection struct {
	s        *Server
	id       string
	ws       *websocket.Conn
	client   *Client
	ctrl     *streaming.Controller
	roleInfo *rate.Limiter
	logger   *zap.Logger

	mu     sync.Mutex
	cfg    ClientConfig
	closed bool
}

// HandleConn serves ws until the peer disconnects, then releases every
// resource tied to it. It closes ws before returning.
func (s *Server) HandleConn(ws *websocket.Conn, ident Identity) {
	id := uuid.NewString()
	username := ident.Username
	if username == "" {
		username = "User-" + id[:8]
	}

	streamCfg := s.opts.Streaming
	streamCfg.Language = DefaultSourceLanguage

	c := &connection{
		s:        s,
		id:       id,
		ws:       ws,
		client:   newClient(id, ws, s.opts.WriteTimeout, s.opts.Metrics),
		ctrl:     streaming.NewController(s.opts.Recognizer, streamCfg),
		roleInfo: rate.NewLimiter(rate.Every(s.opts.RoleInfoInterval), 1),
		logger:   s.logger.With(zap.String("client_id", id)),
		cfg: ClientConfig{
			ClientID:       id,
			Username:       username,
			Role:           session.RoleSpeaker,
			SourceLanguage: DefaultSourceLanguage,
			TargetLanguage: DefaultTargetLanguage,
		},
	}
	c.run()
}

func (c *connection) run() {
	s := c.s
	ctx, cancel := context.WithCancel(s.baseCtx)

	s.opts.Hub.Register(c.client)
	s.opts.Metrics.ConnectionOpened()
	s.opts.Sessions.EnsureSweeper(s.baseCtx)
	s.opts.Queues.AddProcessor(c.id, c.processAudio)

	if err := c.ctrl.Start(); err != nil {
		c.logger.Error("start recognition", zap.Error(err))
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		c.relayResults(ctx)
	}()

	c.logger.Info("client connected", zap.String("username", c.config().Username))

	c.readLoop()

	cancel()
	c.cleanup()
	<-relayDone
	_ = c.client.Close()
	s.opts.Metrics.ConnectionClosed()
	c.logger.Info("connection cleaned up")
}

func (c *connection) readLoop() {
	c.ws.SetReadLimit(c.s.opts.MaxMessageBytes)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("read failed", zap.Error(err))
			} else {
				c.logger.Debug("client disconnected", zap.Error(err))
			}
			return
		}

		switch mt {
		case websocket.TextMessage:
			c.handleText(data)
		case websocket.BinaryMessage:
			c.handleAudio(data)
		}
	}
}

// cleanup releases resources in a fixed order. A failing step does not
// prevent the later ones.
func (c *connection) cleanup() {
	c.step("stop recognition", c.ctrl.Stop)
	c.step("unregister", func() { c.s.opts.Hub.Unregister(c.id) })
	c.step("discard config", c.discardConfig)
	c.step("remove queue", func() { c.s.opts.Queues.Remove(c.id) })
	c.step("leave session", func() { c.leaveSession(false) })
}

func (c *connection) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("cleanup step panicked", zap.String("step", name), zap.Any("panic", r))
		}
	}()
	fn()
}

func (c *connection) send(f Frame) {
	if err := c.client.Send(f); err != nil {
		c.logger.Debug("send failed", zap.String("type", f.FrameType()), zap.Error(err))
	}
}

// config returns a snapshot with the derived session id filled in.
func (c *connection) config() ClientConfig {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()
	if sum, ok := c.s.opts.Sessions.ClientSession(c.id); ok {
		cfg.SessionID = sum.SessionID
	}
	return cfg
}

func (c *connection) discardConfig() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *connection) role() session.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Role
}

func (c *connection) handleText(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Debug("invalid json frame", zap.Error(err))
		c.send(errorFrame("Invalid JSON message"))
		return
	}
	c.logger.Debug("received frame", zap.String("type", msg.Type))

	switch msg.Type {
	case TypeConfig:
		c.handleConfig(msg)
	case TypeSessionCreate:
		c.handleSessionCreate(msg)
	case TypeSessionJoin:
		c.handleSessionJoin(msg)
	case TypeSessionLeave:
		c.handleSessionLeave()
	case TypePing:
		c.send(PongFrame{header: newHeader(TypePong)})
	default:
		c.send(errorFrame(fmt.Sprintf("Unknown message type: %q", msg.Type)))
	}
}

func (c *connection) handleConfig(msg inbound) {
	if msg.Role != nil && !session.Role(*msg.Role).Valid() {
		c.send(errorFrame(fmt.Sprintf("Invalid role: %q", *msg.Role)))
		return
	}

	c.mu.Lock()
	if msg.SourceLanguage != nil && *msg.SourceLanguage != "" {
		c.cfg.SourceLanguage = *msg.SourceLanguage
	}
	if msg.TargetLanguage != nil && *msg.TargetLanguage != "" {
		c.cfg.TargetLanguage = *msg.TargetLanguage
	}
	if msg.Role != nil {
		c.cfg.Role = session.Role(*msg.Role)
	}
	if msg.Username != nil && *msg.Username != "" {
		c.cfg.Username = *msg.Username
	}
	info := c.cfg.participant()
	source := c.cfg.SourceLanguage
	c.mu.Unlock()

	c.ctrl.SetLanguage(source)
	c.s.opts.Sessions.UpdateParticipant(c.id, info)

	cfg := c.config()
	c.logger.Info("config updated",
		zap.String("source_language", cfg.SourceLanguage),
		zap.String("target_language", cfg.TargetLanguage),
		zap.String("role", string(cfg.Role)))
	c.send(ConfigUpdatedFrame{header: newHeader(TypeConfigUpdated), Config: cfg})
}

func (c *connection) handleSessionCreate(msg inbound) {
	sum := c.s.opts.Sessions.CreateSession(msg.Name, msg.MaxParticipants)

	cfg := c.config()
	mv, err := c.s.opts.Sessions.MoveSession(c.id, sum.SessionID, cfg.participant())
	if err != nil {
		c.logger.Warn("join created session", zap.String("session_id", sum.SessionID), zap.Error(err))
		c.send(errorFrame("Failed to join newly created session"))
		return
	}
	c.send(SessionFrame{header: newHeader(TypeSessionCreated), Session: mv.Joined})
	c.announceMove(mv, cfg.Username)
}

func (c *connection) handleSessionJoin(msg inbound) {
	if msg.SessionID == "" {
		c.send(errorFrame("No session ID provided"))
		return
	}

	cfg := c.config()
	mv, err := c.s.opts.Sessions.MoveSession(c.id, msg.SessionID, cfg.participant())
	if err != nil {
		c.send(errorFrame(joinErrorMessage(err)))
		return
	}
	c.send(SessionFrame{header: newHeader(TypeSessionJoined), Session: mv.Joined})
	if !mv.Already {
		c.announceMove(mv, cfg.Username)
	}
}

// announceMove tells the peers of the session the client left, then the
// peers of the one it joined.
func (c *connection) announceMove(mv session.Move, username string) {
	if d := mv.Left; d != nil {
		c.s.opts.Hub.Broadcast(d.Remaining, ParticipantFrame{header: newHeader(TypeParticipantLeft), Username: d.Participant.Username})
	}
	peers := c.s.opts.Sessions.GetOtherParticipants(c.id)
	if len(peers) == 0 {
		return
	}
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ClientID)
	}
	c.s.opts.Hub.Broadcast(ids, ParticipantFrame{header: newHeader(TypeParticipantJoin), Username: username})
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "Failed to join session: it no longer exists"
	case errors.Is(err, session.ErrSessionFull):
		return "Failed to join session: it is full"
	default:
		return "Failed to join session: " + err.Error()
	}
}

func (c *connection) handleSessionLeave() {
	if !c.leaveSession(true) {
		c.send(errorFrame("Not in a session or failed to leave"))
	}
}

// leaveSession removes the client from its session and tells the remaining
// peers. It reports whether the client was in a session.
func (c *connection) leaveSession(confirm bool) bool {
	d, err := c.s.opts.Sessions.LeaveSession(c.id)
	if err != nil {
		return false
	}
	if confirm {
		c.send(MessageFrame{header: newHeader(TypeSessionLeft), Message: "Successfully left session", SessionID: d.SessionID})
	}
	c.s.opts.Hub.Broadcast(d.Remaining, ParticipantFrame{header: newHeader(TypeParticipantLeft), Username: d.Participant.Username})
	return true
}

func (c *connection) handleAudio(data []byte) {
	if len(data) == 0 {
		return
	}
	role := c.role()
	c.s.opts.Metrics.AudioReceived(string(role), len(data))
	c.s.opts.Queues.Add(c.id, data)

	if role == session.RoleSpeaker {
		return
	}
	if c.roleInfo.Allow() {
		c.send(RoleInfoFrame{
			header:    newHeader(TypeRoleInfo),
			Message:   "Audio queued but not processed: client is in listener role",
			Role:      role,
			QueueSize: c.s.opts.Queues.Queue(c.id).Len(),
		})
	}
}

// processAudio is the queue processor feeding the recognizer.
func (c *connection) processAudio(_ context.Context, msg []byte) error {
	c.mu.Lock()
	closed, role := c.closed, c.cfg.Role
	c.mu.Unlock()
	if closed || role != session.RoleSpeaker {
		return nil
	}
	c.ctrl.AddAudioChunk(msg)
	return nil
}

// relayResults runs until the controller closes its results channel.
func (c *connection) relayResults(ctx context.Context) {
	for t := range c.ctrl.Results() {
		c.relay(ctx, t)
	}
}

func (c *connection) relay(ctx context.Context, t streaming.Transcript) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("relay panicked", zap.Any("panic", r))
		}
	}()

	cfg := c.config()
	c.send(TranscriptionFrame{
		header:     newHeader(TypeTranscription),
		Text:       t.Text,
		Confidence: t.Confidence,
		Language:   t.Language,
	})
	if cfg.SessionID != "" && c.s.opts.Recorder != nil {
		c.s.opts.Recorder.RecordTranscript(cfg.SessionID, c.id, cfg.Username, t.Language, t.Text, t.Confidence, t.At)
	}

	peers := c.s.opts.Sessions.GetOtherParticipants(c.id)
	targets := []string{cfg.TargetLanguage}
	for _, p := range peers {
		targets = append(targets, p.Info.TargetLanguage)
	}
	results := c.translateAll(ctx, t.Text, cfg.SourceLanguage, targets)

	if res, ok := results[cfg.TargetLanguage]; ok {
		c.send(TranslationFrame{
			header:                 newHeader(TypeTranslation),
			OriginalText:           t.Text,
			TranslatedText:         res.Text,
			DetectedSourceLanguage: res.DetectedSource,
			SourceLanguage:         cfg.SourceLanguage,
			TargetLanguage:         cfg.TargetLanguage,
		})
	}
	for _, p := range peers {
		res, ok := results[p.Info.TargetLanguage]
		if !ok {
			continue
		}
		c.s.opts.Hub.Send(p.ClientID, TranslationFrame{
			header:                 newHeader(TypeTranslation),
			OriginalText:           t.Text,
			TranslatedText:         res.Text,
			DetectedSourceLanguage: res.DetectedSource,
			SourceLanguage:         cfg.SourceLanguage,
			TargetLanguage:         p.Info.TargetLanguage,
			Speaker:                cfg.Username,
		})
	}
}

// translateAll translates text once per distinct target language. Failed
// languages are logged and left out of the result.
func (c *connection) translateAll(ctx context.Context, text, source string, targets []string) map[string]translate.Result {
	ctx, cancel := context.WithTimeout(ctx, c.s.opts.TranslateTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]translate.Result, len(targets))
		seen    = make(map[string]bool, len(targets))
		g       errgroup.Group
	)
	g.SetLimit(maxParallelTranslations)

	for _, target := range targets {
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		target := target
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("translator panicked", zap.String("target_language", target), zap.Any("panic", r))
				}
			}()
			res, err := c.s.opts.Translator.TranslateWithSource(ctx, text, source, target)
			c.s.opts.Metrics.TranslationDone(err)
			if err != nil {
				c.logger.Warn("translation failed", zap.String("target_language", target), zap.Error(err))
				return nil
			}
			mu.Lock()
			results[target] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
