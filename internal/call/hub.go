package call

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtime-call-translator/internal/metrics"
)

// wsConn is the subset of *websocket.Conn a Client writes through.
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client serializes every write to one connection.
type Client struct {
	ID string

	conn         wsConn
	writeTimeout time.Duration
	metrics      *metrics.Collector

	mu     sync.Mutex
	closed bool
}

func newClient(id string, conn wsConn, writeTimeout time.Duration, m *metrics.Collector) *Client {
	return &Client{ID: id, conn: conn, writeTimeout: writeTimeout, metrics: m}
}

// Send marshals f and writes it as one text frame.
func (c *Client) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.FrameType(), err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", f.FrameType(), err)
	}
	c.metrics.FrameSent(f.FrameType())
	return nil
}

// Close closes the underlying connection once; later sends fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Hub is the set of live connections keyed by client id.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:  logger.With(zap.String("component", "hub")),
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client registered", zap.String("client_id", c.ID), zap.Int("total", n))
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

func (h *Hub) Get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Send delivers f to one client. Unknown ids are ignored.
func (h *Hub) Send(id string, f Frame) {
	c, ok := h.Get(id)
	if !ok {
		return
	}
	if err := c.Send(f); err != nil {
		h.logger.Warn("send failed", zap.String("client_id", id), zap.String("type", f.FrameType()), zap.Error(err))
	}
}

// Broadcast sends f to every listed client that is still connected.
func (h *Hub) Broadcast(ids []string, f Frame) {
	for _, id := range ids {
		h.Send(id, f)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every registered connection. Their read loops then run
// the normal disconnect cleanup.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.Close()
	}
}
