package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	sendBuffer   = 16
	maxClients   = 256
)

// SessionTracker records which streaming sessions are alive.
type SessionTracker interface {
	Heartbeat(sessionID string)
	Forget(sessionID string)
}

type SnapshotSource interface {
	Snapshot() (*models.Snapshot, error)
}

// Message is the envelope written to every client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

type ScannerSummary struct {
	Findings int              `json:"findings"`
	Bullish  int              `json:"bullish"`
	Attempts int              `json:"attempts"`
	Error    models.ErrorKind `json:"error,omitempty"`
}

type SnapshotSummary struct {
	Sequence       uint64                    `json:"cycle_sequence"`
	CycleStartedAt time.Time                 `json:"cycle_started_at"`
	Trigger        models.Trigger            `json:"trigger"`
	Scanners       map[string]ScannerSummary `json:"scanners"`
}

func Summarize(s *models.Snapshot) SnapshotSummary {
	out := SnapshotSummary{
		Sequence:       s.Sequence,
		CycleStartedAt: s.CycleStartedAt,
		Trigger:        s.Trigger,
		Scanners:       make(map[string]ScannerSummary, len(s.Results)),
	}
	for id, r := range s.Results {
		sum := ScannerSummary{Findings: len(r.Findings), Bullish: len(r.Bullish()), Attempts: r.Attempts}
		if r.Error != nil {
			sum.Error = r.Error.Kind
		}
		out.Scanners[id] = sum
	}
	return out
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub streams snapshot summaries to websocket clients. Each connected client
// counts as a live session for as long as it answers pings.
type Hub struct {
	sessions SessionTracker
	source   SnapshotSource
	log      *logger.Logger
	upgrader websocket.Upgrader
	ping     time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type HubOption func(*Hub)

// WithPingInterval sets how often clients are pinged, which is also the
// heartbeat cadence. It must stay below the pong timeout.
func WithPingInterval(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 && d < pongTimeout {
			h.ping = d
		}
	}
}

func NewHub(sessions SessionTracker, source SnapshotSource, lgr *logger.Logger, opts ...HubOption) *Hub {
	if lgr == nil {
		lgr = logger.Nop()
	}
	h := &Hub{
		sessions: sessions,
		source:   source,
		log:      lgr.With(logger.String("component", "ws_hub")),
		ping:     30 * time.Second,
		clients:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/snapshots", h.Serve)
}

func (h *Hub) Name() string { return "websocket" }

// Deliver broadcasts a snapshot summary. Clients whose buffer is full are dropped.
func (h *Hub) Deliver(_ context.Context, s *models.Snapshot) error {
	data, err := json.Marshal(Message{Type: "snapshot", Data: Summarize(s), Time: time.Now().UTC()})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Warn("websocket client too slow, disconnecting", logger.String("session", c.id))
			h.removeLocked(c)
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Serve(c echo.Context) error {
	h.mu.Lock()
	full := h.closed || len(h.clients) >= maxClients
	h.mu.Unlock()
	if full {
		return c.String(http.StatusServiceUnavailable, "stream unavailable")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logger.Error(err))
		return nil
	}

	cl := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	if s, err := h.source.Snapshot(); err == nil {
		if data, err := json.Marshal(Message{Type: "snapshot", Data: Summarize(s), Time: time.Now().UTC()}); err == nil {
			cl.send <- data
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.sessions.Heartbeat(cl.id)
	h.log.Debug("websocket client connected", logger.String("session", cl.id))

	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.sessions.Forget(c.id)
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		h.log.Debug("websocket client disconnected", logger.String("session", c.id))
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		h.sessions.Heartbeat(c.id)
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", logger.Error(err))
			}
			return
		}
		// Any client frame counts as a heartbeat.
		h.sessions.Heartbeat(c.id)
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	}
}
