// Package broadcast pushes trade events, activity logs, status pokes
// and position updates to connected dashboard websocket clients.
// Delivery is at-most-once best-effort: dashboards poll the REST API
// for authoritative state, so a missed push self-heals.
package broadcast

import (
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jdtrading/mt5-copier/pkg/types"
	"go.uber.org/zap"
)

// Hub fans messages out to dashboard clients. Slow clients are
// disconnected rather than allowed to block the engine.
type Hub struct {
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	bufferSize int

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// Config holds hub configuration.
type Config struct {
	Logger *zap.Logger
	// BufferSize is the per-client send queue length.
	BufferSize int
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a hub.
func New(cfg *Config) *Hub {
	return &Hub{
		logger: cfg.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from the same process; cross
			// origin checks stay permissive like the REST surface.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		bufferSize: cfg.BufferSize,
		clients:    make(map[*client]struct{}),
	}
}

// ServeWS upgrades an HTTP request into a dashboard push connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket-upgrade-failed", zap.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	ConnectedClients.Set(float64(clientCount))
	h.logger.Info("dashboard-client-connected",
		zap.String("remote", conn.RemoteAddr().String()),
		zap.Int("clients", clientCount))

	go h.writeLoop(c)
	go h.readLoop(c)
}

// writeLoop drains the client's send queue.
func (h *Hub) writeLoop(c *client) {
	for message := range c.send {
		err := c.conn.WriteMessage(websocket.TextMessage, message)
		if err != nil {
			h.drop(c)
			return
		}
	}
	_ = c.conn.Close()
}

// readLoop discards inbound frames and detects disconnects.
func (h *Hub) readLoop(c *client) {
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	clientCount := len(h.clients)
	h.mu.Unlock()

	if ok {
		_ = c.conn.Close()
		ConnectedClients.Set(float64(clientCount))
		h.logger.Info("dashboard-client-disconnected", zap.Int("clients", clientCount))
	}
}

// publish serializes an envelope and fans it out without blocking.
func (h *Hub) publish(event string, data interface{}) {
	payload, err := json.Marshal(types.Envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("push-encode-failed", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	stale := make([]*client, 0)
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Queue full: the client is too slow to keep.
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	MessagesTotal.WithLabelValues(event).Inc()

	for _, c := range stale {
		DroppedClientsTotal.Inc()
		h.logger.Warn("dashboard-client-too-slow")
		h.drop(c)
	}
}

// TradeEvent pushes a trade_event frame.
func (h *Hub) TradeEvent(p types.TradeEventPayload) {
	h.publish(types.PushTradeEvent, p)
}

// Log pushes a new_log frame.
func (h *Hub) Log(level, message string) {
	h.publish(types.PushNewLog, types.NewLogEntry(level, message))
}

// Status pushes a status poke; clients refresh /api/status on receipt.
func (h *Hub) Status(s types.EngineStatus) {
	h.publish(types.PushStatus, s)
}

// Positions pushes a positions_update frame.
func (h *Hub) Positions(positions []types.Position) {
	h.publish(types.PushPositionsUpdate, types.PositionsUpdate{Positions: positions})
}

// Close disconnects all clients.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}

	ConnectedClients.Set(0)
	h.logger.Info("broadcast-hub-closed")
	return nil
}
