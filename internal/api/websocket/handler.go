package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/backtesting-org/dashboard-push/internal/services"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Dashboards only listen, anything they send is discarded
	maxMessageSize = 512

	sendBufferSize = 256
)

// Handler relays push events from the event bus to local dashboard sockets
type Handler struct {
	eventBus *services.EventBus
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients map[*Client]bool
	mu      sync.RWMutex
}

// Client represents one connected dashboard
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	handler *Handler
}

// NewHandler creates a relay. allowOrigin "*" accepts any origin.
func NewHandler(eventBus *services.EventBus, logger *zap.Logger, allowOrigin string) *Handler {
	h := &Handler{
		eventBus: eventBus,
		logger:   logger.Named("relay"),
		clients:  make(map[*Client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowOrigin == "*" || origin == "" || origin == allowOrigin
		},
	}
	return h
}

// HandleConnection upgrades a dashboard connection
// GET /ws
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		handler: h,
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Info("Dashboard connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	go client.writePump()
	go client.readPump()
}

// BroadcastEvent sends event to every dashboard. A dashboard that cannot keep up is
// disconnected rather than slowing the others down.
func (h *Handler) BroadcastEvent(event services.Event) {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Dashboard send buffer full, closing connection")
			go h.unregisterClient(client)
		}
	}
}

// StartEventListener forwards every bus event until the bus closes
func (h *Handler) StartEventListener() {
	events := h.eventBus.SubscribeAll(sendBufferSize)

	go func() {
		for event := range events {
			h.BroadcastEvent(event)
		}
		h.CloseAll()
	}()
}

// CloseAll disconnects every dashboard
func (h *Handler) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
}

func (h *Handler) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info("Dashboard disconnected")
	}
}

// GetClientCount returns the number of connected dashboards
func (h *Handler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) readPump() {
	defer func() {
		c.handler.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.handler.logger.Warn("Dashboard socket error", zap.Error(err))
			}
			return
		}
	}
}

// writePump owns all writes to the connection. Each event is its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay stopped"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
