package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/firewatch/dashboard/internal/notification"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 45 * time.Second
	writeWait    = 10 * time.Second
)

// Message sent over WebSocket
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage marshals payload into a message of the given type
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: raw, Timestamp: time.Now()}, nil
}

// Client is one browser connection. Writes are serialized by writeMu.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	hub     *Hub
	ctx     context.Context
	cancel  context.CancelFunc
	session *Session
}

// WriteJSON safely writes JSON to the WebSocket connection
func (c *Client) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// WriteControl safely writes control message to the WebSocket connection
func (c *Client) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(messageType, data, deadline)
}

// NotificationSources feeds the per-connection notification sessions
type NotificationSources struct {
	Feed     notification.ChangeFeed
	Snapshot notification.SnapshotSource
	Names    notification.NameResolver
}

// Hub manages WebSocket connections. Every change event is broadcast as
// an "alert" message, and each connection also gets its own notification
// session.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	sources    *NotificationSources
	upgrader   websocket.Upgrader
}

// NewHub creates a hub. Origins listed in allowedOrigins may connect in
// addition to same-origin requests; sources may be nil to disable
// notification sessions.
func NewHub(allowedOrigins []string, sources *NotificationSources) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Message, 500),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sources:    sources,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Run starts the hub goroutine
func (h *Hub) Run(ctx context.Context) {
	logger.Info().Msg("Starting WebSocket Hub")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetConnectedClients(count)
			logger.Info().Int("clients", count).Msg("WebSocket client registered")

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			for _, client := range h.snapshotClients() {
				if err := client.WriteJSON(message); err != nil {
					logger.Error().Err(err).Msg("WebSocket write failed")
					h.remove(client)
				}
			}

		case <-ctx.Done():
			for _, client := range h.snapshotClients() {
				h.remove(client)
			}
			return
		}
	}
}

func (h *Hub) snapshotClients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	client.cancel()
	if client.session != nil {
		client.session.Stop()
	}
	client.conn.Close()
	metrics.SetConnectedClients(count)
	logger.Info().Int("clients", count).Msg("WebSocket client unregistered")
}

// Register adds a client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-client.ctx.Done():
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all clients
func (h *Hub) Broadcast(msg *Message) {
	select {
	case h.broadcast <- msg:
	default:
		logger.Warn().Msg("Broadcast channel full")
	}
}

// OnChange implements processor.ChangeObserver
func (h *Hub) OnChange(ctx context.Context, event *processor.ChangeEvent) error {
	msg, err := NewMessage("alert", event)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal alert for WebSocket broadcast")
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ServeWS handles WebSocket connections (goroutine per connection)
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:   conn,
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
	}
	if h.sources != nil {
		client.session = NewSession(client, h.sources.Names)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	h.Register(client)
	logger.Info().Msg("New WebSocket client connected")

	if client.session != nil {
		go func() {
			err := client.session.Start(ctx, h.sources.Feed, h.sources.Snapshot)
			switch {
			case errors.Is(err, ErrSessionClosed):
				logger.Debug().Msg("Client left before its notification session started")
			case err != nil:
				logger.Warn().Err(err).Msg("Notification session failed to start")
			}
		}()
	}

	go h.readLoop(client)
	go h.pingLoop(client)
}

func (h *Hub) readLoop(client *Client) {
	defer h.Unregister(client)

	for {
		var msg map[string]interface{}
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Msg("WebSocket unexpected close")
			}
			return
		}

		if msgType, ok := msg["type"].(string); ok && msgType == "ping" {
			pong := &Message{Type: "pong", Payload: json.RawMessage(`{}`), Timestamp: time.Now()}
			if err := client.WriteJSON(pong); err != nil {
				logger.Error().Err(err).Msg("Failed to send pong")
				return
			}
		}
	}
}

func (h *Hub) pingLoop(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.ctx.Done():
			return
		case <-ticker.C:
			if err := client.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				logger.Error().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
