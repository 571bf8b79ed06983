// Package ws pushes live bet updates to browser clients over WebSocket.
//
// Every lifecycle change (response, lock, resolution) is published on the
// event bus channel "bet:{code}"; the hub bridges that bus to connected
// clients so a shared bet page updates without polling.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sidestake/sidestake/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 1024

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 32
)

// betChannelPattern matches every per-bet event channel on the bus.
const betChannelPattern = "bet:*"

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Bet codes are unguessable; the page origin carries no authority.
		return true
	},
}

// client represents a single WebSocket connection watching one or more bets.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	codes map[string]bool // watched bet codes
	mu    sync.RWMutex
}

// watchMsg is the JSON message a client sends to start or stop watching bets:
// {"action":"watch","codes":["3f8k2mQx"]}.
type watchMsg struct {
	Action string   `json:"action"` // "watch" or "unwatch"
	Codes  []string `json:"codes"`
}

// Hub manages connected WebSocket clients and routes bet events from the
// event bus to the clients watching that bet's code.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{} // closed when Run exits
	bus        domain.EventBus
	mu         sync.RWMutex
	logger     *slog.Logger
}

// broadcastMsg carries an event along with the bet code it concerns.
type broadcastMsg struct {
	code string
	data []byte
}

// NewHub creates a hub that bridges the event bus to WebSocket clients.
func NewHub(bus domain.EventBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger,
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribeBets(ctx)

	for {
		select {
		case <-ctx.Done():
			// Unblock any pump goroutine still trying to register or
			// unregister before tearing the clients down.
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isWatching(msg.code) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeBets subscribes to the bus pattern covering all bet channels and
// forwards received events to the hub's broadcast loop.
func (h *Hub) subscribeBets(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, betChannelPattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to bet events",
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to bet events")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: bet event subscription closed")
				return
			}
			h.broadcast <- broadcastMsg{
				code: strings.TrimPrefix(msg.Channel, "bet:"),
				data: msg.Payload,
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. A ?code= query parameter starts the client
// watching that bet immediately.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
		codes: make(map[string]bool),
	}
	if code := r.URL.Query().Get("code"); code != "" {
		c.codes[code] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendConnected()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection. The only messages
// clients send are watch/unwatch requests as JSON text frames.
func (c *client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg watchMsg
		if jsonErr := json.Unmarshal(message, &msg); jsonErr == nil && len(msg.Codes) > 0 {
			c.handleWatch(msg)
		}
	}
}

// detach hands the client back to the hub. After the hub has shut down the
// unregister loop is gone, so the done channel keeps this from blocking.
func (c *client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// handleWatch processes watch/unwatch requests from the client.
func (c *client) handleWatch(msg watchMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "watch":
		for _, code := range msg.Codes {
			c.codes[code] = true
		}
	case "unwatch":
		for _, code := range msg.Codes {
			delete(c.codes, code)
		}
	}
}

// sendConnected pushes a small JSON envelope so clients can immediately mark
// the connection as healthy before any bet events flow.
func (c *client) sendConnected() {
	msg, err := json.Marshal(map[string]any{
		"type": "connected",
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// isWatching checks whether the client is watching the given bet code.
func (c *client) isWatching(code string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.codes[code]
}

// writePump pumps messages from the hub to the WebSocket connection as JSON
// text frames, with periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
