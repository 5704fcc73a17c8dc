// Package websocket provides WebSocket-based log broadcasting so
// administrators can follow the server log in real time
package websocket

import (
	"bytes"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Drop-if-full buffering: losing a log line is always preferable
	// to blocking a request handler
	broadcastBufferSize = 256
	clientBufferSize    = 64

	// WebSocket timeouts
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// LogHub fans server log lines out to all connected admin clients.
// It implements io.Writer so it can sit inside the slog output writer.
type LogHub struct {
	clients map[*Client]struct{}

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	// Shared secret gating the /ws/logs endpoint (MESH_SECRET)
	secretKey string

	upgrader websocket.Upgrader
}

// Client represents one connected WebSocket consumer
type Client struct {
	hub  *LogHub
	conn *websocket.Conn
	send chan []byte
}

// NewLogHub creates a log hub gated by the given secret key
func NewLogHub(secretKey string) *LogHub {
	return &LogHub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		secretKey:  secretKey,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The endpoint is secret-gated, so any origin may connect
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Run starts the hub's event loop (call as goroutine). It owns the
// client set and multiplexes registration and broadcasting.
func (h *LogHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Debug("Log stream client connected", "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			slog.Debug("Log stream client disconnected", "total", total)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// Non-blocking: a slow client misses lines instead of
				// stalling everyone else
				select {
				case client.send <- message:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Write implements io.Writer so the hub can be teed into the log
// output. It never blocks: when the broadcast buffer is full the line
// is dropped.
func (h *LogHub) Write(p []byte) (n int, err error) {
	msg := make([]byte, len(p))
	copy(msg, p)
	msg = bytes.TrimRight(msg, "\n\r")

	select {
	case h.broadcast <- msg:
	default:
	}

	return len(p), nil
}

// ServeWS upgrades an authorized request to a WebSocket log stream
// Route: GET /ws/logs?secret_key=<MESH_SECRET>
func (h *LogHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	queryKey := r.URL.Query().Get("secret_key")
	if h.secretKey == "" || queryKey != h.secretKey {
		http.Error(w, "Unauthorized: Invalid or missing secret_key", http.StatusUnauthorized)
		slog.Warn("Unauthorized log stream attempt", "client", r.RemoteAddr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBufferSize),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection (pongs, close frames) and triggers
// unregistration when the client goes away
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Log stream read error", "error", err)
			}
			break
		}
	}
}

// writePump forwards buffered log lines to the client and keeps the
// connection alive with pings
func (c *Client) writePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce whatever else is queued into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte("\n"))
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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
