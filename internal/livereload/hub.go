// Package livereload reloads connected browsers when files under the project
// root change. A Watcher publishes file.changed events; a Hub fans them out
// to browser clients over WebSocket.
package livereload

import (
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/shaharia-lab/devserver/internal/eventbus"
	"github.com/shaharia-lab/devserver/internal/metrics"
)

// Routes served by the dev server for live reload.
const (
	SocketPath = "/__devserver/ws"
	ClientPath = "/__devserver/client.js"
)

// Snippet is injected into HTML documents to load the client.
const Snippet = `<script type="module" src="` + ClientPath + `"></script>`

// Message types sent to browsers.
const (
	MessageConnected  = "connected"
	MessageFullReload = "full-reload"
)

const (
	sendBuffer   = 8
	writeTimeout = 5 * time.Second
)

//go:embed client.js
var clientJS []byte

// Message is the JSON payload written to browser clients.
type Message struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

type client struct {
	id   string
	send chan []byte
}

// Hub tracks connected browsers and broadcasts reload messages to them.
// It is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// LocalOrigins are the origin host patterns, besides the request's own host,
// allowed to open a reload socket. Pages may be opened through any loopback
// alias of the dev server.
var LocalOrigins = []string{
	"localhost",
	"localhost:*",
	"127.0.0.1",
	"127.0.0.1:*",
	`\[::1\]`,
	`\[::1\]:*`,
}

// NewHub creates an empty Hub.
func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		metrics: m,
		logger:  logger,
	}
}

// ServeHTTP upgrades the request and streams messages until the browser
// disconnects, the client falls behind, or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: LocalOrigins,
	})
	if err != nil {
		h.logger.Debug("live reload: accept failed", "error", err)
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	c, ok := h.register()
	if !ok {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(c)

	// Browsers never send anything; CloseRead handles control frames and
	// cancels ctx when the connection goes away.
	ctx := conn.CloseRead(r.Context())

	if err := writeMessage(ctx, conn, mustMarshal(Message{Type: MessageConnected})); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "dropped")
				return
			}
			if err := writeMessage(ctx, conn, data); err != nil {
				h.logger.Debug("live reload: write failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

// Broadcast queues msg for every client. Clients whose buffer is full are
// disconnected instead of blocking the caller.
func (h *Hub) Broadcast(msg Message) {
	data := mustMarshal(msg)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("live reload: client too slow, dropping", "client", id)
			h.dropLocked(id)
		}
	}
	h.metrics.ReloadBroadcast.Inc()
}

// HandleEvent turns file.changed events into full-reload broadcasts. It is
// meant to be subscribed on the event bus.
func (h *Hub) HandleEvent(e eventbus.Event) {
	if e.Type != eventbus.FileChanged {
		return
	}
	h.logger.Info("reloading browsers", "path", e.Payload["path"], "changes", e.Payload["count"], "clients", h.Count())
	h.Broadcast(Message{Type: MessageFullReload, Path: e.Payload["path"]})
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.clients {
		h.dropLocked(id)
	}
}

// ServeClient serves the browser script.
func ServeClient(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(clientJS)
}

func (h *Hub) register() (*client, bool) {
	c := &client{id: uuid.NewString(), send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[c.id] = c
	h.metrics.ReloadClients.Set(float64(len(h.clients)))
	h.logger.Debug("live reload: client connected", "client", c.id)
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		h.dropLocked(c.id)
	}
	h.logger.Debug("live reload: client disconnected", "client", c.id)
}

// dropLocked removes a client and closes its queue. h.mu must be held.
func (h *Hub) dropLocked(id string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.send)
	h.metrics.ReloadClients.Set(float64(len(h.clients)))
}

func writeMessage(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func mustMarshal(m Message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return data
}
