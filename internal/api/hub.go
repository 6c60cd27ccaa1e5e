package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans wire-format messages out to websocket subscribers.
//
// Subscribers are read-only: inbound frames are drained and discarded, and
// a write error unregisters the connection.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.conns[ws] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	slog.Info("subscriber connected", "subscribers", n)

	// drain inbound frames until the peer goes away
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				h.drop(ws)
				return
			}
		}
	}()
}

// Publish sends msg to every subscriber, dropping the ones that fail.
func (h *Hub) Publish(msg []byte) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for ws := range h.conns {
		conns = append(conns, ws)
	}
	h.mu.Unlock()

	for _, ws := range conns {
		if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("dropping subscriber", "error", err)
			h.drop(ws)
		}
	}
}

// Subscribers returns the number of live connections.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for ws := range h.conns {
		conns = append(conns, ws)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, ws := range conns {
		ws.Close()
	}
}

func (h *Hub) drop(ws *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, ws)
	h.mu.Unlock()
	ws.Close()
}
