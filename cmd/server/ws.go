package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"portfolio-lab/internal/observability"
)

// progressEvent is one status update pushed to subscribers.
type progressEvent struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Hub fans progress events out to connected WebSocket clients.
type Hub struct {
	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	logger  *log.Logger
	metrics *observability.Metrics
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		conns:   make(map[*websocket.Conn]struct{}),
		logger:  logger,
		metrics: metrics,
	}
}

var upgrader = websocket.Upgrader{
	// The REST layer already applies the CORS policy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Serve upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade: %v", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	h.metrics.ActiveWebSockets.Inc()

	// Drain client frames so pings and closes are processed.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		h.metrics.ActiveWebSockets.Dec()
	}
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends the event to every connected client, dropping the
// ones that fail to accept it.
func (h *Hub) Broadcast(ev progressEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(ev); err != nil {
			h.drop(conn)
		}
	}
}
