package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultStatsInterval is how often stats are pushed to websocket clients.
const DefaultStatsInterval = 500 * time.Millisecond

const statsWriteTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// StatsHandler broadcasts the stats snapshot to websocket clients.
type StatsHandler struct {
	source   StatsSource
	interval time.Duration
	log      *zap.Logger

	clients map[*websocket.Conn]bool
	mu      sync.RWMutex

	stop      chan struct{}
	closeOnce sync.Once
}

// NewStatsHandler creates a StatsHandler and starts its broadcaster. Call
// Close to stop it.
func NewStatsHandler(source StatsSource, interval time.Duration, log *zap.Logger) *StatsHandler {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}

	h := &StatsHandler{
		source:   source,
		interval: interval,
		log:      log,
		clients:  make(map[*websocket.Conn]bool),
		stop:     make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *StatsHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops broadcasting and disconnects every client.
func (h *StatsHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.stop)

		h.mu.Lock()
		for conn := range h.clients {
			conn.Close()
		}
		h.mu.Unlock()
	})
}

// broadcast sends the stats snapshot to all connected clients.
func (h *StatsHandler) broadcast() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		if h.Clients() == 0 {
			continue
		}

		msg, err := json.Marshal(map[string]any{
			"stats":     h.source.Stats(),
			"timestamp": time.Now().UnixMilli(),
		})
		if err != nil {
			h.log.Warn("failed to encode stats", zap.Error(err))
			continue
		}

		h.mu.RLock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(statsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// The reader loop notices the broken connection and unregisters it.
				conn.Close()
			}
		}
		h.mu.RUnlock()
	}
}
