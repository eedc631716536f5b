package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/scan"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // status page may be served from elsewhere
	},
}

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// AbandonedPayload reports a frequency without a usable cell.
type AbandonedPayload struct {
	FrequencyHz float64 `json:"frequencyHz"`
}

// StatusPayload reports what the searcher is doing.
type StatusPayload struct {
	Status      string  `json:"status"`
	FrequencyHz float64 `json:"frequencyHz,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// WSHub manages WebSocket connections.
type WSHub struct {
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients: make(map[*websocket.Conn]bool),
	}
}

// AddClient registers a new WebSocket connection.
func (h *WSHub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
	log.Printf("WebSocket client connected (%d total)", len(h.clients))
}

// RemoveClient removes a WebSocket connection.
func (h *WSHub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	log.Printf("WebSocket client disconnected (%d remaining)", len(h.clients))
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all connected clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("WebSocket marshal error: %v", err)
		return
	}

	// gorilla connections allow one concurrent writer, so writes happen
	// under the exclusive lock.
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("WebSocket write error: %v", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// BroadcastCell announces a resolved cell.
func (h *WSHub) BroadcastCell(c lte.CellCandidate) {
	h.Broadcast(WSMessage{Type: "cell", Payload: c})
}

// BroadcastAbandoned announces a frequency given up on.
func (h *WSHub) BroadcastAbandoned(freqHz float64) {
	h.Broadcast(WSMessage{Type: "abandoned", Payload: AbandonedPayload{FrequencyHz: freqHz}})
}

// BroadcastStatus sends a status update to all clients.
func (h *WSHub) BroadcastStatus(status StatusPayload) {
	h.Broadcast(WSMessage{Type: "status", Payload: status})
}

// BroadcastScan sends the ranked channels of a finished band scan.
func (h *WSHub) BroadcastScan(candidates []scan.Candidate) {
	h.Broadcast(WSMessage{Type: "scan", Payload: candidates})
}
