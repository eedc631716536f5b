package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/jeongseonghan/lte-cellsync/internal/lte"
	"github.com/jeongseonghan/lte-cellsync/internal/scan"
)

// Handlers holds the HTTP API handlers and the state they report. It
// implements the acquisition handler interface.
type Handlers struct {
	wsHub      *WSHub
	status     StatusPayload
	cells      []lte.CellCandidate
	abandoned  int
	candidates []scan.Candidate
	mu         sync.Mutex
}

// NewHandlers creates new API handlers.
func NewHandlers() *Handlers {
	return &Handlers{
		wsHub:  NewWSHub(),
		status: StatusPayload{Status: "idle"},
	}
}

// Hub returns the WebSocket hub.
func (h *Handlers) Hub() *WSHub { return h.wsHub }

// SetStatus records and broadcasts the searcher status.
func (h *Handlers) SetStatus(status string, freqHz float64, message string) {
	p := StatusPayload{Status: status, FrequencyHz: freqHz, Message: message}
	h.mu.Lock()
	h.status = p
	h.mu.Unlock()
	h.wsHub.BroadcastStatus(p)
}

// SetScan records and broadcasts the ranked channels of a band scan.
func (h *Handlers) SetScan(candidates []scan.Candidate) {
	h.mu.Lock()
	h.candidates = append([]scan.Candidate(nil), candidates...)
	h.mu.Unlock()
	h.wsHub.BroadcastScan(candidates)
}

// OnCellResolved records the cell, replacing an earlier entry for the same
// frequency and cell.
func (h *Handlers) OnCellResolved(c lte.CellCandidate) {
	h.mu.Lock()
	replaced := false
	for i, old := range h.cells {
		if old.FrequencyHz == c.FrequencyHz && old.CellID == c.CellID {
			h.cells[i] = c
			replaced = true
		}
	}
	if !replaced {
		h.cells = append(h.cells, c)
	}
	h.mu.Unlock()
	h.wsHub.BroadcastCell(c)
}

// OnCandidateAbandoned counts the attempt.
func (h *Handlers) OnCandidateAbandoned(freqHz float64) {
	h.mu.Lock()
	h.abandoned++
	h.mu.Unlock()
	h.wsHub.BroadcastAbandoned(freqHz)
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	h.wsHub.AddClient(conn)

	// Drain client messages so close frames are processed.
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// HandleStatus returns the searcher status and counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := map[string]interface{}{
		"status":    h.status.Status,
		"resolved":  len(h.cells),
		"abandoned": h.abandoned,
		"clients":   h.wsHub.Clients(),
	}
	if h.status.FrequencyHz != 0 {
		resp["frequencyHz"] = h.status.FrequencyHz
	}
	if h.status.Message != "" {
		resp["message"] = h.status.Message
	}
	h.mu.Unlock()
	writeJSON(w, resp)
}

// HandleCells lists the resolved cells.
func (h *Handlers) HandleCells(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	cells := append([]lte.CellCandidate{}, h.cells...)
	h.mu.Unlock()
	writeJSON(w, cells)
}

// HandleScan lists the channels of the last band scan, strongest first.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	c := append([]scan.Candidate{}, h.candidates...)
	h.mu.Unlock()
	writeJSON(w, c)
}
