// Package dashboard serves the live transcript to operators: a JSON API for
// reading and editing entries and a server-sent-events feed of new ones.
package dashboard

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cchambers/director/internal/logging"
)

const clientBufferSize = 64

// Hub fans events out to connected SSE clients. A slow client drops events
// rather than blocking the broadcaster.
type Hub struct {
	mu      sync.Mutex
	clients map[string]chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]chan []byte)}
}

// Register adds a client and returns its ID and event channel.
func (h *Hub) Register() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, clientBufferSize)
	h.mu.Lock()
	h.clients[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unregister removes a client and closes its channel.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
	}
	h.mu.Unlock()
}

// Broadcast sends one named event to every client.
func (h *Hub) Broadcast(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Warning(logging.CategoryDashboard, "failed to marshal event %s: %v", event, err)
		return
	}
	msg := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			logging.Debug(logging.CategoryDashboard, "dropping event for slow client id=%s", id)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
