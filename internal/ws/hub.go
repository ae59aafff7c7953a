package ws

import (
	"sync"
)

// Hub tracks live subscription connections keyed by user ID so they can be
// counted and closed together on shutdown. Anonymous connections are kept
// under the empty ID.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*connection]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*connection]struct{}),
	}
}

// Register adds a connection for the given user.
func (h *Hub) Register(userID string, c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*connection]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

// Unregister removes a connection for the given user.
func (h *Hub) Unregister(userID string, c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.conns, userID)
		}
	}
}

// Count reports the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.conns {
		n += len(conns)
	}
	return n
}

// CountFor reports the number of open connections of one user.
func (h *Hub) CountFor(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// CloseAll closes every connection with a going-away status. Closed
// connections unregister themselves.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*connection
	for _, conns := range h.conns {
		for c := range conns {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.closeWith(closeGoingAway, "server shutting down")
	}
}
