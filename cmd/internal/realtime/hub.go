package realtime

import (
	"log/slog"
	"sync"

	v1 "tether/shared/contracts/realtime/v1"
)

// Hub tracks live connections per user and fans envelopes out to them.
//
// Join/Leave are safe under concurrent SendToUser. Fan-out never blocks: a full queue drops the
// envelope for that connection only.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		users: make(map[string]map[string]*Client),
	}
}

// Join registers c under userID.
func (h *Hub) Join(userID string, c *Client) {
	h.mu.Lock()
	conns, ok := h.users[userID]
	if !ok {
		conns = make(map[string]*Client)
		h.users[userID] = conns
	}
	conns[c.ConnID] = c
	h.mu.Unlock()

	h.log.Debug("hub.join", "user_id", userID, "conn_id", c.ConnID)
}

// Leave removes connID from userID.
func (h *Hub) Leave(userID, connID string) {
	h.mu.Lock()
	if conns, ok := h.users[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
	h.mu.Unlock()

	h.log.Debug("hub.leave", "user_id", userID, "conn_id", connID)
}

// SendToUser offers env to every connection of userID and returns how many accepted it.
func (h *Hub) SendToUser(userID string, env v1.Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, c := range h.users[userID] {
		if c.offer(env) {
			n++
			continue
		}
		h.log.Info("hub.drop", "user_id", userID, "conn_id", c.ConnID, "type", env.Type)
	}
	return n
}

// Online returns the number of live connections of userID.
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
