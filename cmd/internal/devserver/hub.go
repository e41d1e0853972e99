package devserver

import (
	"log/slog"
	"sync"

	v1 "supportchat/shared/contracts/chat/v1"
)

// hub tracks connected sessions by role and fans frames out to them.
// Fan-out never blocks: a full session queue drops the frame for that session.
type hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu        sync.RWMutex
	operators map[string]*client
	customers map[int64]map[string]*client
}

func newHub(log *slog.Logger, metrics *Metrics) *hub {
	return &hub{
		log:       log,
		metrics:   metrics,
		operators: make(map[string]*client),
		customers: make(map[int64]map[string]*client),
	}
}

func (h *hub) join(c *client) {
	h.mu.Lock()
	if c.role == v1.RoleOperator {
		h.operators[c.sessionID] = c
	} else {
		set := h.customers[c.customerID]
		if set == nil {
			set = make(map[string]*client)
			h.customers[c.customerID] = set
		}
		set[c.sessionID] = c
	}
	h.mu.Unlock()

	h.metrics.connected(c.role, 1)
	h.log.Info("hub.join", "session_id", c.sessionID, "role", string(c.role), "customer_id", c.customerID)
}

// leave removes c before closing it so no broadcaster holds a stale member.
func (h *hub) leave(c *client) {
	h.mu.Lock()
	removed := false
	if c.role == v1.RoleOperator {
		if _, ok := h.operators[c.sessionID]; ok {
			delete(h.operators, c.sessionID)
			removed = true
		}
	} else if set := h.customers[c.customerID]; set != nil {
		if _, ok := set[c.sessionID]; ok {
			delete(set, c.sessionID)
			removed = true
		}
		if len(set) == 0 {
			delete(h.customers, c.customerID)
		}
	}
	h.mu.Unlock()

	c.close()
	if removed {
		h.metrics.connected(c.role, -1)
		h.log.Info("hub.leave", "session_id", c.sessionID, "role", string(c.role))
	}
}

// deliver sends a stored message to every operator and to every session of the
// conversation's customer.
func (h *hub) deliver(conversationID int64, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.operators {
		h.offer(c, frame)
	}
	for _, c := range h.customers[conversationID] {
		h.offer(c, frame)
	}
}

func (h *hub) offer(c *client, frame []byte) {
	if !c.offer(frame) {
		h.metrics.fanoutDropped()
		h.log.Debug("hub.fanout.drop", "session_id", c.sessionID)
	}
}

func (h *hub) counts() (operators, customers int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, set := range h.customers {
		customers += len(set)
	}
	return len(h.operators), customers
}
