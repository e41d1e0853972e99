package devserver

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	v1 "supportchat/shared/contracts/chat/v1"
)

const memMaxMessages = 50_000

// InMemoryStore is the dev fallback when no database is configured.
type InMemoryStore struct {
	mu     sync.Mutex
	nextID int64
	msgs   []memMessage // ordered by id
	names  map[int64]string
	orders []memOrder
}

type memMessage struct {
	v1.Message
	read bool
}

type memOrder struct {
	id         int64
	status     string
	customerID int64
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{names: make(map[int64]string)}
}

// Close is a no-op.
func (s *InMemoryStore) Close() error { return nil }

// SetCustomerName records the display name used by Summaries.
func (s *InMemoryStore) SetCustomerName(customerID int64, name string) {
	s.mu.Lock()
	s.names[customerID] = strings.TrimSpace(name)
	s.mu.Unlock()
}

// AddOrder records an order for the pending-order feed.
func (s *InMemoryStore) AddOrder(id, customerID int64, status string) {
	s.mu.Lock()
	s.orders = append(s.orders, memOrder{id: id, status: status, customerID: customerID})
	s.mu.Unlock()
}

// SaveMessage assigns the next id and stores the message unread.
func (s *InMemoryStore) SaveMessage(ctx context.Context, in SaveMessageInput) (v1.Message, error) {
	if err := in.validate(); err != nil {
		return v1.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return v1.Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	m := v1.Message{
		ID:             s.nextID,
		ConversationID: in.ConversationID,
		SenderRole:     in.SenderRole,
		Text:           in.Text,
		ImageURL:       in.ImageURL,
		CreatedAt:      now,
	}
	s.msgs = append(s.msgs, memMessage{Message: m})

	if len(s.msgs) > memMaxMessages {
		s.msgs = s.msgs[len(s.msgs)-memMaxMessages:]
	}
	return m, nil
}

// MessagesByCustomer returns one conversation ordered by created_at.
func (s *InMemoryStore) MessagesByCustomer(ctx context.Context, customerID int64) ([]v1.Message, error) {
	if customerID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var out []v1.Message
	for _, m := range s.msgs {
		if m.ConversationID == customerID {
			out = append(out, m.Message)
		}
	}
	s.mu.Unlock()

	sortMessages(out)
	return out, nil
}

// RecentMessages returns the newest limit messages across all conversations, oldest first.
func (s *InMemoryStore) RecentMessages(ctx context.Context, limit int) ([]v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampRecent(limit)

	s.mu.Lock()
	out := make([]v1.Message, 0, min(limit, len(s.msgs)))
	for _, m := range s.msgs {
		out = append(out, m.Message)
	}
	s.mu.Unlock()

	sortMessages(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// MarkAsRead marks the customer's messages in a conversation as read.
func (s *InMemoryStore) MarkAsRead(ctx context.Context, customerID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.ConversationID == customerID && m.SenderRole == v1.RoleCustomer {
			m.read = true
		}
	}
	return nil
}

// Summaries returns one row per conversation, unread first, then most recent first.
func (s *InMemoryStore) Summaries(ctx context.Context) ([]v1.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type agg struct {
		sum  v1.Summary
		last v1.Message
	}

	s.mu.Lock()
	byID := make(map[int64]*agg)
	for _, m := range s.msgs {
		a := byID[m.ConversationID]
		if a == nil {
			a = &agg{sum: v1.Summary{CustomerID: m.ConversationID, CustomerName: s.names[m.ConversationID]}}
			byID[m.ConversationID] = a
		}
		if m.SenderRole == v1.RoleCustomer && !m.read {
			a.sum.UnreadCount++
		}
		if a.last.ID == 0 || compareMessages(a.last, m.Message) < 0 {
			a.last = m.Message
		}
	}
	s.mu.Unlock()

	out := make([]v1.Summary, 0, len(byID))
	lastAt := make(map[int64]time.Time, len(byID))
	for id, a := range byID {
		a.sum.LastMessage = lastMessagePreview(a.last.Text, a.last.ImageURL)
		a.sum.LastMessageAt = a.last.CreatedAt.UTC().Format(time.RFC3339)
		lastAt[id] = a.last.CreatedAt
		out = append(out, a.sum)
	}

	slices.SortFunc(out, func(a, b v1.Summary) int {
		if c := cmp.Compare(b.UnreadCount, a.UnreadCount); c != 0 {
			return c
		}
		if c := lastAt[b.CustomerID].Compare(lastAt[a.CustomerID]); c != 0 {
			return c
		}
		return cmp.Compare(a.CustomerID, b.CustomerID)
	})
	return out, nil
}

// OrdersByStatus returns orders with the given status, newest id first.
func (s *InMemoryStore) OrdersByStatus(ctx context.Context, status string) ([]v1.PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []v1.PendingOrder
	for _, o := range s.orders {
		if status != "" && o.status != status {
			continue
		}
		po := v1.PendingOrder{ID: o.id, Status: o.status}
		if name, ok := s.names[o.customerID]; ok {
			po.Customer = &v1.OrderCustomer{Username: name}
		}
		out = append(out, po)
	}
	slices.SortFunc(out, func(a, b v1.PendingOrder) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func compareMessages(a, b v1.Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func sortMessages(msgs []v1.Message) {
	slices.SortFunc(msgs, compareMessages)
}
