// Package devserver is a reference support-chat backend for local development,
// smoke tests and integration tests. It speaks the v1 wire contract: one websocket
// per participant, a history batch on connect, server-assigned ids and timestamps,
// and fan-out to operators and the addressed customer.
package devserver

import (
	"context"
	"errors"
	"time"

	v1 "supportchat/shared/contracts/chat/v1"
)

const (
	defaultRecentLimit = 200
	maxRecentLimit     = 1000
)

// ErrInvalidInput is returned for incomplete store requests.
var ErrInvalidInput = errors.New("devserver: invalid input")

// SaveMessageInput describes a message to persist. The store assigns the id.
type SaveMessageInput struct {
	ConversationID int64
	SenderRole     v1.Role
	Text           string
	ImageURL       string
	Now            time.Time
}

func (in SaveMessageInput) validate() error {
	if in.ConversationID <= 0 || !in.SenderRole.Valid() {
		return ErrInvalidInput
	}
	if in.Text == "" && in.ImageURL == "" {
		return ErrInvalidInput
	}
	return nil
}

// MessageStore persists chat messages and derives the operator summaries.
//
// Requirements:
//   - ids are unique and increase with insertion order
//   - history queries are ordered by created_at ASC, id ASC
//   - only customer messages count as unread; an operator reply marks them read
type MessageStore interface {
	SaveMessage(ctx context.Context, in SaveMessageInput) (v1.Message, error)
	MessagesByCustomer(ctx context.Context, customerID int64) ([]v1.Message, error)
	RecentMessages(ctx context.Context, limit int) ([]v1.Message, error)
	MarkAsRead(ctx context.Context, customerID int64) error
	Summaries(ctx context.Context) ([]v1.Summary, error)
	Close() error
}

// OrderStore lists orders for the pending-order alert feed.
type OrderStore interface {
	OrdersByStatus(ctx context.Context, status string) ([]v1.PendingOrder, error)
}

// lastMessagePreview mirrors what the summary list shows for image-only messages.
func lastMessagePreview(text, imageURL string) string {
	if text != "" {
		return text
	}
	return "[Image]: " + imageURL
}

func clampRecent(limit int) int {
	if limit <= 0 {
		return defaultRecentLimit
	}
	return min(limit, maxRecentLimit)
}
