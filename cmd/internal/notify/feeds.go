package notify

import (
	"log/slog"
	"time"

	v1 "supportchat/shared/contracts/chat/v1"
)

// Default cadences of the operator notification feeds.
const (
	SummaryInterval      = 3000 * time.Millisecond
	PendingOrderInterval = 2000 * time.Millisecond

	// PendingOrderPreview is how many pending orders the alert dropdown shows.
	PendingOrderPreview = 5
)

// HasUnread reports whether a summary row has unread messages.
func HasUnread(s v1.Summary) bool { return s.UnreadCount > 0 }

// UnreadBadge counts conversations with unread messages, not messages.
func UnreadBadge(summaries []v1.Summary) int {
	n := 0
	for _, s := range summaries {
		if HasUnread(s) {
			n++
		}
	}
	return n
}

// Picklist returns the first n summaries for the conversation preview list.
func Picklist(summaries []v1.Summary, n int) []v1.Summary {
	if n <= 0 {
		return nil
	}
	return summaries[:min(n, len(summaries))]
}

// SummaryPoller polls the operator's per-customer summaries.
type SummaryPoller struct {
	*Poller[v1.Summary]
}

// NewSummaryPoller polls src.Summaries at interval (SummaryInterval when zero).
func NewSummaryPoller(src HTTPSource, interval time.Duration, log *slog.Logger, metrics *Metrics) (*SummaryPoller, error) {
	if interval == 0 {
		interval = SummaryInterval
	}
	p, err := New[v1.Summary](Config{Name: "summaries", Interval: interval}, src.Summaries, log, metrics)
	if err != nil {
		return nil, err
	}
	return &SummaryPoller{Poller: p}, nil
}

// Badge is the number of customers with unread messages.
func (p *SummaryPoller) Badge() int { return p.Count(HasUnread) }

// PendingOrderPoller polls the pending-order alert feed.
type PendingOrderPoller struct {
	*Poller[v1.PendingOrder]
}

// NewPendingOrderPoller polls src.PendingOrders at interval (PendingOrderInterval when zero).
func NewPendingOrderPoller(src HTTPSource, interval time.Duration, log *slog.Logger, metrics *Metrics) (*PendingOrderPoller, error) {
	if interval == 0 {
		interval = PendingOrderInterval
	}
	p, err := New[v1.PendingOrder](Config{Name: "pending_orders", Interval: interval}, src.PendingOrders, log, metrics)
	if err != nil {
		return nil, err
	}
	return &PendingOrderPoller{Poller: p}, nil
}

// Badge is the number of pending orders.
func (p *PendingOrderPoller) Badge() int { return len(p.Snapshot()) }

// Preview returns the orders shown in the alert dropdown.
func (p *PendingOrderPoller) Preview() []v1.PendingOrder { return p.Top(PendingOrderPreview) }
