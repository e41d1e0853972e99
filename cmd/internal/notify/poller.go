// Package notify implements fixed-interval notification polling: the operator's
// unread-conversation badge and the pending-order alert feed.
//
// Polling is independent of any chat connection. A poller may lag the live
// conversation by up to one interval; it is a notification aid, not a source of truth.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ErrInvalidInterval is returned when a poller is built with a non-positive interval.
var ErrInvalidInterval = errors.New("notify: interval must be positive")

// FetchFunc retrieves one complete snapshot.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// Config configures a Poller.
type Config struct {
	// Name labels logs and metrics (e.g. "summaries", "pending_orders").
	Name string
	// Interval is the fixed cadence between fetches.
	Interval time.Duration
	// Timeout bounds a single fetch. Zero means one Interval.
	Timeout time.Duration
}

// Poller periodically replaces a snapshot of T with the result of fetch.
//
// A successful fetch replaces the snapshot wholesale. A failed fetch leaves the
// previous snapshot in place until the next successful tick.
type Poller[T any] struct {
	cfg     Config
	fetch   FetchFunc[T]
	log     *slog.Logger
	metrics *Metrics

	mu       sync.RWMutex
	snapshot []T
	last     time.Time
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}

	updates chan struct{}
}

// New builds a poller. Nothing is fetched until Start.
func New[T any](cfg Config, fetch FetchFunc[T], log *slog.Logger, metrics *Metrics) (*Poller[T], error) {
	if cfg.Interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if fetch == nil {
		return nil, errors.New("notify: nil fetch func")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Name == "" {
		cfg.Name = "poller"
	}
	if log == nil {
		log = slog.Default()
	}

	return &Poller[T]{
		cfg:     cfg,
		fetch:   fetch,
		log:     log.With("poller", cfg.Name),
		metrics: metrics,
		done:    make(chan struct{}),
		updates: make(chan struct{}, 1),
	}, nil
}

// Start fetches once immediately and then on every tick until Stop or ctx ends.
// Calling Start again, or after Stop, does nothing.
func (p *Poller[T]) Start(parent context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	p.started = true
	p.cancel = cancel
	p.mu.Unlock()

	p.log.Info("poller.start", "interval", p.cfg.Interval.String())
	go p.run(ctx)
}

// Stop cancels the timer and any fetch in flight, then waits for the loop to exit.
// Idempotent.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started, cancel := p.started, p.cancel
	p.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-p.done
	p.log.Info("poller.stop")
}

// Snapshot returns a copy of the latest successful fetch.
func (p *Poller[T]) Snapshot() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.snapshot)
}

// Count returns how many snapshot entries satisfy pred.
func (p *Poller[T]) Count(pred func(T) bool) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, v := range p.snapshot {
		if pred(v) {
			n++
		}
	}
	return n
}

// Top returns at most n entries from the head of the snapshot.
func (p *Poller[T]) Top(n int) []T {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	return slices.Clone(p.snapshot[:min(n, len(p.snapshot))])
}

// LastRefresh returns when the snapshot was last replaced (zero before the first success).
func (p *Poller[T]) LastRefresh() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Updates signals after each successful refresh. Signals coalesce.
func (p *Poller[T]) Updates() <-chan struct{} { return p.updates }

func (p *Poller[T]) run(ctx context.Context) {
	defer close(p.done)

	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller[T]) tick(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	items, err := p.fetch(fctx)
	p.metrics.observe(p.cfg.Name, time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.fetched(p.cfg.Name, "fail")
		p.log.Warn("poller.fetch.fail", "err", err)
		return
	}

	p.mu.Lock()
	p.snapshot = items
	p.last = time.Now()
	p.mu.Unlock()

	p.metrics.fetched(p.cfg.Name, "ok")
	p.metrics.size(p.cfg.Name, len(items))
	p.log.Debug("poller.refresh", "items", len(items))

	select {
	case p.updates <- struct{}{}:
	default:
	}
}
