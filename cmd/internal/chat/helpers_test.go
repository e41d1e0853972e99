package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	v1 "supportchat/shared/contracts/chat/v1"
)

var errFakeClosed = errors.New("fake transport closed")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// eventLog records dial/close events in order across transports.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeTransport struct {
	url    string
	events *eventLog

	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeTransport(url string, events *eventLog) *fakeTransport {
	return &fakeTransport{
		url:    url,
		events: events,
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-t.in:
		return b, nil
	case <-t.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Write(_ context.Context, data []byte) error {
	select {
	case <-t.closed:
		return errFakeClosed
	default:
	}
	t.mu.Lock()
	t.writes = append(t.writes, append([]byte(nil), data...))
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		if t.events != nil {
			t.events.add("close " + t.url)
		}
		close(t.closed)
	})
	return nil
}

func (t *fakeTransport) writeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// push delivers a raw frame; it reports false if the transport is already closed.
func (t *fakeTransport) push(b []byte) bool {
	if t.isClosed() {
		return false
	}
	select {
	case <-t.closed:
		return false
	case t.in <- b:
		return true
	}
}

type fakeDialer struct {
	events *eventLog

	mu    sync.Mutex
	fail  bool
	dials int
	conns chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		events: &eventLog{},
		conns:  make(chan *fakeTransport, 64),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.dials++
	fail := d.fail
	d.mu.Unlock()

	d.events.add("dial " + url)
	if fail {
		return nil, errors.New("connection refused")
	}

	t := newFakeTransport(url, d.events)
	d.conns <- t
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	d.fail = v
	d.mu.Unlock()
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for dial")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

var t0 = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func msg(id, conv int64, offsetMS int) v1.Message {
	return v1.Message{
		ID:             id,
		ConversationID: conv,
		SenderRole:     v1.RoleCustomer,
		Text:           "m",
		CreatedAt:      t0.Add(time.Duration(offsetMS) * time.Millisecond),
	}
}

func mustFrame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func idsOf(msgs []v1.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
