package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
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

// scripted returns successive results and then repeats the last one.
type scripted struct {
	mu    sync.Mutex
	steps []func() ([]int, error)
	calls int
}

func (s *scripted) fetch(ctx context.Context) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := min(s.calls, len(s.steps)-1)
	s.calls++
	return s.steps[i]()
}

func (s *scripted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestNew_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	fetch := func(context.Context) ([]int, error) { return nil, nil }

	if _, err := New[int](Config{}, fetch, nil, nil); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("err=%v want ErrInvalidInterval", err)
	}
	if _, err := New[int](Config{Interval: time.Second}, nil, nil, nil); err == nil {
		t.Fatalf("nil fetch should be rejected")
	}
}

func TestPoller_FetchesImmediatelyAndReplacesWholesale(t *testing.T) {
	t.Parallel()

	src := &scripted{steps: []func() ([]int, error){
		func() ([]int, error) { return []int{1, 2, 3}, nil },
		func() ([]int, error) { return []int{9}, nil },
	}}

	p, err := New[int](Config{Name: "t", Interval: time.Hour}, src.fetch, discardLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !p.LastRefresh().IsZero() {
		t.Fatalf("LastRefresh should be zero before the first fetch")
	}

	p.Start(context.Background())
	defer p.Stop()

	// The first fetch must not wait for the interval.
	select {
	case <-p.Updates():
	case <-time.After(time.Second):
		t.Fatalf("no immediate fetch")
	}
	if got := p.Snapshot(); !slices.Equal(got, []int{1, 2, 3}) {
		t.Fatalf("snapshot=%v want=[1 2 3]", got)
	}
	if p.LastRefresh().IsZero() {
		t.Fatalf("LastRefresh not recorded")
	}
}

func TestPoller_FailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	src := &scripted{steps: []func() ([]int, error){
		func() ([]int, error) { return []int{4, 5}, nil },
		func() ([]int, error) { return nil, errors.New("backend down") },
	}}

	p, err := New[int](Config{Name: "t", Interval: 10 * time.Millisecond}, src.fetch, discardLogger(), m)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background())
	defer p.Stop()

	waitFor(t, "several failed ticks", func() bool { return src.count() >= 4 })

	if got := p.Snapshot(); !slices.Equal(got, []int{4, 5}) {
		t.Fatalf("snapshot=%v want=[4 5]", got)
	}
	if got := fetchCount(t, reg, "fail"); got < 1 {
		t.Fatalf("fail count=%v want>=1", got)
	}
	if got := fetchCount(t, reg, "ok"); got != 1 {
		t.Fatalf("ok count=%v want=1", got)
	}
}

func TestPoller_CountAndTop(t *testing.T) {
	t.Parallel()

	src := &scripted{steps: []func() ([]int, error){
		func() ([]int, error) { return []int{2, 0, 5, 0, 1, 7, 3}, nil },
	}}
	p, err := New[int](Config{Interval: time.Hour}, src.fetch, discardLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background())
	defer p.Stop()
	<-p.Updates()

	if got := p.Count(func(v int) bool { return v > 0 }); got != 5 {
		t.Fatalf("count=%d want=5", got)
	}

	tests := []struct {
		n    int
		want []int
	}{
		{n: 0, want: nil},
		{n: 3, want: []int{2, 0, 5}},
		{n: 50, want: []int{2, 0, 5, 0, 1, 7, 3}},
	}
	for _, tt := range tests {
		if got := p.Top(tt.n); !slices.Equal(got, tt.want) {
			t.Fatalf("Top(%d)=%v want=%v", tt.n, got, tt.want)
		}
	}

	top := p.Top(1)
	top[0] = 99
	if p.Top(1)[0] != 2 {
		t.Fatalf("Top must return a copy")
	}
}

func TestPoller_StopCancelsTimer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fetch := func(context.Context) ([]int, error) {
		calls.Add(1)
		return []int{1}, nil
	}

	p, err := New[int](Config{Interval: 5 * time.Millisecond}, fetch, discardLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background())
	waitFor(t, "ticks", func() bool { return calls.Load() >= 2 })

	p.Stop()
	p.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("fetched after Stop: %d -> %d", after, got)
	}

	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("Start after Stop revived the poller")
	}
}

func TestPoller_StopBeforeStart(t *testing.T) {
	t.Parallel()

	p, err := New[int](Config{Interval: time.Second}, func(context.Context) ([]int, error) { return nil, nil }, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Stop()
	p.Start(context.Background())
	p.Stop()
}

func TestPoller_TimeoutDefaultsToInterval(t *testing.T) {
	t.Parallel()

	deadlines := make(chan time.Duration, 1)
	fetch := func(ctx context.Context) ([]int, error) {
		if dl, ok := ctx.Deadline(); ok {
			select {
			case deadlines <- time.Until(dl):
			default:
			}
		}
		return nil, nil
	}

	p, err := New[int](Config{Interval: 500 * time.Millisecond}, fetch, discardLogger(), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p.Start(context.Background())
	defer p.Stop()

	select {
	case d := <-deadlines:
		if d <= 0 || d > 500*time.Millisecond {
			t.Fatalf("fetch deadline in %v, want within one interval", d)
		}
	case <-time.After(time.Second):
		t.Fatalf("fetch ran without a deadline")
	}
}

func fetchCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "supportchat_poller_fetches_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" && l.GetValue() == result {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
