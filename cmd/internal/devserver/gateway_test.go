package devserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"supportchat/cmd/internal/chat"
	"supportchat/cmd/internal/notify"
	v1 "supportchat/shared/contracts/chat/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func newTestServer(t *testing.T, store *InMemoryStore, cfg Config) (*Server, *httptest.Server) {
	t.Helper()

	s := NewServer(cfg, store, nil, discardLogger(), NewMetrics(prometheus.NewRegistry()))
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func clientDeps(ts *httptest.Server) chat.Deps {
	return chat.Deps{
		BaseURL:        ts.URL,
		ReconnectDelay: 50 * time.Millisecond,
		Log:            discardLogger(),
	}
}

func hasText(msgs []v1.Message, text string) bool {
	for _, m := range msgs {
		if m.Text == text {
			return true
		}
	}
	return false
}

func TestGateway_CustomerHistoryAndEcho(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	mustSave(t, store, 12, v1.RoleOperator, "welcome", 0)
	_, ts := newTestServer(t, store, Config{})

	session, err := chat.NewSessionContext(12, v1.RoleCustomer)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	conv, err := chat.OpenConversation(context.Background(), session, 0, clientDeps(ts))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conv.Close()

	waitFor(t, "history", func() bool { return hasText(conv.Messages(), "welcome") })
	waitFor(t, "open", func() bool { return conv.State() == chat.StateOpen })

	if err := conv.Submit(context.Background(), "hello", ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "echo", func() bool { return len(conv.Messages()) == 2 })

	got := conv.Messages()[1]
	if got.Text != "hello" || got.SenderRole != v1.RoleCustomer || got.ID <= 0 || got.CreatedAt.IsZero() {
		t.Fatalf("echo=%+v", got)
	}
}

func TestGateway_OperatorAndCustomerExchange(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	mustSave(t, store, 13, v1.RoleCustomer, "someone else", 0)
	srv, ts := newTestServer(t, store, Config{})

	cust, _ := chat.NewSessionContext(12, v1.RoleCustomer)
	customer, err := chat.OpenConversation(context.Background(), cust, 0, clientDeps(ts))
	if err != nil {
		t.Fatalf("open customer: %v", err)
	}
	defer customer.Close()

	op, _ := chat.NewSessionContext(1, v1.RoleOperator)
	router, err := chat.NewRouter(op, clientDeps(ts))
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	defer router.Close()

	if err := router.Select(context.Background(), 12); err != nil {
		t.Fatalf("select: %v", err)
	}
	waitFor(t, "customer open", func() bool { return customer.State() == chat.StateOpen })
	waitFor(t, "operator open", func() bool { return router.State() == chat.StateOpen })
	waitFor(t, "sessions joined", func() bool {
		ops, custs := srv.hub.counts()
		return ops == 1 && custs == 1
	})

	if err := customer.Submit(context.Background(), "need help", ""); err != nil {
		t.Fatalf("customer submit: %v", err)
	}
	waitFor(t, "operator sees customer message", func() bool { return hasText(router.Messages(), "need help") })

	if err := router.Submit(context.Background(), "on it", ""); err != nil {
		t.Fatalf("operator submit: %v", err)
	}
	waitFor(t, "customer sees reply", func() bool { return hasText(customer.Messages(), "on it") })
	waitFor(t, "operator sees own echo", func() bool { return hasText(router.Messages(), "on it") })

	if hasText(router.Messages(), "someone else") {
		t.Fatalf("operator log leaked another conversation")
	}

	sums, err := store.Summaries(context.Background())
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	for _, s := range sums {
		if s.CustomerID == 12 && s.UnreadCount != 0 {
			t.Fatalf("operator reply should mark conversation read, unread=%d", s.UnreadCount)
		}
	}
}

func TestGateway_RejectsBadQuery(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, NewInMemoryStore(), Config{})

	resp, err := ts.Client().Get(ts.URL + v1.WSPath + "?role=customer")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", resp.StatusCode)
	}
}

func TestRoutes_SummariesFeedThePoller(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	store.SetCustomerName(1, "ann")
	mustSave(t, store, 1, v1.RoleCustomer, "a", 0)
	mustSave(t, store, 2, v1.RoleCustomer, "b", time.Second)
	mustSave(t, store, 3, v1.RoleOperator, "c", 2*time.Second)
	_, ts := newTestServer(t, store, Config{AdminToken: "s3cret"})

	p, err := notify.NewSummaryPoller(notify.HTTPSource{BaseURL: ts.URL, Token: "s3cret"}, time.Hour, discardLogger(), nil)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	p.Start(context.Background())
	defer p.Stop()

	select {
	case <-p.Updates():
	case <-time.After(3 * time.Second):
		t.Fatalf("no summaries fetched")
	}
	if got := p.Badge(); got != 2 {
		t.Fatalf("badge=%d want=2", got)
	}
	if got := len(p.Snapshot()); got != 3 {
		t.Fatalf("rows=%d want=3", got)
	}
}

func TestRoutes_AdminToken(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t, NewInMemoryStore(), Config{AdminToken: "s3cret"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "wrong", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "ok", header: "Bearer s3cret", want: http.StatusOK},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+v1.SummaryPath, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Fatalf("%s: status=%d want=%d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestRoutes_PendingOrders(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	for i := int64(1); i <= 6; i++ {
		store.AddOrder(i, 1, "pending")
	}
	store.AddOrder(7, 1, "done")
	_, ts := newTestServer(t, store, Config{})

	p, err := notify.NewPendingOrderPoller(notify.HTTPSource{BaseURL: ts.URL}, 0, discardLogger(), nil)
	if err != nil {
		t.Fatalf("poller: %v", err)
	}
	p.Start(context.Background())
	defer p.Stop()

	select {
	case <-p.Updates():
	case <-time.After(3 * time.Second):
		t.Fatalf("no orders fetched")
	}
	if got := p.Badge(); got != 6 {
		t.Fatalf("badge=%d want=6", got)
	}
	if got := p.Preview(); len(got) != notify.PendingOrderPreview || got[0].ID != 6 {
		t.Fatalf("preview=%+v", got)
	}
}

func TestRoutes_HistoryAndMarkRead(t *testing.T) {
	t.Parallel()

	store := NewInMemoryStore()
	mustSave(t, store, 4, v1.RoleCustomer, "x", 0)
	_, ts := newTestServer(t, store, Config{})

	resp, err := ts.Client().Get(ts.URL + "/api/admin/messages/4")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var msgs []v1.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	_ = resp.Body.Close()
	if len(msgs) != 1 || msgs[0].Text != "x" {
		t.Fatalf("history=%+v", msgs)
	}

	resp, err = ts.Client().Post(ts.URL+"/api/admin/messages/4/read", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d want=204", resp.StatusCode)
	}

	sums, _ := store.Summaries(context.Background())
	if len(sums) != 1 || sums[0].UnreadCount != 0 {
		t.Fatalf("summaries=%+v", sums)
	}

	resp, err = ts.Client().Get(ts.URL + "/api/admin/messages/abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", resp.StatusCode)
	}
}
