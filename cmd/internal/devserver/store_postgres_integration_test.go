package devserver

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"supportchat/cmd/internal/ids"
	v1 "supportchat/shared/contracts/chat/v1"
)

// Integration tests are enabled when SUPPORTCHAT_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_MessagesAndSummaries(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)

	store := mustNewSchemaStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := store.UpsertCustomer(ctx, 21, "ann"); err != nil {
		t.Fatalf("upsert customer: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	first, err := store.SaveMessage(ctx, SaveMessageInput{ConversationID: 21, SenderRole: v1.RoleCustomer, Text: "hi", Now: now})
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := store.SaveMessage(ctx, SaveMessageInput{ConversationID: 21, SenderRole: v1.RoleCustomer, ImageURL: "/u/a.png", Now: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("save second: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not increasing: %d then %d", first.ID, second.ID)
	}
	if _, err := store.SaveMessage(ctx, SaveMessageInput{ConversationID: 22, SenderRole: v1.RoleCustomer, Text: "other", Now: now}); err != nil {
		t.Fatalf("save other: %v", err)
	}

	hist, err := store.MessagesByCustomer(ctx, 21)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].ID != first.ID || hist[1].ImageURL != "/u/a.png" {
		t.Fatalf("history=%+v", hist)
	}
	if !hist[0].CreatedAt.Equal(now) {
		t.Fatalf("created_at=%v want=%v", hist[0].CreatedAt, now)
	}

	recent, err := store.RecentMessages(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[1].ID != second.ID {
		t.Fatalf("recent=%+v", recent)
	}

	sums, err := store.Summaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 || sums[0].CustomerID != 21 || sums[0].UnreadCount != 2 || sums[0].CustomerName != "ann" {
		t.Fatalf("summaries=%+v", sums)
	}
	if sums[0].LastMessage != "[Image]: /u/a.png" {
		t.Fatalf("last message=%q", sums[0].LastMessage)
	}

	if err := store.MarkAsRead(ctx, 21); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	sums, _ = store.Summaries(ctx)
	for _, s := range sums {
		if s.CustomerID == 21 && s.UnreadCount != 0 {
			t.Fatalf("unread after mark read=%d", s.UnreadCount)
		}
	}
}

func TestPostgresStore_OrdersByStatus(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)

	store := mustNewSchemaStore(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := store.UpsertCustomer(ctx, 5, "bob"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	for _, st := range []string{"pending", "shipped", "pending"} {
		if _, err := store.AddOrder(ctx, 5, st); err != nil {
			t.Fatalf("add order: %v", err)
		}
	}

	got, err := store.OrdersByStatus(ctx, "pending")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(got) != 2 || got[0].ID <= got[1].ID {
		t.Fatalf("orders=%+v", got)
	}
	if got[0].Customer == nil || got[0].Customer.Username != "bob" {
		t.Fatalf("customer not joined: %+v", got[0])
	}
}

func TestWithSchema_RejectsBadIdentifiers(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "  ", "1abc", "a-b", `x"; drop`} {
		st := &PostgresStore{}
		if err := WithSchema(s)(st); err == nil {
			t.Fatalf("schema %q should be rejected", s)
		}
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("nil pool should be rejected")
	}
}

func mustNewSchemaStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()

	schema := "supportchat_it_" + strings.ToLower(ids.MustULID(time.Now().UTC()))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("SUPPORTCHAT_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: SUPPORTCHAT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, raw)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}
