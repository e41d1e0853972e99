package devserver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "supportchat/shared/contracts/chat/v1"
)

const defaultSchema = "supportchat"

// PostgresStore is a MessageStore and OrderStore backed by PostgreSQL.
//
// PostgresStore does NOT own the pgx pool; the caller closes it. Close is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "supportchat").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("devserver: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("devserver: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: defaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("devserver: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// EnsureSchema creates the schema and tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	customers := pgIdent(s.schema, "customers")
	messages := pgIdent(s.schema, "messages")
	orders := pgIdent(s.schema, "orders")
	byCustomer := pgx.Identifier{"messages_customer_created_idx"}.Sanitize()

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + customers + ` (
		   id       BIGINT PRIMARY KEY,
		   username TEXT NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
		   id           BIGSERIAL PRIMARY KEY,
		   customer_id  BIGINT NOT NULL,
		   sender_role  TEXT NOT NULL CHECK (sender_role IN ('customer', 'admin')),
		   message_text TEXT NOT NULL DEFAULT '',
		   image_url    TEXT NOT NULL DEFAULT '',
		   is_read      BOOLEAN NOT NULL DEFAULT false,
		   created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`,
		`CREATE INDEX IF NOT EXISTS ` + byCustomer + ` ON ` + messages + ` (customer_id, created_at, id)`,
		`CREATE TABLE IF NOT EXISTS ` + orders + ` (
		   id          BIGSERIAL PRIMARY KEY,
		   customer_id BIGINT NOT NULL,
		   status      TEXT NOT NULL,
		   created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		 )`,
	}

	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("devserver: ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertCustomer records the display name used by Summaries and orders.
func (s *PostgresStore) UpsertCustomer(ctx context.Context, id int64, username string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "customers")+` (id, username) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username`,
		id, strings.TrimSpace(username),
	)
	return err
}

// AddOrder inserts an order and returns its id.
func (s *PostgresStore) AddOrder(ctx context.Context, customerID int64, status string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "orders")+` (customer_id, status) VALUES ($1, $2) RETURNING id`,
		customerID, status,
	).Scan(&id)
	return id, err
}

// SaveMessage inserts a message; the database assigns the id.
func (s *PostgresStore) SaveMessage(ctx context.Context, in SaveMessageInput) (v1.Message, error) {
	if err := in.validate(); err != nil {
		return v1.Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m := v1.Message{
		ConversationID: in.ConversationID,
		SenderRole:     in.SenderRole,
		Text:           in.Text,
		ImageURL:       in.ImageURL,
		CreatedAt:      now,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "messages")+` (customer_id, sender_role, message_text, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		in.ConversationID, string(in.SenderRole), in.Text, in.ImageURL, now,
	).Scan(&m.ID)
	if err != nil {
		return v1.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// MessagesByCustomer returns one conversation ordered by created_at ASC.
func (s *PostgresStore) MessagesByCustomer(ctx context.Context, customerID int64) ([]v1.Message, error) {
	if customerID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, sender_role, message_text, image_url, created_at
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE customer_id = $1
		  ORDER BY created_at ASC, id ASC`,
		customerID,
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// RecentMessages returns the newest limit messages, oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, limit int) ([]v1.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, customer_id, sender_role, message_text, image_url, created_at
		   FROM (
		     SELECT * FROM `+pgIdent(s.schema, "messages")+`
		      ORDER BY created_at DESC, id DESC
		      LIMIT $1
		   ) recent
		  ORDER BY created_at ASC, id ASC`,
		clampRecent(limit),
	)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// MarkAsRead marks the customer's unread messages as read.
func (s *PostgresStore) MarkAsRead(ctx context.Context, customerID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "messages")+`
		    SET is_read = true
		  WHERE customer_id = $1 AND sender_role = 'customer' AND NOT is_read`,
		customerID,
	)
	return err
}

// Summaries returns one row per conversation, unread first, then most recent first.
func (s *PostgresStore) Summaries(ctx context.Context) ([]v1.Summary, error) {
	messages := pgIdent(s.schema, "messages")
	customers := pgIdent(s.schema, "customers")

	rows, err := s.pool.Query(ctx,
		`SELECT m.customer_id,
		        COALESCE(c.username, '') AS customer_name,
		        COUNT(*) FILTER (WHERE m.sender_role = 'customer' AND NOT m.is_read) AS unread_count,
		        l.message_text, l.image_url, l.created_at
		   FROM `+messages+` m
		   LEFT JOIN `+customers+` c ON c.id = m.customer_id
		   JOIN LATERAL (
		     SELECT x.message_text, x.image_url, x.created_at
		       FROM `+messages+` x
		      WHERE x.customer_id = m.customer_id
		      ORDER BY x.created_at DESC, x.id DESC
		      LIMIT 1
		   ) l ON true
		  GROUP BY m.customer_id, c.username, l.message_text, l.image_url, l.created_at
		  ORDER BY unread_count DESC, l.created_at DESC, m.customer_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []v1.Summary
	for rows.Next() {
		var (
			sum       v1.Summary
			text, img string
			at        time.Time
		)
		if err := rows.Scan(&sum.CustomerID, &sum.CustomerName, &sum.UnreadCount, &text, &img, &at); err != nil {
			return nil, err
		}
		sum.LastMessage = lastMessagePreview(text, img)
		sum.LastMessageAt = at.UTC().Format(time.RFC3339)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// OrdersByStatus returns orders with the given status, newest first.
func (s *PostgresStore) OrdersByStatus(ctx context.Context, status string) ([]v1.PendingOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT o.id, o.status, c.username
		   FROM `+pgIdent(s.schema, "orders")+` o
		   LEFT JOIN `+pgIdent(s.schema, "customers")+` c ON c.id = o.customer_id
		  WHERE $1 = '' OR o.status = $1
		  ORDER BY o.id DESC`,
		status,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []v1.PendingOrder
	for rows.Next() {
		var (
			o    v1.PendingOrder
			name *string
		)
		if err := rows.Scan(&o.ID, &o.Status, &name); err != nil {
			return nil, err
		}
		if name != nil {
			o.Customer = &v1.OrderCustomer{Username: *name}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanMessages(rows pgx.Rows) ([]v1.Message, error) {
	defer rows.Close()

	var out []v1.Message
	for rows.Next() {
		var (
			m    v1.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Text, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SenderRole = v1.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
