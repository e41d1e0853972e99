// Package v1 defines the support-chat wire contract v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between the chat client, the dev server and the smoke tool
// so the wire format stays authoritative in one place.
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Role identifies which side of a conversation a participant is on.
type Role string

// Role constants (wire-stable). The operator role is spelled "admin" on the wire.
const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleOperator
}

// Frame type tags carried by batch frames.
const (
	// FrameHistory is pushed to a customer right after the handshake.
	FrameHistory = "history"
	// FrameRecent is pushed to an operator right after the handshake.
	FrameRecent = "recent"
	// FrameUnreadSummary is pushed to operators; clients ignore it.
	FrameUnreadSummary = "unread_summary"
)

// WSPath is the connection endpoint path.
const WSPath = "/api/ws"

// REST paths served next to the websocket endpoint.
const (
	SummaryPath       = "/api/admin/messages/customers"
	PendingOrdersPath = "/api/admin/orders"
)

// Message is a stored chat message as delivered by the backend.
// ID and CreatedAt are always assigned by the backend.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"customer_id"`
	SenderRole     Role      `json:"sender_role"`
	Text           string    `json:"message_text"`
	ImageURL       string    `json:"image_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// BatchFrame carries several historical messages at once.
type BatchFrame struct {
	Type     string    `json:"type,omitempty"`
	Messages []Message `json:"messages"`
}

// OutboundMessage is what a client sends. The backend assigns id and created_at.
type OutboundMessage struct {
	Text           string `json:"message_text"`
	ImageURL       string `json:"image_url,omitempty"`
	SenderRole     Role   `json:"sender_role"`
	ConversationID int64  `json:"customer_id"`
}

// Summary is one row of the operator's per-customer notification list.
type Summary struct {
	CustomerID    int64  `json:"customer_id"`
	CustomerName  string `json:"customer_name"`
	UnreadCount   int    `json:"unread_count"`
	LastMessage   string `json:"last_message"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

// OrderCustomer is the customer reference embedded into a pending order.
type OrderCustomer struct {
	Username string `json:"username"`
}

// PendingOrder is one entry of the pending-orders alert feed.
type PendingOrder struct {
	ID       int64          `json:"id"`
	Status   string         `json:"status"`
	Customer *OrderCustomer `json:"customer,omitempty"`
}

// PendingOrdersResponse wraps the pending orders list.
type PendingOrdersResponse struct {
	Data []PendingOrder `json:"data"`
}

// FrameKind classifies a decoded inbound frame.
type FrameKind uint8

const (
	FrameKindIgnored FrameKind = iota
	FrameKindSingle
	FrameKindBatch
)

// Frame is a decoded inbound frame.
type Frame struct {
	Kind     FrameKind
	Type     string
	Messages []Message
}

// ErrEmptyFrame is returned for zero-length payloads.
var ErrEmptyFrame = errors.New("empty frame")

// DecodeFrame classifies and decodes one inbound frame.
//
// A frame with a "messages" key is a batch. A frame typed unread_summary is
// recognised and ignored. Anything else must be a single message with an id.
func DecodeFrame(data []byte) (Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	var typ string
	if raw, ok := probe["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}

	if _, ok := probe["messages"]; ok {
		var b BatchFrame
		if err := json.Unmarshal(data, &b); err != nil {
			return Frame{}, fmt.Errorf("decode batch: %w", err)
		}
		return Frame{Kind: FrameKindBatch, Type: b.Type, Messages: b.Messages}, nil
	}

	if typ == FrameUnreadSummary {
		return Frame{Kind: FrameKindIgnored, Type: typ}, nil
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Frame{}, fmt.Errorf("decode message: %w", err)
	}
	if m.ID <= 0 {
		return Frame{}, errors.New("decode message: missing id")
	}
	return Frame{Kind: FrameKindSingle, Type: typ, Messages: []Message{m}}, nil
}

// Validate checks an outbound message before it goes on the wire.
func (o OutboundMessage) Validate() error {
	if !o.SenderRole.Valid() {
		return fmt.Errorf("invalid sender_role: %q", o.SenderRole)
	}
	if o.ConversationID <= 0 {
		return errors.New("missing customer_id")
	}
	if strings.TrimSpace(o.Text) == "" && strings.TrimSpace(o.ImageURL) == "" {
		return errors.New("empty message")
	}
	return nil
}

// Endpoint builds the websocket URL for a role and counterpart from an http(s) or ws(s) base URL.
func Endpoint(base string, role Role, customerID int64) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("invalid role: %q", role)
	}
	if customerID <= 0 {
		return "", errors.New("missing customer_id")
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", errors.New("missing host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + WSPath
	q := url.Values{}
	q.Set("role", string(role))
	q.Set("customer_id", strconv.FormatInt(customerID, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
