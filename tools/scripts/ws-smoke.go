// Package main provides a CI-friendly WebSocket smoke test for the support chat backend.
//
// It validates:
//   - customer and operator handshakes
//   - history batch on connect (customer) and recent batch (operator)
//   - send -> echo to the sender and fan-out to the operator
//   - reconnect replays the stored message without the id changing
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "supportchat/shared/contracts/chat/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Frame
	errCh chan error
}

func main() {
	var (
		baseURL    = flag.String("url", "http://127.0.0.1:8080", "Backend base URL (http/https)")
		origin     = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		customerID = flag.Int64("customer", 9001, "Customer id used for the conversation")
		text       = flag.String("text", "hello support 👋", "Message text to send")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *customerID <= 0 {
		fatalf("invalid -customer: %d", *customerID)
	}

	customerURL, err := v1.Endpoint(*baseURL, v1.RoleCustomer, *customerID)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}
	operatorURL, err := v1.Endpoint(*baseURL, v1.RoleOperator, *customerID)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	op := mustConnect(root, "operator", operatorURL, *origin, *timeout)
	defer closeWS(op.conn)
	op.mustReadBatch(root, v1.FrameRecent, *timeout)

	cust := mustConnect(root, "customer", customerURL, *origin, *timeout)
	cust.mustReadBatch(root, v1.FrameHistory, *timeout)

	if *verbose {
		fmt.Printf("connected: customer=%d origin=%q\n", *customerID, *origin)
	}

	out := v1.OutboundMessage{
		Text:           *text,
		SenderRole:     v1.RoleCustomer,
		ConversationID: *customerID,
	}
	mustWriteWithTimeout(root, cust.conn, out, *timeout)

	echo := cust.mustReadMessage(root, *customerID, *text, *timeout)
	fanout := op.mustReadMessage(root, *customerID, *text, *timeout)
	if echo.ID != fanout.ID {
		fatalf("fan-out id mismatch: echo=%d operator=%d", echo.ID, fanout.ID)
	}
	if echo.SenderRole != v1.RoleCustomer {
		fatalf("echo sender_role=%q want %q", echo.SenderRole, v1.RoleCustomer)
	}
	if echo.CreatedAt.IsZero() {
		fatalf("echo created_at missing/zero")
	}

	// Reconnect: the replayed history must carry the same server id.
	closeWS(cust.conn)
	again := mustConnect(root, "customer-reconnect", customerURL, *origin, *timeout)
	defer closeWS(again.conn)

	history := again.mustReadBatch(root, v1.FrameHistory, *timeout)
	found := 0
	for _, m := range history.Messages {
		if m.ID == echo.ID {
			found++
		}
	}
	if found != 1 {
		fatalf("replayed history contains message %d %d times, want 1", echo.ID, found)
	}

	fmt.Printf("OK: customer=%d message_id=%d history=%d\n", *customerID, echo.ID, len(history.Messages))
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Frame, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			f, err := v1.DecodeFrame(data)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad frame: %w", err):
				default:
				}
				return
			}
			if f.Kind == v1.FrameKindIgnored {
				continue
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustReadBatch waits for a batch frame of the given type.
func (c *smokeClient) mustReadBatch(parent context.Context, typ string, stepTimeout time.Duration) v1.Frame {
	return c.mustReadUntil(parent, stepTimeout, fmt.Sprintf("%s batch", typ), func(f v1.Frame) bool {
		return f.Kind == v1.FrameKindBatch && f.Type == typ
	})
}

// mustReadMessage waits for a single message in conversation conv with text.
func (c *smokeClient) mustReadMessage(parent context.Context, conv int64, text string, stepTimeout time.Duration) v1.Message {
	f := c.mustReadUntil(parent, stepTimeout, "message", func(f v1.Frame) bool {
		return f.Kind == v1.FrameKindSingle &&
			f.Messages[0].ConversationID == conv &&
			f.Messages[0].Text == text
	})
	m := f.Messages[0]
	if m.ID <= 0 {
		fatalf("message without server id (%s)", c.name)
	}
	return m
}

func (c *smokeClient) mustReadUntil(parent context.Context, stepTimeout time.Duration, what string, match func(v1.Frame) bool) v1.Frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", what, c.name)
		case err := <-c.errCh:
			fatalf("read error (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %s (%s)", what, c.name)
			}
			if match(f) {
				return f
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
