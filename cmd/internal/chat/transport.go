package chat

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	// Max bytes per inbound frame. History batches can be large.
	maxFrameBytes = 1 << 20 // 1 MiB

	defaultDialTimeout = 10 * time.Second
)

// Transport is one established duplex connection.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens transports. The Supervisor owns every transport it dials.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials WebSocket connections.
type WSDialer struct {
	// Origin is sent on the handshake when non-empty (browser-like clients).
	Origin string
	// Header is copied into every handshake (auth cookies, bearer tokens).
	Header http.Header
	// HTTPClient overrides the client used for the handshake.
	HTTPClient *http.Client
	// DialTimeout bounds the handshake. Defaults to 10s.
	DialTimeout time.Duration
}

// Dial performs the websocket handshake.
func (d WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h := http.Header{}
	for k, vs := range d.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if strings.TrimSpace(d.Origin) != "" {
		h.Set("Origin", d.Origin)
	}

	conn, resp, err := websocket.Dial(dctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	conn.SetReadLimit(maxFrameBytes)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	mt, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
