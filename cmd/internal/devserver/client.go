package devserver

import (
	"sync"

	v1 "supportchat/shared/contracts/chat/v1"
)

// client is one connected websocket session.
//
// send is never closed by the server so concurrent fan-out cannot panic;
// done signals the session goroutines to stop.
type client struct {
	sessionID  string
	role       v1.Role
	customerID int64

	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(sessionID string, role v1.Role, customerID int64, queue int) *client {
	if queue <= 0 {
		queue = 64
	}
	return &client{
		sessionID:  sessionID,
		role:       role,
		customerID: customerID,
		send:       make(chan []byte, queue),
		done:       make(chan struct{}),
	}
}

func (c *client) closed() <-chan struct{} { return c.done }

// close is idempotent and leaves send open.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer enqueues b without blocking and reports whether it was accepted.
func (c *client) offer(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}
