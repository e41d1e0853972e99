package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "supportchat/shared/contracts/chat/v1"
)

// Deps are the shared collaborators used to open conversations.
type Deps struct {
	// BaseURL is the backend origin, e.g. http://localhost:8080.
	BaseURL        string
	Dialer         Dialer
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	Log            *slog.Logger
	Metrics        *Metrics
}

// Conversation is one live (Supervisor, Log) pair and the goroutine that feeds
// supervisor frames into the log. On the customer side it is the single
// always-open conversation; on the operator side the Router owns it.
type Conversation struct {
	session        SessionContext
	counterpartID  int64
	conversationID int64

	sup    *Supervisor
	sender *Sender
	log    *slog.Logger

	// owned reports whether frames may still land in this log.
	owned    func() bool
	onUpdate func()

	mu        sync.RWMutex
	msgs      *Log
	discarded bool

	updates  chan struct{}
	consumed chan struct{}

	closeOnce sync.Once
}

// OpenConversation starts a supervised connection for counterpartID and returns
// immediately; the connection comes up in the background.
// For customers counterpartID is ignored in favour of the session's own id.
func OpenConversation(ctx context.Context, session SessionContext, counterpartID int64, deps Deps) (*Conversation, error) {
	return openConversation(ctx, session, counterpartID, deps, nil, nil)
}

func openConversation(
	ctx context.Context,
	session SessionContext,
	counterpartID int64,
	deps Deps,
	owned func() bool,
	onUpdate func(),
) (*Conversation, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}

	convID := session.ConversationFor(counterpartID)
	url, err := v1.Endpoint(deps.BaseURL, session.Role, convID)
	if err != nil {
		return nil, fmt.Errorf("chat: endpoint: %w", err)
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("conversation_id", convID, "role", string(session.Role))

	sup := NewSupervisor(SupervisorConfig{
		URL:            url,
		ReconnectDelay: deps.ReconnectDelay,
		WriteTimeout:   deps.WriteTimeout,
	}, deps.Dialer, log, deps.Metrics)

	c := &Conversation{
		session:        session,
		counterpartID:  counterpartID,
		conversationID: convID,
		sup:            sup,
		sender:         NewSender(session, convID, sup, log, deps.Metrics),
		log:            log,
		owned:          owned,
		onUpdate:       onUpdate,
		msgs:           NewLog(convID),
		updates:        make(chan struct{}, 1),
		consumed:       make(chan struct{}),
	}

	go c.consume()
	sup.Start(ctx)

	log.Info("conversation.open")
	return c, nil
}

// CounterpartID returns the id this conversation was opened for.
func (c *Conversation) CounterpartID() int64 { return c.counterpartID }

// ConversationID returns the conversation id carried on the wire.
func (c *Conversation) ConversationID() int64 { return c.conversationID }

// Session returns the local participant.
func (c *Conversation) Session() SessionContext { return c.session }

// State returns the supervisor state.
func (c *Conversation) State() State { return c.sup.State() }

// Messages returns a copy of the ordered log.
func (c *Conversation) Messages() []v1.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.msgs.Messages()
}

// Updates signals after the log changed. Signals coalesce; read Messages after each one.
func (c *Conversation) Updates() <-chan struct{} { return c.updates }

// Submit sends through the conversation's send pipeline.
func (c *Conversation) Submit(ctx context.Context, text, imageURL string) error {
	return c.sender.Submit(ctx, text, imageURL)
}

// Close discards the log and closes the supervisor. After Close returns no frame
// is merged into this conversation. Idempotent.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.discarded = true
		c.mu.Unlock()

		c.sup.Close()
		<-c.consumed
		c.log.Info("conversation.close")
	})
}

func (c *Conversation) consume() {
	defer close(c.consumed)

	for f := range c.sup.Frames() {
		c.mu.Lock()
		if c.discarded || (c.owned != nil && !c.owned()) {
			c.mu.Unlock()
			continue
		}
		changed := c.msgs.Apply(f)
		n := c.msgs.Len()
		c.mu.Unlock()

		if !changed {
			continue
		}
		c.log.Debug("conversation.merge", "frame_type", f.Type, "incoming", len(f.Messages), "total", n)
		c.notify()
	}
}

func (c *Conversation) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
