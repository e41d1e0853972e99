package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	v1 "supportchat/shared/contracts/chat/v1"
)

// ErrNotOperator is returned when a customer session tries to build a Router.
var ErrNotOperator = errors.New("chat: router requires an operator session")

// ErrNoConversation is returned by Submit when nothing is selected.
var ErrNoConversation = errors.New("chat: no conversation selected")

// Router multiplexes one operator UI over many customer conversations by keeping
// exactly one live Conversation, bound to the selected counterpart.
//
// Switching closes the previous conversation (connection, reconnect timer and log)
// before the next one is opened; the backend replays history after the new handshake.
type Router struct {
	session SessionContext
	deps    Deps
	log     *slog.Logger

	mu     sync.Mutex
	active *Conversation

	// gen identifies the current activation; frames of older activations are refused.
	gen atomic.Uint64

	updates chan struct{}
}

// NewRouter builds a router for an operator session.
func NewRouter(session SessionContext, deps Deps) (*Router, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if !session.IsOperator() {
		return nil, ErrNotOperator
	}

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		session: session,
		deps:    deps,
		log:     log,
		updates: make(chan struct{}, 1),
	}, nil
}

// Select activates counterpartID. Selecting the active counterpart again is a no-op.
func (r *Router) Select(ctx context.Context, counterpartID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.CounterpartID() == counterpartID {
		return nil
	}

	gen := r.gen.Add(1)

	var prev int64
	if r.active != nil {
		prev = r.active.CounterpartID()
		r.active.Close()
		r.active = nil
	}

	conv, err := openConversation(ctx, r.session, counterpartID, r.deps,
		func() bool { return r.gen.Load() == gen },
		r.notify,
	)
	if err != nil {
		r.notify()
		return err
	}
	r.active = conv

	r.deps.Metrics.routerSwitched()
	r.log.Info("router.select", "counterpart_id", counterpartID, "previous_id", prev, "generation", gen)
	r.notify()
	return nil
}

// Deselect closes the active conversation and returns to idle.
func (r *Router) Deselect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen.Add(1)
	if r.active == nil {
		return
	}

	id := r.active.CounterpartID()
	r.active.Close()
	r.active = nil

	r.log.Info("router.deselect", "counterpart_id", id)
	r.notify()
}

// Close is Deselect; the router can be reused afterwards.
func (r *Router) Close() { r.Deselect() }

// Active returns the selected counterpart.
func (r *Router) Active() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return 0, false
	}
	return r.active.CounterpartID(), true
}

// State returns the active supervisor state, or closed_final when idle.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return StateClosed
	}
	return r.active.State()
}

// Messages returns the active conversation's ordered log (nil when idle).
func (r *Router) Messages() []v1.Message {
	r.mu.Lock()
	conv := r.active
	r.mu.Unlock()

	if conv == nil {
		return nil
	}
	return conv.Messages()
}

// Submit sends into the active conversation.
func (r *Router) Submit(ctx context.Context, text, imageURL string) error {
	r.mu.Lock()
	conv := r.active
	r.mu.Unlock()

	if conv == nil {
		return ErrNoConversation
	}
	return conv.Submit(ctx, text, imageURL)
}

// Updates signals on selection changes and on merges into the active log.
func (r *Router) Updates() <-chan struct{} { return r.updates }

func (r *Router) notify() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
}
