package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"supportchat/cmd/internal/ids"
	v1 "supportchat/shared/contracts/chat/v1"
)

const (
	defaultReconnectDelay = 2 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultFrameBuffer    = 64
)

// State is the connection supervisor lifecycle state.
type State int32

const (
	// StateConnecting: a dial is in flight.
	StateConnecting State = iota
	// StateOpen: the handshake completed; Send transmits.
	StateOpen
	// StateRetrying: the transport closed or failed; waiting for the reconnect delay.
	StateRetrying
	// StateClosed: the owner called Close. Terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateRetrying:
		return "closed_pending_retry"
	case StateClosed:
		return "closed_final"
	default:
		return "unknown"
	}
}

// SupervisorConfig configures one supervised connection.
type SupervisorConfig struct {
	// URL is the full websocket endpoint (see v1.Endpoint).
	URL string
	// ReconnectDelay is the fixed wait between a close and the next dial.
	ReconnectDelay time.Duration
	// WriteTimeout bounds a single outbound write.
	WriteTimeout time.Duration
	// FrameBuffer is the capacity of the Frames channel.
	FrameBuffer int
}

// Supervisor owns one duplex connection and keeps it alive.
//
// Lifecycle:
//   - connecting -> open on a successful dial
//   - open -> closed_pending_retry on remote close or transport error
//   - closed_pending_retry -> connecting after ReconnectDelay, indefinitely
//   - any -> closed_final on Close
//
// Decoded frames are delivered on Frames in arrival order. Frames is closed once the
// supervisor is closed, and no frame is delivered after Close returns.
type Supervisor struct {
	cfg     SupervisorConfig
	dialer  Dialer
	log     *slog.Logger
	metrics *Metrics

	// wait sleeps for the reconnect delay and reports false if ctx ended first.
	wait func(ctx context.Context, d time.Duration) bool

	frames chan v1.Frame
	done   chan struct{}

	mu      sync.Mutex
	state   State
	conn    Transport
	started bool
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// NewSupervisor constructs a supervisor. Nothing is dialed until Start.
func NewSupervisor(cfg SupervisorConfig, dialer Dialer, log *slog.Logger, metrics *Metrics) *Supervisor {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = defaultFrameBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	if dialer == nil {
		dialer = WSDialer{}
	}

	return &Supervisor{
		cfg:     cfg,
		dialer:  dialer,
		log:     log,
		metrics: metrics,
		wait:    sleepCtx,
		frames:  make(chan v1.Frame, cfg.FrameBuffer),
		done:    make(chan struct{}),
		state:   StateConnecting,
	}
}

// Start begins connecting in the background. Dial failures never surface here;
// they move the supervisor into the retry loop. Start after Close is a no-op.
func (s *Supervisor) Start(parent context.Context) {
	s.mu.Lock()
	if s.started || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.started = true
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Frames returns the inbound frame channel.
func (s *Supervisor) Frames() <-chan v1.Frame { return s.frames }

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send transmits msg if the connection is open and reports whether it was written.
// When the connection is not open the message is dropped: nothing is queued.
func (s *Supervisor) Send(ctx context.Context, msg v1.OutboundMessage) bool {
	s.mu.Lock()
	conn, st := s.conn, s.state
	s.mu.Unlock()

	if st != StateOpen || conn == nil {
		return false
	}

	b, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("supervisor.send.encode.fail", "url", s.cfg.URL, "err", err)
		return false
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	if err := conn.Write(wctx, b); err != nil {
		s.log.Info("supervisor.send.fail", "url", s.cfg.URL, "err", err)
		// A broken write means the read side will fail too; closing speeds that up.
		_ = conn.Close()
		return false
	}
	return true
}

// Close moves the supervisor to closed_final, cancels any pending reconnect,
// releases the transport and waits for the background loop to exit. Idempotent.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		conn := s.conn
		s.conn = nil
		started, cancel := s.started, s.cancel
		s.mu.Unlock()

		s.metrics.stateChanged(StateClosed)
		s.log.Debug("supervisor.state", "url", s.cfg.URL, "state", StateClosed.String())

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}

		if started {
			<-s.done
			return
		}
		close(s.frames)
	})
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.frames)

	for {
		if !s.setState(StateConnecting) {
			return
		}

		attempt := ids.MustULID(time.Now().UTC())
		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		if err != nil {
			s.log.Info("supervisor.dial.fail", "url", s.cfg.URL, "attempt_id", attempt, "err", err)
		} else if s.attach(conn) {
			s.log.Info("supervisor.open", "url", s.cfg.URL, "attempt_id", attempt)
			err = s.readLoop(ctx, conn)
			s.detach(conn)
			s.log.Info("supervisor.conn.closed", "url", s.cfg.URL, "attempt_id", attempt, "err", err)
		}

		if ctx.Err() != nil {
			return
		}
		if !s.setState(StateRetrying) {
			return
		}
		if !s.wait(ctx, s.cfg.ReconnectDelay) {
			return
		}
		s.metrics.reconnected()
	}
}

// attach publishes conn as the live transport unless Close won the race.
func (s *Supervisor) attach(conn Transport) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return false
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.metrics.stateChanged(StateOpen)
	return true
}

func (s *Supervisor) detach(conn Transport) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// setState records a transition; it refuses to leave closed_final.
func (s *Supervisor) setState(next State) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	if prev != next {
		s.metrics.stateChanged(next)
		s.log.Debug("supervisor.state", "url", s.cfg.URL, "from", prev.String(), "to", next.String())
	}
	return true
}

func (s *Supervisor) readLoop(ctx context.Context, conn Transport) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		f, err := v1.DecodeFrame(data)
		if err != nil {
			s.metrics.frameDiscarded()
			s.log.Debug("supervisor.frame.discard", "url", s.cfg.URL, "err", err)
			continue
		}

		switch f.Kind {
		case v1.FrameKindIgnored:
			s.metrics.frameReceived("ignored")
			continue
		case v1.FrameKindBatch:
			s.metrics.frameReceived("batch")
		default:
			s.metrics.frameReceived("single")
		}

		select {
		case s.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
