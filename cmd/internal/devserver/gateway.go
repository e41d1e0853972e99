package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"supportchat/cmd/internal/ids"
	v1 "supportchat/shared/contracts/chat/v1"
)

const (
	defaultSendQueue    = 256
	defaultWriteTimeout = 5 * time.Second
	closeGrace          = 1 * time.Second
	maxPingFailures     = 3
)

// Config tunes the dev server. Zero values fall back to defaults.
type Config struct {
	// AllowedOrigins lists browser origins allowed to connect (e.g. http://localhost:5173).
	// Requests without an Origin header (non-browser clients) are always accepted.
	AllowedOrigins     []string
	InsecureSkipVerify bool

	// AdminToken, when set, is required as a bearer token on the admin REST routes.
	AdminToken string

	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendQueue         int
	RecentLimit       int

	RateEvents int
	RateWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = defaultRecentLimit
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// Server is the websocket and REST entrypoint of the dev backend.
type Server struct {
	cfg     Config
	log     *slog.Logger
	store   MessageStore
	orders  OrderStore
	hub     *hub
	metrics *Metrics

	originPatterns []string
}

// NewServer constructs a server. A nil store falls back to an in-memory store;
// a nil orders source uses store when it implements OrderStore.
func NewServer(cfg Config, store MessageStore, orders OrderStore, log *slog.Logger, metrics *Metrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	if orders == nil {
		if src, ok := store.(OrderStore); ok {
			orders = src
		}
	}

	cfg = cfg.withDefaults()
	return &Server{
		cfg:            cfg,
		log:            log,
		store:          store,
		orders:         orders,
		hub:            newHub(log, metrics),
		metrics:        metrics,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// unreadSummaryFrame is pushed to operators after the recent batch.
type unreadSummaryFrame struct {
	Type    string         `json:"type"`
	Summary []unreadCounts `json:"unread_summary"`
}

type unreadCounts struct {
	CustomerID  int64 `json:"customer_id"`
	UnreadCount int   `json:"unread_count"`
}

// HandleWS upgrades /api/ws?role=customer|admin&customer_id=N and runs the session.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	role, customerID, err := parseSessionQuery(r)
	if err != nil {
		s.metrics.reject("bad_query")
		s.log.Info("ws.reject.query", "err", err, "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.originPatterns,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	})
	if err != nil {
		s.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	sessionID := ids.MustULID(time.Now().UTC())
	c := newClient(sessionID, role, customerID, s.cfg.SendQueue)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			s.hub.leave(c)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	s.hub.join(c)

	if err := s.sendInitial(ctx, c); err != nil {
		s.log.Error("ws.initial.fail", "session_id", sessionID, "err", err)
		shutdown(websocket.StatusInternalError, "history unavailable")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed():
				return
			case b := <-c.send:
				if err := writeFrame(ctx, conn, b, s.cfg.WriteTimeout); err != nil {
					s.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		s.heartbeat(ctx, conn, c, shutdown)
	}()

	rl := newRateLimiter(s.cfg.RateEvents, s.cfg.RateWindow)

	// Liveness is enforced by the heartbeat; an idle but healthy session stays open.
	for {
		data, err := readFrame(ctx, conn)
		if err != nil {
			if kind := classifyReadErr(err); kind == readErrUnknown {
				s.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			} else {
				shutdown(websocket.StatusNormalClosure, kind.String())
			}
			break
		}

		now := time.Now().UTC()
		if !rl.allow(now) {
			s.metrics.reject("rate_limited")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break
		}

		if err := s.onMessage(ctx, c, data, now); err != nil {
			s.log.Info("ws.message.reject", "session_id", sessionID, "err", err)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// sendInitial queues the history batch: the customer's own conversation, or the
// most recent messages across conversations plus unread counts for operators.
func (s *Server) sendInitial(ctx context.Context, c *client) error {
	var (
		batch v1.BatchFrame
		err   error
	)
	if c.role == v1.RoleCustomer {
		batch.Type = v1.FrameHistory
		batch.Messages, err = s.store.MessagesByCustomer(ctx, c.customerID)
	} else {
		batch.Type = v1.FrameRecent
		batch.Messages, err = s.store.RecentMessages(ctx, s.cfg.RecentLimit)
	}
	if err != nil {
		return err
	}
	if batch.Messages == nil {
		batch.Messages = []v1.Message{}
	}

	b, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	if !c.offer(b) {
		return errors.New("backpressure: history")
	}

	if c.role != v1.RoleOperator {
		return nil
	}

	summaries, err := s.store.Summaries(ctx)
	if err != nil {
		s.log.Info("ws.unread_summary.fail", "session_id", c.sessionID, "err", err)
		return nil
	}
	frame := unreadSummaryFrame{Type: v1.FrameUnreadSummary, Summary: []unreadCounts{}}
	for _, sum := range summaries {
		if sum.UnreadCount > 0 {
			frame.Summary = append(frame.Summary, unreadCounts{CustomerID: sum.CustomerID, UnreadCount: sum.UnreadCount})
		}
	}
	if b, err := json.Marshal(frame); err == nil {
		_ = c.offer(b)
	}
	return nil
}

// onMessage stores one inbound message and fans the stored copy out.
// The sender role and, for customers, the conversation come from the session.
func (s *Server) onMessage(ctx context.Context, c *client, data []byte, now time.Time) error {
	var in v1.OutboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		s.metrics.reject("bad_json")
		return err
	}

	in.SenderRole = c.role
	if c.role == v1.RoleCustomer {
		in.ConversationID = c.customerID
	}
	in.Text = strings.TrimSpace(in.Text)
	in.ImageURL = strings.TrimSpace(in.ImageURL)

	if err := in.Validate(); err != nil {
		s.metrics.reject("invalid")
		return err
	}
	if len([]rune(in.Text)) > maxMessageChars {
		s.metrics.reject("too_long")
		return errors.New("message too long")
	}

	stored, err := s.store.SaveMessage(ctx, SaveMessageInput{
		ConversationID: in.ConversationID,
		SenderRole:     in.SenderRole,
		Text:           in.Text,
		ImageURL:       in.ImageURL,
		Now:            now,
	})
	if err != nil {
		s.metrics.reject("store")
		return err
	}
	s.metrics.stored(stored.SenderRole)

	if c.role == v1.RoleOperator {
		if err := s.store.MarkAsRead(ctx, stored.ConversationID); err != nil {
			s.log.Info("store.mark_read.fail", "customer_id", stored.ConversationID, "err", err)
		}
	}

	b, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	s.hub.deliver(stored.ConversationID, b)

	s.log.Debug("ws.message", "session_id", c.sessionID, "id", stored.ID, "customer_id", stored.ConversationID)
	return nil
}

func (s *Server) heartbeat(ctx context.Context, conn *websocket.Conn, c *client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				s.log.Info("ws.ping.fail", "session_id", c.sessionID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func parseSessionQuery(r *http.Request) (v1.Role, int64, error) {
	q := r.URL.Query()

	role := v1.Role(strings.TrimSpace(q.Get("role")))
	if !role.Valid() {
		return "", 0, errors.New("invalid role")
	}

	raw := strings.TrimSpace(q.Get("customer_id"))
	if raw == "" {
		if role == v1.RoleCustomer {
			return "", 0, errors.New("missing customer_id")
		}
		return role, 0, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, errors.New("invalid customer_id")
	}
	return role, id, nil
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, errors.New("unsupported message type")
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, b []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func (k readErrKind) String() string {
	switch k {
	case readErrClose:
		return "peer closed"
	case readErrCtxDone:
		return "context done"
	case readErrConnClosed:
		return "conn closed"
	default:
		return "read failed"
	}
}

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
