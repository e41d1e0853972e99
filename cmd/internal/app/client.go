package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"supportchat/cmd/internal/chat"
	"supportchat/cmd/internal/notify"
	v1 "supportchat/shared/contracts/chat/v1"
)

const listPreview = 10

var (
	errUnknownCommand = errors.New("unknown command")
	errOperatorOnly   = errors.New("command is only available to operators")
)

type commandKind uint8

const (
	cmdNone commandKind = iota
	cmdSend
	cmdImage
	cmdList
	cmdSelect
	cmdLeave
	cmdOrders
	cmdHelp
	cmdQuit
)

type command struct {
	kind     commandKind
	id       int64
	text     string
	imageURL string
}

// parseCommand turns one input line into a command. Lines without a leading
// slash are chat messages.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSend, text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "img", "image":
		url, caption, _ := strings.Cut(rest, " ")
		if url == "" {
			return command{}, fmt.Errorf("usage: /img <url> [caption]")
		}
		return command{kind: cmdImage, imageURL: url, text: strings.TrimSpace(caption)}, nil
	case "list":
		return command{kind: cmdList}, nil
	case "select", "open":
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return command{}, fmt.Errorf("usage: /select <customer_id>")
		}
		return command{kind: cmdSelect, id: id}, nil
	case "leave":
		return command{kind: cmdLeave}, nil
	case "orders":
		return command{kind: cmdOrders}, nil
	case "help":
		return command{kind: cmdHelp}, nil
	case "quit", "exit":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("%w: /%s", errUnknownCommand, name)
	}
}

// transcript prints each message of the visible conversation once.
type transcript struct {
	mu      sync.Mutex
	out     io.Writer
	session chat.SessionContext
	conv    int64
	seen    map[int64]struct{}
}

func newTranscript(out io.Writer, session chat.SessionContext) *transcript {
	return &transcript{out: out, session: session, seen: make(map[int64]struct{})}
}

// render prints the messages of conv not printed yet. Switching conv resets
// the printed set so a reopened conversation is shown in full.
func (t *transcript) render(conv int64, msgs []v1.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conv != t.conv {
		t.conv = conv
		t.seen = make(map[int64]struct{})
	}
	for _, m := range msgs {
		if _, ok := t.seen[m.ID]; ok {
			continue
		}
		t.seen[m.ID] = struct{}{}
		fmt.Fprintln(t.out, formatMessage(m, t.session))
	}
}

func (t *transcript) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

func formatMessage(m v1.Message, self chat.SessionContext) string {
	var who string
	switch {
	case self.IsMine(m):
		who = "you"
	case m.SenderRole == v1.RoleOperator:
		who = "support"
	default:
		who = fmt.Sprintf("customer #%d", m.ConversationID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s:", m.CreatedAt.Local().Format("15:04:05"), who)
	if m.Text != "" {
		b.WriteByte(' ')
		b.WriteString(m.Text)
	}
	if m.ImageURL != "" {
		b.WriteString(" [image: ")
		b.WriteString(m.ImageURL)
		b.WriteByte(']')
	}
	return b.String()
}

func formatSummary(s v1.Summary) string {
	name := s.CustomerName
	if name == "" {
		name = "customer #" + strconv.FormatInt(s.CustomerID, 10)
	}
	line := fmt.Sprintf("  %-6d %-20s unread=%d", s.CustomerID, name, s.UnreadCount)
	if s.LastMessage != "" {
		line += "  " + s.LastMessage
	}
	return line
}

func formatOrder(o v1.PendingOrder) string {
	who := "unknown"
	if o.Customer != nil && o.Customer.Username != "" {
		who = o.Customer.Username
	}
	return fmt.Sprintf("  order #%d (%s) from %s", o.ID, o.Status, who)
}

// RunClient runs the interactive terminal client until ctx is done, input
// ends, or the user quits.
func RunClient(ctx context.Context, cfg Config, log Logger, in io.Reader, out io.Writer) error {
	session, err := cfg.Session()
	if err != nil {
		return err
	}

	reg := newRegistry()
	stopMetrics := serveMetrics(cfg.MetricsAddr, reg, log)
	defer stopMetrics()

	deps := chat.Deps{
		BaseURL:        cfg.BaseURL,
		Dialer:         newDialer(cfg, session),
		ReconnectDelay: cfg.ReconnectDelay,
		Log:            log,
		Metrics:        chat.NewMetrics(reg),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr := newTranscript(out, session)
	lines := readLines(ctx, in)

	if session.IsOperator() {
		return runOperator(ctx, cfg, session, deps, notify.NewMetrics(reg), tr, lines, log)
	}
	return runCustomer(ctx, cfg, session, deps, tr, lines)
}

func runCustomer(ctx context.Context, cfg Config, session chat.SessionContext, deps chat.Deps, tr *transcript, lines <-chan string) error {
	conv, err := chat.OpenConversation(ctx, session, 0, deps)
	if err != nil {
		return err
	}
	defer conv.Close()

	tr.printf("connected as customer #%d, type a message or /help", session.ParticipantID)
	go watch(ctx, conv.Updates(), func() { tr.render(conv.ConversationID(), conv.Messages()) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				tr.printf("%v", err)
				continue
			}
			switch cmd.kind {
			case cmdNone:
			case cmdQuit:
				return nil
			case cmdHelp:
				tr.printf("commands: /img <url> [caption], /quit")
			case cmdSend, cmdImage:
				submit(ctx, cfg, tr, conv.Submit, cmd)
			default:
				tr.printf("%v", errOperatorOnly)
			}
		}
	}
}

func runOperator(
	ctx context.Context,
	cfg Config,
	session chat.SessionContext,
	deps chat.Deps,
	metrics *notify.Metrics,
	tr *transcript,
	lines <-chan string,
	log Logger,
) error {
	router, err := chat.NewRouter(session, deps)
	if err != nil {
		return err
	}
	defer router.Close()

	src := notify.HTTPSource{BaseURL: cfg.BaseURL, Token: cfg.AdminToken}

	summaries, err := notify.NewSummaryPoller(src, cfg.SummaryInterval, log, metrics)
	if err != nil {
		return err
	}
	orders, err := notify.NewPendingOrderPoller(src, cfg.OrdersInterval, log, metrics)
	if err != nil {
		return err
	}
	summaries.Start(ctx)
	defer summaries.Stop()
	orders.Start(ctx)
	defer orders.Stop()

	tr.printf("connected as support, /list to see conversations, /help for commands")

	go watch(ctx, router.Updates(), func() {
		if id, ok := router.Active(); ok {
			tr.render(id, router.Messages())
		}
	})
	go watchBadge(ctx, summaries.Updates(), summaries.Badge, func(n int) {
		tr.printf("* %d conversation(s) with unread messages", n)
	})
	go watchBadge(ctx, orders.Updates(), orders.Badge, func(n int) {
		tr.printf("* %d pending order(s)", n)
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				tr.printf("%v", err)
				continue
			}
			switch cmd.kind {
			case cmdNone:
			case cmdQuit:
				return nil
			case cmdHelp:
				tr.printf("commands: /list, /select <customer_id>, /leave, /orders, /img <url> [caption], /quit")
			case cmdList:
				rows := notify.Picklist(summaries.Snapshot(), listPreview)
				if len(rows) == 0 {
					tr.printf("no conversations yet")
				}
				for _, s := range rows {
					tr.printf("%s", formatSummary(s))
				}
			case cmdOrders:
				preview := orders.Preview()
				tr.printf("%d pending order(s)", orders.Badge())
				for _, o := range preview {
					tr.printf("%s", formatOrder(o))
				}
			case cmdSelect:
				if err := router.Select(ctx, cmd.id); err != nil {
					tr.printf("select failed: %v", err)
					continue
				}
				tr.printf("-- conversation with customer #%d --", cmd.id)
				tr.render(cmd.id, router.Messages())
			case cmdLeave:
				router.Deselect()
				tr.printf("-- no conversation selected --")
			case cmdSend, cmdImage:
				submit(ctx, cfg, tr, router.Submit, cmd)
			}
		}
	}
}

func submit(ctx context.Context, cfg Config, tr *transcript, fn func(context.Context, string, string) error, cmd command) {
	sctx, cancel := context.WithTimeout(ctx, nonZeroDuration(cfg.SendTimeout, 5*time.Second))
	defer cancel()

	switch err := fn(sctx, cmd.text, cmd.imageURL); {
	case errors.Is(err, chat.ErrNoConversation):
		tr.printf("select a conversation first (/list, /select <customer_id>)")
	case err != nil:
		tr.printf("not sent: %v", err)
	}
}

// watch calls fn on every coalesced update until ctx is done or the channel closes.
func watch(ctx context.Context, updates <-chan struct{}, fn func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			fn()
		}
	}
}

// watchBadge reports badge changes only.
func watchBadge(ctx context.Context, updates <-chan struct{}, badge func() int, report func(int)) {
	last := 0
	watch(ctx, updates, func() {
		if n := badge(); n != last {
			last = n
			report(n)
		}
	})
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case out <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func newDialer(cfg Config, session chat.SessionContext) chat.WSDialer {
	d := chat.WSDialer{}
	if session.IsOperator() && cfg.AdminToken != "" {
		d.Header = http.Header{"Authorization": []string{"Bearer " + cfg.AdminToken}}
	}
	return d
}

// serveMetrics exposes reg on addr when addr is set. The returned func stops the listener.
func serveMetrics(addr string, reg *prometheus.Registry, log Logger) func() {
	if strings.TrimSpace(addr) == "" {
		return func() {}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics.serve.fail", "addr", addr, "err", err)
		}
	}()
	log.Info("metrics.start", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
