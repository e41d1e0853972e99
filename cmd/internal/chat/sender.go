package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	v1 "supportchat/shared/contracts/chat/v1"
)

// ErrEmptyMessage is returned when there is neither text nor an image to send.
// The caller should keep its input when it sees this error.
var ErrEmptyMessage = errors.New("chat: empty message")

type outbound interface {
	Send(ctx context.Context, msg v1.OutboundMessage) bool
}

// Sender is the send pipeline for one conversation.
type Sender struct {
	session        SessionContext
	conversationID int64
	out            outbound
	log            *slog.Logger
	metrics        *Metrics
}

// NewSender binds a session and conversation to a supervisor.
func NewSender(session SessionContext, conversationID int64, out outbound, log *slog.Logger, metrics *Metrics) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		session:        session,
		conversationID: conversationID,
		out:            out,
		log:            log,
		metrics:        metrics,
	}
}

// Submit validates and transmits a message.
//
// It returns ErrEmptyMessage when text is blank and imageURL is empty. If the
// connection is not open the message is dropped silently and Submit returns nil:
// there is no queue, no retry and no local echo. The server's echo is the only
// way a sent message reaches the log.
func (s *Sender) Submit(ctx context.Context, text, imageURL string) error {
	text = strings.TrimSpace(text)
	imageURL = strings.TrimSpace(imageURL)
	if text == "" && imageURL == "" {
		return ErrEmptyMessage
	}

	msg := v1.OutboundMessage{
		Text:           text,
		ImageURL:       imageURL,
		SenderRole:     s.session.Role,
		ConversationID: s.conversationID,
	}
	if err := msg.Validate(); err != nil {
		s.metrics.send("failed")
		return fmt.Errorf("chat: invalid message: %w", err)
	}

	if !s.out.Send(ctx, msg) {
		s.metrics.send("dropped")
		s.log.Info("send.dropped", "conversation_id", s.conversationID, "reason", "not_open")
		return nil
	}

	s.metrics.send("sent")
	return nil
}
