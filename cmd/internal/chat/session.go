// Package chat is the client side of the support-chat delivery layer: one supervised
// duplex connection per conversation, an ordered deduplicated message log, the send
// pipeline, and the operator's conversation router.
package chat

import (
	"errors"
	"fmt"

	v1 "supportchat/shared/contracts/chat/v1"
)

// ErrInvalidSession is returned when a SessionContext is incomplete.
var ErrInvalidSession = errors.New("chat: invalid session")

// SessionContext is the local participant identity.
// It is built once at session start and passed by value; nothing in this package mutates it.
type SessionContext struct {
	ParticipantID int64
	Role          v1.Role
}

// NewSessionContext validates and returns a session.
func NewSessionContext(participantID int64, role v1.Role) (SessionContext, error) {
	s := SessionContext{ParticipantID: participantID, Role: role}
	if err := s.Validate(); err != nil {
		return SessionContext{}, err
	}
	return s, nil
}

// Validate checks the role and, for customers, the participant id.
// Operators address counterparts explicitly, so their participant id is informational.
func (s SessionContext) Validate() error {
	if !s.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidSession, s.Role)
	}
	if s.Role == v1.RoleCustomer && s.ParticipantID <= 0 {
		return fmt.Errorf("%w: missing participant id", ErrInvalidSession)
	}
	return nil
}

// IsOperator reports whether the local participant is staff.
func (s SessionContext) IsOperator() bool { return s.Role == v1.RoleOperator }

// IsMine reports whether m was sent by the local side.
func (s SessionContext) IsMine(m v1.Message) bool { return m.SenderRole == s.Role }

// ConversationFor returns the conversation id used when talking to counterpartID.
// A customer always talks in its own conversation.
func (s SessionContext) ConversationFor(counterpartID int64) int64 {
	if s.Role == v1.RoleCustomer {
		return s.ParticipantID
	}
	return counterpartID
}
