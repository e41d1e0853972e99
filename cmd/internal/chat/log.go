package chat

import (
	"cmp"
	"slices"

	v1 "supportchat/shared/contracts/chat/v1"
)

// Merge returns the union of current and incoming, keyed by message id and
// ordered by CreatedAt (id breaks ties). Incoming messages addressed to another
// conversation are dropped. Merge never mutates its inputs.
//
// Applying the same messages again, in any order or grouping, yields the same result.
func Merge(current []v1.Message, conversationID int64, incoming ...v1.Message) []v1.Message {
	byID := make(map[int64]v1.Message, len(current)+len(incoming))
	for _, m := range current {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		if m.ConversationID != conversationID {
			continue
		}
		byID[m.ID] = m
	}

	out := make([]v1.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b v1.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Log is the ordered view of one conversation. It is only changed through Apply.
// Log is not safe for concurrent use; its owner serializes access.
type Log struct {
	conversationID int64
	messages       []v1.Message
}

// NewLog returns an empty log for conversationID.
func NewLog(conversationID int64) *Log {
	return &Log{conversationID: conversationID}
}

// ConversationID returns the conversation this log owns.
func (l *Log) ConversationID() int64 { return l.conversationID }

// Apply merges a decoded frame and reports whether the view changed.
func (l *Log) Apply(f v1.Frame) bool {
	if f.Kind == v1.FrameKindIgnored || len(f.Messages) == 0 {
		return false
	}

	next := Merge(l.messages, l.conversationID, f.Messages...)
	if slices.Equal(next, l.messages) {
		return false
	}
	l.messages = next
	return true
}

// Messages returns a copy of the ordered view.
func (l *Log) Messages() []v1.Message {
	return slices.Clone(l.messages)
}

// Len returns the number of distinct messages.
func (l *Log) Len() int { return len(l.messages) }
