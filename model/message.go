package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the conversation produced a Message.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Message is one chat turn. Timestamp is monotonic within a session's
// chain at sub-millisecond precision; ParentMessageID, if set, must
// reference an existing message in the same session. Messages are
// immutable once persisted, except that chain repair may rewrite
// ParentMessageID.
type Message struct {
	ID              string
	SessionID       string
	Role            Role
	Content         string
	Timestamp       time.Time
	ParentMessageID string // empty means root
}

// NewMessage builds a Message with a fresh ID and the current timestamp.
// parentMessageID may be empty for the first message of a session.
func NewMessage(sessionID string, role Role, content string, parentMessageID string) *Message {
	return &Message{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		Role:            role,
		Content:         content,
		Timestamp:       time.Now(),
		ParentMessageID: parentMessageID,
	}
}

// HasParent reports whether this message is not a session root.
func (m *Message) HasParent() bool {
	return m.ParentMessageID != ""
}

// NewMessageAfter builds a Message chained to parent, bumping the
// timestamp forward if the wall clock hasn't advanced since the parent
// was created so the chain chronology invariant always holds.
func NewMessageAfter(sessionID string, role Role, content string, parent *Message) *Message {
	if parent == nil {
		return NewMessage(sessionID, role, content, "")
	}
	msg := NewMessage(sessionID, role, content, parent.ID)
	if !msg.Timestamp.After(parent.Timestamp) {
		msg.Timestamp = parent.Timestamp.Add(time.Nanosecond)
	}
	return msg
}
