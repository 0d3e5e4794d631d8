// Package transport holds the platform-neutral update and send types
// shared by the adapter, the router and plugins.
package transport

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	// UpdateMember carries a join or leave in Message with empty Text.
	UpdateMember UpdateKind = "member"
)

// Update has exactly one of Message or Callback set.
type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// ChatTarget addresses a chat, or a forum topic when ThreadID is set.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type Message struct {
	ID       int
	ChatID   int64
	ThreadID int
	IsGroup  bool
	Text     string

	FromID       int64
	FromUsername string
	FromName     string

	Joined, Left bool
}

func (m *Message) Target() ChatTarget { return ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID} }

// Author is "@username", else the display name, else "user".
func (m *Message) Author() string {
	if m == nil {
		return ""
	}
	if m.FromUsername != "" {
		return "@" + m.FromUsername
	}
	if m.FromName != "" {
		return m.FromName
	}
	return "user"
}

type Callback struct {
	ID        string
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string

	FromID       int64
	FromUsername string
}

func (c *Callback) Target() ChatTarget { return ChatTarget{ChatID: c.ChatID, ThreadID: c.ThreadID} }

// MessageRef identifies a sent message for later edits.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

func (r MessageRef) Target() ChatTarget { return ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID} }
