package core

import "time"

// ConversationState enumerates the lifecycle of a conversation. A
// conversation is never deleted while messages or sessions reference it.
type ConversationState string

const (
	// ConversationActive accepts new messages and sessions.
	ConversationActive ConversationState = "active"
	// ConversationArchived is read-only historical state.
	ConversationArchived ConversationState = "archived"
)

// Conversation is the unit of dialogue owning an ordered message history and
// the agent sessions working on it. It is created implicitly on the first
// message append.
type Conversation struct {
	ID        string            `json:"id"`
	State     ConversationState `json:"state"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewConversation creates an active conversation with the given id.
func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{ID: id, State: ConversationActive, CreatedAt: now}
}

// Clone returns a copy safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	return &clone
}
