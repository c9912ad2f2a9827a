package core

import "context"

// Repository ports consumed by the engine. Implementations live in sibling
// packages (store/inmemory, store/sqlite) so higher layers never depend on
// concrete storage. All lookups return (nil, nil) for an absent entity,
// letting callers distinguish "absent" from "failed".

// ConversationRepository persists conversations. Ensure implements the
// created-on-first-message rule: it creates the conversation if absent and
// returns it either way.
type ConversationRepository interface {
	Ensure(ctx context.Context, conversationID string) (*Conversation, error)
	FindByID(ctx context.Context, conversationID string) (*Conversation, error)
}

// MessageRepository persists the append-only message log. Append must reject
// an existing message id with ErrDuplicateMessageID and an existing
// (conversation, sequence) pair with ErrDuplicateSequence, in that order of
// precedence, so callers can tell identity collision from ordering
// collision. FindByConversation returns messages in ascending sequence
// order; the log never reorders or mutates.
type MessageRepository interface {
	Append(ctx context.Context, msg *Message) error
	FindByConversation(ctx context.Context, conversationID string) ([]*Message, error)
}

// SessionRepository persists agent sessions. FindActiveForConversation
// returns the at-most-one session currently in the Active state.
type SessionRepository interface {
	Save(ctx context.Context, session *AgentSession) error
	FindByID(ctx context.Context, sessionID string) (*AgentSession, error)
	FindActiveForConversation(ctx context.Context, conversationID string) (*AgentSession, error)
	FindByConversation(ctx context.Context, conversationID string) ([]*AgentSession, error)
}

// HandoffRepository persists handoffs. FindByConversation returns handoffs
// ordered by initiation time.
type HandoffRepository interface {
	Save(ctx context.Context, handoff *Handoff) error
	FindByID(ctx context.Context, handoffID string) (*Handoff, error)
	FindByConversation(ctx context.Context, conversationID string) ([]*Handoff, error)
}

// SnapshotRepository persists context snapshots. Snapshots are immutable:
// Save is insert-only and implementations may reject an existing id.
type SnapshotRepository interface {
	Save(ctx context.Context, snapshot *ContextSnapshot) error
	FindByID(ctx context.Context, snapshotID string) (*ContextSnapshot, error)
	FindBySession(ctx context.Context, sessionID string) ([]*ContextSnapshot, error)
	FindByConversation(ctx context.Context, conversationID string) ([]*ContextSnapshot, error)
}
