package messagelog

import (
	"context"
	"fmt"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
)

// Log is the message log service. Appends go through validation first so a
// rejected message leaves no trace; the backing repository enforces the
// uniqueness of message ids and (conversation, sequence) pairs.
type Log struct {
	conversations core.ConversationRepository
	messages      core.MessageRepository
	clock         core.Clock
	logger        logging.Logger
}

// New creates a message log over the given repositories. A nil clock falls
// back to the system clock, a nil logger to a no-op logger.
func New(conversations core.ConversationRepository, messages core.MessageRepository, clock core.Clock, logger logging.Logger) *Log {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Log{conversations: conversations, messages: messages, clock: clock, logger: logger}
}

// Append validates and stores a new message at the caller-supplied sequence
// number, creating the conversation on first use. It fails with
// ErrMissingCallID / ErrInvalidMetadata before any write, and with
// ErrDuplicateMessageID or ErrDuplicateSequence from the repository on
// collision.
func (l *Log) Append(ctx context.Context, conversationID string, role core.Role, parts []core.Part, meta core.MessageMetadata, seq int64) (*core.Message, error) {
	msg := core.NewMessage(conversationID, role, parts, meta, seq, l.clock.Now())
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if _, err := l.conversations.Ensure(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("ensure conversation %s: %w", conversationID, err)
	}
	if err := l.messages.Append(ctx, msg); err != nil {
		return nil, err
	}
	l.logger.Debug("message appended", "conversation_id", conversationID, "sequence", seq, "role", string(role))
	return msg, nil
}

// List returns the conversation's messages in ascending sequence order. The
// result is finite and restartable: every call re-reads the full log.
func (l *Log) List(ctx context.Context, conversationID string) ([]*core.Message, error) {
	return l.messages.FindByConversation(ctx, conversationID)
}

// Range returns messages with start <= sequence <= end in ascending order.
func (l *Log) Range(ctx context.Context, conversationID string, start, end int64) ([]*core.Message, error) {
	if start < 1 || end < start {
		return nil, fmt.Errorf("invalid sequence range [%d, %d]", start, end)
	}
	msgs, err := l.messages.FindByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]*core.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SequenceNumber >= start && m.SequenceNumber <= end {
			out = append(out, m)
		}
	}
	return out, nil
}

// LatestSequence returns the highest sequence number in the conversation,
// or 0 when the log is empty.
func (l *Log) LatestSequence(ctx context.Context, conversationID string) (int64, error) {
	msgs, err := l.messages.FindByConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	return msgs[len(msgs)-1].SequenceNumber, nil
}

// ResolveTurn returns the log position of a turn: the highest sequence
// number among messages whose metadata carries the given turn id. The
// boolean reports whether the turn appears in the log at all.
func (l *Log) ResolveTurn(ctx context.Context, conversationID, turnID string) (int64, bool, error) {
	if turnID == "" {
		return 0, false, nil
	}
	msgs, err := l.messages.FindByConversation(ctx, conversationID)
	if err != nil {
		return 0, false, err
	}
	var seq int64
	found := false
	for _, m := range msgs {
		if m.Metadata.TurnID == turnID {
			seq = m.SequenceNumber
			found = true
		}
	}
	return seq, found, nil
}
