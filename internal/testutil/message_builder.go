package testutil

import (
	"time"

	"github.com/agentrelay/agentrelay/core"
)

// MessageBuilder provides a fluent helper for constructing messages in
// tests. Example:
//
//	msg := NewMessageBuilder("conv-1", 3).AssistantText("hello").Turn("turn-1").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	conversationID string
	seq            int64
	role           core.Role
	parts          []core.Part
	meta           core.MessageMetadata
	createdAt      time.Time
}

// NewMessageBuilder creates a builder for a message at the given sequence,
// defaulting to a user role and the current time.
func NewMessageBuilder(conversationID string, seq int64) *MessageBuilder {
	return &MessageBuilder{conversationID: conversationID, seq: seq, role: core.RoleUser, createdAt: time.Now().UTC()}
}

// UserText appends a user role text part (chainable).
func (b *MessageBuilder) UserText(t string) *MessageBuilder {
	b.role = core.RoleUser
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// AssistantText appends an assistant role text part (chainable).
func (b *MessageBuilder) AssistantText(t string) *MessageBuilder {
	b.role = core.RoleAssistant
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// ToolText appends a tool role text part (chainable).
func (b *MessageBuilder) ToolText(t string) *MessageBuilder {
	b.role = core.RoleTool
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// Data appends a structured data part (chainable).
func (b *MessageBuilder) Data(data map[string]any) *MessageBuilder {
	b.parts = append(b.parts, core.DataPart{Data: data})
	return b
}

// Turn tags the message with a turn id (chainable).
func (b *MessageBuilder) Turn(turnID string) *MessageBuilder {
	b.meta.TurnID = turnID
	return b
}

// Backend tags the message with an agent backend name (chainable).
func (b *MessageBuilder) Backend(name string) *MessageBuilder {
	b.meta.AgentBackend = name
	return b
}

// ToolCall appends a tool call audit to the metadata (chainable).
func (b *MessageBuilder) ToolCall(callID, toolName string, status core.ToolCallStatus) *MessageBuilder {
	b.meta.ToolCalls = append(b.meta.ToolCalls, core.ToolCallAudit{CallID: callID, ToolName: toolName, Status: status})
	return b
}

// At fixes the creation timestamp (chainable).
func (b *MessageBuilder) At(t time.Time) *MessageBuilder {
	b.createdAt = t
	return b
}

// Build constructs the *core.Message. A message without parts gets a single
// placeholder text part so it passes validation.
func (b *MessageBuilder) Build() *core.Message {
	parts := b.parts
	if len(parts) == 0 {
		parts = []core.Part{core.TextPart{Text: "test message"}}
	}
	return core.NewMessage(b.conversationID, b.role, parts, b.meta, b.seq, b.createdAt)
}
