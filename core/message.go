package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies the conversational author category of a message.
type Role string

const (
	// RoleUser marks end-user authored messages.
	RoleUser Role = "user"
	// RoleAssistant marks agent-backend authored messages.
	RoleAssistant Role = "assistant"
	// RoleTool marks tool output messages.
	RoleTool Role = "tool"
)

// Valid reports whether the role is one of the known conversation roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCallStatus is the recorded outcome of a tool invocation referenced by
// a message. The engine records references only; it never executes tools.
type ToolCallStatus string

const (
	// ToolCallPending means the call was issued but has no recorded outcome.
	ToolCallPending ToolCallStatus = "pending"
	// ToolCallSucceeded means the call completed successfully.
	ToolCallSucceeded ToolCallStatus = "succeeded"
	// ToolCallFailed means the call completed with an error.
	ToolCallFailed ToolCallStatus = "failed"
)

// ToolCallAudit is an embedded audit record for one tool invocation. CallID
// is mandatory and unique within its message; metadata carrying an audit
// without a call_id is rejected before any write.
type ToolCallAudit struct {
	CallID   string         `json:"call_id"`
	ToolName string         `json:"tool_name"`
	Status   ToolCallStatus `json:"status"`
}

// AgentResponseStatus is the recorded completion state of an agent response.
type AgentResponseStatus string

const (
	// AgentResponseCompleted marks a fully produced response.
	AgentResponseCompleted AgentResponseStatus = "completed"
	// AgentResponseIncomplete marks a response cut short (stream abort,
	// token limit).
	AgentResponseIncomplete AgentResponseStatus = "incomplete"
	// AgentResponseFailed marks a response the backend could not produce.
	AgentResponseFailed AgentResponseStatus = "failed"
)

// AgentResponseAudit is an embedded audit record for the backend response
// that produced a message.
type AgentResponseAudit struct {
	Status     AgentResponseStatus `json:"status"`
	ResponseID *string             `json:"response_id,omitempty"`
	Model      *string             `json:"model,omitempty"`
}

// MessageMetadata carries audit and attribution data embedded in a message.
// TurnID links the message to the session turn that produced it, which is
// what lets the handoff coordinator resolve a turn id to a log position.
type MessageMetadata struct {
	ToolCalls     []ToolCallAudit     `json:"tool_calls,omitempty"`
	AgentResponse *AgentResponseAudit `json:"agent_response,omitempty"`
	AgentBackend  string              `json:"agent_backend,omitempty"`
	TurnID        string              `json:"turn_id,omitempty"`
}

// Message is one immutable entry in a conversation's append-only log. Its
// SequenceNumber is the per-conversation monotonic position supplied by the
// caller; (ConversationID, SequenceNumber) is unique and ID is globally
// unique. Messages are never updated or deleted; corrections are new
// messages.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	Parts          []Part          `json:"parts"`
	SequenceNumber int64           `json:"sequence_number"`
	Metadata       MessageMetadata `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewMessage constructs a message with a generated id. Validation is a
// separate step so callers can report rejection before any write occurs.
func NewMessage(conversationID string, role Role, parts []Part, meta MessageMetadata, seq int64, now time.Time) *Message {
	return &Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           role,
		Parts:          parts,
		SequenceNumber: seq,
		Metadata:       meta,
		CreatedAt:      now,
	}
}

// NewID generates a new unique identifier for engine entities.
func NewID() string { return uuid.NewString() }

// Validate checks structural invariants before the message is stored:
// known role, at least one content part, positive sequence number and
// well-formed metadata. It never mutates the message.
func (m *Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMetadata, m.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("%w: message requires at least one content part", ErrInvalidMetadata)
	}
	if m.SequenceNumber < 1 {
		return fmt.Errorf("%w: sequence number must be >= 1, got %d", ErrInvalidMetadata, m.SequenceNumber)
	}
	seen := make(map[string]bool, len(m.Metadata.ToolCalls))
	for i, tc := range m.Metadata.ToolCalls {
		if tc.CallID == "" {
			return fmt.Errorf("%w: tool call audit at index %d", ErrMissingCallID, i)
		}
		if seen[tc.CallID] {
			return fmt.Errorf("%w: duplicate call_id %q", ErrInvalidMetadata, tc.CallID)
		}
		seen[tc.CallID] = true
	}
	return nil
}

// TextContent concatenates the text parts of the message in order. Structured
// parts are skipped; useful for summaries and logs.
func (m *Message) TextContent() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			if out != "" {
				out += "\n"
			}
			out += tp.Text
		}
	}
	return out
}

// ToolCallRefs returns references to the tool calls audited by this message,
// preserving their original order.
func (m *Message) ToolCallRefs() []ToolCallRef {
	if len(m.Metadata.ToolCalls) == 0 {
		return nil
	}
	refs := make([]ToolCallRef, 0, len(m.Metadata.ToolCalls))
	for _, tc := range m.Metadata.ToolCalls {
		refs = append(refs, ToolCallRef{CallID: tc.CallID, ToolName: tc.ToolName})
	}
	return refs
}

// Clone returns a copy with its own part and tool call slices.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Parts = make([]Part, len(m.Parts))
	copy(clone.Parts, m.Parts)
	if m.Metadata.ToolCalls != nil {
		clone.Metadata.ToolCalls = make([]ToolCallAudit, len(m.Metadata.ToolCalls))
		copy(clone.Metadata.ToolCalls, m.Metadata.ToolCalls)
	}
	if m.Metadata.AgentResponse != nil {
		ar := *m.Metadata.AgentResponse
		clone.Metadata.AgentResponse = &ar
	}
	return &clone
}
