package core

import "time"

// SnapshotType classifies why a context snapshot was captured.
type SnapshotType string

const (
	// SnapshotSessionStart records what a session could see when it began.
	SnapshotSessionStart SnapshotType = "session_start"
	// SnapshotHandoffInitiated records the source session's view at the
	// moment it released ownership.
	SnapshotHandoffInitiated SnapshotType = "handoff_initiated"
	// SnapshotTruncation records the context that a compaction strategy
	// dropped from a live window.
	SnapshotTruncation SnapshotType = "truncation"
	// SnapshotCheckpoint is an on-demand capture.
	SnapshotCheckpoint SnapshotType = "checkpoint"
)

// ToolCallRef is a lightweight reference to a tool invocation visible in a
// snapshot or cited as a handoff trigger.
type ToolCallRef struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
}

// ContextSnapshot is an immutable, bounded reconstruction of what a session
// could see over a message range. The range is always explicit so any
// auditor can verify the snapshot against the log; snapshots exist purely
// for audit and replay and never feed back into log ordering.
type ContextSnapshot struct {
	ID               string        `json:"id"`
	ConversationID   string        `json:"conversation_id"`
	SessionID        string        `json:"session_id"`
	SequenceStart    int64         `json:"sequence_start"`
	SequenceEnd      int64         `json:"sequence_end"`
	MessageSummary   string        `json:"message_summary"`
	VisibleToolCalls []ToolCallRef `json:"visible_tool_calls"`
	TokenEstimate    *int          `json:"token_estimate,omitempty"`
	CapturedAt       time.Time     `json:"captured_at"`
	Type             SnapshotType  `json:"snapshot_type"`
}

// Clone returns a deep copy safe for independent mutation.
func (s *ContextSnapshot) Clone() *ContextSnapshot {
	clone := *s
	clone.VisibleToolCalls = make([]ToolCallRef, len(s.VisibleToolCalls))
	copy(clone.VisibleToolCalls, s.VisibleToolCalls)
	if s.TokenEstimate != nil {
		v := *s.TokenEstimate
		clone.TokenEstimate = &v
	}
	return &clone
}
