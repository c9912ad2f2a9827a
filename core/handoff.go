package core

import "time"

// HandoffStatus enumerates handoff lifecycle states.
type HandoffStatus string

const (
	// HandoffInitiated is the entry state: source session released, target
	// not yet known.
	HandoffInitiated HandoffStatus = "initiated"
	// HandoffAccepted means a target session id has been committed.
	HandoffAccepted HandoffStatus = "accepted"
	// HandoffCompleted means the target session was created and linked.
	HandoffCompleted HandoffStatus = "completed"
	// HandoffFailed means the transfer broke down; the source session is
	// left as-is for operator inspection.
	HandoffFailed HandoffStatus = "failed"
	// HandoffCancelled means the transfer was abandoned and the source
	// session reinstated. Cancelled handoffs never acquire a target session.
	HandoffCancelled HandoffStatus = "cancelled"
)

// Terminal reports whether the status has no outgoing transitions.
func (s HandoffStatus) Terminal() bool {
	switch s {
	case HandoffCompleted, HandoffFailed, HandoffCancelled:
		return true
	}
	return false
}

// handoffTransitions is the closed transition table for handoffs.
var handoffTransitions = map[HandoffStatus]map[HandoffStatus]bool{
	HandoffInitiated: {
		HandoffAccepted:  true,
		HandoffCancelled: true,
		HandoffFailed:    true,
	},
	HandoffAccepted: {
		HandoffCompleted: true,
		HandoffCancelled: true,
		HandoffFailed:    true,
	},
}

// Handoff is a controlled transfer of conversation ownership from a source
// session to a target session. TargetSessionID is a weak reference that is
// only populated once the handoff reaches Accepted; PriorTurnID names the
// last turn the source completed before letting go, which anchors the
// handoff's position in the message log for ordering checks.
type Handoff struct {
	ID                  string        `json:"id"`
	ConversationID      string        `json:"conversation_id"`
	SourceSessionID     string        `json:"source_session_id"`
	TargetSessionID     *string       `json:"target_session_id,omitempty"`
	PriorTurnID         string        `json:"prior_turn_id"`
	TriggeringToolCalls []ToolCallRef `json:"triggering_tool_calls"`
	SourceAgent         string        `json:"source_agent"`
	TargetAgent         string        `json:"target_agent"`
	Reason              *string       `json:"reason,omitempty"`
	FailureReason       *string       `json:"failure_reason,omitempty"`
	Status              HandoffStatus `json:"status"`
	InitiatedAt         time.Time     `json:"initiated_at"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty"`
}

// NewHandoff creates a handoff in the Initiated state.
func NewHandoff(conversationID, sourceSessionID, priorTurnID string, toolCalls []ToolCallRef, sourceAgent, targetAgent string, reason *string, now time.Time) *Handoff {
	if toolCalls == nil {
		toolCalls = []ToolCallRef{}
	}
	return &Handoff{
		ID:                  NewID(),
		ConversationID:      conversationID,
		SourceSessionID:     sourceSessionID,
		PriorTurnID:         priorTurnID,
		TriggeringToolCalls: toolCalls,
		SourceAgent:         sourceAgent,
		TargetAgent:         targetAgent,
		Reason:              reason,
		Status:              HandoffInitiated,
		InitiatedAt:         now,
	}
}

// transitionTo validates the status change against the transition table.
func (h *Handoff) transitionTo(to HandoffStatus) error {
	if !handoffTransitions[h.Status][to] {
		return &InvalidHandoffTransitionError{From: h.Status, To: to}
	}
	h.Status = to
	return nil
}

// Accept commits the target session id and moves the handoff to Accepted.
// The id may name a session that does not exist yet; it is reserved here and
// materialized when the handoff completes.
func (h *Handoff) Accept(targetSessionID string) error {
	if err := h.transitionTo(HandoffAccepted); err != nil {
		return err
	}
	h.TargetSessionID = &targetSessionID
	return nil
}

// Complete stamps CompletedAt and moves the handoff to Completed. Requires
// Accepted, so calling it twice yields InvalidHandoffTransition rather than
// a duplicate completed record.
func (h *Handoff) Complete(now time.Time) error {
	if err := h.transitionTo(HandoffCompleted); err != nil {
		return err
	}
	t := now
	h.CompletedAt = &t
	return nil
}

// Cancel abandons the transfer from Initiated or Accepted. The target
// session reference is dropped so no target session persists.
func (h *Handoff) Cancel() error {
	if err := h.transitionTo(HandoffCancelled); err != nil {
		return err
	}
	h.TargetSessionID = nil
	return nil
}

// Fail marks the transfer broken from Initiated or Accepted, recording the
// cause. The source session is deliberately left untouched: root cause may
// require operator intervention before ownership is reassigned.
func (h *Handoff) Fail(reason string) error {
	if err := h.transitionTo(HandoffFailed); err != nil {
		return err
	}
	h.FailureReason = &reason
	return nil
}

// Clone returns a deep copy safe for independent mutation.
func (h *Handoff) Clone() *Handoff {
	clone := *h
	clone.TriggeringToolCalls = make([]ToolCallRef, len(h.TriggeringToolCalls))
	copy(clone.TriggeringToolCalls, h.TriggeringToolCalls)
	if h.TargetSessionID != nil {
		v := *h.TargetSessionID
		clone.TargetSessionID = &v
	}
	if h.Reason != nil {
		v := *h.Reason
		clone.Reason = &v
	}
	if h.FailureReason != nil {
		v := *h.FailureReason
		clone.FailureReason = &v
	}
	if h.CompletedAt != nil {
		v := *h.CompletedAt
		clone.CompletedAt = &v
	}
	return &clone
}
