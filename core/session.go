package core

import "time"

// SessionState enumerates agent session lifecycle states.
type SessionState string

const (
	// SessionActive owns the conversation: turns may be recorded.
	SessionActive SessionState = "active"
	// SessionPaused temporarily suspends work without giving up ownership.
	SessionPaused SessionState = "paused"
	// SessionHandedOff ended because control transferred to another session.
	SessionHandedOff SessionState = "handed_off"
	// SessionCompleted ended normally.
	SessionCompleted SessionState = "completed"
	// SessionFailed ended abnormally. A partial turn list is accepted.
	SessionFailed SessionState = "failed"
)

// Terminal reports whether the state has no outgoing transitions.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionHandedOff, SessionCompleted, SessionFailed:
		return true
	}
	return false
}

// sessionTransitions is the closed transition table for agent sessions.
var sessionTransitions = map[SessionState]map[SessionState]bool{
	SessionActive: {
		SessionPaused:    true,
		SessionHandedOff: true,
		SessionCompleted: true,
		SessionFailed:    true,
	},
	SessionPaused: {
		SessionActive:    true,
		SessionHandedOff: true,
		SessionCompleted: true,
		SessionFailed:    true,
	},
}

// AgentSession tracks a contiguous span of turns owned by exactly one agent
// backend within a conversation. The single-Active-session invariant is what
// lets the handoff coordinator reason about conversation ownership without
// races; enforcing it is the session repository consumer's job (see the
// facade), while transition legality lives here on the entity.
//
// InitiatedByHandoff and TerminatedByHandoff are weak references: ids for
// lookup only, never ownership, so the session/handoff cross-reference cycle
// stays acyclic. Both start unset and are populated as the handoff state
// machine progresses.
type AgentSession struct {
	ID                  string       `json:"id"`
	ConversationID      string       `json:"conversation_id"`
	AgentBackend        string       `json:"agent_backend"`
	StartSequence       int64        `json:"start_sequence"`
	EndSequence         *int64       `json:"end_sequence,omitempty"`
	TurnIDs             []string     `json:"turn_ids"`
	InitiatedByHandoff  *string      `json:"initiated_by_handoff,omitempty"`
	TerminatedByHandoff *string      `json:"terminated_by_handoff,omitempty"`
	ContextSnapshots    []string     `json:"context_snapshots"`
	State               SessionState `json:"state"`
	StartedAt           time.Time    `json:"started_at"`
	EndedAt             *time.Time   `json:"ended_at,omitempty"`
}

// NewAgentSession creates an Active session with a generated id.
// initiatedByHandoff is set at construction time, never retroactively.
func NewAgentSession(conversationID, agentBackend string, startSequence int64, initiatedByHandoff *string, now time.Time) *AgentSession {
	return &AgentSession{
		ID:                 NewID(),
		ConversationID:     conversationID,
		AgentBackend:       agentBackend,
		StartSequence:      startSequence,
		TurnIDs:            []string{},
		InitiatedByHandoff: initiatedByHandoff,
		ContextSnapshots:   []string{},
		State:              SessionActive,
		StartedAt:          now,
	}
}

// CanTransitionTo reports whether the transition table allows moving to the
// given state from the current one.
func (s *AgentSession) CanTransitionTo(to SessionState) bool {
	return sessionTransitions[s.State][to]
}

// TransitionTo applies a state change, validating against the transition
// table. On entering a terminal state from a non-terminal one, EndedAt is
// stamped with the supplied time. This replaces what a relational schema
// would do with a trigger, keeping the invariant visible at the domain
// layer.
func (s *AgentSession) TransitionTo(to SessionState, now time.Time) error {
	if !s.CanTransitionTo(to) {
		return &InvalidSessionTransitionError{From: s.State, To: to}
	}
	s.State = to
	if to.Terminal() {
		t := now
		s.EndedAt = &t
	}
	return nil
}

// RecordTurn appends a turn id to the session's ordered turn list. Only
// Active or Paused sessions accept new turns.
func (s *AgentSession) RecordTurn(turnID string) error {
	if s.State != SessionActive && s.State != SessionPaused {
		return ErrSessionNotActive
	}
	s.TurnIDs = append(s.TurnIDs, turnID)
	return nil
}

// AttachSnapshot records a captured context snapshot id on the session.
func (s *AgentSession) AttachSnapshot(snapshotID string) {
	s.ContextSnapshots = append(s.ContextSnapshots, snapshotID)
}

// RevertHandedOff is the cancellation-only escape hatch from the otherwise
// terminal HandedOff state: when a handoff is cancelled after initiation the
// source session gets ownership back. It clears EndedAt, EndSequence and the
// terminating handoff reference. Any other use of this method would violate
// the state machine, so it refuses to run outside HandedOff.
func (s *AgentSession) RevertHandedOff() error {
	if s.State != SessionHandedOff {
		return &InvalidSessionTransitionError{From: s.State, To: SessionActive}
	}
	s.State = SessionActive
	s.EndedAt = nil
	s.EndSequence = nil
	s.TerminatedByHandoff = nil
	return nil
}

// Clone returns a deep copy safe for independent mutation.
func (s *AgentSession) Clone() *AgentSession {
	clone := *s
	clone.TurnIDs = make([]string, len(s.TurnIDs))
	copy(clone.TurnIDs, s.TurnIDs)
	clone.ContextSnapshots = make([]string, len(s.ContextSnapshots))
	copy(clone.ContextSnapshots, s.ContextSnapshots)
	if s.EndSequence != nil {
		v := *s.EndSequence
		clone.EndSequence = &v
	}
	if s.InitiatedByHandoff != nil {
		v := *s.InitiatedByHandoff
		clone.InitiatedByHandoff = &v
	}
	if s.TerminatedByHandoff != nil {
		v := *s.TerminatedByHandoff
		clone.TerminatedByHandoff = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		clone.EndedAt = &v
	}
	return &clone
}
