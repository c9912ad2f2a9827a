package testutil

import (
	"time"

	"github.com/agentrelay/agentrelay/core"
)

// SessionBuilder helps construct agent sessions with fluent chaining for
// tests. Example:
//
//	sess := NewSessionBuilder("conv-1", "claude").Start(4).Turns("t1", "t2").Build()
type SessionBuilder struct {
	conversationID string
	backend        string
	startSeq       int64
	turnIDs        []string
	state          core.SessionState
	initiatedBy    *string
	startedAt      time.Time
}

// NewSessionBuilder creates a builder for an Active session starting at
// sequence 1.
func NewSessionBuilder(conversationID, backend string) *SessionBuilder {
	return &SessionBuilder{
		conversationID: conversationID,
		backend:        backend,
		startSeq:       1,
		state:          core.SessionActive,
		startedAt:      time.Now().UTC(),
	}
}

// Start sets the start sequence (chainable).
func (b *SessionBuilder) Start(seq int64) *SessionBuilder {
	b.startSeq = seq
	return b
}

// Turns appends turn ids (chainable).
func (b *SessionBuilder) Turns(ids ...string) *SessionBuilder {
	b.turnIDs = append(b.turnIDs, ids...)
	return b
}

// State overrides the resulting state (chainable). Terminal states get an
// EndedAt stamp equal to the start time.
func (b *SessionBuilder) State(s core.SessionState) *SessionBuilder {
	b.state = s
	return b
}

// InitiatedBy links the session to the handoff that created it (chainable).
func (b *SessionBuilder) InitiatedBy(handoffID string) *SessionBuilder {
	b.initiatedBy = &handoffID
	return b
}

// At fixes the start timestamp (chainable).
func (b *SessionBuilder) At(t time.Time) *SessionBuilder {
	b.startedAt = t
	return b
}

// Build returns a *core.AgentSession with pre-populated turns and state.
func (b *SessionBuilder) Build() *core.AgentSession {
	s := core.NewAgentSession(b.conversationID, b.backend, b.startSeq, b.initiatedBy, b.startedAt)
	s.TurnIDs = append(s.TurnIDs, b.turnIDs...)
	if b.state != core.SessionActive {
		s.State = b.state
		if b.state.Terminal() {
			t := b.startedAt
			s.EndedAt = &t
		}
	}
	return s
}
