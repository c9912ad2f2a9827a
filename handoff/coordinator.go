package handoff

import (
	"context"
	"fmt"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/messagelog"
	"github.com/agentrelay/agentrelay/snapshot"
)

// Coordinator is the handoff state machine driver. Every operation loads
// fresh entity state under the per-conversation lock, performs all
// validation before the first write, and fails fast with a typed error;
// there is no retry or polling inside the coordinator.
type Coordinator struct {
	sessions core.SessionRepository
	handoffs core.HandoffRepository
	log      *messagelog.Log
	capturer *snapshot.Capturer
	clock    core.Clock
	logger   logging.Logger
	locks    *core.KeyedMutex
}

// NewCoordinator creates a coordinator. locks must be the same KeyedMutex
// instance used by any other component mutating session state for the same
// conversations (the facade shares its own).
func NewCoordinator(sessions core.SessionRepository, handoffs core.HandoffRepository, log *messagelog.Log, capturer *snapshot.Capturer, clock core.Clock, logger logging.Logger, locks *core.KeyedMutex) *Coordinator {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if locks == nil {
		locks = core.NewKeyedMutex()
	}
	return &Coordinator{sessions: sessions, handoffs: handoffs, log: log, capturer: capturer, clock: clock, logger: logger, locks: locks}
}

// Initiate starts a transfer away from the source session. The source must
// be Active or Paused; it transitions to HandedOff and a HandoffInitiated
// snapshot is captured over the messages the session has seen since its
// start sequence. Within a conversation, an initiate whose prior turn
// precedes the prior turn of an already-Completed handoff is rejected with
// OutOfOrderHandoff.
func (c *Coordinator) Initiate(ctx context.Context, sourceSessionID, priorTurnID string, toolCalls []core.ToolCallRef, targetAgent string, reason *string) (*core.Handoff, error) {
	source, err := c.sessions.FindByID(ctx, sourceSessionID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("source session %s: %w", sourceSessionID, core.ErrNotFound)
	}

	unlock := c.locks.Lock(source.ConversationID)
	defer unlock()

	// Reload under the lock: state may have moved while we waited.
	source, err = c.sessions.FindByID(ctx, sourceSessionID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("source session %s: %w", sourceSessionID, core.ErrNotFound)
	}
	if source.State != core.SessionActive && source.State != core.SessionPaused {
		return nil, fmt.Errorf("session %s in state %s: %w", source.ID, source.State, core.ErrSourceSessionNotEligible)
	}

	if err := c.checkOrdering(ctx, source.ConversationID, priorTurnID); err != nil {
		return nil, err
	}

	latest, err := c.log.LatestSequence(ctx, source.ConversationID)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	h := core.NewHandoff(source.ConversationID, source.ID, priorTurnID, toolCalls, source.AgentBackend, targetAgent, reason, now)

	if err := source.TransitionTo(core.SessionHandedOff, now); err != nil {
		return nil, err
	}
	source.TerminatedByHandoff = &h.ID
	if latest > 0 {
		end := latest
		source.EndSequence = &end
	}

	// All validation passed; writes start here. Snapshot range spans what
	// the session could see; an empty span collapses to the start sequence.
	end := latest
	if end < source.StartSequence {
		end = source.StartSequence
	}
	snap, err := c.capturer.Capture(ctx, source.ConversationID, source.ID, source.StartSequence, end, core.SnapshotHandoffInitiated)
	if err != nil {
		return nil, err
	}
	source.AttachSnapshot(snap.ID)

	if err := c.sessions.Save(ctx, source); err != nil {
		return nil, fmt.Errorf("save source session: %w", err)
	}
	if err := c.handoffs.Save(ctx, h); err != nil {
		return nil, fmt.Errorf("save handoff: %w", err)
	}
	c.logger.Info("handoff initiated", "handoff_id", h.ID, "conversation_id", h.ConversationID,
		"source_agent", h.SourceAgent, "target_agent", h.TargetAgent)
	return h, nil
}

// checkOrdering enforces the tie-break rule: handoffs within a conversation
// must be processed in prior-turn log order. Turns that do not resolve to a
// log position provide no ordering evidence and are allowed through.
func (c *Coordinator) checkOrdering(ctx context.Context, conversationID, priorTurnID string) error {
	seq, ok, err := c.log.ResolveTurn(ctx, conversationID, priorTurnID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	completed, err := c.handoffs.FindByConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, h := range completed {
		if h.Status != core.HandoffCompleted {
			continue
		}
		doneSeq, ok, err := c.log.ResolveTurn(ctx, conversationID, h.PriorTurnID)
		if err != nil {
			return err
		}
		if ok && seq < doneSeq {
			return &core.OutOfOrderHandoffError{ConversationID: conversationID, PriorTurnID: priorTurnID, CompletedHandoffID: h.ID}
		}
	}
	return nil
}

// Accept commits the target session id for an Initiated handoff. The id may
// be a reservation: the session itself is created when the handoff
// completes.
func (c *Coordinator) Accept(ctx context.Context, handoffID, targetSessionID string) (*core.Handoff, error) {
	h, err := c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	unlock := c.locks.Lock(h.ConversationID)
	defer unlock()

	h, err = c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	if err := h.Accept(targetSessionID); err != nil {
		return nil, err
	}
	if err := c.handoffs.Save(ctx, h); err != nil {
		return nil, fmt.Errorf("save handoff: %w", err)
	}
	c.logger.Info("handoff accepted", "handoff_id", h.ID, "target_session_id", targetSessionID)
	return h, nil
}

// Complete finishes an Accepted handoff: the successor session is created
// under the reserved id with its start sequence just past the current log
// head and InitiatedByHandoff set at construction, then the handoff is
// stamped Completed. From the caller's perspective session creation and
// completion are one unit.
func (c *Coordinator) Complete(ctx context.Context, handoffID string) (*core.Handoff, *core.AgentSession, error) {
	h, err := c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, nil, err
	}
	unlock := c.locks.Lock(h.ConversationID)
	defer unlock()

	h, err = c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, nil, err
	}
	if h.Status != core.HandoffAccepted {
		return nil, nil, &core.InvalidHandoffTransitionError{From: h.Status, To: core.HandoffCompleted}
	}

	owner, err := c.owningSession(ctx, h.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if owner != nil {
		return nil, nil, fmt.Errorf("session %s in state %s: %w", owner.ID, owner.State, core.ErrConflictingActiveSession)
	}

	latest, err := c.log.LatestSequence(ctx, h.ConversationID)
	if err != nil {
		return nil, nil, err
	}

	now := c.clock.Now()
	target := core.NewAgentSession(h.ConversationID, h.TargetAgent, latest+1, &h.ID, now)
	target.ID = *h.TargetSessionID
	if err := h.Complete(now); err != nil {
		return nil, nil, err
	}

	if err := c.sessions.Save(ctx, target); err != nil {
		return nil, nil, fmt.Errorf("save target session: %w", err)
	}
	if err := c.handoffs.Save(ctx, h); err != nil {
		return nil, nil, fmt.Errorf("save handoff: %w", err)
	}
	c.logger.Info("handoff completed", "handoff_id", h.ID, "target_session_id", target.ID, "target_agent", h.TargetAgent)
	return h, target, nil
}

// Cancel abandons an Initiated or Accepted handoff. If the source session
// was moved to HandedOff by this handoff it is reinstated as Active; no
// target session ever persists for a cancelled handoff. When another
// session took ownership of the conversation in the meantime, the revert
// would break ownership exclusivity, so the cancel is rejected with
// ConflictingActiveSession instead.
func (c *Coordinator) Cancel(ctx context.Context, handoffID string) (*core.Handoff, error) {
	h, err := c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	unlock := c.locks.Lock(h.ConversationID)
	defer unlock()

	h, err = c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}

	source, err := c.sessions.FindByID(ctx, h.SourceSessionID)
	if err != nil {
		return nil, err
	}
	revert := source != nil && source.State == core.SessionHandedOff &&
		source.TerminatedByHandoff != nil && *source.TerminatedByHandoff == h.ID
	if revert {
		owner, err := c.owningSession(ctx, h.ConversationID)
		if err != nil {
			return nil, err
		}
		if owner != nil {
			return nil, fmt.Errorf("session %s in state %s: %w", owner.ID, owner.State, core.ErrConflictingActiveSession)
		}
	}

	if err := h.Cancel(); err != nil {
		return nil, err
	}
	if revert {
		if err := source.RevertHandedOff(); err != nil {
			return nil, err
		}
		if err := c.sessions.Save(ctx, source); err != nil {
			return nil, fmt.Errorf("save source session: %w", err)
		}
	}

	if err := c.handoffs.Save(ctx, h); err != nil {
		return nil, fmt.Errorf("save handoff: %w", err)
	}
	c.logger.Info("handoff cancelled", "handoff_id", h.ID, "source_session_id", h.SourceSessionID)
	return h, nil
}

// Fail marks an Initiated or Accepted handoff as broken. The source session
// is left exactly as it was: failure does not auto-revert, since the root
// cause may require operator intervention.
func (c *Coordinator) Fail(ctx context.Context, handoffID, reason string) (*core.Handoff, error) {
	h, err := c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	unlock := c.locks.Lock(h.ConversationID)
	defer unlock()

	h, err = c.loadHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	if err := h.Fail(reason); err != nil {
		return nil, err
	}
	if err := c.handoffs.Save(ctx, h); err != nil {
		return nil, fmt.Errorf("save handoff: %w", err)
	}
	c.logger.Warn("handoff failed", "handoff_id", h.ID, "reason", reason)
	return h, nil
}

// owningSession returns the at-most-one session in a non-terminal state
// (Active or Paused) for the conversation, or (nil, nil).
func (c *Coordinator) owningSession(ctx context.Context, conversationID string) (*core.AgentSession, error) {
	sessions, err := c.sessions.FindByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if !s.State.Terminal() {
			return s, nil
		}
	}
	return nil, nil
}

func (c *Coordinator) loadHandoff(ctx context.Context, handoffID string) (*core.Handoff, error) {
	h, err := c.handoffs.FindByID(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("handoff %s: %w", handoffID, core.ErrNotFound)
	}
	return h, nil
}
