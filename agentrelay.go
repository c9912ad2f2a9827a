// Package agentrelay provides a high-level façade over the conversation
// continuity engine: the append-only message log, the agent-session state
// machine, the handoff coordinator and context snapshot capture. Most
// applications interact with this package by:
//  1. Creating a Continuity via New() (optionally overriding the default
//     in-memory repositories, clock, summarizer or logger)
//  2. Appending messages and beginning agent sessions
//  3. Driving handoffs (RequestHandoff, AcceptHandoff, CompleteHandoff,
//     CancelHandoff, FailHandoff)
//
// The façade hides cross-entity sequencing so callers cannot leave the
// session/handoff pair in a half-updated state. All defaults are safe for
// local development and testing; production deployments typically supply
// durable repositories (store/sqlite) and a structured logger.
package agentrelay

import (
	"context"
	"fmt"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/handoff"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/messagelog"
	"github.com/agentrelay/agentrelay/snapshot"
	"github.com/agentrelay/agentrelay/store/inmemory"
)

// Options configures the Continuity instance.
type Options struct {
	// Repositories (default to in-memory implementations if not provided).
	Conversations core.ConversationRepository
	Messages      core.MessageRepository
	Sessions      core.SessionRepository
	Handoffs      core.HandoffRepository
	Snapshots     core.SnapshotRepository

	// Clock drives every timestamp; defaults to the system clock.
	Clock core.Clock

	// Summarizer is the snapshot summarization strategy; defaults to a
	// 4000-char truncation summarizer.
	Summarizer snapshot.Summarizer

	// TokenEstimator approximates snapshot token footprints; defaults to
	// the byte heuristic. Use snapshot.NewBPEEstimator for exact counts.
	TokenEstimator snapshot.TokenEstimator

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// Continuity is the conversation continuity façade aggregating the message
// log, snapshot capturer and handoff coordinator.
type Continuity struct {
	opts        Options
	log         *messagelog.Log
	capturer    *snapshot.Capturer
	coordinator *handoff.Coordinator
	locks       *core.KeyedMutex
	logger      logging.Logger
}

// New creates a Continuity instance with optional overrides. Any unset
// repository is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Continuity {
	opts := Options{
		Clock:  core.SystemClock{},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = core.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Conversations == nil || opts.Messages == nil || opts.Sessions == nil || opts.Handoffs == nil || opts.Snapshots == nil {
		mem := inmemory.NewStore(opts.Clock)
		if opts.Conversations == nil {
			opts.Conversations = mem.Conversations
		}
		if opts.Messages == nil {
			opts.Messages = mem.Messages
		}
		if opts.Sessions == nil {
			opts.Sessions = mem.Sessions
		}
		if opts.Handoffs == nil {
			opts.Handoffs = mem.Handoffs
		}
		if opts.Snapshots == nil {
			opts.Snapshots = mem.Snapshots
		}
	}

	locks := core.NewKeyedMutex()
	log := messagelog.New(opts.Conversations, opts.Messages, opts.Clock, opts.Logger)
	capturer := snapshot.NewCapturer(log, opts.Snapshots, opts.Summarizer, opts.TokenEstimator, opts.Clock, opts.Logger)
	coordinator := handoff.NewCoordinator(opts.Sessions, opts.Handoffs, log, capturer, opts.Clock, opts.Logger, locks)

	return &Continuity{
		opts:        opts,
		log:         log,
		capturer:    capturer,
		coordinator: coordinator,
		locks:       locks,
		logger:      opts.Logger,
	}
}

// AppendMessage validates and appends a message at the caller-supplied
// sequence number, creating the conversation on first use.
func (c *Continuity) AppendMessage(ctx context.Context, conversationID string, role core.Role, parts []core.Part, meta core.MessageMetadata, seq int64) (*core.Message, error) {
	return c.log.Append(ctx, conversationID, role, parts, meta, seq)
}

// ListMessages returns the conversation's messages in ascending sequence
// order.
func (c *Continuity) ListMessages(ctx context.Context, conversationID string) ([]*core.Message, error) {
	return c.log.List(ctx, conversationID)
}

// BeginSession starts a new Active session for an agent backend. It fails
// with ErrConflictingActiveSession while another session owns the
// conversation: a Paused session still holds ownership, so only terminal
// predecessors (HandedOff, Completed, Failed) clear the way. When the log
// already has messages, a SessionStart snapshot of everything visible so
// far is captured and attached.
func (c *Continuity) BeginSession(ctx context.Context, conversationID, agentBackend string, startSequence int64) (*core.AgentSession, error) {
	if startSequence < 1 {
		return nil, fmt.Errorf("start sequence must be >= 1, got %d", startSequence)
	}
	unlock := c.locks.Lock(conversationID)
	defer unlock()

	if _, err := c.opts.Conversations.Ensure(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("ensure conversation %s: %w", conversationID, err)
	}
	owner, err := c.findOwningSession(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return nil, fmt.Errorf("session %s in state %s: %w", owner.ID, owner.State, core.ErrConflictingActiveSession)
	}

	sess := core.NewAgentSession(conversationID, agentBackend, startSequence, nil, c.opts.Clock.Now())

	latest, err := c.log.LatestSequence(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if latest >= 1 {
		snap, err := c.capturer.Capture(ctx, conversationID, sess.ID, 1, latest, core.SnapshotSessionStart)
		if err != nil {
			return nil, err
		}
		sess.AttachSnapshot(snap.ID)
	}

	if err := c.opts.Sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	c.logger.Info("session started", "session_id", sess.ID, "conversation_id", conversationID, "agent_backend", agentBackend)
	return sess, nil
}

// RecordTurn appends a turn id to a session's ordered turn list. Only
// Active or Paused sessions accept turns.
func (c *Continuity) RecordTurn(ctx context.Context, sessionID, turnID string) (*core.AgentSession, error) {
	return c.mutateSession(ctx, sessionID, func(s *core.AgentSession) error {
		return s.RecordTurn(turnID)
	})
}

// PauseSession suspends an Active session without releasing ownership.
func (c *Continuity) PauseSession(ctx context.Context, sessionID string) (*core.AgentSession, error) {
	return c.transitionSession(ctx, sessionID, core.SessionPaused)
}

// ResumeSession reactivates a Paused session.
func (c *Continuity) ResumeSession(ctx context.Context, sessionID string) (*core.AgentSession, error) {
	return c.transitionSession(ctx, sessionID, core.SessionActive)
}

// CompleteSession ends a session normally, stamping EndedAt.
func (c *Continuity) CompleteSession(ctx context.Context, sessionID string) (*core.AgentSession, error) {
	return c.transitionSession(ctx, sessionID, core.SessionCompleted)
}

// FailSession ends a session abnormally. A partial turn list is kept as-is.
func (c *Continuity) FailSession(ctx context.Context, sessionID string) (*core.AgentSession, error) {
	return c.transitionSession(ctx, sessionID, core.SessionFailed)
}

func (c *Continuity) transitionSession(ctx context.Context, sessionID string, to core.SessionState) (*core.AgentSession, error) {
	return c.mutateSession(ctx, sessionID, func(s *core.AgentSession) error {
		return s.TransitionTo(to, c.opts.Clock.Now())
	})
}

// findOwningSession returns the at-most-one session in a non-terminal
// state (Active or Paused) for the conversation, or (nil, nil). Ownership
// exclusivity is enforced wherever sessions enter a non-terminal state, so
// ResumeSession can reactivate a Paused session without re-checking: the
// paused session is already the sole owner.
func (c *Continuity) findOwningSession(ctx context.Context, conversationID string) (*core.AgentSession, error) {
	sessions, err := c.opts.Sessions.FindByConversation(ctx, conversationID)
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

// mutateSession loads, mutates and saves a session under the conversation
// lock, so the single-Active-session invariant cannot be raced.
func (c *Continuity) mutateSession(ctx context.Context, sessionID string, mutate func(*core.AgentSession) error) (*core.AgentSession, error) {
	sess, err := c.opts.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	unlock := c.locks.Lock(sess.ConversationID)
	defer unlock()

	sess, err = c.opts.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	if err := mutate(sess); err != nil {
		return nil, err
	}
	if err := c.opts.Sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// RequestHandoff initiates a transfer away from the source session,
// capturing a HandoffInitiated snapshot as part of the same unit: either
// the handoff and its snapshot both exist afterwards, or neither does.
func (c *Continuity) RequestHandoff(ctx context.Context, sourceSessionID, priorTurnID string, toolCalls []core.ToolCallRef, targetAgent string, reason *string) (*core.Handoff, error) {
	return c.coordinator.Initiate(ctx, sourceSessionID, priorTurnID, toolCalls, targetAgent, reason)
}

// AcceptHandoff commits a target session id for an Initiated handoff. The
// id is a reservation (core.NewID works well); the session itself is
// created by CompleteHandoff.
func (c *Continuity) AcceptHandoff(ctx context.Context, handoffID, targetSessionID string) (*core.Handoff, error) {
	return c.coordinator.Accept(ctx, handoffID, targetSessionID)
}

// CompleteHandoff creates and links the successor session and marks the
// handoff Completed, atomically from the caller's perspective.
func (c *Continuity) CompleteHandoff(ctx context.Context, handoffID string) (*core.Handoff, *core.AgentSession, error) {
	return c.coordinator.Complete(ctx, handoffID)
}

// CancelHandoff abandons an Initiated or Accepted handoff and reinstates
// the source session as Active.
func (c *Continuity) CancelHandoff(ctx context.Context, handoffID string) (*core.Handoff, error) {
	return c.coordinator.Cancel(ctx, handoffID)
}

// FailHandoff marks an Initiated or Accepted handoff broken, leaving the
// source session untouched for operator inspection.
func (c *Continuity) FailHandoff(ctx context.Context, handoffID, reason string) (*core.Handoff, error) {
	return c.coordinator.Fail(ctx, handoffID, reason)
}

// CaptureCheckpoint captures an on-demand snapshot of everything the
// session has seen since its start sequence.
func (c *Continuity) CaptureCheckpoint(ctx context.Context, sessionID string) (*core.ContextSnapshot, error) {
	sess, err := c.opts.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	unlock := c.locks.Lock(sess.ConversationID)
	defer unlock()

	sess, err = c.opts.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, core.ErrNotFound)
	}
	latest, err := c.log.LatestSequence(ctx, sess.ConversationID)
	if err != nil {
		return nil, err
	}
	end := latest
	if end < sess.StartSequence {
		end = sess.StartSequence
	}
	snap, err := c.capturer.Capture(ctx, sess.ConversationID, sess.ID, sess.StartSequence, end, core.SnapshotCheckpoint)
	if err != nil {
		return nil, err
	}
	sess.AttachSnapshot(snap.ID)
	if err := c.opts.Sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return snap, nil
}

// VerifySnapshot checks a snapshot's declared range against the current
// log.
func (c *Continuity) VerifySnapshot(ctx context.Context, snapshotID string) error {
	snap, err := c.opts.Snapshots.FindByID(ctx, snapshotID)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("snapshot %s: %w", snapshotID, core.ErrNotFound)
	}
	return c.capturer.Verify(ctx, snap)
}

// Timeline is the reconstructed read model for one conversation: the full
// message log plus every session, handoff and snapshot that references it.
type Timeline struct {
	Conversation *Conversation
	Messages     []*core.Message
	Sessions     []*core.AgentSession
	Handoffs     []*core.Handoff
	Snapshots    []*core.ContextSnapshot
}

// Conversation aliases the core entity for Timeline consumers.
type Conversation = core.Conversation

// Timeline reconstructs the audit view of a conversation. It returns
// (nil, nil) for a conversation that was never created.
func (c *Continuity) Timeline(ctx context.Context, conversationID string) (*Timeline, error) {
	conv, err := c.opts.Conversations.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, nil
	}
	msgs, err := c.log.List(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	sessions, err := c.opts.Sessions.FindByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	handoffs, err := c.opts.Handoffs.FindByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	snaps, err := c.opts.Snapshots.FindByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &Timeline{Conversation: conv, Messages: msgs, Sessions: sessions, Handoffs: handoffs, Snapshots: snaps}, nil
}
