package agentrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/internal/testutil"
)

func newEngine() (*Continuity, *testutil.FixedClock) {
	clock := testutil.NewFixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	engine := New(func(o *Options) {
		o.Clock = clock
	})
	return engine, clock
}

func text(s string) []core.Part { return []core.Part{core.TextPart{Text: s}} }

// The plain sequential flow: messages accumulate under one session, the
// session records its turns and completes.
func TestContinuity_SequentialConversation(t *testing.T) {
	engine, clock := newEngine()
	ctx := context.Background()

	sess, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, sess.State)
	assert.Empty(t, sess.ContextSnapshots) // nothing to see yet

	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleUser, text("hello"), core.MessageMetadata{TurnID: "t1"}, 1)
	require.NoError(t, err)
	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleAssistant, text("hi there"), core.MessageMetadata{TurnID: "t1"}, 2)
	require.NoError(t, err)

	sess, err = engine.RecordTurn(ctx, sess.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, sess.TurnIDs)

	clock.Advance(time.Minute)
	sess, err = engine.CompleteSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, sess.State)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, clock.Now(), *sess.EndedAt)

	msgs, err := engine.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].SequenceNumber)
	assert.Equal(t, "hello", msgs[0].TextContent())
}

func TestContinuity_SingleActiveSessionPerConversation(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	first, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)

	_, err = engine.BeginSession(ctx, "conv-1", "gpt", 1)
	assert.ErrorIs(t, err, core.ErrConflictingActiveSession)

	// A paused session still owns the conversation.
	_, err = engine.PauseSession(ctx, first.ID)
	require.NoError(t, err)
	_, err = engine.BeginSession(ctx, "conv-1", "gpt", 1)
	assert.ErrorIs(t, err, core.ErrConflictingActiveSession)

	// Completion releases it.
	_, err = engine.CompleteSession(ctx, first.ID)
	require.NoError(t, err)
	_, err = engine.BeginSession(ctx, "conv-1", "gpt", 1)
	assert.NoError(t, err)

	// Other conversations are unaffected throughout.
	_, err = engine.BeginSession(ctx, "conv-2", "gpt", 1)
	assert.NoError(t, err)
}

func TestContinuity_ResumeKeepsSingleOwner(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	s1, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)
	_, err = engine.PauseSession(ctx, s1.ID)
	require.NoError(t, err)

	// Pausing does not release ownership, so no second session can sneak in
	// and later coexist with the resumed one.
	_, err = engine.BeginSession(ctx, "conv-1", "gpt", 1)
	require.ErrorIs(t, err, core.ErrConflictingActiveSession)

	_, err = engine.ResumeSession(ctx, s1.ID)
	require.NoError(t, err)

	tl, err := engine.Timeline(ctx, "conv-1")
	require.NoError(t, err)
	activeCount := 0
	for _, s := range tl.Sessions {
		if s.State == core.SessionActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestContinuity_PauseResume(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	sess, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)

	sess, err = engine.PauseSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionPaused, sess.State)

	// Paused sessions still record turns.
	sess, err = engine.RecordTurn(ctx, sess.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, sess.TurnIDs)

	sess, err = engine.ResumeSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionActive, sess.State)
	assert.Nil(t, sess.EndedAt)
}

func TestContinuity_SessionStartSnapshotOverExistingLog(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	_, err := engine.AppendMessage(ctx, "conv-1", core.RoleUser, text("earlier"), core.MessageMetadata{}, 1)
	require.NoError(t, err)
	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleAssistant, text("context"), core.MessageMetadata{}, 2)
	require.NoError(t, err)

	sess, err := engine.BeginSession(ctx, "conv-1", "claude", 3)
	require.NoError(t, err)
	require.Len(t, sess.ContextSnapshots, 1)

	tl, err := engine.Timeline(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, tl.Snapshots, 1)
	snap := tl.Snapshots[0]
	assert.Equal(t, core.SnapshotSessionStart, snap.Type)
	assert.Equal(t, sess.ID, snap.SessionID)
	assert.Equal(t, int64(1), snap.SequenceStart)
	assert.Equal(t, int64(2), snap.SequenceEnd)
	assert.Contains(t, snap.MessageSummary, "user: earlier")
}

// The full handoff round trip: claude hands the conversation to gpt, gpt
// picks up exactly past the log head.
func TestContinuity_HandoffRoundTrip(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	s1, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)
	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleUser, text("run this script"), core.MessageMetadata{TurnID: "t1"}, 1)
	require.NoError(t, err)
	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleAssistant, text("I need a sandbox for that"), core.MessageMetadata{TurnID: "t1"}, 2)
	require.NoError(t, err)
	_, err = engine.RecordTurn(ctx, s1.ID, "t1")
	require.NoError(t, err)

	reason := "needs sandboxed execution"
	h, err := engine.RequestHandoff(ctx, s1.ID, "t1",
		[]core.ToolCallRef{{CallID: "call-1", ToolName: "execute"}}, "gpt", &reason)
	require.NoError(t, err)
	assert.Equal(t, core.HandoffInitiated, h.Status)

	reserved := core.NewID()
	h, err = engine.AcceptHandoff(ctx, h.ID, reserved)
	require.NoError(t, err)

	h, s2, err := engine.CompleteHandoff(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, core.HandoffCompleted, h.Status)
	assert.Equal(t, reserved, s2.ID)
	assert.Equal(t, int64(3), s2.StartSequence)

	// The new owner appends at the next sequence and the log stays gapless
	// in order.
	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleAssistant, text("running it now"), core.MessageMetadata{TurnID: "t2"}, 3)
	require.NoError(t, err)

	tl, err := engine.Timeline(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, tl.Sessions, 2)
	require.Len(t, tl.Handoffs, 1)
	assert.Len(t, tl.Messages, 3)

	// Source terminated by the handoff, target initiated by it.
	var source, target *core.AgentSession
	for _, s := range tl.Sessions {
		switch s.ID {
		case s1.ID:
			source = s
		case s2.ID:
			target = s
		}
	}
	require.NotNil(t, source)
	require.NotNil(t, target)
	assert.Equal(t, core.SessionHandedOff, source.State)
	require.NotNil(t, source.TerminatedByHandoff)
	assert.Equal(t, h.ID, *source.TerminatedByHandoff)
	require.NotNil(t, target.InitiatedByHandoff)
	assert.Equal(t, h.ID, *target.InitiatedByHandoff)
}

func TestContinuity_CancelledHandoffRestoresOwnership(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	s1, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)
	h, err := engine.RequestHandoff(ctx, s1.ID, "", nil, "gpt", nil)
	require.NoError(t, err)

	_, err = engine.CancelHandoff(ctx, h.ID)
	require.NoError(t, err)

	// The source is Active again, so a new session is still refused.
	_, err = engine.BeginSession(ctx, "conv-1", "gpt", 1)
	assert.ErrorIs(t, err, core.ErrConflictingActiveSession)
}

func TestContinuity_FailedHandoffKeepsSourceHandedOff(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	s1, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)
	h, err := engine.RequestHandoff(ctx, s1.ID, "", nil, "gpt", nil)
	require.NoError(t, err)

	h, err = engine.FailHandoff(ctx, h.ID, "target backend down")
	require.NoError(t, err)
	assert.Equal(t, core.HandoffFailed, h.Status)

	// Nobody owns the conversation; a fresh session can begin.
	s2, err := engine.BeginSession(ctx, "conv-1", "gemini", 1)
	require.NoError(t, err)
	assert.Nil(t, s2.InitiatedByHandoff)
}

func TestContinuity_CaptureCheckpointAndVerify(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	sess, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)
	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleUser, text("hello"), core.MessageMetadata{}, 1)
	require.NoError(t, err)
	_, err = engine.AppendMessage(ctx, "conv-1", core.RoleAssistant, text("hi"), core.MessageMetadata{}, 2)
	require.NoError(t, err)

	snap, err := engine.CaptureCheckpoint(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SnapshotCheckpoint, snap.Type)
	assert.Equal(t, int64(1), snap.SequenceStart)
	assert.Equal(t, int64(2), snap.SequenceEnd)

	assert.NoError(t, engine.VerifySnapshot(ctx, snap.ID))
	assert.ErrorIs(t, engine.VerifySnapshot(ctx, "no-such-snapshot"), core.ErrNotFound)

	tl, err := engine.Timeline(ctx, "conv-1")
	require.NoError(t, err)
	var stored *core.AgentSession
	for _, s := range tl.Sessions {
		if s.ID == sess.ID {
			stored = s
		}
	}
	require.NotNil(t, stored)
	assert.Contains(t, stored.ContextSnapshots, snap.ID)
}

func TestContinuity_TimelineUnknownConversation(t *testing.T) {
	engine, _ := newEngine()

	tl, err := engine.Timeline(context.Background(), "never-created")
	require.NoError(t, err)
	assert.Nil(t, tl)
}

func TestContinuity_UnknownSession(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	_, err := engine.RecordTurn(ctx, "no-such-session", "t1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = engine.CompleteSession(ctx, "no-such-session")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = engine.CaptureCheckpoint(ctx, "no-such-session")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestContinuity_TurnAfterTermination(t *testing.T) {
	engine, _ := newEngine()
	ctx := context.Background()

	sess, err := engine.BeginSession(ctx, "conv-1", "claude", 1)
	require.NoError(t, err)
	_, err = engine.FailSession(ctx, sess.ID)
	require.NoError(t, err)

	_, err = engine.RecordTurn(ctx, sess.ID, "t1")
	assert.ErrorIs(t, err, core.ErrSessionNotActive)

	// Terminal states are closed.
	_, err = engine.ResumeSession(ctx, sess.ID)
	var transitionErr *core.InvalidSessionTransitionError
	assert.ErrorAs(t, err, &transitionErr)
}

func TestContinuity_BeginSessionRejectsBadStart(t *testing.T) {
	engine, _ := newEngine()

	_, err := engine.BeginSession(context.Background(), "conv-1", "claude", 0)
	assert.Error(t, err)
}
