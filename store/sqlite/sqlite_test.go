package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/internal/testutil"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "relay.db"), testutil.NewFixedClock(t0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConversations_EnsureRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Conversations.Ensure(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, core.ConversationActive, conv.State)
	assert.Equal(t, t0, conv.CreatedAt)

	again, err := store.Conversations.Ensure(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, conv.CreatedAt, again.CreatedAt)

	missing, err := store.Conversations.FindByID(ctx, "conv-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessages_RoundTripAndDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msg := testutil.NewMessageBuilder("conv-1", 1).AssistantText("hello").
		Data(map[string]any{"score": "high"}).
		Turn("turn-1").Backend("claude").
		ToolCall("call-1", "search", core.ToolCallSucceeded).
		At(t0).Build()
	require.NoError(t, store.Messages.Append(ctx, msg))

	msgs, err := store.Messages.FindByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, core.RoleAssistant, got.Role)
	assert.Equal(t, "hello", got.TextContent())
	assert.Equal(t, "turn-1", got.Metadata.TurnID)
	assert.Equal(t, "claude", got.Metadata.AgentBackend)
	require.Len(t, got.Metadata.ToolCalls, 1)
	assert.Equal(t, "call-1", got.Metadata.ToolCalls[0].CallID)
	assert.Equal(t, t0, got.CreatedAt)
	require.Len(t, got.Parts, 2)
	data, ok := got.Parts[1].(core.DataPart)
	require.True(t, ok)
	assert.Equal(t, "high", data.Data["score"])

	dupSeq := testutil.NewMessageBuilder("conv-1", 1).UserText("clash").Build()
	assert.ErrorIs(t, store.Messages.Append(ctx, dupSeq), core.ErrDuplicateSequence)

	dupID := testutil.NewMessageBuilder("conv-1", 2).UserText("clash").Build()
	dupID.ID = msg.ID
	assert.ErrorIs(t, store.Messages.Append(ctx, dupID), core.ErrDuplicateMessageID)

	// Same sequence in another conversation is fine.
	other := testutil.NewMessageBuilder("conv-2", 1).UserText("ok").Build()
	assert.NoError(t, store.Messages.Append(ctx, other))
}

func TestMapAppendErr(t *testing.T) {
	msg := testutil.NewMessageBuilder("conv-1", 3).UserText("hi").Build()

	err := mapAppendErr(errors.New("constraint failed: UNIQUE constraint failed: messages.id (1555)"), msg)
	assert.ErrorIs(t, err, core.ErrDuplicateMessageID)

	err = mapAppendErr(errors.New("constraint failed: UNIQUE constraint failed: messages.conversation_id, messages.sequence_number (2067)"), msg)
	assert.ErrorIs(t, err, core.ErrDuplicateSequence)

	// Unrelated driver errors pass through unmapped.
	err = mapAppendErr(errors.New("database is locked (5)"), msg)
	assert.NotErrorIs(t, err, core.ErrDuplicateMessageID)
	assert.NotErrorIs(t, err, core.ErrDuplicateSequence)
	assert.ErrorContains(t, err, "insert message")
}

func TestSessions_UpsertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := testutil.NewSessionBuilder("conv-1", "claude").Start(4).Turns("t1", "t2").At(t0).Build()
	require.NoError(t, store.Sessions.Save(ctx, sess))

	got, err := store.Sessions.FindByID(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(4), got.StartSequence)
	assert.Equal(t, []string{"t1", "t2"}, got.TurnIDs)
	assert.Equal(t, core.SessionActive, got.State)
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.EndSequence)

	active, err := store.Sessions.FindActiveForConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sess.ID, active.ID)

	// Terminate and re-save: the row follows the entity.
	handoffID := "handoff-1"
	require.NoError(t, sess.TransitionTo(core.SessionHandedOff, t0.Add(time.Minute)))
	sess.TerminatedByHandoff = &handoffID
	end := int64(9)
	sess.EndSequence = &end
	sess.AttachSnapshot("snap-1")
	require.NoError(t, store.Sessions.Save(ctx, sess))

	got, err = store.Sessions.FindByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionHandedOff, got.State)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.EndedAt)
	require.NotNil(t, got.EndSequence)
	assert.Equal(t, int64(9), *got.EndSequence)
	require.NotNil(t, got.TerminatedByHandoff)
	assert.Equal(t, "handoff-1", *got.TerminatedByHandoff)
	assert.Equal(t, []string{"snap-1"}, got.ContextSnapshots)

	none, err := store.Sessions.FindActiveForConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSessions_ConversationOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	second := testutil.NewSessionBuilder("conv-1", "gpt").At(t0.Add(time.Hour)).Build()
	first := testutil.NewSessionBuilder("conv-1", "claude").State(core.SessionCompleted).At(t0).Build()
	require.NoError(t, store.Sessions.Save(ctx, second))
	require.NoError(t, store.Sessions.Save(ctx, first))

	all, err := store.Sessions.FindByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
}

func TestHandoffs_UpsertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reason := "needs code execution"
	h := core.NewHandoff("conv-1", "sess-1", "turn-1",
		[]core.ToolCallRef{{CallID: "call-1", ToolName: "execute"}}, "claude", "gpt", &reason, t0)
	require.NoError(t, store.Handoffs.Save(ctx, h))

	got, err := store.Handoffs.FindByID(ctx, h.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.HandoffInitiated, got.Status)
	assert.Equal(t, "turn-1", got.PriorTurnID)
	require.NotNil(t, got.Reason)
	assert.Equal(t, reason, *got.Reason)
	require.Len(t, got.TriggeringToolCalls, 1)
	assert.Nil(t, got.TargetSessionID)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, h.Accept("sess-2"))
	require.NoError(t, h.Complete(t0.Add(time.Minute)))
	require.NoError(t, store.Handoffs.Save(ctx, h))

	got, err = store.Handoffs.FindByID(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, core.HandoffCompleted, got.Status)
	require.NotNil(t, got.TargetSessionID)
	assert.Equal(t, "sess-2", *got.TargetSessionID)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, t0.Add(time.Minute), *got.CompletedAt)
}

func TestSnapshots_InsertOnlyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tokens := 42
	snap := &core.ContextSnapshot{
		ID:               core.NewID(),
		ConversationID:   "conv-1",
		SessionID:        "sess-1",
		SequenceStart:    1,
		SequenceEnd:      5,
		MessageSummary:   "user: hello\nassistant: hi",
		VisibleToolCalls: []core.ToolCallRef{{CallID: "call-1", ToolName: "search"}},
		TokenEstimate:    &tokens,
		CapturedAt:       t0,
		Type:             core.SnapshotHandoffInitiated,
	}
	require.NoError(t, store.Snapshots.Save(ctx, snap))
	assert.Error(t, store.Snapshots.Save(ctx, snap)) // immutable, same id

	got, err := store.Snapshots.FindByID(ctx, snap.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.MessageSummary, got.MessageSummary)
	assert.Equal(t, core.SnapshotHandoffInitiated, got.Type)
	require.NotNil(t, got.TokenEstimate)
	assert.Equal(t, 42, *got.TokenEstimate)
	require.Len(t, got.VisibleToolCalls, 1)

	bySession, err := store.Snapshots.FindBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, bySession, 1)
	byConv, err := store.Snapshots.FindByConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, byConv, 1)
}
