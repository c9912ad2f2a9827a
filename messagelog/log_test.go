package messagelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/internal/testutil"
	"github.com/agentrelay/agentrelay/store/inmemory"
)

func newTestLog() *Log {
	clock := testutil.NewFixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := inmemory.NewStore(clock)
	return New(store.Conversations, store.Messages, clock, nil)
}

func textParts(s string) []core.Part { return []core.Part{core.TextPart{Text: s}} }

func TestLog_AppendAndListInOrder(t *testing.T) {
	log := newTestLog()
	ctx := context.Background()

	// Append out of arrival order; list must come back by sequence.
	for _, seq := range []int64{2, 1, 3} {
		_, err := log.Append(ctx, "conv-1", core.RoleUser, textParts("m"), core.MessageMetadata{}, seq)
		require.NoError(t, err)
	}

	msgs, err := log.List(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.SequenceNumber)
	}
}

func TestLog_DuplicateSequenceRejected(t *testing.T) {
	log := newTestLog()
	ctx := context.Background()

	_, err := log.Append(ctx, "conv-1", core.RoleUser, textParts("first"), core.MessageMetadata{}, 1)
	require.NoError(t, err)

	// Different message id, same (conversation, sequence).
	_, err = log.Append(ctx, "conv-1", core.RoleAssistant, textParts("second"), core.MessageMetadata{}, 1)
	assert.ErrorIs(t, err, core.ErrDuplicateSequence)

	// Same sequence in another conversation is fine.
	_, err = log.Append(ctx, "conv-2", core.RoleUser, textParts("other"), core.MessageMetadata{}, 1)
	assert.NoError(t, err)
}

func TestLog_DuplicateMessageIDRejected(t *testing.T) {
	clock := testutil.NewFixedClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := inmemory.NewStore(clock)
	ctx := context.Background()

	msg := testutil.NewMessageBuilder("conv-1", 1).UserText("hi").Build()
	require.NoError(t, store.Messages.Append(ctx, msg))

	dup := testutil.NewMessageBuilder("conv-1", 2).UserText("hi again").Build()
	dup.ID = msg.ID
	err := store.Messages.Append(ctx, dup)
	assert.ErrorIs(t, err, core.ErrDuplicateMessageID)
	assert.NotErrorIs(t, err, core.ErrDuplicateSequence)
}

func TestLog_ValidationBeforeWrite(t *testing.T) {
	log := newTestLog()
	ctx := context.Background()

	meta := core.MessageMetadata{ToolCalls: []core.ToolCallAudit{{ToolName: "search"}}}
	_, err := log.Append(ctx, "conv-1", core.RoleAssistant, textParts("x"), meta, 1)
	assert.ErrorIs(t, err, core.ErrMissingCallID)

	// The rejected message left no trace; the sequence is still free.
	_, err = log.Append(ctx, "conv-1", core.RoleAssistant, textParts("x"), core.MessageMetadata{}, 1)
	assert.NoError(t, err)
}

func TestLog_RangeAndLatestSequence(t *testing.T) {
	log := newTestLog()
	ctx := context.Background()

	latest, err := log.LatestSequence(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)

	for seq := int64(1); seq <= 5; seq++ {
		_, err := log.Append(ctx, "conv-1", core.RoleUser, textParts("m"), core.MessageMetadata{}, seq)
		require.NoError(t, err)
	}

	latest, err = log.LatestSequence(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)

	msgs, err := log.Range(ctx, "conv-1", 2, 4)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(2), msgs[0].SequenceNumber)
	assert.Equal(t, int64(4), msgs[2].SequenceNumber)

	_, err = log.Range(ctx, "conv-1", 4, 2)
	assert.Error(t, err)
}

func TestLog_ResolveTurn(t *testing.T) {
	log := newTestLog()
	ctx := context.Background()

	_, err := log.Append(ctx, "conv-1", core.RoleUser, textParts("q"), core.MessageMetadata{TurnID: "turn-1"}, 1)
	require.NoError(t, err)
	_, err = log.Append(ctx, "conv-1", core.RoleAssistant, textParts("a"), core.MessageMetadata{TurnID: "turn-1"}, 2)
	require.NoError(t, err)
	_, err = log.Append(ctx, "conv-1", core.RoleUser, textParts("q2"), core.MessageMetadata{TurnID: "turn-2"}, 3)
	require.NoError(t, err)

	// A turn resolves to its highest sequence.
	seq, ok, err := log.ResolveTurn(ctx, "conv-1", "turn-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), seq)

	_, ok, err = log.ResolveTurn(ctx, "conv-1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
