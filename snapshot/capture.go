package snapshot

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/messagelog"
)

// Summarizer derives an opaque message summary from a slice of log
// messages. Strategies are policy: the engine only guarantees the snapshot
// range is explicit and verifiable against the log.
type Summarizer interface {
	Summarize(msgs []*core.Message) string
}

// TruncationSummarizer renders role-prefixed text lines and truncates the
// result to MaxChars. Zero MaxChars means no limit.
type TruncationSummarizer struct {
	MaxChars int
}

// Summarize implements Summarizer.
func (s TruncationSummarizer) Summarize(msgs []*core.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		text := m.TextContent()
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(text)
	}
	out := b.String()
	if s.MaxChars > 0 && len(out) > s.MaxChars {
		out = out[:s.MaxChars]
	}
	return out
}

// Capturer captures and verifies context snapshots over the message log.
type Capturer struct {
	log       *messagelog.Log
	snapshots core.SnapshotRepository
	summarize Summarizer
	estimate  TokenEstimator
	clock     core.Clock
	logger    logging.Logger
}

// NewCapturer creates a capturer. Nil strategy arguments fall back to a
// 4000-char truncation summarizer, the heuristic token estimator, the
// system clock and a no-op logger.
func NewCapturer(log *messagelog.Log, snapshots core.SnapshotRepository, summarizer Summarizer, estimator TokenEstimator, clock core.Clock, logger logging.Logger) *Capturer {
	if summarizer == nil {
		summarizer = TruncationSummarizer{MaxChars: 4000}
	}
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Capturer{log: log, snapshots: snapshots, summarize: summarizer, estimate: estimator, clock: clock, logger: logger}
}

// Capture reads the log over [start, end], derives the summary and visible
// tool calls, and stores an immutable snapshot. The range must satisfy
// 1 <= start <= end; an empty message slice within a valid range is allowed
// (the session saw nothing yet).
func (c *Capturer) Capture(ctx context.Context, conversationID, sessionID string, start, end int64, typ core.SnapshotType) (*core.ContextSnapshot, error) {
	msgs, err := c.log.Range(ctx, conversationID, start, end)
	if err != nil {
		return nil, err
	}

	visible := []core.ToolCallRef{}
	for _, m := range msgs {
		visible = append(visible, m.ToolCallRefs()...)
	}

	snap := &core.ContextSnapshot{
		ID:               core.NewID(),
		ConversationID:   conversationID,
		SessionID:        sessionID,
		SequenceStart:    start,
		SequenceEnd:      end,
		MessageSummary:   c.summarize.Summarize(msgs),
		VisibleToolCalls: visible,
		CapturedAt:       c.clock.Now(),
		Type:             typ,
	}
	if n, err := c.estimate.Estimate(snap.MessageSummary); err == nil {
		snap.TokenEstimate = &n
	} else {
		// Estimates are advisory; a failing estimator leaves the field
		// unset but should not go unnoticed.
		c.logger.Debug("token estimate unavailable", "snapshot_id", snap.ID, "error", err.Error())
	}

	if err := c.snapshots.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	c.logger.Debug("snapshot captured", "snapshot_id", snap.ID, "type", string(typ), "range_start", start, "range_end", end)
	return snap, nil
}

// Verify checks a snapshot's self-described range against the current log:
// the bounds must be well formed and the messages inside the range must
// reproduce the snapshot's recorded tool call references, in order. The
// recomputation is strategy-independent (unlike the summary, which depends
// on the configured Summarizer), so any verifier reaches the same verdict.
// It returns nil when the snapshot is consistent with the log.
func (c *Capturer) Verify(ctx context.Context, snap *core.ContextSnapshot) error {
	if snap.SequenceStart < 1 || snap.SequenceEnd < snap.SequenceStart {
		return fmt.Errorf("snapshot %s declares invalid range [%d, %d]", snap.ID, snap.SequenceStart, snap.SequenceEnd)
	}
	msgs, err := c.log.Range(ctx, snap.ConversationID, snap.SequenceStart, snap.SequenceEnd)
	if err != nil {
		return err
	}
	refs := []core.ToolCallRef{}
	for _, m := range msgs {
		refs = append(refs, m.ToolCallRefs()...)
	}
	if len(refs) != len(snap.VisibleToolCalls) {
		return fmt.Errorf("snapshot %s records %d visible tool calls but log range [%d, %d] carries %d",
			snap.ID, len(snap.VisibleToolCalls), snap.SequenceStart, snap.SequenceEnd, len(refs))
	}
	for i, ref := range refs {
		if ref != snap.VisibleToolCalls[i] {
			return fmt.Errorf("snapshot %s tool call %d diverges from the log: recorded %s (%s), log has %s (%s)",
				snap.ID, i, snap.VisibleToolCalls[i].CallID, snap.VisibleToolCalls[i].ToolName, ref.CallID, ref.ToolName)
		}
	}
	return nil
}
