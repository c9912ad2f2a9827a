package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agentrelay/agentrelay/core"
)

// Conversations is a durable core.ConversationRepository.
type Conversations struct {
	db    *sql.DB
	clock core.Clock
}

// Ensure returns the conversation, creating an active one if absent.
func (r *Conversations) Ensure(ctx context.Context, conversationID string) (*core.Conversation, error) {
	conv, err := r.FindByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	conv = core.NewConversation(conversationID, r.clock.Now())
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO conversations (id, state, created_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		conv.ID, string(conv.State), toMillis(conv.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return r.FindByID(ctx, conversationID)
}

// FindByID returns the conversation or (nil, nil) when absent.
func (r *Conversations) FindByID(ctx context.Context, conversationID string) (*core.Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, state, created_at_ms FROM conversations WHERE id = ?`, conversationID)
	var (
		conv      core.Conversation
		state     string
		createdMS int64
	)
	if err := row.Scan(&conv.ID, &state, &createdMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	conv.State = core.ConversationState(state)
	conv.CreatedAt = fromMillis(createdMS)
	return &conv, nil
}

// Messages is a durable core.MessageRepository.
type Messages struct {
	db *sql.DB
}

// Append stores a message, rejecting identity collisions before ordering
// collisions. The unique index on (conversation_id, sequence_number) backs
// the check even across processes.
func (r *Messages) Append(ctx context.Context, msg *core.Message) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, msg.ID).Scan(&exists)
	if err == nil {
		return fmt.Errorf("message %s: %w", msg.ID, core.ErrDuplicateMessageID)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check message id: %w", err)
	}
	err = r.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages WHERE conversation_id = ? AND sequence_number = ?`,
		msg.ConversationID, msg.SequenceNumber).Scan(&exists)
	if err == nil {
		return fmt.Errorf("conversation %s sequence %d: %w", msg.ConversationID, msg.SequenceNumber, core.ErrDuplicateSequence)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check sequence: %w", err)
	}

	partsJSON, err := encodeParts(msg.Parts)
	if err != nil {
		return err
	}
	metaJSON, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, parts_json, sequence_number, metadata_json, created_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), partsJSON, msg.SequenceNumber, metaJSON, toMillis(msg.CreatedAt))
	if err != nil {
		return mapAppendErr(err, msg)
	}
	return nil
}

// mapAppendErr translates unique-constraint violations raised by the insert
// itself into the repository sentinels. The pre-insert checks catch most
// duplicates; the primary key and the (conversation_id, sequence_number)
// index are the backstop when another process wins the race between check
// and insert, and their violations must surface as the same errors.
func mapAppendErr(err error, msg *core.Message) error {
	s := err.Error()
	if strings.Contains(s, "UNIQUE constraint failed") {
		if strings.Contains(s, "messages.id") {
			return fmt.Errorf("message %s: %w", msg.ID, core.ErrDuplicateMessageID)
		}
		if strings.Contains(s, "messages.conversation_id") {
			return fmt.Errorf("conversation %s sequence %d: %w", msg.ConversationID, msg.SequenceNumber, core.ErrDuplicateSequence)
		}
	}
	return fmt.Errorf("insert message: %w", err)
}

// FindByConversation returns the conversation's messages in ascending
// sequence order.
func (r *Messages) FindByConversation(ctx context.Context, conversationID string) ([]*core.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, parts_json, sequence_number, metadata_json, created_at_ms
		 FROM messages WHERE conversation_id = ? ORDER BY sequence_number ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []*core.Message{}
	for rows.Next() {
		var (
			msg       core.Message
			role      string
			partsJSON string
			metaJSON  string
			createdMS int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &partsJSON, &msg.SequenceNumber, &metaJSON, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = core.Role(role)
		if msg.Parts, err = decodeParts(partsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		msg.CreatedAt = fromMillis(createdMS)
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// Sessions is a durable core.SessionRepository.
type Sessions struct {
	db *sql.DB
}

// Save upserts the full session state.
func (r *Sessions) Save(ctx context.Context, session *core.AgentSession) error {
	turnsJSON, err := encodeJSON(session.TurnIDs)
	if err != nil {
		return fmt.Errorf("encode turn ids: %w", err)
	}
	snapsJSON, err := encodeJSON(session.ContextSnapshots)
	if err != nil {
		return fmt.Errorf("encode snapshot ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, conversation_id, agent_backend, start_sequence, end_sequence,
			turn_ids_json, initiated_by_handoff, terminated_by_handoff, snapshots_json, state, started_at_ms, ended_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			end_sequence = excluded.end_sequence,
			turn_ids_json = excluded.turn_ids_json,
			terminated_by_handoff = excluded.terminated_by_handoff,
			snapshots_json = excluded.snapshots_json,
			state = excluded.state,
			ended_at_ms = excluded.ended_at_ms`,
		session.ID, session.ConversationID, session.AgentBackend, session.StartSequence,
		nullableInt64(session.EndSequence), turnsJSON, nullableString(session.InitiatedByHandoff),
		nullableString(session.TerminatedByHandoff), snapsJSON, string(session.State),
		toMillis(session.StartedAt), nullableMillis(session.EndedAt))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// FindByID returns the session or (nil, nil) when absent.
func (r *Sessions) FindByID(ctx context.Context, sessionID string) (*core.AgentSession, error) {
	sessions, err := r.query(ctx, `WHERE id = ?`, sessionID)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// FindActiveForConversation returns the at-most-one Active session, or
// (nil, nil).
func (r *Sessions) FindActiveForConversation(ctx context.Context, conversationID string) (*core.AgentSession, error) {
	sessions, err := r.query(ctx, `WHERE conversation_id = ? AND state = ?`, conversationID, string(core.SessionActive))
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// FindByConversation returns the conversation's sessions ordered by start
// time.
func (r *Sessions) FindByConversation(ctx context.Context, conversationID string) ([]*core.AgentSession, error) {
	return r.query(ctx, `WHERE conversation_id = ? ORDER BY started_at_ms ASC, id ASC`, conversationID)
}

func (r *Sessions) query(ctx context.Context, where string, args ...any) ([]*core.AgentSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, agent_backend, start_sequence, end_sequence, turn_ids_json,
			initiated_by_handoff, terminated_by_handoff, snapshots_json, state, started_at_ms, ended_at_ms
		 FROM sessions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []*core.AgentSession{}
	for rows.Next() {
		var (
			sess       core.AgentSession
			endSeq     sql.NullInt64
			turnsJSON  string
			initBy     sql.NullString
			termBy     sql.NullString
			snapsJSON  string
			state      string
			startedMS  int64
			endedMS    sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.ConversationID, &sess.AgentBackend, &sess.StartSequence,
			&endSeq, &turnsJSON, &initBy, &termBy, &snapsJSON, &state, &startedMS, &endedMS); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if endSeq.Valid {
			v := endSeq.Int64
			sess.EndSequence = &v
		}
		if err := json.Unmarshal([]byte(turnsJSON), &sess.TurnIDs); err != nil {
			return nil, fmt.Errorf("decode turn ids: %w", err)
		}
		if initBy.Valid {
			v := initBy.String
			sess.InitiatedByHandoff = &v
		}
		if termBy.Valid {
			v := termBy.String
			sess.TerminatedByHandoff = &v
		}
		if err := json.Unmarshal([]byte(snapsJSON), &sess.ContextSnapshots); err != nil {
			return nil, fmt.Errorf("decode snapshot ids: %w", err)
		}
		sess.State = core.SessionState(state)
		sess.StartedAt = fromMillis(startedMS)
		if endedMS.Valid {
			t := fromMillis(endedMS.Int64)
			sess.EndedAt = &t
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// Handoffs is a durable core.HandoffRepository.
type Handoffs struct {
	db *sql.DB
}

// Save upserts the full handoff state.
func (r *Handoffs) Save(ctx context.Context, handoff *core.Handoff) error {
	callsJSON, err := encodeJSON(handoff.TriggeringToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO handoffs (id, conversation_id, source_session_id, target_session_id, prior_turn_id,
			tool_calls_json, source_agent, target_agent, reason, failure_reason, status, initiated_at_ms, completed_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			target_session_id = excluded.target_session_id,
			failure_reason = excluded.failure_reason,
			status = excluded.status,
			completed_at_ms = excluded.completed_at_ms`,
		handoff.ID, handoff.ConversationID, handoff.SourceSessionID, nullableString(handoff.TargetSessionID),
		handoff.PriorTurnID, callsJSON, handoff.SourceAgent, handoff.TargetAgent,
		nullableString(handoff.Reason), nullableString(handoff.FailureReason), string(handoff.Status),
		toMillis(handoff.InitiatedAt), nullableMillis(handoff.CompletedAt))
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// FindByID returns the handoff or (nil, nil) when absent.
func (r *Handoffs) FindByID(ctx context.Context, handoffID string) (*core.Handoff, error) {
	handoffs, err := r.query(ctx, `WHERE id = ?`, handoffID)
	if err != nil || len(handoffs) == 0 {
		return nil, err
	}
	return handoffs[0], nil
}

// FindByConversation returns handoffs ordered by initiation time.
func (r *Handoffs) FindByConversation(ctx context.Context, conversationID string) ([]*core.Handoff, error) {
	return r.query(ctx, `WHERE conversation_id = ? ORDER BY initiated_at_ms ASC, id ASC`, conversationID)
}

func (r *Handoffs) query(ctx context.Context, where string, args ...any) ([]*core.Handoff, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, source_session_id, target_session_id, prior_turn_id, tool_calls_json,
			source_agent, target_agent, reason, failure_reason, status, initiated_at_ms, completed_at_ms
		 FROM handoffs `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query handoffs: %w", err)
	}
	defer rows.Close()

	out := []*core.Handoff{}
	for rows.Next() {
		var (
			h           core.Handoff
			target      sql.NullString
			callsJSON   string
			reason      sql.NullString
			failReason  sql.NullString
			status      string
			initiatedMS int64
			completedMS sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &h.ConversationID, &h.SourceSessionID, &target, &h.PriorTurnID,
			&callsJSON, &h.SourceAgent, &h.TargetAgent, &reason, &failReason, &status, &initiatedMS, &completedMS); err != nil {
			return nil, fmt.Errorf("scan handoff: %w", err)
		}
		if target.Valid {
			v := target.String
			h.TargetSessionID = &v
		}
		if err := json.Unmarshal([]byte(callsJSON), &h.TriggeringToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		if reason.Valid {
			v := reason.String
			h.Reason = &v
		}
		if failReason.Valid {
			v := failReason.String
			h.FailureReason = &v
		}
		h.Status = core.HandoffStatus(status)
		h.InitiatedAt = fromMillis(initiatedMS)
		if completedMS.Valid {
			t := fromMillis(completedMS.Int64)
			h.CompletedAt = &t
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

// Snapshots is a durable core.SnapshotRepository.
type Snapshots struct {
	db *sql.DB
}

// Save inserts a snapshot. Snapshots are immutable so an existing id is
// rejected by the primary key.
func (r *Snapshots) Save(ctx context.Context, snapshot *core.ContextSnapshot) error {
	callsJSON, err := encodeJSON(snapshot.VisibleToolCalls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, conversation_id, session_id, sequence_start, sequence_end,
			message_summary, tool_calls_json, token_estimate, captured_at_ms, snapshot_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.ID, snapshot.ConversationID, snapshot.SessionID, snapshot.SequenceStart, snapshot.SequenceEnd,
		snapshot.MessageSummary, callsJSON, nullableInt(snapshot.TokenEstimate),
		toMillis(snapshot.CapturedAt), string(snapshot.Type))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// FindByID returns the snapshot or (nil, nil) when absent.
func (r *Snapshots) FindByID(ctx context.Context, snapshotID string) (*core.ContextSnapshot, error) {
	snaps, err := r.query(ctx, `WHERE id = ?`, snapshotID)
	if err != nil || len(snaps) == 0 {
		return nil, err
	}
	return snaps[0], nil
}

// FindBySession returns the session's snapshots ordered by capture time.
func (r *Snapshots) FindBySession(ctx context.Context, sessionID string) ([]*core.ContextSnapshot, error) {
	return r.query(ctx, `WHERE session_id = ? ORDER BY captured_at_ms ASC, id ASC`, sessionID)
}

// FindByConversation returns the conversation's snapshots ordered by
// capture time.
func (r *Snapshots) FindByConversation(ctx context.Context, conversationID string) ([]*core.ContextSnapshot, error) {
	return r.query(ctx, `WHERE conversation_id = ? ORDER BY captured_at_ms ASC, id ASC`, conversationID)
}

func (r *Snapshots) query(ctx context.Context, where string, args ...any) ([]*core.ContextSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, conversation_id, session_id, sequence_start, sequence_end, message_summary,
			tool_calls_json, token_estimate, captured_at_ms, snapshot_type
		 FROM snapshots `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := []*core.ContextSnapshot{}
	for rows.Next() {
		var (
			snap       core.ContextSnapshot
			callsJSON  string
			tokens     sql.NullInt64
			capturedMS int64
			snapType   string
		)
		if err := rows.Scan(&snap.ID, &snap.ConversationID, &snap.SessionID, &snap.SequenceStart,
			&snap.SequenceEnd, &snap.MessageSummary, &callsJSON, &tokens, &capturedMS, &snapType); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(callsJSON), &snap.VisibleToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		if tokens.Valid {
			v := int(tokens.Int64)
			snap.TokenEstimate = &v
		}
		snap.CapturedAt = fromMillis(capturedMS)
		snap.Type = core.SnapshotType(snapType)
		out = append(out, &snap)
	}
	return out, rows.Err()
}
