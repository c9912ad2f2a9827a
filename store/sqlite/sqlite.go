package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/agentrelay/agentrelay/core"
)

// Store bundles one SQLite-backed implementation of every core repository
// port, all sharing a single database handle.
type Store struct {
	db *sql.DB

	Conversations *Conversations
	Messages      *Messages
	Sessions      *Sessions
	Handoffs      *Handoffs
	Snapshots     *Snapshots
}

// NewStore creates/opens the database at path and prepares the schema. A
// nil clock falls back to the system clock; it is only used for
// conversation creation timestamps.
func NewStore(path string, clock core.Clock) (*Store, error) {
	if clock == nil {
		clock = core.SystemClock{}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process engine. Use one shared connection to avoid writer
	// lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.Conversations = &Conversations{db: db, clock: clock}
	s.Messages = &Messages{db: db}
	s.Sessions = &Sessions{db: db}
	s.Handoffs = &Handoffs{db: db}
	s.Snapshots = &Snapshots{db: db}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts_json TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_conversation_seq ON messages(conversation_id, sequence_number);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			agent_backend TEXT NOT NULL,
			start_sequence INTEGER NOT NULL,
			end_sequence INTEGER,
			turn_ids_json TEXT NOT NULL DEFAULT '[]',
			initiated_by_handoff TEXT,
			terminated_by_handoff TEXT,
			snapshots_json TEXT NOT NULL DEFAULT '[]',
			state TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_conversation_idx ON sessions(conversation_id, started_at_ms);`,
		`CREATE TABLE IF NOT EXISTS handoffs (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			source_session_id TEXT NOT NULL,
			target_session_id TEXT,
			prior_turn_id TEXT NOT NULL,
			tool_calls_json TEXT NOT NULL DEFAULT '[]',
			source_agent TEXT NOT NULL,
			target_agent TEXT NOT NULL,
			reason TEXT,
			failure_reason TEXT,
			status TEXT NOT NULL,
			initiated_at_ms INTEGER NOT NULL,
			completed_at_ms INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS handoffs_conversation_idx ON handoffs(conversation_id, initiated_at_ms);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			sequence_start INTEGER NOT NULL,
			sequence_end INTEGER NOT NULL,
			message_summary TEXT NOT NULL DEFAULT '',
			tool_calls_json TEXT NOT NULL DEFAULT '[]',
			token_estimate INTEGER,
			captured_at_ms INTEGER NOT NULL,
			snapshot_type TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS snapshots_session_idx ON snapshots(session_id, captured_at_ms);`,
		`CREATE INDEX IF NOT EXISTS snapshots_conversation_idx ON snapshots(conversation_id, captured_at_ms);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Compile-time port checks.
var (
	_ core.ConversationRepository = (*Conversations)(nil)
	_ core.MessageRepository      = (*Messages)(nil)
	_ core.SessionRepository      = (*Sessions)(nil)
	_ core.HandoffRepository      = (*Handoffs)(nil)
	_ core.SnapshotRepository     = (*Snapshots)(nil)
)
