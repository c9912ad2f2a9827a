// Package core provides the foundational domain types, state machines and
// interfaces used by AgentRelay. It defines the core abstractions for:
//
//   - Conversations and their append-only Message history
//   - Agent sessions (exclusive ownership of a span of conversation turns)
//   - Handoffs (controlled transfer of ownership between sessions)
//   - Context snapshots (immutable, bounded views for audit and replay)
//   - Repository ports and a Clock abstraction for deterministic time
//
// The package intentionally keeps implementation concerns (persistence,
// summarization strategies, orchestration) out of scope, exposing small
// interfaces to enable custom backends and extensions. State machine rules
// live on the entities themselves so invariants are visible and testable at
// the domain layer rather than hidden in storage triggers.
package core
