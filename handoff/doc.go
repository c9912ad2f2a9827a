// Package handoff implements the coordinator that transfers conversation
// ownership between agent sessions. It drives both state machines in
// lockstep: initiating a handoff releases the source session and captures a
// context snapshot, completing one materializes the successor session, and
// cancelling one reinstates the source. All read-then-write sequences are
// serialized per conversation.
package handoff
