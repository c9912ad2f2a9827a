package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation requires an entity that does
	// not exist. Pure lookups never return it: repositories report an absent
	// entity as (nil, nil) so callers can distinguish "absent" from "failed".
	ErrNotFound = errors.New("entity not found")

	// ErrMissingCallID rejects message metadata containing a tool call audit
	// without a call_id. Raised before any write occurs.
	ErrMissingCallID = errors.New("tool call audit missing call_id")

	// ErrInvalidMetadata rejects structurally invalid message metadata, such
	// as duplicate call_ids within one message. Raised before any write.
	ErrInvalidMetadata = errors.New("invalid message metadata")

	// ErrDuplicateMessageID signals an identity collision: a message with the
	// same globally unique id already exists.
	ErrDuplicateMessageID = errors.New("duplicate message id")

	// ErrDuplicateSequence signals an ordering collision: the conversation
	// already holds a message at that sequence number.
	ErrDuplicateSequence = errors.New("duplicate sequence number")

	// ErrConflictingActiveSession is returned when starting a session for a
	// conversation that already has an Active one.
	ErrConflictingActiveSession = errors.New("conversation already has an active session")

	// ErrSessionNotActive is returned when recording a turn against a session
	// that is neither Active nor Paused.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrSourceSessionNotEligible is returned when initiating a handoff from
	// a session that is neither Active nor Paused.
	ErrSourceSessionNotEligible = errors.New("source session not eligible for handoff")

	// ErrInvalidSessionTransition is the match target for
	// InvalidSessionTransitionError via errors.Is.
	ErrInvalidSessionTransition = errors.New("invalid session transition")

	// ErrInvalidHandoffTransition is the match target for
	// InvalidHandoffTransitionError via errors.Is.
	ErrInvalidHandoffTransition = errors.New("invalid handoff transition")

	// ErrOutOfOrderHandoff is the match target for OutOfOrderHandoffError
	// via errors.Is.
	ErrOutOfOrderHandoff = errors.New("handoff out of order")
)

// InvalidSessionTransitionError reports a session transition rejected by the
// state machine, carrying the offending pair for callers and logs.
type InvalidSessionTransitionError struct {
	From SessionState
	To   SessionState
}

// Error implements the error interface.
func (e *InvalidSessionTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition from %s to %s", e.From, e.To)
}

// Unwrap makes the error match ErrInvalidSessionTransition with errors.Is.
func (e *InvalidSessionTransitionError) Unwrap() error { return ErrInvalidSessionTransition }

// InvalidHandoffTransitionError reports a handoff status change rejected by
// the state machine.
type InvalidHandoffTransitionError struct {
	From HandoffStatus
	To   HandoffStatus
}

// Error implements the error interface.
func (e *InvalidHandoffTransitionError) Error() string {
	return fmt.Sprintf("invalid handoff transition from %s to %s", e.From, e.To)
}

// Unwrap makes the error match ErrInvalidHandoffTransition with errors.Is.
func (e *InvalidHandoffTransitionError) Unwrap() error { return ErrInvalidHandoffTransition }

// OutOfOrderHandoffError rejects an initiate whose prior turn precedes the
// prior turn of a handoff that already completed for the same conversation,
// preventing a stale handoff from being replayed after a newer one landed.
type OutOfOrderHandoffError struct {
	ConversationID     string
	PriorTurnID        string
	CompletedHandoffID string
}

// Error implements the error interface.
func (e *OutOfOrderHandoffError) Error() string {
	return fmt.Sprintf("handoff for turn %s in conversation %s precedes completed handoff %s",
		e.PriorTurnID, e.ConversationID, e.CompletedHandoffID)
}

// Unwrap makes the error match ErrOutOfOrderHandoff with errors.Is.
func (e *OutOfOrderHandoffError) Unwrap() error { return ErrOutOfOrderHandoff }
