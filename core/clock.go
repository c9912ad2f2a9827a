package core

import "time"

// Clock abstracts the source of timestamps so every time-dependent rule
// (ended_at stamping, snapshot capture times, handoff completion) can be
// driven deterministically in tests. Nothing in the engine reads ambient
// system time directly; a Clock is injected everywhere a timestamp is made.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
