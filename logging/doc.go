// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug
// any structured logger. It also offers a richer RelayLogger with contextual
// helpers (conversation, session, component) and domain specific helpers for
// handoffs and snapshot captures.
//
// The engine itself never logs in place of returning an error: typed errors
// are always propagated to the caller, and logging here is observability
// only.
package logging
