// Package snapshot implements context snapshot capture: deriving a bounded,
// immutable view of the message log plus visible tool calls at a point in
// time. The summarization strategy is pluggable (Summarizer); token counting
// is pluggable too (TokenEstimator), with a BPE-backed implementation and a
// cheap heuristic fallback. Snapshots exist for audit and replay only and
// never feed back into log ordering.
package snapshot
