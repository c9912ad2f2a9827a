// Package messagelog implements the append-only message log, the ordering
// backbone every other component references. It validates messages before
// any write, distinguishes identity collisions from ordering collisions and
// always reads in ascending sequence order. Sequence numbers are supplied by
// the caller; monotonic assignment is a turn-execution concern outside this
// engine.
package messagelog
