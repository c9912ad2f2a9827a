// Package sqlite houses durable implementations of the core repository
// ports on a single SQLite database file (modernc.org/sqlite, no cgo). The
// message uniqueness invariants are backed by real constraints: a primary
// key on message id and a unique index on (conversation_id,
// sequence_number). Timestamps are stored as millisecond integers; content
// parts and metadata are stored as JSON.
package sqlite
