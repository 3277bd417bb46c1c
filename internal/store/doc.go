// Package store provides the SQLite-backed persistence gateway for ordermon.
//
// The store is the single durable source of truth for:
//   - Users and order groups, with their enable flags
//   - Orders and their lifecycle status
//   - Order status log: one immutable row per committed transition
//   - Flag change log: one row per observed enable-flag flip
//
// # Critical Patterns
//
// Optimistic concurrency:
//   - AdvanceOrder updates a row only WHERE status and filled_quantity still
//     match the caller's expectation
//   - Zero rows affected is reported as ErrConflict, never as a failure
//   - The status log row is inserted in the same transaction as the update
//
// Deterministic selection:
//   - Order reads are ORDER BY priority DESC, created_at ASC, id ASC
//   - Pagination is keyset-based on the same tuple (see Cursor)
//
// Error taxonomy:
//   - *TransportError: busy/locked database, I/O, dropped connections,
//     deadlines. Retryable.
//   - ErrConflict: lost optimistic-lock race, terminal source state, or a
//     constraint violation. Not retryable.
//   - ErrNotFound: the addressed row does not exist.
//
// # Database Configuration
//
// Applied per pooled connection through the DSN:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout: wait for the write lock instead of failing fast
//   - foreign_keys=ON
//   - _txlock=immediate: transactions take the write lock at BEGIN
//
// Timestamps are stored as INTEGER unix nanoseconds (UTC) so that ordering
// by created_at is exact. Quantities are stored as canonical decimal TEXT.
package store
