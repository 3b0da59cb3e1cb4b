// Package store provides SQLite-backed durable storage for sessions
// and their append-only event journals.
//
// Critical patterns:
//
//   - Per-session ordering uses seq INTEGER (a logical clock per
//     session), never timestamps. (session_id, seq) is the primary key
//     of the events table, so a gap-free strictly increasing journal is
//     enforced at the storage layer too.
//   - A hook call's events and the resulting session-row update commit
//     in one transaction (AppendCommit). A failed call publishes
//     nothing.
//   - All journal reads ORDER BY seq ASC for deterministic replay.
//
// Database configuration:
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
