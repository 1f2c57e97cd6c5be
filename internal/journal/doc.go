// Package journal provides an SQLite-backed, append-only log of record
// transitions.
//
// Every change the synchronization engine makes to a command record (reply
// sent, edited, deleted, record removed, result superseded, failure) is
// appended as one row. The journal is diagnostic: the record file stays the
// source of truth, and a journal write failure never blocks a transition.
//
// # Ordering
//
//   - seq comes from the engine's logical clock and continues across
//     restarts (the engine is seeded with LastSeq)
//   - All reads use ORDER BY seq ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: the CLI can read while the bot writes
//   - synchronous=NORMAL: losing the last rows on power failure is acceptable
//   - busy_timeout=5000: wait for the writer instead of failing
//   - One open connection: SQLite allows a single writer
package journal
