// Package record tracks which reply the bot produced for each command message.
//
// A Store holds one CommandRecord per (chat, command message) key and can
// snapshot its whole state to a JSON document on disk. Snapshots replace the
// previous file atomically: the document is written to a temporary file in
// the same directory, synced, and renamed over the target, so a crash never
// leaves a partially written file behind.
//
// The store is the only shared mutable state of the bot. Every method takes
// the store lock for the duration of the call and never while waiting on
// anything else.
package record
