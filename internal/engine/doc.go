// Package engine implements the command/reply synchronization engine.
//
// The engine consumes inbound message events (new and edited messages) and
// keeps the bot's replies consistent with the current text of each command
// message. It owns the record store: no other component mutates it.
//
// ARCHITECTURE:
//
// Per-Chat Lanes:
// Every chat gets its own FIFO lane. A lane is drained by one goroutine,
// so events of a conversation are handled one at a time in arrival order.
// Lanes of different chats run concurrently. A lane goroutine exits as soon
// as its queue is empty; the next event for that chat starts a new one.
//
// Event Processing Flow:
//  1. Submit() stamps the event with a per-message version and a trace id
//  2. The event is appended to its chat's lane
//  3. process() re-recognizes the text and reads the current record
//  4. The responder is called with no store lock held
//  5. The result is applied (send, edit, delete) unless a newer version of
//     the same message was accepted in the meantime
//  6. The record store is updated and persisted; the transition is journaled
//
// CRITICAL PATTERNS:
//
// Second Edit Wins:
// Versions are compared before the responder call and again before its
// result is applied. A superseded result is dropped, never applied, so a
// reply cannot flicker back to stale content.
//
// Failure Isolation:
// Platform and collaborator failures are handled at the transition where
// they occur. The record keeps its prior consistent state. Persistence
// failures are logged; the next mutation writes the full snapshot again.
//
// Known Limitation:
// The platform does not report deleted messages. A reply to a command that
// was deleted stays in place.
package engine
