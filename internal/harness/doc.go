// Package harness runs scripted conversations against the real
// synchronization engine and compares what happened with golden traces.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: edit_updates_reply
//	description: "Editing a command edits its reply in place"
//	responses:
//	  "1 + 1": "2"
//	failures:
//	  "loop {}": timeout
//	steps:
//	  - new: {chat: 1, message: 10, text: "/eval 1 + 1"}
//	  - edit: {chat: 1, message: 10, text: "/eval 2 + 2"}
//	  - fail_next: edit
//	  - advance: 49h
//	assertions:
//	  - type: record
//	    chat: 1
//	    message: 10
//	    reply: 1000
//	  - type: action_count
//	    action: edit
//	    count: 1
//
// responses map command arguments to reply text; unscripted commands are
// answered with "<kind>: <args>". failures map arguments to a collaborator
// failure kind (timeout, unreachable, upstream, decode, unavailable).
//
// # Steps
//
//   - new, edit: deliver a message event
//   - fail_next: make the next send, edit, or delete on the platform fail
//   - advance: move the wall clock forward (drives record eviction)
//
// Every step runs to completion before the next starts, so traces are
// deterministic.
//
// # Assertion Types
//
//   - record: a record exists for chat/message, optionally with reply id,
//     version, and recognized flag
//   - no_record: no record exists for chat/message
//   - record_count: number of records after the run
//   - action_count: number of journaled transitions with an action
//   - reply_text: the reply displayed for a command has this text
//   - trace_order: actions appear in this order in the journal
//
// # Determinism
//
// Each run uses a fresh in-memory record store, a fake clock starting at
// testutil.Epoch, sequential trace ids ("trace-1", "trace-2", ...), and a
// fake platform whose message ids start at testutil.FirstMessageID.
package harness
