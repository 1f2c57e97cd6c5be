package engine

import (
	"context"
	"time"

	"github.com/roach88/evalbot/internal/command"
	"github.com/roach88/evalbot/internal/responder"
)

// EventType distinguishes between inbound event kinds.
type EventType int

const (
	// EventNew is a newly posted message.
	EventNew EventType = iota + 1
	// EventEdited carries the new text of an edited message.
	EventEdited
)

func (t EventType) String() string {
	switch t {
	case EventNew:
		return "new"
	case EventEdited:
		return "edited"
	default:
		return "unknown"
	}
}

// Event is one inbound message event.
type Event struct {
	Type      EventType
	ChatID    int64
	MessageID int64
	SenderID  int64
	Text      string

	// Private is set for one-to-one chats with the bot.
	Private bool

	// Date is the platform timestamp (unix seconds) of the original message.
	Date int64

	// Version and TraceID are assigned by Submit.
	Version uint64
	TraceID string
}

// Outbound performs reply actions on the messaging platform.
//
// Edit and Delete of a message that no longer exists must return nil: the
// target state has already been reached.
type Outbound interface {
	Send(ctx context.Context, chatID, replyTo int64, text string) (int64, error)
	Edit(ctx context.Context, chatID, messageID int64, text string) error
	Delete(ctx context.Context, chatID, messageID int64) error
}

// Recognizer classifies message text. Implementations must be pure.
type Recognizer interface {
	Recognize(text string, private bool) command.Result
}

// Responder produces reply content for a recognized command.
type Responder interface {
	Respond(ctx context.Context, cmd command.Command) (responder.Reply, error)
}

// Action names a journaled transition.
type Action string

const (
	ActionSend       Action = "send"
	ActionEdit       Action = "edit"
	ActionDelete     Action = "delete"
	ActionRemove     Action = "remove"
	ActionTrack      Action = "track"
	ActionNoop       Action = "noop"
	ActionNotice     Action = "notice"
	ActionSuperseded Action = "superseded"
	ActionFailed     Action = "failed"
	ActionEvict      Action = "evict"
)

// Transition is one journaled state change of a command record.
type Transition struct {
	Seq       int64     `json:"seq" yaml:"seq"`
	TraceID   string    `json:"trace_id" yaml:"trace_id"`
	ChatID    int64     `json:"chat_id" yaml:"chat_id"`
	MessageID int64     `json:"message_id" yaml:"message_id"`
	Version   uint64    `json:"version" yaml:"version"`
	Action    Action    `json:"action" yaml:"action"`
	ReplyID   int64     `json:"reply_id,omitempty" yaml:"reply_id,omitempty"`
	Signature string    `json:"signature,omitempty" yaml:"signature,omitempty"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	At        time.Time `json:"at" yaml:"at"`
}

// Journal records transitions for diagnostics. Append must be safe for
// concurrent use.
type Journal interface {
	Append(ctx context.Context, t Transition) error
}
