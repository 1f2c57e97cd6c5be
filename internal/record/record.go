package record

import (
	"fmt"
	"time"
)

// Key identifies a command message.
type Key struct {
	ChatID    int64
	MessageID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.ChatID, k.MessageID)
}

// CommandRecord links a user's command message to the reply the bot sent.
//
// ReplyMessageID is zero when no reply is currently shown (the command was
// tracked but produced nothing to say, or its reply was retracted).
// Signature is empty when the command is no longer recognized.
type CommandRecord struct {
	ChatID           int64  `json:"chat_id"`
	CommandMessageID int64  `json:"command_message_id"`
	ReplyMessageID   int64  `json:"reply_message_id,omitempty"`
	Signature        string `json:"recognized_signature,omitempty"`

	// Version is the last accepted event version applied to this record.
	Version uint64 `json:"version,omitempty"`

	// MessageDate is the platform timestamp (unix seconds) of the command
	// message. Used for eviction; zero means unknown.
	MessageDate int64 `json:"message_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the record's key.
func (r CommandRecord) Key() Key {
	return Key{ChatID: r.ChatID, MessageID: r.CommandMessageID}
}

// HasReply reports whether the record points at a live reply.
func (r CommandRecord) HasReply() bool {
	return r.ReplyMessageID != 0
}

// Dead reports whether the record carries no information worth keeping.
func (r CommandRecord) Dead() bool {
	return r.ReplyMessageID == 0 && r.Signature == ""
}
