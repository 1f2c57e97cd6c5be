// Package bot connects the Telegram update feed to the synchronization
// engine and the lifecycle controller, and assembles the running process.
package bot

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/lifecycle"
	"github.com/roach88/evalbot/internal/telegram"
)

// Submitter accepts inbound events. *engine.Engine implements it.
type Submitter interface {
	Submit(ev engine.Event) error
}

// Gate intercepts lifecycle commands before they reach the engine.
// *lifecycle.Controller implements it.
type Gate interface {
	HandleCommand(ctx context.Context, msg lifecycle.Message) bool
}

// Dispatcher turns updates into engine events.
type Dispatcher struct {
	engine Submitter
	gate   Gate
	logger *slog.Logger
}

func NewDispatcher(sub Submitter, gate Gate, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{engine: sub, gate: gate, logger: logger}
}

// HandleUpdate routes one update. New messages pass the lifecycle gate
// first; edits always go to the engine.
func (d *Dispatcher) HandleUpdate(ctx context.Context, u telegram.Update) {
	switch {
	case u.Message != nil:
		m := u.Message
		if m.Text == "" {
			return
		}
		if d.gate != nil && d.gate.HandleCommand(ctx, lifecycle.Message{
			ChatID:    m.Chat.ID,
			MessageID: m.MessageID,
			SenderID:  m.SenderID(),
			Private:   m.Private(),
			Text:      m.Text,
		}) {
			return
		}
		d.submit(u.UpdateID, eventFrom(engine.EventNew, m))
	case u.EditedMessage != nil:
		// An edit that removes all text still retracts the command.
		d.submit(u.UpdateID, eventFrom(engine.EventEdited, u.EditedMessage))
	}
}

func eventFrom(typ engine.EventType, m *telegram.Message) engine.Event {
	return engine.Event{
		Type:      typ,
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		SenderID:  m.SenderID(),
		Text:      m.Text,
		Private:   m.Private(),
		Date:      m.Date,
	}
}

func (d *Dispatcher) submit(updateID int64, ev engine.Event) {
	err := d.engine.Submit(ev)
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrDraining):
		d.logger.Debug("update dropped while draining",
			"update_id", updateID, "chat_id", ev.ChatID, "message_id", ev.MessageID)
	default:
		d.logger.Warn("update rejected",
			"update_id", updateID, "chat_id", ev.ChatID, "message_id", ev.MessageID, "error", err)
	}
}
