package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/evalbot/internal/command"
	"github.com/roach88/evalbot/internal/record"
	"github.com/roach88/evalbot/internal/responder"
)

// process applies one event. Called only from the lane goroutine of
// ev.ChatID, so events of a chat never interleave here.
func (e *Engine) process(ctx context.Context, ev Event) {
	defer e.release(ev)

	log := e.logger.With(
		"chat_id", ev.ChatID,
		"message_id", ev.MessageID,
		"version", ev.Version,
		"trace_id", ev.TraceID,
	)

	if ev.Type == EventNew {
		e.evict(ctx, ev)
	}

	if e.superseded(ev) {
		log.Debug("event superseded before respond")
		e.journalTransition(ctx, ev, ActionSuperseded, 0, "", "before respond")
		return
	}

	res := e.recognizer.Recognize(ev.Text, ev.Private)
	sig := res.Signature()
	prev, tracked := e.store.Find(ev.ChatID, ev.MessageID)

	switch {
	case tracked:
		e.applyTracked(ctx, log, ev, prev, res, sig)
	case res.Outcome == command.NotRecognized:
		log.Debug("message is not a command", "type", ev.Type)
	default:
		e.applyUntracked(ctx, log, ev, res, sig)
	}
}

// applyUntracked handles a command on a message without a record: a new
// command, or an edit that turned a plain message into one.
func (e *Engine) applyUntracked(ctx context.Context, log *slog.Logger, ev Event, res command.Result, sig string) {
	text, err := e.respond(ctx, res)
	if e.superseded(ev) {
		log.Debug("response dropped, newer edit accepted")
		e.journalTransition(ctx, ev, ActionSuperseded, 0, sig, "after respond")
		return
	}
	if err != nil {
		e.collaboratorFailed(ctx, log, ev, err)
		e.sendNotice(ctx, log, ev, responder.NoticeFor(err))
		return
	}

	rec := record.CommandRecord{
		ChatID:           ev.ChatID,
		CommandMessageID: ev.MessageID,
		Signature:        sig,
		Version:          ev.Version,
		MessageDate:      ev.Date,
	}
	action := ActionTrack
	if text != "" {
		id, err := e.outbound.Send(ctx, ev.ChatID, ev.MessageID, text)
		if err != nil {
			e.platformFailed(ctx, log, ev, "send", err)
			return
		}
		rec.ReplyMessageID = id
		action = ActionSend
	}

	e.store.Upsert(rec)
	_ = e.persist()
	log.Info("command tracked", "action", action, "reply_id", rec.ReplyMessageID)
	e.journalTransition(ctx, ev, action, rec.ReplyMessageID, sig, "")
}

// applyTracked handles an event for a message that already has a record.
func (e *Engine) applyTracked(ctx context.Context, log *slog.Logger, ev Event, prev record.CommandRecord, res command.Result, sig string) {
	if sig != "" && sig == prev.Signature {
		next := prev
		next.Version = ev.Version
		e.store.Upsert(next)
		_ = e.persist()
		log.Debug("edit does not change the command")
		e.journalTransition(ctx, ev, ActionNoop, prev.ReplyMessageID, sig, "")
		return
	}

	if res.Outcome == command.NotRecognized {
		action := ActionRemove
		if prev.HasReply() {
			if err := e.outbound.Delete(ctx, ev.ChatID, prev.ReplyMessageID); err != nil {
				e.platformFailed(ctx, log, ev, "delete", err)
				return
			}
			action = ActionDelete
		}
		e.store.Remove(ev.ChatID, ev.MessageID)
		_ = e.persist()
		log.Info("command retracted", "action", action, "reply_id", prev.ReplyMessageID)
		e.journalTransition(ctx, ev, action, prev.ReplyMessageID, "", "")
		return
	}

	text, err := e.respond(ctx, res)
	if e.superseded(ev) {
		log.Debug("response dropped, newer edit accepted")
		e.journalTransition(ctx, ev, ActionSuperseded, prev.ReplyMessageID, sig, "after respond")
		return
	}
	if err != nil {
		e.collaboratorFailed(ctx, log, ev, err)
		notice := responder.NoticeFor(err)
		if !prev.HasReply() {
			e.sendNotice(ctx, log, ev, notice)
			return
		}
		if err := e.outbound.Edit(ctx, ev.ChatID, prev.ReplyMessageID, notice); err != nil {
			e.platformFailed(ctx, log, ev, "edit", err)
			return
		}
		// The reply now shows the notice; an unchanged re-edit must retry.
		next := prev
		next.Signature = ""
		next.Version = ev.Version
		e.store.Upsert(next)
		_ = e.persist()
		e.journalTransition(ctx, ev, ActionNotice, prev.ReplyMessageID, "", notice)
		return
	}

	next := prev
	next.Signature = sig
	next.Version = ev.Version

	var action Action
	switch {
	case text == "" && prev.HasReply():
		if err := e.outbound.Delete(ctx, ev.ChatID, prev.ReplyMessageID); err != nil {
			e.platformFailed(ctx, log, ev, "delete", err)
			return
		}
		next.ReplyMessageID = 0
		action = ActionDelete
	case text == "":
		action = ActionTrack
	case prev.HasReply():
		if err := e.outbound.Edit(ctx, ev.ChatID, prev.ReplyMessageID, text); err != nil {
			e.platformFailed(ctx, log, ev, "edit", err)
			return
		}
		action = ActionEdit
	default:
		id, err := e.outbound.Send(ctx, ev.ChatID, ev.MessageID, text)
		if err != nil {
			e.platformFailed(ctx, log, ev, "send", err)
			return
		}
		next.ReplyMessageID = id
		action = ActionSend
	}

	e.store.Upsert(next)
	_ = e.persist()
	log.Info("command updated", "action", action, "reply_id", next.ReplyMessageID)

	replyID := next.ReplyMessageID
	if action == ActionDelete {
		replyID = prev.ReplyMessageID
	}
	e.journalTransition(ctx, ev, action, replyID, sig, "")
}

// respond produces reply text for a recognized or invalid command.
// Invalid commands are answered with their usage text without calling a
// collaborator.
func (e *Engine) respond(ctx context.Context, res command.Result) (string, error) {
	if res.Outcome == command.Invalid {
		if res.Err == nil {
			return command.ParseErrorText, nil
		}
		return res.Err.Usage, nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.sem.Release(1)

	reply, err := e.responder.Respond(ctx, res.Command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Text), nil
}

// sendNotice posts a failure notice that is not tracked by any record.
func (e *Engine) sendNotice(ctx context.Context, log *slog.Logger, ev Event, notice string) {
	id, err := e.outbound.Send(ctx, ev.ChatID, ev.MessageID, notice)
	if err != nil {
		e.platformFailed(ctx, log, ev, "send", err)
		return
	}
	e.journalTransition(ctx, ev, ActionNotice, id, "", notice)
}

func (e *Engine) collaboratorFailed(ctx context.Context, log *slog.Logger, ev Event, err error) {
	se := &SyncError{Code: ErrCodeCollaborator, Op: "respond", ChatID: ev.ChatID, MessageID: ev.MessageID, Err: err}
	log.Warn("responder failed", "error", se)
	e.journalTransition(ctx, ev, ActionFailed, 0, "", se.Error())
}

func (e *Engine) platformFailed(ctx context.Context, log *slog.Logger, ev Event, op string, err error) {
	se := &SyncError{Code: ErrCodePlatformAction, Op: op, ChatID: ev.ChatID, MessageID: ev.MessageID, Err: err}
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelInfo
	}
	log.Log(ctx, level, "platform action failed, record unchanged", "op", op, "error", se)
	e.journalTransition(ctx, ev, ActionFailed, 0, "", se.Error())
}

// evict drops records of messages too old to be edited.
func (e *Engine) evict(ctx context.Context, ev Event) {
	if e.maxAge <= 0 {
		return
	}
	n := e.store.EvictBefore(e.now().Add(-e.maxAge))
	if n == 0 {
		return
	}
	_ = e.persist()
	e.logger.Info("evicted old records", "count", n)
	e.journalTransition(ctx, ev, ActionEvict, 0, "", strconv.Itoa(n))
}

// journalTransition stamps and records a transition. Journal failures are
// logged and otherwise ignored.
func (e *Engine) journalTransition(ctx context.Context, ev Event, action Action, replyID int64, sig, detail string) {
	t := Transition{
		Seq:       e.clock.Next(),
		TraceID:   ev.TraceID,
		ChatID:    ev.ChatID,
		MessageID: ev.MessageID,
		Version:   ev.Version,
		Action:    action,
		ReplyID:   replyID,
		Signature: sig,
		Detail:    detail,
		At:        e.now().UTC(),
	}
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(context.WithoutCancel(ctx), t); err != nil {
		e.logger.Warn("journal append failed", "seq", t.Seq, "action", action, "error", err)
	}
}
