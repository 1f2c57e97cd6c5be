package testutil

import (
	"context"
	"sync"

	"github.com/roach88/evalbot/internal/command"
	"github.com/roach88/evalbot/internal/responder"
)

// Script is the canned answer for one command argument string.
type Script struct {
	Text string
	Err  error

	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

// ScriptedResponder answers commands from a table keyed by Command.Args.
//
// Unscripted commands get "<kind>: <args>". A blocked script waits until
// released or until the call's context is done, which lets tests hold a
// responder call in flight while they submit newer edits.
type ScriptedResponder struct {
	mu      sync.Mutex
	scripts map[string]*Script
	calls   []command.Command
}

// NewScriptedResponder creates a responder with no scripts.
func NewScriptedResponder() *ScriptedResponder {
	return &ScriptedResponder{scripts: make(map[string]*Script)}
}

// On answers args with text.
func (r *ScriptedResponder) On(args, text string) *ScriptedResponder {
	r.set(args, &Script{Text: text})
	return r
}

// OnError fails args with err.
func (r *ScriptedResponder) OnError(args string, err error) *ScriptedResponder {
	r.set(args, &Script{Err: err})
	return r
}

// Block holds calls for args until release is called. started is closed
// when the first such call begins.
func (r *ScriptedResponder) Block(args, text string) (started <-chan struct{}, release func()) {
	s := &Script{
		Text:    text,
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	r.set(args, s)
	var once sync.Once
	return s.started, func() { once.Do(func() { close(s.gate) }) }
}

func (r *ScriptedResponder) set(args string, s *Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[args] = s
}

// Respond implements the engine's responder contract.
func (r *ScriptedResponder) Respond(ctx context.Context, cmd command.Command) (responder.Reply, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	s, ok := r.scripts[cmd.Args]
	r.mu.Unlock()

	if !ok {
		return responder.Reply{Text: string(cmd.Kind) + ": " + cmd.Args}, nil
	}
	if s.gate != nil {
		s.once.Do(func() { close(s.started) })
		select {
		case <-s.gate:
		case <-ctx.Done():
			return responder.Reply{}, ctx.Err()
		}
	}
	if s.Err != nil {
		return responder.Reply{}, s.Err
	}
	return responder.Reply{Text: s.Text}, nil
}

// Calls returns the commands received so far.
func (r *ScriptedResponder) Calls() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Command(nil), r.calls...)
}
