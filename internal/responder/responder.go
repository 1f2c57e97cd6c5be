// Package responder produces reply text for recognized commands.
//
// Each command kind is answered by exactly one collaborator: the code
// playground, the crate registry, the documentation index, or static text.
// Responders never touch the record store; they only turn a command into
// text or a *CollaboratorError.
package responder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/evalbot/internal/command"
)

// DefaultTimeout bounds a single responder call.
const DefaultTimeout = 20 * time.Second

// Reply is the content produced for a command.
type Reply struct {
	Text string
}

// Empty reports whether there is nothing to send.
func (r Reply) Empty() bool {
	return strings.TrimSpace(r.Text) == ""
}

// Responder answers one command.
type Responder interface {
	Respond(ctx context.Context, cmd command.Command) (Reply, error)
}

// Func adapts a function to the Responder interface.
type Func func(ctx context.Context, cmd command.Command) (Reply, error)

// Respond calls f.
func (f Func) Respond(ctx context.Context, cmd command.Command) (Reply, error) {
	return f(ctx, cmd)
}

// Router dispatches commands to the collaborator registered for their kind
// and bounds every call with a timeout.
type Router struct {
	routes  map[command.Kind]Responder
	timeout time.Duration
	logger  *slog.Logger
}

// NewRouter creates a router. A non-positive timeout uses DefaultTimeout.
func NewRouter(timeout time.Duration, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		routes:  make(map[command.Kind]Responder),
		timeout: timeout,
		logger:  logger,
	}
}

// Handle registers the responder for a command kind, replacing any previous one.
func (r *Router) Handle(kind command.Kind, resp Responder) {
	r.routes[kind] = resp
}

// Respond answers cmd. --help is answered locally with the command's usage.
func (r *Router) Respond(ctx context.Context, cmd command.Command) (Reply, error) {
	if cmd.Help {
		return Reply{Text: command.Usage(cmd)}, nil
	}

	resp, ok := r.routes[cmd.Kind]
	if !ok {
		return Reply{}, &CollaboratorError{Collaborator: string(cmd.Kind), Kind: FailureUnavailable}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	reply, err := resp.Respond(callCtx, cmd)
	if err != nil {
		err = classify(callCtx, string(cmd.Kind), err)
		r.logger.Warn("responder failed",
			"kind", cmd.Kind,
			"duration", time.Since(start),
			"error", err)
		return Reply{}, err
	}

	r.logger.Debug("responder answered",
		"kind", cmd.Kind,
		"duration", time.Since(start),
		"bytes", len(reply.Text))
	return Reply{Text: strings.TrimSpace(reply.Text)}, nil
}

// classify makes sure every failure leaving the router is a
// *CollaboratorError, and that deadline expiry is reported as a timeout.
func classify(ctx context.Context, collaborator string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var ce *CollaboratorError
		if errors.As(err, &ce) && ce.Kind == FailureTimeout {
			return ce
		}
		return &CollaboratorError{Collaborator: collaborator, Kind: FailureTimeout, Err: err}
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &CollaboratorError{Collaborator: collaborator, Kind: FailureUpstream, Err: err}
}
