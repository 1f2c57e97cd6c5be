package responder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evalbot/internal/command"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouter_HelpIsAnsweredLocally(t *testing.T) {
	r := NewRouter(time.Second, quietLogger())
	called := false
	r.Handle(command.KindCrate, Func(func(ctx context.Context, cmd command.Command) (Reply, error) {
		called = true
		return Reply{}, nil
	}))

	reply, err := r.Respond(context.Background(), recognize(t, "/crate --help", false))

	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t,
		"<code>--keyword</code> - query by keyword\n<code>--query</code> - general query\n<code>--help</code> - show this information",
		reply.Text)
}

func TestRouter_MissingRoute(t *testing.T) {
	r := NewRouter(time.Second, quietLogger())

	_, err := r.Respond(context.Background(), recognize(t, "/doc Vec", false))

	var ce *CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FailureUnavailable, ce.Kind)
	assert.Equal(t, "error: command unavailable", NoticeFor(err))
}

func TestRouter_Timeout(t *testing.T) {
	r := NewRouter(20*time.Millisecond, quietLogger())
	r.Handle(command.KindEval, Func(func(ctx context.Context, cmd command.Command) (Reply, error) {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}))

	_, err := r.Respond(context.Background(), recognize(t, "/eval loop {}", false))

	var ce *CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FailureTimeout, ce.Kind)
	assert.Equal(t, "error: request timed out", ce.Notice())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter_PlainErrorBecomesUpstream(t *testing.T) {
	r := NewRouter(time.Second, quietLogger())
	boom := errors.New("boom")
	r.Handle(command.KindEval, Func(func(ctx context.Context, cmd command.Command) (Reply, error) {
		return Reply{}, boom
	}))

	_, err := r.Respond(context.Background(), recognize(t, "/eval 1", false))

	var ce *CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, FailureUpstream, ce.Kind)
	assert.Equal(t, "eval", ce.Collaborator)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "error: unknown error", ce.Notice())
}

func TestRouter_TrimsReply(t *testing.T) {
	r := NewRouter(time.Second, quietLogger())
	r.Handle(command.KindHelp, Help())
	r.Handle(command.KindAbout, About())

	reply, err := r.Respond(context.Background(), recognize(t, "/help", true))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "<code>/about</code> - display information about this bot")

	reply, err = r.Respond(context.Background(), recognize(t, "/about", true))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply.Text, "evalbot "))
	assert.False(t, strings.HasSuffix(reply.Text, "\n"))
}

func TestNotice(t *testing.T) {
	tests := []struct {
		err  *CollaboratorError
		want string
	}{
		{&CollaboratorError{Kind: FailureTimeout}, "error: request timed out"},
		{&CollaboratorError{Kind: FailureUnreachable}, "error: failed to request"},
		{&CollaboratorError{Kind: FailureDecode}, "error: failed to parse result"},
		{&CollaboratorError{Kind: FailureUpstream, Status: 503}, "error: server error"},
		{&CollaboratorError{Kind: FailureUpstream, Status: 429}, "error: client error"},
		{&CollaboratorError{Kind: FailureUpstream}, "error: unknown error"},
		{&CollaboratorError{Kind: FailureUnavailable}, "error: command unavailable"},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Notice())
		})
	}
	assert.Equal(t, "error: unknown error", NoticeFor(errors.New("x")))
	assert.False(t, IsCollaboratorError(errors.New("x")))
}
