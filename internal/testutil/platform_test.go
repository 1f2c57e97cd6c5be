package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evalbot/internal/command"
)

func TestFakePlatform_SendEditDelete(t *testing.T) {
	ctx := context.Background()
	p := NewFakePlatform()

	id, err := p.Send(ctx, 7, 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(FirstMessageID), id)

	require.NoError(t, p.Edit(ctx, 7, id, "bye"))
	m, ok := p.Message(7, id)
	require.True(t, ok)
	assert.Equal(t, "bye", m.Text)

	reply, err := p.ReplyTo(7, 42)
	require.NoError(t, err)
	assert.Equal(t, id, reply.ID)

	require.NoError(t, p.Delete(ctx, 7, id))
	_, ok = p.Message(7, id)
	assert.False(t, ok)

	assert.Equal(t, 1, p.Count("send"))
	assert.Equal(t, 1, p.Count("edit"))
	assert.Equal(t, 1, p.Count("delete"))
}

func TestFakePlatform_MissingMessageIsSuccess(t *testing.T) {
	ctx := context.Background()
	p := NewFakePlatform()

	id, err := p.Send(ctx, 1, 2, "x")
	require.NoError(t, err)
	p.RemoveExternally(1, id)

	assert.NoError(t, p.Edit(ctx, 1, id, "y"))
	assert.NoError(t, p.Delete(ctx, 1, id))
	assert.Empty(t, p.Messages())
}

func TestFakePlatform_Failures(t *testing.T) {
	ctx := context.Background()
	p := NewFakePlatform()
	boom := errors.New("boom")

	p.FailNext("send", boom)
	_, err := p.Send(ctx, 1, 2, "x")
	assert.ErrorIs(t, err, boom)

	_, err = p.Send(ctx, 1, 2, "x")
	assert.NoError(t, err)

	p.FailAlways("edit", boom)
	assert.ErrorIs(t, p.Edit(ctx, 1, FirstMessageID, "a"), boom)
	assert.ErrorIs(t, p.Edit(ctx, 1, FirstMessageID, "b"), boom)
	p.FailAlways("edit", nil)
	assert.NoError(t, p.Edit(ctx, 1, FirstMessageID, "c"))
}

func TestScriptedResponder(t *testing.T) {
	ctx := context.Background()
	r := NewScriptedResponder().On("1+1", "2").OnError("bad", errors.New("down"))

	reply, err := r.Respond(ctx, command.Command{Kind: command.KindEval, Args: "1+1"})
	require.NoError(t, err)
	assert.Equal(t, "2", reply.Text)

	_, err = r.Respond(ctx, command.Command{Kind: command.KindEval, Args: "bad"})
	assert.EqualError(t, err, "down")

	reply, err = r.Respond(ctx, command.Command{Kind: command.KindCrate, Args: "serde"})
	require.NoError(t, err)
	assert.Equal(t, "crate: serde", reply.Text)

	assert.Len(t, r.Calls(), 3)
}

func TestScriptedResponder_Block(t *testing.T) {
	r := NewScriptedResponder()
	started, release := r.Block("slow", "done")

	result := make(chan string, 1)
	go func() {
		reply, _ := r.Respond(context.Background(), command.Command{Kind: command.KindEval, Args: "slow"})
		result <- reply.Text
	}()

	<-started
	release()
	assert.Equal(t, "done", <-result)

	ctx, cancel := context.WithCancel(context.Background())
	r.Block("stuck", "never")
	cancel()
	_, err := r.Respond(ctx, command.Command{Kind: command.KindEval, Args: "stuck"})
	assert.ErrorIs(t, err, context.Canceled)
}
