package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/evalbot/internal/command"
	"github.com/roach88/evalbot/internal/record"
	"github.com/roach88/evalbot/internal/responder"
	"github.com/roach88/evalbot/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memJournal struct {
	mu      sync.Mutex
	entries []Transition
}

func (j *memJournal) Append(_ context.Context, t Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, t)
	return nil
}

func (j *memJournal) actions(chatID, messageID int64) []Action {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Action
	for _, t := range j.entries {
		if t.ChatID == chatID && t.MessageID == messageID {
			out = append(out, t.Action)
		}
	}
	return out
}

type fixture struct {
	eng      *Engine
	store    *record.Store
	path     string
	platform *testutil.FakePlatform
	resp     *testutil.ScriptedResponder
	journal  *memJournal
	clock    *testutil.FakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "record_list.json")
	store, err := record.Load(path)
	require.NoError(t, err)
	return newFixtureWithStore(t, store, path, opts...)
}

func newFixtureWithStore(t *testing.T, store *record.Store, path string, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    store,
		path:     path,
		platform: testutil.NewFakePlatform(),
		resp:     testutil.NewScriptedResponder(),
		journal:  &memJournal{},
		clock:    testutil.NewFakeClock(time.Time{}),
	}
	store.SetNow(f.clock.Now)
	base := []Option{
		WithJournal(f.journal),
		WithNow(f.clock.Now),
		WithTraceGenerator(NewSequenceGenerator("t")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.eng = New(store, command.NewRecognizer("evalbot"), f.resp, f.platform, append(base, opts...)...)
	return f
}

func (f *fixture) newMessage(t *testing.T, chatID, messageID int64, text string) {
	t.Helper()
	require.NoError(t, f.eng.Submit(Event{
		Type:      EventNew,
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		Date:      f.clock.Now().Unix(),
	}))
}

func (f *fixture) edit(t *testing.T, chatID, messageID int64, text string) {
	t.Helper()
	require.NoError(t, f.eng.Submit(Event{
		Type:      EventEdited,
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	}))
}

// settle waits until every accepted event has been processed.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.eng.mu.Lock()
		defer f.eng.mu.Unlock()
		return len(f.eng.pending) == 0 && len(f.eng.lanes) == 0
	}, 5*time.Second, time.Millisecond)
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.eng.Drain(ctx))
}

func (f *fixture) reload(t *testing.T) *record.Store {
	t.Helper()
	s, err := record.Load(f.path)
	require.NoError(t, err)
	return s
}

func TestNewCommand_SendsReplyAndTracks(t *testing.T) {
	f := newFixture(t)
	f.resp.On("1+1", "2")

	f.newMessage(t, 1, 10, "/eval 1+1")
	f.settle(t)

	assert.Equal(t, 1, f.platform.Count("send"))
	reply, err := f.platform.ReplyTo(1, 10)
	require.NoError(t, err)
	assert.Equal(t, "2", reply.Text)

	rec, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Equal(t, reply.ID, rec.ReplyMessageID)
	assert.Equal(t, uint64(1), rec.Version)
	assert.NotEmpty(t, rec.Signature)

	persisted, ok := f.reload(t).Find(1, 10)
	require.True(t, ok, "record is on disk before the event completes")
	assert.Equal(t, rec.ReplyMessageID, persisted.ReplyMessageID)

	assert.Equal(t, []Action{ActionSend}, f.journal.actions(1, 10))
}

func TestNewMessage_NotRecognized(t *testing.T) {
	f := newFixture(t)

	f.newMessage(t, 1, 10, "hello there")
	f.newMessage(t, 1, 11, "/eval@otherbot 1")
	f.settle(t)

	assert.Empty(t, f.platform.Calls())
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.resp.Calls())
}

func TestEdit_ToNonCommand_DeletesReplyAndRemovesRecord(t *testing.T) {
	f := newFixture(t)
	f.resp.On("1+1", "2")

	f.newMessage(t, 1, 10, "/eval 1+1")
	f.settle(t)
	rec, _ := f.store.Find(1, 10)

	f.edit(t, 1, 10, "not a command")
	f.settle(t)

	calls := f.platform.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, testutil.Call{Op: "delete", ChatID: 1, MessageID: rec.ReplyMessageID}, calls[1])
	_, ok := f.store.Find(1, 10)
	assert.False(t, ok)
	_, ok = f.reload(t).Find(1, 10)
	assert.False(t, ok)
	assert.Empty(t, f.platform.Messages())
}

func TestEdit_SameCommand_IsNoop(t *testing.T) {
	f := newFixture(t)
	f.resp.On("1+1", "2")

	f.newMessage(t, 1, 10, "/eval 1+1")
	f.settle(t)
	f.edit(t, 1, 10, "/eval   1+1  ")
	f.settle(t)

	assert.Equal(t, 1, f.platform.Count("send"))
	assert.Equal(t, 0, f.platform.Count("edit"))
	assert.Len(t, f.resp.Calls(), 1)

	rec, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Equal(t, uint64(2), rec.Version)
	assert.Equal(t, []Action{ActionSend, ActionNoop}, f.journal.actions(1, 10))
}

func TestEdit_NewCommand_EditsReplyInPlace(t *testing.T) {
	f := newFixture(t)

	f.newMessage(t, 1, 10, "/eval 1+1")
	f.settle(t)
	before, _ := f.store.Find(1, 10)

	f.edit(t, 1, 10, "/eval 2+2")
	f.settle(t)

	after, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Equal(t, before.ReplyMessageID, after.ReplyMessageID)
	assert.NotEqual(t, before.Signature, after.Signature)

	msg, ok := f.platform.Message(1, after.ReplyMessageID)
	require.True(t, ok)
	assert.Equal(t, "eval: 2+2", msg.Text)
	assert.Equal(t, 1, f.platform.Count("send"))
}

func TestEdit_UntrackedMessageBecomesCommand(t *testing.T) {
	f := newFixture(t)

	f.newMessage(t, 1, 10, "just chatting")
	f.settle(t)
	f.edit(t, 1, 10, "/crate serde")
	f.settle(t)

	reply, err := f.platform.ReplyTo(1, 10)
	require.NoError(t, err)
	assert.Equal(t, "crate: serde", reply.Text)
	rec, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Equal(t, reply.ID, rec.ReplyMessageID)
}

func TestEdit_TrackedWithoutReply(t *testing.T) {
	f := newFixture(t)
	f.resp.On("", "")

	f.newMessage(t, 1, 10, "/eval")
	f.settle(t)

	rec, ok := f.store.Find(1, 10)
	require.True(t, ok, "command with nothing to say is still tracked")
	assert.False(t, rec.HasReply())
	assert.Empty(t, f.platform.Calls())

	f.edit(t, 1, 10, "/eval 5")
	f.settle(t)
	rec, _ = f.store.Find(1, 10)
	assert.True(t, rec.HasReply(), "previously reply-less command gets a fresh reply")

	f.edit(t, 1, 10, "/eval")
	f.settle(t)
	rec, ok = f.store.Find(1, 10)
	require.True(t, ok)
	assert.False(t, rec.HasReply(), "empty content retracts the reply but keeps tracking")
	assert.Equal(t, 1, f.platform.Count("delete"))

	f.edit(t, 1, 10, "bye")
	f.settle(t)
	_, ok = f.store.Find(1, 10)
	assert.False(t, ok)
	assert.Equal(t, 1, f.platform.Count("delete"), "no reply left to delete")
	assert.Equal(t,
		[]Action{ActionTrack, ActionSend, ActionDelete, ActionRemove},
		f.journal.actions(1, 10))
}

func TestInvalidCommand_RepliesWithUsage(t *testing.T) {
	f := newFixture(t)

	f.newMessage(t, 1, 10, "/eval --bogus 1")
	f.settle(t)

	reply, err := f.platform.ReplyTo(1, 10)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, command.ParseErrorText)
	assert.Empty(t, f.resp.Calls(), "invalid commands never reach a collaborator")

	f.edit(t, 1, 10, "/eval --nightly 1")
	f.settle(t)
	msg, _ := f.platform.Message(1, reply.ID)
	assert.Equal(t, "eval: 1", msg.Text)
}

func TestResponderFailure_NewMessage(t *testing.T) {
	f := newFixture(t)
	f.resp.OnError("loop {}", &responder.CollaboratorError{Collaborator: "playground", Kind: responder.FailureTimeout})

	f.newMessage(t, 1, 10, "/eval loop {}")
	f.settle(t)

	reply, err := f.platform.ReplyTo(1, 10)
	require.NoError(t, err)
	assert.Equal(t, "error: request timed out", reply.Text)
	_, ok := f.store.Find(1, 10)
	assert.False(t, ok, "failed commands are not tracked")
	assert.Equal(t, []Action{ActionFailed, ActionNotice}, f.journal.actions(1, 10))
}

func TestResponderFailure_EditShowsNoticeAndAllowsRetry(t *testing.T) {
	f := newFixture(t)
	f.newMessage(t, 1, 10, "/eval 1")
	f.settle(t)

	f.resp.OnError("2", errors.New("connection reset"))
	f.edit(t, 1, 10, "/eval 2")
	f.settle(t)

	rec, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Empty(t, rec.Signature)
	msg, _ := f.platform.Message(1, rec.ReplyMessageID)
	assert.Equal(t, "error: unknown error", msg.Text)

	f.resp.On("2", "two")
	f.edit(t, 1, 10, "/eval 2")
	f.settle(t)

	msg, _ = f.platform.Message(1, rec.ReplyMessageID)
	assert.Equal(t, "two", msg.Text)
	assert.Len(t, f.resp.Calls(), 3)
}

func TestPlatformFailure_LeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	f.newMessage(t, 1, 10, "/eval 1")
	f.settle(t)
	before, _ := f.store.Find(1, 10)

	f.platform.FailNext("edit", errors.New("Too Many Requests"))
	f.edit(t, 1, 10, "/eval 2")
	f.settle(t)

	after, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Equal(t, before, after)
	msg, _ := f.platform.Message(1, before.ReplyMessageID)
	assert.Equal(t, "eval: 1", msg.Text)

	f.platform.FailNext("send", errors.New("chat not found"))
	f.newMessage(t, 1, 11, "/eval 3")
	f.settle(t)
	_, ok = f.store.Find(1, 11)
	assert.False(t, ok)

	f.platform.FailNext("delete", errors.New("forbidden"))
	f.edit(t, 1, 10, "plain")
	f.settle(t)
	_, ok = f.store.Find(1, 10)
	assert.True(t, ok, "record survives a rejected delete")
}

func TestEdit_ReplyAlreadyDeleted(t *testing.T) {
	f := newFixture(t)
	f.newMessage(t, 1, 10, "/eval 1")
	f.settle(t)
	rec, _ := f.store.Find(1, 10)
	f.platform.RemoveExternally(1, rec.ReplyMessageID)

	f.edit(t, 1, 10, "nothing")
	f.settle(t)

	_, ok := f.store.Find(1, 10)
	assert.False(t, ok)
}

func TestDeletedCommand_ReplyIsLeftInPlace(t *testing.T) {
	f := newFixture(t)
	f.newMessage(t, 1, 10, "/eval 1")
	f.settle(t)

	// The platform never reports deletions; there is no event to submit.
	assert.Error(t, f.eng.Submit(Event{ChatID: 1, MessageID: 10}))
	f.settle(t)

	_, err := f.platform.ReplyTo(1, 10)
	assert.NoError(t, err)
	_, ok := f.store.Find(1, 10)
	assert.True(t, ok)
}

func TestSupersededResponseIsDropped(t *testing.T) {
	f := newFixture(t)
	started, release := f.resp.Block("slow", "stale")
	f.resp.On("fast", "fresh")

	f.newMessage(t, 1, 10, "/eval slow")
	<-started
	f.edit(t, 1, 10, "/eval fast")
	release()
	f.settle(t)

	calls := f.platform.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "send", calls[0].Op)
	assert.Equal(t, "fresh", calls[0].Text)

	rec, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Equal(t, uint64(2), rec.Version)
	assert.Equal(t, []Action{ActionSuperseded, ActionSend}, f.journal.actions(1, 10))
}

func TestSupersededEditOfTrackedCommand(t *testing.T) {
	f := newFixture(t)
	f.newMessage(t, 1, 10, "/eval 1")
	f.settle(t)

	started, release := f.resp.Block("slow", "stale")
	f.edit(t, 1, 10, "/eval slow")
	<-started
	f.edit(t, 1, 10, "/eval 3")
	f.edit(t, 1, 10, "/eval 4")
	release()
	f.settle(t)

	rec, _ := f.store.Find(1, 10)
	msg, _ := f.platform.Message(1, rec.ReplyMessageID)
	assert.Equal(t, "eval: 4", msg.Text)
	assert.Equal(t, 1, f.platform.Count("edit"), "only the last edit reaches the platform")
	assert.Equal(t, uint64(4), rec.Version)
}

func TestFinalStateMatchesLastText(t *testing.T) {
	sequences := [][]string{
		{"/eval 1", "/eval 2", "/eval 3"},
		{"/eval 1", "hello", "/crate rand"},
		{"hi", "/eval 1", "/eval 1", "bye"},
		{"/doc Vec", "/doc Vec", "/eval --bad", "/eval 9"},
		{"/eval 1", "/eval", "/eval 2", "text"},
		{"/eval 1", "/eval 2", "/eval 2"},
	}
	for _, seq := range sequences {
		got := newFixture(t)
		got.resp.On("", "")
		got.newMessage(t, 5, 50, seq[0])
		for _, text := range seq[1:] {
			got.edit(t, 5, 50, text)
		}
		got.settle(t)

		want := newFixture(t)
		want.resp.On("", "")
		want.newMessage(t, 5, 50, seq[len(seq)-1])
		want.settle(t)

		gotRec, gotOK := got.store.Find(5, 50)
		wantRec, wantOK := want.store.Find(5, 50)
		assert.Equal(t, wantOK, gotOK, "%q tracked", seq)
		assert.Equal(t, wantRec.Signature, gotRec.Signature, "%q signature", seq)
		assert.Equal(t, wantRec.HasReply(), gotRec.HasReply(), "%q reply", seq)

		gotReply, gotErr := got.platform.ReplyTo(5, 50)
		wantReply, wantErr := want.platform.ReplyTo(5, 50)
		assert.Equal(t, wantErr == nil, gotErr == nil, "%q displayed reply", seq)
		assert.Equal(t, wantReply.Text, gotReply.Text, "%q reply text", seq)
	}
}

func TestDifferentChatsDoNotBlockEachOther(t *testing.T) {
	f := newFixture(t)
	started, release := f.resp.Block("slow", "done")
	defer f.settle(t)
	defer release()

	f.newMessage(t, 1, 10, "/eval slow")
	<-started
	f.newMessage(t, 2, 20, "/eval quick")

	require.Eventually(t, func() bool {
		_, err := f.platform.ReplyTo(2, 20)
		return err == nil
	}, 2*time.Second, time.Millisecond, "chat 2 answered while chat 1 is waiting")
	_, err := f.platform.ReplyTo(1, 10)
	assert.Error(t, err)
}

func TestSameChatIsSerialized(t *testing.T) {
	f := newFixture(t)
	started, release := f.resp.Block("slow", "done")

	f.newMessage(t, 1, 10, "/eval slow")
	<-started
	f.newMessage(t, 1, 11, "/eval quick")

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.platform.Calls(), "second message waits for the first")

	release()
	f.settle(t)
	calls := f.platform.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(10), calls[0].ReplyTo)
	assert.Equal(t, int64(11), calls[1].ReplyTo)
}

func TestDrain_FinishesInFlightWork(t *testing.T) {
	f := newFixture(t)
	startedA, releaseA := f.resp.Block("a", "A")
	startedB, releaseB := f.resp.Block("b", "B")

	f.newMessage(t, 1, 10, "/eval a")
	f.newMessage(t, 2, 20, "/eval b")
	<-startedA
	<-startedB

	drained := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		drained <- f.eng.Drain(ctx)
	}()

	require.Eventually(t, f.eng.Draining, time.Second, time.Millisecond)
	assert.ErrorIs(t, f.eng.Submit(Event{Type: EventNew, ChatID: 3, MessageID: 30, Text: "/eval c"}), ErrDraining)

	releaseA()
	releaseB()
	require.NoError(t, <-drained)

	persisted := f.reload(t)
	for _, key := range []record.Key{{ChatID: 1, MessageID: 10}, {ChatID: 2, MessageID: 20}} {
		rec, ok := persisted.Find(key.ChatID, key.MessageID)
		require.True(t, ok, key.String())
		assert.True(t, rec.HasReply())
		assert.Equal(t, uint64(1), rec.Version)
	}
	_, ok := persisted.Find(3, 30)
	assert.False(t, ok)
}

func TestDrain_DeadlineCancelsInFlightCalls(t *testing.T) {
	f := newFixture(t)
	started, _ := f.resp.Block("stuck", "never")

	f.newMessage(t, 1, 10, "/eval stuck")
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := f.eng.Drain(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := f.store.Find(1, 10)
	assert.False(t, ok)
}

func TestPersistFailureIsRetriedOnNextMutation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "record_list.json")
	store, err := record.Load(path)
	require.NoError(t, err)
	f := newFixtureWithStore(t, store, path)

	f.newMessage(t, 1, 10, "/eval 1")
	f.settle(t)
	_, ok := f.store.Find(1, 10)
	require.True(t, ok, "in-memory state stays authoritative")
	assert.True(t, f.store.Dirty())

	require.NoError(t, os.MkdirAll(dir, 0o755))
	f.newMessage(t, 1, 11, "/eval 2")
	f.settle(t)

	assert.False(t, f.store.Dirty())
	persisted := f.reload(t)
	assert.Equal(t, 2, persisted.Len())
}

func TestEviction_DropsRecordsOlderThanMaxAge(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.eng.Submit(Event{
		Type: EventNew, ChatID: 1, MessageID: 10, Text: "/eval 1",
		Date: f.clock.Now().Add(-49 * time.Hour).Unix(),
	}))
	f.settle(t)
	_, ok := f.store.Find(1, 10)
	require.True(t, ok)

	f.newMessage(t, 1, 11, "/eval 2")
	f.settle(t)

	_, ok = f.store.Find(1, 10)
	assert.False(t, ok)
	assert.Contains(t, f.journal.actions(1, 11), ActionEvict)
}

func TestVersionSeededFromStoredRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record_list.json")
	store, err := record.Load(path)
	require.NoError(t, err)
	store.Upsert(record.CommandRecord{ChatID: 1, CommandMessageID: 10, ReplyMessageID: 99, Signature: "old", Version: 5})
	f := newFixtureWithStore(t, store, path)

	f.edit(t, 1, 10, "/eval 1")
	f.settle(t)

	rec, ok := f.store.Find(1, 10)
	require.True(t, ok)
	assert.Equal(t, uint64(6), rec.Version)
	assert.Equal(t, int64(99), rec.ReplyMessageID)
	assert.Equal(t, 1, f.platform.Count("edit"))
}

func TestSubmit_RejectsUnknownEventType(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.eng.Submit(Event{Type: EventType(99), ChatID: 1, MessageID: 1}))
}

func TestSyncErrorHelpers(t *testing.T) {
	err := &SyncError{Code: ErrCodePlatformAction, Op: "edit", ChatID: 1, MessageID: 2, Err: errors.New("boom")}
	assert.True(t, IsPlatformError(err))
	assert.False(t, IsPersistenceFailure(err))
	assert.Equal(t, "PLATFORM_ACTION: edit 1/2: boom", err.Error())
	assert.True(t, IsPersistenceFailure(&SyncError{Code: ErrCodePersistence, Op: "persist", Err: errors.New("x")}))
}
