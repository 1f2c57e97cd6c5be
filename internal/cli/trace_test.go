package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/journal"
)

func writeJournal(t *testing.T, transitions ...engine.Transition) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()
	for _, tr := range transitions {
		require.NoError(t, j.Append(context.Background(), tr))
	}
	return path
}

func sampleTransitions(at time.Time) []engine.Transition {
	return []engine.Transition{
		{Seq: 1, TraceID: "t1", ChatID: 1, MessageID: 10, Version: 1, Action: engine.ActionSend, ReplyID: 100, Signature: "s", At: at},
		{Seq: 2, TraceID: "t2", ChatID: 1, MessageID: 10, Version: 2, Action: engine.ActionFailed, Detail: "PLATFORM_ACTION: edit 1/10: boom", At: at},
		{Seq: 3, TraceID: "t3", ChatID: 2, MessageID: 20, Version: 1, Action: engine.ActionSend, ReplyID: 101, Signature: "s", At: at},
	}
}

func TestTrace_Text(t *testing.T) {
	path := writeJournal(t, sampleTransitions(time.Now())...)

	out, err := execute(t, "trace", "--db", path, "--chat", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1/10 v1")
	assert.Contains(t, out, "reply=100")
	assert.Contains(t, out, "PLATFORM_ACTION: edit 1/10: boom")
	assert.NotContains(t, out, "2/20")
	assert.Contains(t, out, "2 transition(s), 1 failure(s)")
}

func TestTrace_JSONFilters(t *testing.T) {
	path := writeJournal(t, sampleTransitions(time.Now())...)

	tests := []struct {
		name  string
		args  []string
		total int
	}{
		{"all", nil, 3},
		{"message", []string{"--chat", "1", "--message", "10"}, 2},
		{"trace", []string{"--trace", "t3"}, 1},
		{"limit", []string{"--limit", "2"}, 2},
		{"no match", []string{"--chat", "99"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"trace", "--db", path, "--format", "json"}, tt.args...)
			out, err := execute(t, args...)
			require.NoError(t, err)

			var resp struct {
				Data TraceResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, tt.total, resp.Data.Stats.Total)
			assert.Len(t, resp.Data.Transitions, tt.total)
		})
	}
}

func TestTrace_VerboseShowsTraceID(t *testing.T) {
	path := writeJournal(t, sampleTransitions(time.Now())...)

	out, err := execute(t, "trace", "--db", path, "--trace", "t2", "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "trace=t2")
}

func TestTrace_MissingDatabase(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.db")
	_, err := execute(t, "trace", "--db", missing)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open journal")
	assert.NoFileExists(t, missing)
}

func TestTrace_NegativeLimit(t *testing.T) {
	path := writeJournal(t)
	_, err := execute(t, "trace", "--db", path, "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTracePrune(t *testing.T) {
	old := time.Now().Add(-60 * 24 * time.Hour)
	transitions := sampleTransitions(old)
	transitions[2].At = time.Now()
	path := writeJournal(t, transitions...)

	out, err := execute(t, "trace", "prune", "--db", path, "--older-than", "720h")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 2 transition(s)")

	out, err = execute(t, "trace", "--db", path, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Stats.Total)
}

func TestTracePrune_RejectsZero(t *testing.T) {
	path := writeJournal(t)
	_, err := execute(t, "trace", "prune", "--db", path, "--older-than", "0s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
