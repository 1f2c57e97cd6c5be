package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evalbot/internal/engine"
	"github.com/roach88/evalbot/internal/record"
	"github.com/roach88/evalbot/internal/testutil"
)

// TestScenarios runs every scenario in testdata against its golden trace.
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err)
		t.Run(s.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestRender_Empty(t *testing.T) {
	got := Render("empty", NewResult())
	assert.Equal(t, "scenario: empty\n\ntransitions:\n  (none)\n\ncalls:\n  (none)\n\nrecords:\n  (none)\n", string(got))
}

func TestRender_Lines(t *testing.T) {
	r := NewResult()
	r.Transitions = []engine.Transition{
		{Seq: 4, TraceID: "t", ChatID: 1, MessageID: 2, Version: 3, Action: engine.ActionNotice, ReplyID: 9, Detail: "error: \"x\""},
	}
	r.Calls = []testutil.Call{{Op: "delete", ChatID: 1, MessageID: 9}}
	r.Records = []record.CommandRecord{{ChatID: 1, CommandMessageID: 2, Version: 3, Signature: "s"}}

	got := string(Render("lines", r))
	assert.Contains(t, got, `  4 t 1/2 v3 notice reply=9 detail="error: \"x\""`+"\n")
	assert.Contains(t, got, "  delete 1/9\n")
	assert.Contains(t, got, "  1/2 reply=0 v3 recognized\n")
}
