package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: reply
description: "a command gets a reply"
responses:
  "1": "one"
steps:
  - new: {chat: 1, message: 10, text: "/eval 1"}
assertions:
  - type: reply_text
    chat: 1
    message: 10
    text: "one"
`

const failingScenario = `name: wrong
description: "expects a reply that never comes"
steps:
  - new: {chat: 1, message: 10, text: "hello"}
assertions:
  - type: record_count
    count: 1
`

// scenarioDir lays out <tmp>/scenarios/*.yaml and returns the scenarios dir.
func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestTestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentDir(t *testing.T) {
	_, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	out, err := execute(t, "test", scenarioDir(t, nil))
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_RepositoryScenarios(t *testing.T) {
	out, err := execute(t, "test", filepath.Join("..", "harness", "testdata", "scenarios"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "edit_updates_reply")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommand_FailureExitCode(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"reply.yaml": passingScenario, "wrong.yaml": failingScenario})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
	assert.Contains(t, out, "Assertion failed: record_count")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"reply.yaml": passingScenario, "wrong.yaml": failingScenario})

	out, err := execute(t, "test", dir, "--filter", "rep*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_UpdateThenCompare(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"reply.yaml": passingScenario})
	golden := filepath.Join(filepath.Dir(dir), "golden", "reply.golden")

	_, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `send 1/1000 reply_to=10 text="one"`)

	_, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("scenario: reply\n"), 0o644))
	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_JSON(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"reply.yaml": passingScenario, "wrong.yaml": failingScenario})

	out, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"broken.yaml": "name: broken\n"})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "failed to load scenario")
}
