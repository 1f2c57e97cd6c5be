package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evalbot/internal/record"
)

func writeRecords(t *testing.T, recs ...record.CommandRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "record_list.json")
	store, err := record.Load(path)
	require.NoError(t, err)
	for _, r := range recs {
		store.Upsert(r)
	}
	require.NoError(t, store.SnapshotAndPersist())
	return path
}

func sampleRecords() []record.CommandRecord {
	return []record.CommandRecord{
		{ChatID: 1, CommandMessageID: 10, ReplyMessageID: 100, Signature: "a", Version: 1},
		{ChatID: 1, CommandMessageID: 11, Signature: "b", Version: 2},
		{ChatID: 2, CommandMessageID: 20, ReplyMessageID: 200, Signature: "c", Version: 1},
	}
}

func TestRecords_Text(t *testing.T) {
	path := writeRecords(t, sampleRecords()...)

	out, err := execute(t, "records", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "CHAT")
	assert.Contains(t, out, "100")
	assert.Contains(t, out, "3 record(s), 2 with a reply")
}

func TestRecords_JSONWithChatFilter(t *testing.T) {
	path := writeRecords(t, sampleRecords()...)

	out, err := execute(t, "records", "--file", path, "--chat", "1", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   RecordsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Replies)
	for _, r := range resp.Data.Records {
		assert.Equal(t, int64(1), r.ChatID)
	}
}

func TestRecords_MissingFileIsEmpty(t *testing.T) {
	out, err := execute(t, "records", "--file", filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "No records in")
}

func TestRecords_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record_list.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := execute(t, "records", "--file", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRecords_PathFromConfig(t *testing.T) {
	path := writeRecords(t, sampleRecords()[0])
	cfg := filepath.Join(t.TempDir(), "evalbot.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("records_path: "+path+"\n"), 0o644))

	out, err := execute(t, "records", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "1 record(s), 1 with a reply")
}
