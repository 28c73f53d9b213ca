package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectListsScenes(t *testing.T) {
	path, id := recordJournal(t)

	out, err := execute(t, NewInspectCommand(&RootOptions{Format: "text"}), "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "arena")
}

func TestInspectTimeline(t *testing.T) {
	path, id := recordJournal(t)

	out, err := execute(t, NewInspectCommand(&RootOptions{Format: "text"}), "--db", path, "--scene", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Scene "+id+" (arena)")
	assert.Contains(t, out, "   1  batch     2 records")
	assert.Contains(t, out, "   2  snapshot  3 slots")
	assert.Contains(t, out, "✗ TRUNCATED_HEADER")
	assert.Contains(t, out, "HOST_APPLY_FAILURE")
	assert.Contains(t, out, "PutComponent e=7 c=1  host rejected entity 7")
	assert.Contains(t, out, "Stats: 3 batches, 5 records, 1 malformed, 1 snapshots, 2 failures")
}

func TestInspectJSON(t *testing.T) {
	path, id := recordJournal(t)

	out, err := execute(t, NewInspectCommand(&RootOptions{Format: "json"}), "--db", path, "--scene", id)
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	kinds := make([]string, len(resp.Data.Timeline))
	for i, ev := range resp.Data.Timeline {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []string{"batch", "batch", "snapshot", "batch"}, kinds)
	assert.Len(t, resp.Data.Timeline[2].Digest, 64)
	assert.Equal(t, map[string]int{"HOST_APPLY_FAILURE": 1, "MALFORMED_MESSAGE": 1}, resp.Data.Stats.Failures)
}

func TestInspectFailuresOnly(t *testing.T) {
	path, id := recordJournal(t)

	out, err := execute(t, NewInspectCommand(&RootOptions{Format: "json"}), "--db", path, "--scene", id, "--failures")
	require.NoError(t, err)

	var resp struct {
		Data InspectResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Timeline)
	assert.Len(t, resp.Data.Failures, 2)
}

func TestInspectUnknownScene(t *testing.T) {
	path, _ := recordJournal(t)

	_, err := execute(t, NewInspectCommand(&RootOptions{Format: "text"}), "--db", path, "--scene", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scene nope not found")
}
