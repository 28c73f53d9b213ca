package cli

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/testutil"
)

func writeBatch(t *testing.T, body []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.bin")
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

func TestDecodeBatchFile(t *testing.T) {
	path := writeBatch(t, testutil.Encode(
		testutil.Put(1, 2, 3, "hi"),
		testutil.DeleteEntity(4),
	))

	out, err := execute(t, NewDecodeCommand(&RootOptions{Format: "text", Verbose: true}), path)
	require.NoError(t, err)
	assert.Contains(t, out, "36 bytes, 2 records")
	assert.Contains(t, out, "[0] PutComponent     e=1 c=2 t=3 len=2 6869")
	assert.Contains(t, out, "[1] DeleteEntity     e=4 c=0 t=0 len=0")
}

func TestDecodeMalformedKeepsPrefix(t *testing.T) {
	body := append(testutil.Encode(testutil.Put(1, 1, 1, "a")), 0x04, 0x00)
	path := writeBatch(t, body)

	out, err := execute(t, NewDecodeCommand(&RootOptions{Format: "text"}), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1 records")
	assert.Contains(t, out, "✗ TRUNCATED_HEADER: record 1 at offset 18")
}

func TestDecodeHexStdinJSON(t *testing.T) {
	body := testutil.Encode(testutil.Append(9, 1, 5, "log"))
	cmd := NewDecodeCommand(&RootOptions{Format: "json"})
	cmd.SetIn(bytes.NewBufferString(hex.EncodeToString(body) + "\n"))

	out, err := execute(t, cmd, "--hex", "-")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   DecodeResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, DecodeResult{
		Bytes: len(body),
		Messages: []DecodedMessage{{
			Index: 0, Type: "AppendComponent", Entity: 9, Component: 1, Timestamp: 5, Length: 3,
			Payload: hex.EncodeToString([]byte("log")),
		}},
	}, resp.Data)
}

func TestDecodeErrors(t *testing.T) {
	_, err := execute(t, NewDecodeCommand(&RootOptions{Format: "text"}), "/nonexistent/batch.bin")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	cmd := NewDecodeCommand(&RootOptions{Format: "text"})
	cmd.SetIn(bytes.NewBufferString("zz"))
	_, err = execute(t, cmd, "--hex", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hex input")

	_, err = execute(t, NewDecodeCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestDecodeEmptyBatch(t *testing.T) {
	out, err := execute(t, NewDecodeCommand(&RootOptions{Format: "text"}), writeBatch(t, nil))
	require.NoError(t, err)
	assert.Contains(t, out, "0 bytes, 0 records")
}
