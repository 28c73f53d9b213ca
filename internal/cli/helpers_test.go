package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/journal"
	"github.com/roach88/scenebridge/internal/pool"
	"github.com/roach88/scenebridge/internal/scene"
	"github.com/roach88/scenebridge/internal/testutil"
	"github.com/roach88/scenebridge/internal/wire"
)

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// recordJournal plays a few batches through a journaled scene and returns
// the database path and the scene id.
func recordJournal(t *testing.T) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := journal.Open(path)
	require.NoError(t, err)

	host := &testutil.RecordingHost{
		FailOn: func(m wire.Message) error {
			if m.Entity == 7 {
				return fmt.Errorf("host rejected entity %d", m.Entity)
			}
			return nil
		},
	}
	mgr := scene.NewManager(pool.NewRegistry(),
		scene.WithIDGenerator(testutil.NewFixedSceneIDs("scene-a")),
		scene.WithSink(&diag.Recorder{}),
		scene.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		scene.WithJournal(j, 2),
	)
	sc, err := mgr.Load(context.Background(), "arena", host)
	require.NoError(t, err)

	clock := testutil.NewTickClock()
	sc.SendToHost(testutil.NewBatch(clock).Put(1, 1, "pos").Append(1, 2, "a").Bytes())
	sc.SendToHost(testutil.NewBatch(clock).Put(7, 1, "bad").Append(1, 2, "b").Bytes())
	sc.SendToHost(append(testutil.NewBatch(clock).Put(2, 1, "x").Bytes(), 0x01, 0x02))

	mgr.Close()
	require.NoError(t, j.Close())
	return path, sc.ID()
}
