package cli

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	SceneID  string // optional - specific scene only
}

// ReplaySceneResult holds the replay result for a single scene.
type ReplaySceneResult struct {
	journal.ReplayResult
	Deterministic bool `json:"deterministic"`
}

// ReplaySummary holds the overall replay result.
type ReplaySummary struct {
	Scenes           []ReplaySceneResult `json:"scenes"`
	TotalScenes      int                 `json:"total_scenes"`
	AllDeterministic bool                `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay journaled batches and verify determinism",
		Long: `Replay every journaled batch of a scene into a fresh state store.

Each scene is replayed twice. A scene is deterministic when both replays
agree and every recorded snapshot digest matches the replayed state at
its sequence number.

Exit codes:
  0 - All scenes are deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, unknown scene, etc.)

Examples:
  scenebridge replay --db ./scenebridge.db
  scenebridge replay --db ./scenebridge.db --scene 0190f1c2-...
  scenebridge replay --db ./scenebridge.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.SceneID, "scene", "", "replay specific scene only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()

	j, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	ids, err := sceneIDs(ctx, j, opts.SceneID)
	if err != nil {
		return err
	}

	summary := ReplaySummary{
		Scenes:           make([]ReplaySceneResult, 0, len(ids)),
		TotalScenes:      len(ids),
		AllDeterministic: true,
	}
	for _, id := range ids {
		res, err := replayAndVerify(ctx, j, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay scene %s", id), err)
		}
		summary.Scenes = append(summary.Scenes, res)
		if !res.Deterministic {
			summary.AllDeterministic = false
		}
	}

	out := newFormatter(cmd, opts.RootOptions)
	var failure *ExitError
	if !summary.AllDeterministic {
		failure = NewExitError(ExitFailure, "replay produced different results")
	}
	if out.JSON() {
		return out.Result(summary, failure, "E_DETERMINISM")
	}
	return outputReplayText(out, summary, failure)
}

// openJournal opens an existing journal. A missing file is a command error
// rather than a fresh database.
func openJournal(path string) (*journal.Journal, error) {
	if err := requireFile(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return j, nil
}

func sceneIDs(ctx context.Context, j *journal.Journal, only string) ([]string, error) {
	if only != "" {
		if _, err := j.GetScene(ctx, only); err != nil {
			if errors.Is(err, journal.ErrNotFound) {
				return nil, NewExitError(ExitCommandError, fmt.Sprintf("scene %s not found", only))
			}
			return nil, WrapExitError(ExitCommandError, "failed to read scene", err)
		}
		return []string{only}, nil
	}
	scenes, err := j.ListScenes(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list scenes", err)
	}
	ids := make([]string, len(scenes))
	for i, s := range scenes {
		ids[i] = s.ID
	}
	return ids, nil
}

// replayAndVerify replays a scene twice and compares the results.
func replayAndVerify(ctx context.Context, j *journal.Journal, id string) (ReplaySceneResult, error) {
	first, err := j.ReplayScene(ctx, id)
	if err != nil {
		return ReplaySceneResult{}, err
	}
	second, err := j.ReplayScene(ctx, id)
	if err != nil {
		return ReplaySceneResult{}, err
	}
	return ReplaySceneResult{
		ReplayResult:  first,
		Deterministic: first.Deterministic() && reflect.DeepEqual(first, second),
	}, nil
}

func outputReplayText(out *OutputFormatter, summary ReplaySummary, failure *ExitError) error {
	if summary.TotalScenes == 0 {
		out.Printf("No scenes found in journal.\n")
		return nil
	}
	for _, s := range summary.Scenes {
		mark := "✓"
		if !s.Deterministic {
			mark = "✗"
		}
		out.Printf("%s %s: %d batches, %d messages, %d/%d snapshots verified\n",
			mark, s.SceneID, s.Batches, s.Messages, s.Verified, s.Snapshots)
		if out.Verbose {
			out.Printf("  last seq %d, digest %s\n", s.LastSeq, s.FinalDigest)
			if s.Malformed > 0 {
				out.Printf("  %d malformed batches (prefix applied)\n", s.Malformed)
			}
		}
		for _, m := range s.Mismatches {
			out.Printf("  seq %d (%s): want %s, got %s\n", m.Seq, m.Source, m.Want, m.Got)
		}
	}
	out.Printf("\n")
	if failure != nil {
		out.Printf("✗ Determinism check failed\n")
		return failure
	}
	out.Printf("✓ All %d scene(s) replayed deterministically\n", summary.TotalScenes)
	return nil
}
