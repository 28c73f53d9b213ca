package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/journal"
	"github.com/roach88/scenebridge/internal/wire"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	SceneID  string
	Failures bool // only list failures
}

// TimelineEvent is one journal entry of a scene.
type TimelineEvent struct {
	Seq     int64  `json:"seq"`
	Kind    string `json:"kind"` // "batch" | "snapshot"
	Records int    `json:"records"`
	Bytes   int    `json:"bytes"`
	Digest  string `json:"digest,omitempty"`
	Error   string `json:"error,omitempty"`
}

// InspectStats summarizes a scene's journal.
type InspectStats struct {
	Batches   int            `json:"batches"`
	Records   int            `json:"records"`
	Malformed int            `json:"malformed"`
	Snapshots int            `json:"snapshots"`
	Failures  map[string]int `json:"failures"`
}

// InspectResult is the full inspect output.
type InspectResult struct {
	Scene    journal.SceneRecord `json:"scene"`
	Timeline []TimelineEvent     `json:"timeline"`
	Failures []diag.Record       `json:"failures"`
	Stats    InspectStats        `json:"stats"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the journal timeline of a scene",
		Long: `Show what the journal recorded for one scene.

The output includes:
- Timeline: inbound batches and snapshots in sequence order
- Failures: host apply failures, malformed batches and internal errors
- Stats: summary counts

Without --scene, lists the journaled scenes.

Examples:
  scenebridge inspect --db ./scenebridge.db
  scenebridge inspect --db ./scenebridge.db --scene 0190f1c2-...
  scenebridge inspect --db ./scenebridge.db --scene 0190f1c2-... --failures --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.SceneID, "scene", "", "scene id to inspect")
	cmd.Flags().BoolVar(&opts.Failures, "failures", false, "only list failures")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	j, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	out := newFormatter(cmd, opts.RootOptions)

	if opts.SceneID == "" {
		scenes, err := j.ListScenes(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list scenes", err)
		}
		if out.JSON() {
			return out.Success(scenes)
		}
		if len(scenes) == 0 {
			out.Printf("No scenes found in journal.\n")
		}
		for _, s := range scenes {
			out.Printf("%s  %-20s %s\n", s.ID, s.Name, s.CreatedAt.Format(time.RFC3339))
		}
		return nil
	}

	scene, err := j.GetScene(ctx, opts.SceneID)
	if errors.Is(err, journal.ErrNotFound) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scene %s not found", opts.SceneID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read scene", err)
	}

	result := InspectResult{
		Scene:    scene,
		Timeline: []TimelineEvent{},
		Stats:    InspectStats{Failures: map[string]int{}},
	}
	if !opts.Failures {
		if err := buildTimeline(cmd, j, &result); err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
	}
	result.Failures, err = j.ReadFailures(ctx, scene.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read failures", err)
	}
	if result.Failures == nil {
		result.Failures = []diag.Record{}
	}
	for _, f := range result.Failures {
		result.Stats.Failures[string(f.Code)]++
	}

	if out.JSON() {
		return out.Success(result)
	}
	outputInspectText(out, result)
	return nil
}

// buildTimeline merges batches and snapshots ordered by seq. A snapshot
// taken at seq N follows batch N.
func buildTimeline(cmd *cobra.Command, j *journal.Journal, result *InspectResult) error {
	ctx := cmd.Context()
	batches, err := j.ReadBatches(ctx, result.Scene.ID, 0)
	if err != nil {
		return err
	}
	snaps, err := j.ReadSnapshots(ctx, result.Scene.ID)
	if err != nil {
		return err
	}

	for _, b := range batches {
		ev := TimelineEvent{Seq: b.Seq, Kind: "batch", Bytes: len(b.Body)}
		d := wire.Decode(b.Body)
		for d.Next() {
			ev.Records++
		}
		if err := d.Err(); err != nil {
			ev.Error = err.Error()
			result.Stats.Malformed++
		}
		result.Stats.Records += ev.Records
		result.Timeline = append(result.Timeline, ev)
	}
	for _, s := range snaps {
		ev := TimelineEvent{Seq: s.Seq, Kind: "snapshot", Bytes: len(s.Body), Digest: s.Digest}
		d := wire.Decode(s.Body)
		for d.Next() {
			ev.Records++
		}
		result.Timeline = append(result.Timeline, ev)
	}
	sort.SliceStable(result.Timeline, func(a, b int) bool {
		return result.Timeline[a].Seq < result.Timeline[b].Seq
	})
	result.Stats.Batches = len(batches)
	result.Stats.Snapshots = len(snaps)
	return nil
}

func outputInspectText(out *OutputFormatter, result InspectResult) {
	out.Printf("Scene %s (%s)\n", result.Scene.ID, result.Scene.Name)
	if len(result.Timeline) > 0 {
		out.Printf("\nTimeline:\n")
	}
	for _, ev := range result.Timeline {
		switch ev.Kind {
		case "snapshot":
			out.Printf("  %4d  snapshot  %d slots, %d bytes, %s\n", ev.Seq, ev.Records, ev.Bytes, shortDigest(ev.Digest))
		default:
			out.Printf("  %4d  batch     %d records, %d bytes", ev.Seq, ev.Records, ev.Bytes)
			if ev.Error != "" {
				out.Printf("  ✗ %s", ev.Error)
			}
			out.Printf("\n")
		}
	}

	if len(result.Failures) > 0 {
		out.Printf("\nFailures:\n")
	}
	for _, f := range result.Failures {
		out.Printf("  %s  %-20s", f.Time.Format(time.RFC3339), f.Code)
		if f.Entity != nil {
			out.Printf(" %s e=%d c=%d", f.MessageType, *f.Entity, *f.Component)
		}
		out.Printf("  %s\n", f.Error)
	}

	s := result.Stats
	out.Printf("\nStats: %d batches, %d records, %d malformed, %d snapshots, %d failures\n",
		s.Batches, s.Records, s.Malformed, s.Snapshots, len(result.Failures))
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// requireFile fails when path does not name an existing file.
func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
