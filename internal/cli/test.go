package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to <scenarios>/../golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run reconciliation scenarios",
		Long: `Run YAML scenarios through a bridge with a recording host world.

Each scenario's expectations and assertions are checked, and its trace is
compared against <golden-dir>/<name>.golden when that file exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  scenebridge test ./testdata/scenarios
  scenebridge test ./testdata/scenarios --filter "entity_*"
  scenebridge test ./testdata/scenarios --update
  scenebridge test ./testdata/scenarios/end_to_end.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory")

	return cmd
}

func runTests(opts *TestOptions, scenarios string, cmd *cobra.Command) error {
	files, err := harness.FindScenarios(scenarios)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenarios not found", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = defaultGoldenDir(scenarios)
	}

	out := newFormatter(cmd, opts.RootOptions)
	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	if len(files) == 0 && !out.JSON() {
		out.Printf("No scenarios found.\n")
		return nil
	}

	for _, f := range files {
		sr := runScenario(f, goldenDir, opts)
		if !out.JSON() {
			printScenario(out, sr, opts.Update)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	var failure *ExitError
	if result.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	if out.JSON() {
		return out.Result(result, failure, "E_TEST_FAILED")
	}

	out.Printf("\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if failure != nil {
		return failure
	}
	out.Printf("✓ All scenarios passed\n")
	return nil
}

// filterScenarios keeps files whose base name (without extension) matches
// the glob pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		ok, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, f)
		}
	}
	return kept, nil
}

// defaultGoldenDir places golden files beside the scenarios directory, the
// testdata/{scenarios,golden} layout the harness tests use.
func defaultGoldenDir(scenarios string) string {
	dir := scenarios
	if info, err := os.Stat(scenarios); err == nil && !info.IsDir() {
		dir = filepath.Dir(scenarios)
	}
	return filepath.Join(filepath.Dir(filepath.Clean(dir)), "golden")
}

func goldenFilePath(goldenDir, name string) string {
	return filepath.Join(goldenDir, name+".golden")
}

// runScenario executes one scenario file and checks it against its golden
// file.
func runScenario(path, goldenDir string, opts *TestOptions) ScenarioResult {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(path),
			Errors: []string{fmt.Sprintf("failed to load scenario: %v", err)},
		}
	}
	fail := func(format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: scenario.Name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	trace, err := harness.MarshalTrace(scenario, result)
	if err != nil {
		return fail("failed to marshal trace: %v", err)
	}

	golden := goldenFilePath(goldenDir, scenario.Name)
	if opts.Update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			return fail("failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(golden, trace, 0o644); err != nil {
			return fail("failed to write golden file: %v", err)
		}
		return ScenarioResult{Name: scenario.Name, Pass: true}
	}

	errs := append([]string(nil), result.Errors...)
	want, err := os.ReadFile(golden)
	switch {
	case os.IsNotExist(err):
		// No golden file: assertions only.
	case err != nil:
		return fail("failed to read golden file: %v", err)
	case !bytes.Equal(want, trace):
		errs = append(errs, "trace does not match golden file (run with --update to regenerate)")
	}
	return ScenarioResult{Name: scenario.Name, Pass: len(errs) == 0, Errors: errs}
}

func printScenario(out *OutputFormatter, sr ScenarioResult, updated bool) {
	switch {
	case sr.Pass && updated:
		out.Printf("✓ %s (golden updated)\n", sr.Name)
	case sr.Pass:
		out.Printf("✓ %s\n", sr.Name)
	default:
		out.Printf("✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			out.Printf("  %s\n", e)
		}
	}
}
