package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/threads/internal/config"
	"github.com/roach88/threads/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to the golden directory beside the scenarios
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Backend   string           `json:"backend"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files against a fresh store",
		Long: `Run YAML scenarios against the configured backend kind.

Each scenario runs against a new, empty store of the selected backend
(memory, sqlite or badger) in a temporary location, and its trace is
compared with the golden file named after the scenario.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, unsupported backend, etc.)

Examples:
  threads test ./testdata/scenarios
  threads test ./testdata/scenarios --backend badger
  threads test ./testdata/scenarios --filter "version_*"
  threads test ./testdata/scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default <scenarios-dir>/../golden)")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}
	backend := opts.Config.Store.Backend
	if backend == config.BackendPostgres {
		return NewExitError(ExitCommandError, "scenarios need an empty store; use the memory, sqlite or badger backend")
	}
	if opts.GoldenDir == "" {
		opts.GoldenDir = filepath.Join(filepath.Dir(filepath.Clean(scenariosDir)), "golden")
	}
	if opts.Filter != "" {
		if _, err := filepath.Match(opts.Filter, ""); err != nil {
			return WrapExitError(ExitCommandError, "invalid filter pattern", err)
		}
	}

	scenarios, err := harness.LoadScenarios(scenariosDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}

	result := TestResult{
		Backend:   backend,
		Scenarios: []ScenarioResult{},
	}
	for _, sc := range scenarios {
		if opts.Filter != "" {
			if matched, _ := filepath.Match(opts.Filter, sc.Name); !matched {
				continue
			}
		}

		scenResult := runScenario(cmd.Context(), opts, sc)
		if opts.Format != "json" {
			writeScenarioText(cmd, scenResult)
		}
		result.Scenarios = append(result.Scenarios, scenResult)
		result.Total++
		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, result)
	}
	if result.Total == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}
	return outputTestText(cmd, result)
}

// runScenario executes a single scenario against a fresh store and checks
// its golden file.
func runScenario(ctx context.Context, opts *TestOptions, sc *harness.Scenario) ScenarioResult {
	fail := func(format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: sc.Name, Pass: false, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	tmp, err := os.MkdirTemp("", "threads-scenario-")
	if err != nil {
		return fail("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmp)

	cfg := *opts.Config
	cfg.Store.SQLitePath = filepath.Join(tmp, "threads.db")
	cfg.Store.BadgerDir = filepath.Join(tmp, "badger")

	st, err := OpenStore(ctx, &cfg, opts.Logger, nil)
	if err != nil {
		return fail("failed to open store: %v", err)
	}
	defer opts.closeStore(st)

	result, err := harness.Run(ctx, sc, st)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	snapshot, err := harness.Snapshot(result)
	if err != nil {
		return fail("failed to render trace: %v", err)
	}

	goldenPath := filepath.Join(opts.GoldenDir, sc.Name+".golden")
	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return fail("failed to create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, snapshot, 0o644); err != nil {
			return fail("failed to write golden file: %v", err)
		}
	} else {
		golden, err := os.ReadFile(goldenPath)
		switch {
		case os.IsNotExist(err):
			// No golden file: expectations alone decide.
		case err != nil:
			return fail("failed to read golden file: %v", err)
		case !bytes.Equal(golden, snapshot):
			result.AddError("trace does not match golden file (run with --update to regenerate)")
		}
	}

	return ScenarioResult{Name: sc.Name, Pass: result.Pass, Errors: result.Errors}
}

func writeScenarioText(cmd *cobra.Command, res ScenarioResult) {
	w := cmd.OutOrStdout()
	if res.Pass {
		fmt.Fprintf(w, "✓ %s\n", res.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", res.Name)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", strings.TrimSpace(e))
	}
}

// outputTestJSON outputs the test result as JSON.
func outputTestJSON(cmd *cobra.Command, result TestResult) error {
	status := "ok"
	if result.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   result,
	}

	if result.Failed > 0 {
		response.Error = &CLIError{
			Code:    "scenario_failed",
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d scenario(s) failed", result.Failed), Reported: true}
	}
	return nil
}

// outputTestText outputs the test result as text.
func outputTestText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary (%s): %d passed, %d failed, %d total\n", result.Backend, result.Passed, result.Failed, result.Total)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
