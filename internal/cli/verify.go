package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/service"
	"github.com/roach88/threads/internal/thread"
)

// VerifyThreadResult holds the verification result for a single thread.
type VerifyThreadResult struct {
	ThreadID   string   `json:"thread_id"`
	Events     int      `json:"events"`
	Version    uint32   `json:"version"`
	Consistent bool     `json:"consistent"`
	Problems   []string `json:"problems,omitempty"`
}

// VerifyResult holds the overall verification result.
type VerifyResult struct {
	Threads       []VerifyThreadResult `json:"threads"`
	TotalThreads  int                  `json:"total_threads"`
	AllConsistent bool                 `json:"all_consistent"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [thread-id...]",
		Short: "Replay streams and check the stored projections",
		Long: `Replay event streams and verify the stored read projections.

Every stream is folded into both the write model and the read projection
and compared with what the store holds: versions, message counts, message
contents and ids, and message lookups. Without arguments every listed
thread is verified.

Exit codes:
  0 - All projections agree with their streams
  1 - At least one thread diverged
  2 - Command error (store unavailable, invalid id, etc.)

Examples:
  threads verify
  threads verify 0b6f3c3e-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()

	ids := make([]id.ThreadID, 0, len(args))
	for _, arg := range args {
		tid, err := id.ParseThreadID(arg)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid thread id", err)
		}
		ids = append(ids, tid)
	}

	svc, st, err := opts.openService(ctx)
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	if len(ids) == 0 {
		summaries, err := svc.ListThreads(ctx)
		if err != nil {
			return operationError("failed to list threads", err)
		}
		for _, s := range summaries {
			ids = append(ids, s.ID)
		}
	}

	result := VerifyResult{
		Threads:       make([]VerifyThreadResult, 0, len(ids)),
		TotalThreads:  len(ids),
		AllConsistent: true,
	}
	for _, tid := range ids {
		res, err := verifyThread(ctx, svc, tid)
		if err != nil {
			return operationError(fmt.Sprintf("failed to verify thread %s", tid), err)
		}
		result.Threads = append(result.Threads, res)
		if !res.Consistent {
			result.AllConsistent = false
		}
	}

	if opts.Format == "json" {
		return outputVerifyJSON(cmd, result)
	}
	return outputVerifyText(cmd, result, opts.Verbose)
}

// verifyThread folds the stream of tid both ways and compares the result
// with the stored projection.
func verifyThread(ctx context.Context, svc *service.Service, tid id.ThreadID) (VerifyThreadResult, error) {
	res := VerifyThreadResult{ThreadID: tid.String()}
	problem := func(format string, args ...any) {
		res.Problems = append(res.Problems, fmt.Sprintf(format, args...))
	}

	events, err := svc.Events(ctx, tid)
	if err != nil {
		return res, err
	}
	res.Events = len(events)

	stored, ok, err := svc.GetThread(ctx, tid)
	if err != nil {
		return res, err
	}

	if len(events) == 0 {
		problem("stream is empty")
	}
	if !ok {
		problem("projection is missing")
	}
	if len(res.Problems) > 0 {
		return res, nil
	}
	res.Version = stored.Version.Uint32()

	for i, e := range events {
		if v := e.EventPayload().Version.Uint32(); v != uint32(i+1) {
			problem("event %d has version %d", i+1, v)
		}
	}

	write, read, err := fold(events)
	if err != nil {
		problem("replay failed: %v", err)
		return res, nil
	}

	if diff := cmp.Diff(read, stored); diff != "" {
		problem("projection differs from replay (-replayed +stored):\n%s", diff)
	}
	if write.Version() != stored.Version {
		problem("write model at version %d, projection at %d", write.Version(), stored.Version)
	}
	if write.MessageCount() != stored.MessageCount() {
		problem("write model has %d messages, projection %d", write.MessageCount(), stored.MessageCount())
	}
	for i, m := range write.Messages() {
		if i >= len(stored.Messages) {
			break
		}
		sm := stored.Messages[i]
		if m.ID != sm.ID || m.Content.String() != sm.Content {
			problem("message %d differs between write model and projection", i+1)
		}

		tm, found, err := svc.GetMessage(ctx, m.ID)
		if err != nil {
			return res, err
		}
		if !found || tm.ThreadID != tid || tm.Message.Number != i+1 {
			problem("message %d lookup does not resolve to this thread", i+1)
		}
	}

	res.Consistent = len(res.Problems) == 0
	return res, nil
}

// fold replays events into both models. Malformed streams make the folds
// panic; that is reported as an error here rather than crashing the tool.
func fold(events []thread.Event) (write thread.Thread, read readmodel.Thread, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return thread.Replay(events), readmodel.Replay(events), nil
}

// outputVerifyJSON outputs the verify result as JSON.
func outputVerifyJSON(cmd *cobra.Command, result VerifyResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.AllConsistent {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "projection_divergence",
			Message: "projection verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.AllConsistent {
		// Divergence = exit code 1
		return &ExitError{Code: ExitFailure, Message: "projection verification failed", Reported: true}
	}
	return nil
}

// outputVerifyText outputs the verify result as text.
func outputVerifyText(cmd *cobra.Command, result VerifyResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.TotalThreads == 0 {
		fmt.Fprintln(w, "No threads found.")
		return nil
	}

	fmt.Fprintf(w, "Verify Summary: %d thread(s)\n", result.TotalThreads)
	fmt.Fprintln(w)

	for _, th := range result.Threads {
		status := "✓"
		if !th.Consistent {
			status = "✗"
		}

		fmt.Fprintf(w, "%s Thread: %s\n", status, th.ThreadID)
		fmt.Fprintf(w, "  Events: %d, version %d\n", th.Events, th.Version)
		for _, p := range th.Problems {
			if !verbose {
				p, _, _ = strings.Cut(p, "\n")
			}
			fmt.Fprintf(w, "  Problem: %s\n", p)
		}
	}
	fmt.Fprintln(w)

	if result.AllConsistent {
		fmt.Fprintln(w, "✓ All projections match their streams")
		return nil
	}

	fmt.Fprintln(w, "✗ Projection verification failed")
	// Divergence = exit code 1
	return &ExitError{Code: ExitFailure, Message: "projection verification failed", Reported: true}
}
