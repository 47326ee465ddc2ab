package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/roach88/threads/internal/canon"
	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/thread"
)

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "events <thread-id>",
		Short: "Print a thread's event stream",
		Long: `Print the event stream of a thread in version order.

In text format every event is printed on its own line as canonical JSON
(sorted keys, no insignificant whitespace), so the output of two stores
holding the same history can be compared byte for byte.

Examples:
  threads events 0b6f3c3e-...
  threads events 0b6f3c3e-... --backend badger --db ./data | sha256sum`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(rootOpts, args[0], cmd)
		},
	}
}

func runEvents(opts *RootOptions, rawID string, cmd *cobra.Command) error {
	threadID, err := id.ParseThreadID(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid thread id", err)
	}

	svc, st, err := opts.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	events, err := svc.Events(cmd.Context(), threadID)
	if err != nil {
		return operationError("failed to read events", err)
	}
	if len(events) == 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("thread %s not found", threadID))
	}
	records := lo.Map(events, func(e thread.Event, _ int) thread.Record { return thread.RecordOf(e) })

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(records)
	}
	for _, r := range records {
		line, err := canon.Marshal(r)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode event", err)
		}
		fmt.Fprintln(f.Writer, string(line))
	}
	return nil
}
