package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/readmodel"
	"github.com/roach88/threads/internal/thread"
)

// timeFormat renders timestamps in command output.
const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// WriteResult is the outcome of create and reply.
type WriteResult struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Version   uint32 `json:"version"`
}

// MessageView is a message as printed by show and message.
type MessageView struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// SummaryView is a thread summary as printed by list.
type SummaryView struct {
	ID           string      `json:"id"`
	CreatedAt    string      `json:"created_at"`
	Version      uint32      `json:"version"`
	RepliesCount int         `json:"replies_count"`
	LastMessage  MessageView `json:"last_message"`
}

// ThreadView is a thread as printed by show.
type ThreadView struct {
	SummaryView
	Messages []MessageView `json:"messages"`
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <content>",
		Short: "Start a new thread",
		Long: `Start a new thread with content as its root message.

Examples:
  threads create "Has anyone tried the new build?"
  threads create "Hello" --backend memory --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(rootOpts, args[0], cmd)
		},
	}
}

func runCreate(opts *RootOptions, content string, cmd *cobra.Command) error {
	svc, st, err := opts.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	th, events, err := svc.CreateThread(cmd.Context(), content)
	if err != nil {
		return operationError("failed to create thread", err)
	}
	return outputWrite(opts, cmd, "Created", writeResult(th, events))
}

// ReplyOptions holds flags for the reply command.
type ReplyOptions struct {
	*RootOptions
	Version uint32
	Retries int
}

// NewReplyCommand creates the reply command.
func NewReplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reply <thread-id> <content>",
		Short: "Reply to a thread",
		Long: `Reply to a thread.

With --version the reply is written only if the thread is still at that
version, exactly as a client holding a stale page would. Without it the
reply is written against the current version, re-reading and retrying up
to --retries times when another writer gets there first.

Exit codes:
  0 - Reply written
  1 - Reply rejected (stale version, unknown thread, invalid content, full thread)
  2 - Command error (invalid id, store unavailable, etc.)

Examples:
  threads reply 0b6f3c3e-... "Agreed" --version 3
  threads reply 0b6f3c3e-... "Agreed" --retries 5`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReply(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().Uint32Var(&opts.Version, "version", 0, "expected thread version")
	cmd.Flags().IntVar(&opts.Retries, "retries", 3, "retries on conflict when --version is not set")

	return cmd
}

func runReply(opts *ReplyOptions, rawID, content string, cmd *cobra.Command) error {
	threadID, err := id.ParseThreadID(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid thread id", err)
	}
	if opts.Retries < 0 {
		return NewExitError(ExitCommandError, "--retries must not be negative")
	}

	var (
		expected thread.Version
		pinned   = cmd.Flags().Changed("version")
	)
	if pinned {
		if expected, err = thread.NewVersion(opts.Version); err != nil {
			return WrapExitError(ExitCommandError, "invalid --version", err)
		}
	}

	svc, st, err := opts.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	var (
		th     thread.Thread
		events []thread.Event
	)
	if pinned {
		th, events, err = svc.Reply(cmd.Context(), threadID, expected, content)
	} else {
		th, events, err = svc.ReplyLatest(cmd.Context(), threadID, content, opts.Retries+1)
	}
	if err != nil {
		return operationError("failed to reply", err)
	}
	return outputWrite(opts.RootOptions, cmd, "Replied to", writeResult(th, events))
}

func writeResult(th thread.Thread, events []thread.Event) WriteResult {
	last := events[len(events)-1].EventPayload()
	return WriteResult{
		ThreadID:  th.ID().String(),
		MessageID: last.MessageID.String(),
		Version:   th.Version().Uint32(),
	}
}

func outputWrite(opts *RootOptions, cmd *cobra.Command, verb string, res WriteResult) error {
	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(res)
	}
	fmt.Fprintf(f.Writer, "%s thread %s\n", verb, res.ThreadID)
	fmt.Fprintf(f.Writer, "  Message: %s\n", res.MessageID)
	fmt.Fprintf(f.Writer, "  Version: %d\n", res.Version)
	return nil
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List threads, oldest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(rootOpts, cmd)
		},
	}
}

func runList(opts *RootOptions, cmd *cobra.Command) error {
	svc, st, err := opts.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	summaries, err := svc.ListThreads(cmd.Context())
	if err != nil {
		return operationError("failed to list threads", err)
	}
	views := lo.Map(summaries, func(s readmodel.Summary, _ int) SummaryView { return summaryView(s) })

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(views)
	}
	if len(views) == 0 {
		fmt.Fprintln(f.Writer, "No threads found.")
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(f.Writer, "%s  %s  v%d  %d replies  %s\n",
			v.ID, v.CreatedAt, v.Version, v.RepliesCount, preview(v.LastMessage.Content))
	}
	return nil
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <thread-id>",
		Short:         "Show a thread and its messages",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, args[0], cmd)
		},
	}
}

func runShow(opts *RootOptions, rawID string, cmd *cobra.Command) error {
	threadID, err := id.ParseThreadID(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid thread id", err)
	}

	svc, st, err := opts.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	rt, ok, err := svc.GetThread(cmd.Context(), threadID)
	if err != nil {
		return operationError("failed to load thread", err)
	}
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("thread %s not found", threadID))
	}

	view := ThreadView{
		SummaryView: summaryView(rt.Summary()),
		Messages:    lo.Map(rt.Messages, func(m readmodel.Message, _ int) MessageView { return messageView(m) }),
	}

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(view)
	}
	fmt.Fprintf(f.Writer, "Thread %s\n", view.ID)
	fmt.Fprintf(f.Writer, "  Created: %s\n", view.CreatedAt)
	fmt.Fprintf(f.Writer, "  Version: %d\n", view.Version)
	fmt.Fprintf(f.Writer, "  Replies: %d\n", view.RepliesCount)
	fmt.Fprintln(f.Writer)
	for _, m := range view.Messages {
		writeMessage(f.Writer, m)
	}
	return nil
}

// NewMessageCommand creates the message command.
func NewMessageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "message <message-id>",
		Short:         "Show one message and the thread it belongs to",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMessage(rootOpts, args[0], cmd)
		},
	}
}

func runMessage(opts *RootOptions, rawID string, cmd *cobra.Command) error {
	messageID, err := id.ParseMessageID(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid message id", err)
	}

	svc, st, err := opts.openService(cmd.Context())
	if err != nil {
		return err
	}
	defer opts.closeStore(st)

	tm, ok, err := svc.GetMessage(cmd.Context(), messageID)
	if err != nil {
		return operationError("failed to load message", err)
	}
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("message %s not found", messageID))
	}

	view := struct {
		ThreadID string      `json:"thread_id"`
		Message  MessageView `json:"message"`
	}{tm.ThreadID.String(), messageView(tm.Message)}

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(view)
	}
	fmt.Fprintf(f.Writer, "Thread %s\n", view.ThreadID)
	writeMessage(f.Writer, view.Message)
	return nil
}

func writeMessage(w io.Writer, m MessageView) {
	fmt.Fprintf(w, "#%d  %s  %s\n", m.Number, m.CreatedAt, m.ID)
	fmt.Fprintf(w, "    %s\n", m.Content)
}

func summaryView(s readmodel.Summary) SummaryView {
	return SummaryView{
		ID:           s.ID.String(),
		CreatedAt:    formatTime(s.CreatedAt),
		Version:      s.Version.Uint32(),
		RepliesCount: s.RepliesCount,
		LastMessage:  messageView(s.LastMessage),
	}
}

func messageView(m readmodel.Message) MessageView {
	return MessageView{
		ID:        m.ID.String(),
		Number:    m.Number,
		Content:   m.Content,
		CreatedAt: formatTime(m.CreatedAt),
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

// preview shortens content to one line for list output.
func preview(content string) string {
	line, _, cut := strings.Cut(content, "\n")
	if r := []rune(line); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	if cut {
		return line + "..."
	}
	return line
}
