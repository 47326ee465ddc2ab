package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/threads/internal/config"
)

// RootOptions holds global flags for all commands, plus the configuration
// and logger resolved from them before any subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Backend    string
	Database   string // path, directory or DSN of the selected backend

	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the threads CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Event-sourced discussion threads",
		Long: `threads stores discussion threads as append-only event streams.

Every thread is a stream of events guarded by optimistic concurrency: a
reply names the version it was written against and is rejected when the
thread has moved on. Threads can be served over HTTP or managed directly
from the command line against any configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.setup(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to TOML config file (default ./threads.toml if present)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "store backend (memory|sqlite|badger|postgres)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path, directory or DSN for the backend")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewReplyCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewMessageCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are rendered to stdout as a CLIResponse in json format and to
// stderr otherwise.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		code, details := errorCode(err)
		f := &OutputFormatter{Format: opts.Format, Writer: stderr, Verbose: opts.Verbose}
		if opts.Format == "json" {
			f.Writer = stdout
		}
		_ = f.Error(code, err.Error(), details)
	}
	return GetExitCode(err)
}

// setup resolves configuration and installs the logger. Flags override
// the file and environment only when they were set explicitly.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	overrides := map[string]any{}
	if cmd.Flags().Changed("backend") {
		overrides["store.backend"] = o.Backend
	}

	// --db means a different key per backend, so resolve the backend first.
	cfg, err := config.Resolve(o.ConfigPath, overrides)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cmd.Flags().Changed("db") {
		overrides[databaseKey(cfg.Store.Backend)] = o.Database
		if cfg, err = config.Resolve(o.ConfigPath, overrides); err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	o.Config = cfg

	// Configure logging based on config and the verbose flag
	logLevel, _ := config.ParseLevel(cfg.Log.Level)
	if o.Verbose {
		logLevel = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), handlerOpts)
	if o.Format == "json" {
		handler = slog.NewJSONHandler(cmd.ErrOrStderr(), handlerOpts)
	}
	o.Logger = slog.New(handler)
	return nil
}

// databaseKey is the config key --db sets for backend.
func databaseKey(backend string) string {
	switch backend {
	case config.BackendBadger:
		return "store.badger_dir"
	case config.BackendPostgres:
		return "store.postgres_dsn"
	default:
		return "store.sqlite_path"
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
