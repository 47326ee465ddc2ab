package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/threads/internal/id"
	"github.com/roach88/threads/internal/store"
	"github.com/roach88/threads/internal/thread"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Rejected operation or failed verification (stale version, divergent projection, etc.)
	ExitCommandError = 2 // Command error (bad flags, unreachable store, invalid id, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already wrote its own failure
	// output, so Execute does not render the error again.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitCommandError (2) if the error is not an ExitError, which
// covers cobra's own flag and argument errors.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// operationError wraps an error from the service with the exit code its
// kind deserves: rejections exit 1, everything else 2.
func operationError(message string, err error) *ExitError {
	switch {
	case store.IsVersionMismatch(err), store.IsNotFound(err), thread.IsMessageLimit(err), thread.IsContentError(err):
		return WrapExitError(ExitFailure, message, err)
	default:
		return WrapExitError(ExitCommandError, message, err)
	}
}

// errorCode names err for CLIError.Code.
func errorCode(err error) (string, any) {
	var (
		contentErr *thread.ContentError
		threadErr  *id.ThreadIDError
		messageErr *id.MessageIDError
	)
	switch {
	case errors.As(err, &contentErr):
		return string(contentErr.Code), nil
	case errors.As(err, &threadErr), errors.As(err, &messageErr):
		return "invalid_id", nil
	case store.IsVersionMismatch(err):
		vm, _ := store.AsVersionMismatch(err)
		return "version_mismatch", map[string]any{"actual": vm.Actual.Uint32(), "expected": vm.Expected.String()}
	case store.IsNotFound(err):
		return "not_found", nil
	case thread.IsMessageLimit(err):
		return "message_limit_reached", nil
	case store.IsInternal(err):
		return "internal", nil
	default:
		return "error", nil
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "version_mismatch", "not_found", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// JSON reports whether output is machine readable.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Success outputs a successful result in the configured format. In text
// format data is printed with fmt; commands with richer text output write
// it themselves and only call Success in json format.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
