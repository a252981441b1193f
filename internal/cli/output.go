package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // every verified cell reproduced its output
	ExitFailure      = 1 // at least one cell's output changed
	ExitCommandError = 2 // bad config, unreachable server, kernel failure, ...
)

// Error codes reported with every error response.
const (
	ErrCodeFailure = "E001"
	ErrCodeCommand = "E002"
)

// Format selects how commands write results.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ValidFormats lists the accepted --format values.
var ValidFormats = []Format{FormatText, FormatJSON}

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !slices.Contains(ValidFormats, f) {
		return "", fmt.Errorf("invalid format %q: must be one of %v", s, ValidFormats)
	}
	return f, nil
}

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// ErrorCode is the code reported alongside the message.
func (e *ExitError) ErrorCode() string {
	if e.Code == ExitFailure {
		return ErrCodeFailure
	}
	return ErrCodeCommand
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError around err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitSuccess for nil, the code of an ExitError anywhere
// in the chain, and ExitCommandError for any other error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

func errorCodeOf(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ErrorCode()
	}
	return ErrCodeCommand
}

// OutputFormatter writes command results and errors in one Format.
// Diagnostics go to ErrWriter so JSON on Writer stays parseable.
type OutputFormatter struct {
	Format    Format
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// newFormatter binds a formatter to the command's output streams.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	format, err := ParseFormat(opts.Format)
	if err != nil {
		format = FormatText
	}
	return &OutputFormatter{
		Format:    format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the JSON envelope of every JSON result.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command in a CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON reports whether results are written as JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == FormatJSON
}

// Success writes data. Text output prints data with its default format.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes err with its error code. In verbose text mode every cause in
// the chain is listed on its own line.
func (f *OutputFormatter) Error(err error) error {
	code := errorCodeOf(err)
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: err.Error()},
		})
	}
	if _, werr := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, err); werr != nil {
		return werr
	}
	if f.Verbose {
		for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
			fmt.Fprintf(f.Writer, "  caused by: %v\n", cause)
		}
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose mode is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter, or Writer when no ErrWriter is set.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
