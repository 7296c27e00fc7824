package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a run, validation or scenario failed
	ExitCommandError = 2 // the command could not do its work: bad input, config or database
)

// ExitError carries the process exit code of a failed command. Its message
// is the error code already reported to the user.
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

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code for err, ExitFailure when err carries
// none.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope of every JSON response.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
	RunID  string    `json:"run_id,omitempty"`
}

// CLIError is the error part of a response.
type CLIError struct {
	Code    string `json:"code"` // an ErrCode* constant, an instrumentation error code or DIAGNOSTICS
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or JSON.
//
// Results go to Writer. Verbose progress goes to ErrWriter so JSON on
// Writer stays parseable.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func newFormatter(opts *RootOptions, w, errw io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: w, ErrWriter: errw, Verbose: opts.Verbose}
}

// JSON reports whether the formatter emits JSON.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Response writes resp as indented JSON.
func (f *OutputFormatter) Response(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// OK writes a successful JSON response. runID is omitted when empty.
func (f *OutputFormatter) OK(data any, runID string) error {
	return f.Response(CLIResponse{Status: "ok", Data: data, RunID: runID})
}

// Fail reports err under code and returns the ExitError the command should
// return. details go into the JSON error and, in verbose text mode, after
// the message.
func (f *OutputFormatter) Fail(exit int, code string, err error, details ...any) error {
	var d any
	if len(details) == 1 {
		d = details[0]
	} else if len(details) > 1 {
		d = details
	}
	if f.JSON() {
		if werr := f.Response(CLIResponse{Status: "error", Error: &CLIError{Code: code, Message: err.Error(), Details: d}}); werr != nil {
			return werr
		}
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, err)
		if f.Verbose && d != nil {
			fmt.Fprintf(f.Writer, "Details: %v\n", d)
		}
	}
	return WrapExitError(exit, code, err)
}

// VerboseLog writes a progress line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.logWriter(), format+"\n", args...)
	}
}

// logWriter is ErrWriter, or Writer when none is set.
func (f *OutputFormatter) logWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
