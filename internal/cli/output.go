package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/cigraph/internal/compiler"
	"github.com/roach88/cigraph/internal/pipeline"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Test/validation failure (scenarios failed, invalid matrix combinations)
	ExitCommandError = 2 // Command error (bad template, expansion error, unreadable config)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
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
	Code    string `json:"code"`              // "E001", "E205", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
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
	if f.Format == "json" {
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
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// Problem is one coded error found while loading, validating or expanding
// a template.
type Problem struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Job     string   `json:"job,omitempty"`
	Ref     string   `json:"ref,omitempty"`
	Field   string   `json:"field,omitempty"`
	Path    []string `json:"path,omitempty"`
	Line    int      `json:"line,omitempty"`
}

// String renders the problem the way the error types do.
func (p Problem) String() string {
	switch {
	case p.Job != "":
		return fmt.Sprintf("%s: job %q: %s", p.Code, p.Job, p.Message)
	case p.Field != "":
		return fmt.Sprintf("%s: %s: %s", p.Code, p.Field, p.Message)
	}
	return fmt.Sprintf("%s: %s", p.Code, p.Message)
}

// Problems flattens an error, including joined errors, into coded
// problems in their original order.
func Problems(err error) []Problem {
	var out []Problem
	for _, leaf := range leafErrors(err) {
		out = append(out, problemOf(leaf))
	}
	return out
}

// leafErrors unwraps single-error wrappers until it reaches a join.
func leafErrors(err error) []error {
	if err == nil {
		return nil
	}
	for e := err; e != nil; {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			var out []error
			for _, inner := range joined.Unwrap() {
				out = append(out, leafErrors(inner)...)
			}
			return out
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return []error{err}
}

func problemOf(err error) Problem {
	var (
		configErr  *pipeline.ConfigError
		validErr   compiler.ValidationError
		loadErr    *compiler.LoadError
		compileErr *compiler.CompileError
	)
	switch {
	case errors.As(err, &configErr):
		return Problem{Code: configErr.Code, Message: configErr.Message, Job: configErr.Job, Ref: configErr.Ref, Path: configErr.Path}
	case errors.As(err, &validErr):
		return Problem{Code: validErr.Code, Message: validErr.Message, Field: validErr.Field, Line: validErr.Line}
	case errors.As(err, &loadErr):
		p := Problem{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			p.Line = loadErr.Pos.Line()
		}
		return p
	case errors.As(err, &compileErr):
		p := Problem{Code: compiler.ErrCodeBuildFailed, Message: compileErr.Message, Field: compileErr.Field}
		if compileErr.Pos.IsValid() {
			p.Line = compileErr.Pos.Line()
		}
		return p
	}
	return Problem{Code: compiler.ErrCodeGeneric, Message: err.Error()}
}

// outputProblems reports every problem in err and returns an ExitError
// with the given code.
func outputProblems(formatter *OutputFormatter, headline string, err error, exitCode int) error {
	problems := Problems(err)
	if len(problems) == 0 {
		problems = []Problem{{Code: compiler.ErrCodeGeneric, Message: headline}}
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   problems,
			Error:  &CLIError{Code: problems[0].Code, Message: headline},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if encErr := encoder.Encode(response); encErr != nil {
			return encErr
		}
		return NewExitError(exitCode, fmt.Sprintf("%s with %d error(s)", headline, len(problems)))
	}

	fmt.Fprintf(formatter.Writer, "✗ %s\n\n", capitalize(headline))
	for _, p := range problems {
		if p.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", p.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s\n", p)
		if len(p.Path) > 0 {
			fmt.Fprintf(formatter.Writer, "    cycle: %s\n", joinPath(p.Path))
		}
	}
	fmt.Fprintln(formatter.Writer)
	return NewExitError(exitCode, fmt.Sprintf("%s with %d error(s)", headline, len(problems)))
}

// outputCommandError reports a single command-level error (exit code 2).
func outputCommandError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func joinPath(path []string) string {
	out := ""
	for i, id := range path {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}
