package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration error codes (E200-E299). Every code is fatal to the
// expansion pass.
const (
	ErrDuplicateID         = "E201" // job or subgraph declared twice
	ErrUnknownDependency   = "E202" // needs names a job that is never declared
	ErrForwardReference    = "E203" // needs names a job declared later
	ErrExcludedDependency  = "E204" // included job needs an excluded one
	ErrUnguardedDependency = "E205" // job outside a subgraph needs a job inside it
	ErrCyclicReference     = "E206" // dependency cycle
	ErrInvalidID           = "E207" // malformed job id
	ErrMalformedBlock      = "E208" // bad extension point or subgraph
	ErrInvalidSecrets      = "E209" // secrets policy not valid for the job shape
	ErrFinalized           = "E210" // builder used after Finalize
	ErrInvalidJobShape     = "E211" // uses combined with steps or runs-on
	ErrInvalidContext      = "E212" // run context field outside its alphabet
)

// ConfigError is a template-expansion error. Expansion aborts on any
// ConfigError; no partial graph is emitted.
type ConfigError struct {
	Code    string   `json:"code"`
	Job     string   `json:"job,omitempty"`
	Ref     string   `json:"ref,omitempty"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"` // cycle path, when Code is ErrCyclicReference
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", e.Code)
	if e.Job != "" {
		fmt.Fprintf(&b, "job %q: ", e.Job)
	}
	b.WriteString(e.Message)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Path, " -> "))
	}
	return b.String()
}

// Is matches another *ConfigError with the same code, so callers can write
// errors.Is(err, &pipeline.ConfigError{Code: pipeline.ErrForwardReference}).
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Job == "" || t.Job == e.Job)
}

func newConfigError(code, job, ref, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Job: job, Ref: ref, Message: fmt.Sprintf(format, args...)}
}

// ConfigErrors extracts every *ConfigError from err, including those
// combined with errors.Join.
func ConfigErrors(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	var out []*ConfigError
	var walk func(error)
	walk = func(e error) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		var ce *ConfigError
		if errors.As(e, &ce) {
			out = append(out, ce)
		}
	}
	walk(err)
	return out
}

// HasCode reports whether err contains a ConfigError with the given code.
func HasCode(err error, code string) bool {
	for _, ce := range ConfigErrors(err) {
		if ce.Code == code {
			return true
		}
	}
	return false
}
