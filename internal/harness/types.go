package harness

import "github.com/roach88/cigraph/internal/ir"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion and every graph
	// property held.
	Pass bool `json:"pass"`

	// Errors contains assertion and property failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Graph is the finalized graph, nil when expansion failed.
	Graph *ir.Graph `json:"-"`

	// Document is the emitted workflow, nil when expansion failed.
	Document []byte `json:"-"`

	// ExpandErr is the expansion error, if any.
	ExpandErr error `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
