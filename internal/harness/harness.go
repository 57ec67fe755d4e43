package harness

import (
	"fmt"
	"log/slog"

	"github.com/roach88/cigraph/internal/compiler"
	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
	"github.com/roach88/cigraph/internal/template"
)

// Harness runs scenarios against templates.
type Harness struct {
	opts    template.Options
	resolve func(ref string) (template.Template, error)
	logger  *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithOptions sets the expansion options (publish spec, terminal job).
func WithOptions(o template.Options) Option {
	return func(h *Harness) { h.opts = o }
}

// WithResolver replaces template resolution, e.g. to serve in-memory
// templates in tests.
func WithResolver(fn func(ref string) (template.Template, error)) Option {
	return func(h *Harness) { h.resolve = fn }
}

// WithLogger sets the logger for scenario progress.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// New creates a Harness with default expansion options, resolving
// templates with compiler.Resolve.
func New(opts ...Option) *Harness {
	h := &Harness{
		opts:    template.DefaultOptions(),
		resolve: compiler.Resolve,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default Harness.
func Run(scenario *Scenario) (*Result, error) {
	return New().Run(scenario)
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Build the run Context and resolve the template
// 2. Expand; an expansion error is an outcome, not a harness failure
// 3. Render the document and check graph properties
// 4. Evaluate assertions
//
// The returned error covers problems with the scenario itself: a bad
// context, an unknown template or a document that cannot be rendered.
func (h *Harness) Run(scenario *Scenario) (*Result, error) {
	ctx, err := ir.NewContext(scenario.Context)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: context: %w", scenario.Name, err)
	}

	tmpl, err := h.resolve(scenario.Template)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	opts := h.opts
	if scenario.Publish != "" {
		strategy, err := pipeline.ParseStrategy(scenario.Publish)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
		opts.Publish.Strategy = strategy
	}

	result := NewResult()
	exp, expandErr := tmpl.Expand(ctx, opts)
	result.ExpandErr = expandErr

	if expandErr == nil {
		doc, err := exp.Render()
		if err != nil {
			return nil, fmt.Errorf("scenario %s: render: %w", scenario.Name, err)
		}
		result.Graph = exp.Graph
		result.Document = doc
		for _, msg := range CheckProperties(exp.Graph) {
			result.AddError("property: " + msg)
		}
	}

	for _, msg := range EvaluateAssertions(result.Graph, expandErr, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Debug("scenario completed",
		"scenario", scenario.Name,
		"template", tmpl.Name(),
		"context", ctx.Key(),
		"pass", result.Pass,
		"expand_error", expandErr != nil,
	)
	return result, nil
}
