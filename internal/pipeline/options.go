package pipeline

import (
	"log/slog"

	"github.com/roach88/cigraph/internal/ir"
)

// jobSpec collects the options of one DeclareJob call.
type jobSpec struct {
	label          string
	needs          []string
	needsIfPresent []string
	guard          Guard
	with           ir.Map
	threadContext  bool
	secrets        ir.SecretsPolicy
	uses           string
	runsOn         []string
	environment    string
	env            ir.Map
	steps          []ir.Step
	condition      string
	concludes      bool
}

// JobOption configures a job declaration.
type JobOption func(*jobSpec)

// Label sets the human-readable job name.
func Label(label string) JobOption {
	return func(s *jobSpec) { s.label = label }
}

// Needs declares hard dependencies. Each ID must already be declared and
// visible from the declaring scope.
func Needs(ids ...string) JobOption {
	return func(s *jobSpec) { s.needs = append(s.needs, ids...) }
}

// NeedsIfPresent declares soft dependencies: the edge is kept when the
// target was materialized and dropped when its subgraph was excluded.
// The target must still be declared earlier, in any scope.
func NeedsIfPresent(ids ...string) JobOption {
	return func(s *jobSpec) { s.needsIfPresent = append(s.needsIfPresent, ids...) }
}

// When sets the job's own expansion-time guard. A guarded job behaves like
// a one-job subgraph: other jobs can only reach it through NeedsIfPresent.
func When(g Guard) JobOption {
	return func(s *jobSpec) { s.guard = g }
}

// With sets one parameter passed to the invoked sub-pipeline or step.
func With(key string, value ir.Value) JobOption {
	return func(s *jobSpec) {
		if s.with == nil {
			s.with = make(ir.Map)
		}
		s.with[key] = value
	}
}

// WithParams merges a parameter map.
func WithParams(params ir.Map) JobOption {
	return func(s *jobSpec) {
		if s.with == nil {
			s.with = make(ir.Map, len(params))
		}
		for k, v := range params {
			s.with[k] = v
		}
	}
}

// ThreadContext passes the builder's context parameters (version,
// rc-build, nightly-build) to the job. Explicit With values win.
func ThreadContext() JobOption {
	return func(s *jobSpec) { s.threadContext = true }
}

// Secrets sets the secrets-forwarding policy.
func Secrets(p ir.SecretsPolicy) JobOption {
	return func(s *jobSpec) { s.secrets = p }
}

// Uses delegates the job to a reusable sub-pipeline.
func Uses(ref string) JobOption {
	return func(s *jobSpec) { s.uses = ref }
}

// RunsOn sets the runner label set.
func RunsOn(labels ...string) JobOption {
	return func(s *jobSpec) { s.runsOn = labels }
}

// Environment sets the deployment environment name of the job.
func Environment(name string) JobOption {
	return func(s *jobSpec) { s.environment = name }
}

// Env sets one job-level environment variable.
func Env(key string, value ir.Value) JobOption {
	return func(s *jobSpec) {
		if s.env == nil {
			s.env = make(ir.Map)
		}
		s.env[key] = value
	}
}

// Steps appends steps to a runner-hosted job.
func Steps(steps ...ir.Step) JobOption {
	return func(s *jobSpec) { s.steps = append(s.steps, steps...) }
}

// If sets the runtime condition emitted verbatim for the external scheduler.
func If(expr string) JobOption {
	return func(s *jobSpec) { s.condition = expr }
}

// Concludes marks the job as conclusion-relevant.
func Concludes() JobOption {
	return func(s *jobSpec) { s.concludes = true }
}

// TerminalSpec describes the pipeline status job emitted by Finalize.
type TerminalSpec struct {
	ID     string
	Label  string
	RunsOn []string
	Steps  []ir.Step
}

// DefaultTerminal is the status job used when none is configured.
func DefaultTerminal() TerminalSpec {
	return TerminalSpec{
		ID:     "set-pipeline-exit-status",
		Label:  "Set the Pipeline Exit Status",
		RunsOn: []string{"ubuntu-latest"},
		Steps: []ir.Step{{
			Name: "Decide whether the needed jobs succeeded or failed",
			Uses: "re-actors/alls-green@release/v1",
			With: ir.Map{"jobs": ir.String("${{ toJSON(needs) }}")},
		}},
	}
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for expansion diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithTerminal overrides the status job.
func WithTerminal(t TerminalSpec) Option {
	return func(b *Builder) { b.terminal = t }
}
