package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/ir"
)

var (
	// jobIDPattern matches valid job identifiers.
	jobIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	// secretNamePattern matches names a secrets expression can reference.
	secretNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// entry is the builder's record of one declared job, included or not.
type entry struct {
	job      ir.Job
	scope    []string
	included bool
	seq      int
}

// frame is one level of the subgraph stack.
type frame struct {
	name     string
	guard    Guard
	included bool
}

// unresolved is a dependency on an ID that was not declared at the time.
type unresolved struct {
	job string
	ref string
}

// Builder expands one pipeline graph. It is single-use and not safe for
// concurrent use: a fresh Builder is created per expansion pass.
type Builder struct {
	name     string
	ctx      ir.Context
	logger   *slog.Logger
	terminal TerminalSpec

	entries   map[string]*entry
	order     []string // included job IDs, declaration order
	excluded  []string
	subgraphs map[string]bool
	stack     []frame
	acc       *ConclusionAccumulator
	pending   []unresolved
	errs      []error
	seq       int
	finalized bool
}

// NewBuilder creates a Builder for the given pipeline name and context.
// A context that fails ir.Context.Validate is recorded as E212 and fails
// Finalize.
func NewBuilder(name string, ctx ir.Context, opts ...Option) *Builder {
	b := &Builder{
		name:      name,
		ctx:       ctx,
		logger:    slog.New(slog.DiscardHandler),
		terminal:  DefaultTerminal(),
		entries:   make(map[string]*entry),
		subgraphs: make(map[string]bool),
		acc:       NewConclusionAccumulator(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := ctx.Validate(); err != nil {
		b.fail(newConfigError(ErrInvalidContext, "", "", "invalid run context: %s", strings.ReplaceAll(err.Error(), "\n", "; ")))
	}
	return b
}

// Context returns the run context every job reads from.
func (b *Builder) Context() ir.Context {
	return b.ctx
}

// ContextParams returns the parameters derived from the run context. They
// are computed from the one Context, never per job.
func (b *Builder) ContextParams() ir.Map {
	return ir.Map{
		"version":       ir.String(b.ctx.Version),
		"rc-build":      ir.Bool(b.ctx.ReleaseCandidate),
		"nightly-build": ir.Bool(b.ctx.Nightly()),
	}
}

// Accumulator exposes the conclusion set for inspection.
func (b *Builder) Accumulator() *ConclusionAccumulator {
	return b.acc
}

// Included reports whether id was declared and materialized.
func (b *Builder) Included(id string) bool {
	e, ok := b.entries[id]
	return ok && e.included
}

// Declared reports whether id was declared, included or not.
func (b *Builder) Declared(id string) bool {
	_, ok := b.entries[id]
	return ok
}

// Err returns every error recorded so far, joined.
func (b *Builder) Err() error {
	return errors.Join(b.errs...)
}

func (b *Builder) fail(err *ConfigError) *ConfigError {
	b.errs = append(b.errs, err)
	b.logger.Debug("expansion error", "code", err.Code, "job", err.Job, "message", err.Message)
	return err
}

func (b *Builder) active() bool {
	for _, f := range b.stack {
		if !f.included {
			return false
		}
	}
	return true
}

func (b *Builder) scopePath() []string {
	path := make([]string, len(b.stack))
	for i, f := range b.stack {
		path[i] = f.name
	}
	return path
}

func (b *Builder) scopeGuards() []Guard {
	guards := make([]Guard, len(b.stack))
	for i, f := range b.stack {
		guards[i] = f.guard
	}
	return guards
}

// DeclareJob declares a job. The returned job is the materialized form;
// check Included to learn whether its scope was excluded. Every error is
// also recorded and returned again by Finalize.
func (b *Builder) DeclareJob(id string, opts ...JobOption) (ir.Job, error) {
	if b.finalized {
		return ir.Job{}, b.fail(newConfigError(ErrFinalized, id, "", "cannot declare jobs after Finalize"))
	}

	spec := jobSpec{guard: Always()}
	for _, opt := range opts {
		opt(&spec)
	}

	if !jobIDPattern.MatchString(id) {
		return ir.Job{}, b.fail(newConfigError(ErrInvalidID, id, "", "job id must match %s", jobIDPattern))
	}
	if _, dup := b.entries[id]; dup || id == b.terminal.ID {
		return ir.Job{}, b.fail(newConfigError(ErrDuplicateID, id, "", "job id already declared"))
	}
	if err := checkShape(id, spec); err != nil {
		return ir.Job{}, b.fail(err)
	}

	scope := b.scopePath()
	if _, ok := spec.guard.(constGuard); !ok || !spec.guard.Eval(b.ctx) {
		// A job with its own guard lives in a private one-job scope.
		scope = append(scope, "?"+id)
	}
	included := b.active() && spec.guard.Eval(b.ctx)

	needs, err := b.resolveNeeds(id, scope, included, spec)
	if err != nil {
		return ir.Job{}, err
	}

	with := spec.with.Clone()
	if spec.threadContext {
		params := b.ContextParams()
		if with == nil {
			with = make(ir.Map, len(params))
		}
		for k, v := range params {
			if _, set := with[k]; !set {
				with[k] = v
			}
		}
	}

	env := spec.env.Clone()
	if spec.uses == "" && len(spec.secrets.Allow) > 0 {
		// Runner jobs have no secrets key; allow-listed secrets reach the
		// steps through env. An explicit Env entry wins.
		if env == nil {
			env = make(ir.Map, len(spec.secrets.Allow))
		}
		for _, name := range spec.secrets.Allow {
			if _, set := env[name]; !set {
				env[name] = ir.String(ir.SecretRef(name))
			}
		}
	}

	job := ir.Job{
		ID:          id,
		Label:       spec.label,
		Needs:       needs,
		Guard:       All(append(b.scopeGuards(), spec.guard)...).String(),
		If:          spec.condition,
		Uses:        spec.uses,
		RunsOn:      slices.Clone(spec.runsOn),
		Environment: spec.environment,
		With:        with,
		Secrets:     spec.secrets,
		Env:         env,
		Steps:       spec.steps,
		Concludes:   spec.concludes,
		Scope:       b.scopePath(),
	}

	b.seq++
	b.entries[id] = &entry{job: job, scope: scope, included: included, seq: b.seq}
	if !included {
		b.excluded = append(b.excluded, id)
		b.logger.Debug("job excluded", "job", id, "guard", job.Guard)
		return job.Clone(), nil
	}

	b.order = append(b.order, id)
	if spec.concludes {
		b.acc.Add(id)
	}
	b.logger.Debug("job declared", "job", id, "needs", needs, "concludes", spec.concludes)
	return job.Clone(), nil
}

// resolveNeeds validates hard and soft dependencies and returns the edge list.
func (b *Builder) resolveNeeds(id string, scope []string, included bool, spec jobSpec) ([]string, error) {
	var (
		needs    []string
		firstErr error
		seen     = make(map[string]bool)
	)
	record := func(err *ConfigError) {
		b.fail(err)
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, ref := range spec.needs {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		if ref == id {
			err := newConfigError(ErrCyclicReference, id, ref, "job depends on itself")
			err.Path = []string{id, id}
			record(err)
			continue
		}
		dep, ok := b.entries[ref]
		if !ok {
			b.pending = append(b.pending, unresolved{job: id, ref: ref})
			continue
		}
		if !isPrefix(dep.scope, scope) {
			record(newConfigError(ErrUnguardedDependency, id, ref,
				"needs %q, which is conditionally included (%s); declare the dependency inside the same subgraph or use NeedsIfPresent",
				ref, dep.job.Guard))
			continue
		}
		if included && !dep.included {
			record(newConfigError(ErrExcludedDependency, id, ref, "needs %q, which is excluded from this expansion", ref))
			continue
		}
		needs = append(needs, ref)
	}

	for _, ref := range spec.needsIfPresent {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		if ref == id {
			err := newConfigError(ErrCyclicReference, id, ref, "job depends on itself")
			err.Path = []string{id, id}
			record(err)
			continue
		}
		dep, ok := b.entries[ref]
		if !ok {
			b.pending = append(b.pending, unresolved{job: id, ref: ref})
			continue
		}
		if !dep.included {
			b.logger.Debug("soft dependency dropped", "job", id, "ref", ref)
			continue
		}
		needs = append(needs, ref)
	}

	return needs, firstErr
}

func checkShape(id string, spec jobSpec) *ConfigError {
	if spec.uses != "" && (len(spec.steps) > 0 || len(spec.runsOn) > 0) {
		return newConfigError(ErrInvalidJobShape, id, "", "uses cannot be combined with steps or runs-on")
	}
	if spec.secrets.Inherit && spec.uses == "" {
		return newConfigError(ErrInvalidSecrets, id, "", "secrets: inherit is only valid on jobs that use a reusable sub-pipeline")
	}
	if spec.secrets.Inherit && len(spec.secrets.Allow) > 0 {
		return newConfigError(ErrInvalidSecrets, id, "", "secrets policy cannot both inherit and allow-list")
	}
	for _, name := range spec.secrets.Allow {
		if !secretNamePattern.MatchString(name) {
			return newConfigError(ErrInvalidSecrets, id, "", "secret name %q must match %s", name, secretNamePattern)
		}
	}
	for _, step := range spec.steps {
		if (step.Uses == "") == (step.Run == "") {
			return newConfigError(ErrInvalidJobShape, id, "", "step %q must set exactly one of uses or run", step.Name)
		}
	}
	return nil
}

// isPrefix reports whether prefix is a leading subsequence of path.
func isPrefix(prefix, path []string) bool {
	return len(prefix) <= len(path) && slices.Equal(prefix, path[:len(prefix)])
}

// IncludeSubgraphIf declares the jobs fn declares inside a named subgraph
// guarded by g. Guards of nested subgraphs compose by conjunction. When the
// effective guard is false fn still runs, but in a shadow scope: its jobs
// are checked and recorded as excluded, nothing is materialized and nothing
// registers as conclusion-relevant.
func (b *Builder) IncludeSubgraphIf(name string, g Guard, fn func(*Builder) error) error {
	if b.finalized {
		return b.fail(newConfigError(ErrFinalized, "", name, "cannot declare subgraphs after Finalize"))
	}
	if name == "" || fn == nil {
		return b.fail(newConfigError(ErrMalformedBlock, "", name, "subgraph requires a name and a body"))
	}
	if b.subgraphs[name] {
		return b.fail(newConfigError(ErrDuplicateID, "", name, "subgraph %q already declared", name))
	}
	if g == nil {
		g = Always()
	}
	b.subgraphs[name] = true

	included := g.Eval(b.ctx)
	b.stack = append(b.stack, frame{name: name, guard: g, included: included})
	b.logger.Debug("subgraph", "name", name, "guard", g.String(), "included", included && b.active())

	err := fn(b)
	b.stack = b.stack[:len(b.stack)-1]

	if err != nil {
		if !b.recorded(err) {
			b.errs = append(b.errs, err)
		}
		return fmt.Errorf("subgraph %q: %w", name, err)
	}
	return nil
}

// recorded reports whether err, or every ConfigError inside it, was
// already recorded by DeclareJob.
func (b *Builder) recorded(err error) bool {
	inner := ConfigErrors(err)
	if len(inner) == 0 {
		return false
	}
	for _, ce := range inner {
		if !slices.ContainsFunc(b.errs, func(e error) bool { return e == error(ce) }) {
			return false
		}
	}
	return true
}

// Conclude registers already declared jobs as conclusion-relevant.
// Excluded jobs are skipped; they never affect the pipeline status.
func (b *Builder) Conclude(ids ...string) error {
	var errs []error
	for _, id := range ids {
		e, ok := b.entries[id]
		switch {
		case !ok:
			errs = append(errs, b.fail(newConfigError(ErrUnknownDependency, "", id, "cannot conclude undeclared job %q", id)))
		case !e.included:
			b.logger.Debug("conclusion skipped for excluded job", "job", id)
		default:
			b.acc.Add(id)
		}
	}
	return errors.Join(errs...)
}

// Finalize emits the terminal status job and returns the immutable graph.
// On any recorded error it returns nil and every error joined.
func (b *Builder) Finalize() (*ir.Graph, error) {
	if b.finalized {
		return nil, newConfigError(ErrFinalized, "", "", "Finalize called twice")
	}
	b.finalized = true

	for _, p := range b.pending {
		dep, ok := b.entries[p.ref]
		if !ok {
			b.fail(newConfigError(ErrUnknownDependency, p.job, p.ref, "needs %q, which is never declared", p.ref))
			continue
		}
		b.fail(newConfigError(ErrForwardReference, p.job, p.ref,
			"needs %q, which is declared later (declaration %d); dependencies must reference earlier jobs", p.ref, dep.seq))
	}

	if b.terminal.ID == "" || !jobIDPattern.MatchString(b.terminal.ID) {
		b.fail(newConfigError(ErrMalformedBlock, b.terminal.ID, "", "terminal status job needs a valid id"))
	}

	// Every edge must land on a materialized job.
	for _, id := range b.order {
		for _, dep := range b.entries[id].job.Needs {
			if !b.Included(dep) {
				b.fail(newConfigError(ErrUnknownDependency, id, dep, "edge to %q has no materialized target", dep))
			}
		}
	}

	if len(b.errs) > 0 {
		b.logger.Debug("expansion failed", "pipeline", b.name, "errors", len(b.errs))
		return nil, errors.Join(b.errs...)
	}

	conclusion := b.acc.Snapshot()
	terminal := ir.Job{
		ID:     b.terminal.ID,
		Label:  b.terminal.Label,
		Needs:  conclusion,
		Guard:  Always().String(),
		If:     "always()",
		RunsOn: slices.Clone(b.terminal.RunsOn),
		Steps:  b.terminal.Steps,
	}

	graph := &ir.Graph{
		Name:       b.name,
		Context:    b.ctx,
		Jobs:       make([]ir.Job, 0, len(b.order)+1),
		Terminal:   terminal.ID,
		Conclusion: slices.Clone(conclusion),
		Excluded:   slices.Clone(b.excluded),
	}
	for _, id := range b.order {
		graph.Jobs = append(graph.Jobs, b.entries[id].job.Clone())
	}
	graph.Jobs = append(graph.Jobs, terminal.Clone())

	b.logger.Debug("expansion finalized",
		"pipeline", b.name,
		"jobs", len(graph.Jobs),
		"excluded", len(graph.Excluded),
		"conclusion", len(conclusion),
	)
	return graph, nil
}
