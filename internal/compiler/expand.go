package compiler

import (
	"errors"
	"fmt"
	"maps"

	"cuelang.org/go/cue"

	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
	"github.com/roach88/cigraph/internal/template"
	"github.com/roach88/cigraph/internal/workflow"
)

// Template is a pipeline template authored in CUE. It implements
// template.Template so CUE and built-in templates expand the same way.
type Template struct {
	name  string
	value cue.Value
}

// NewTemplate wraps a loaded CUE package root. The fallback name is used
// when pipeline.name cannot be read without a run Context.
func NewTemplate(v cue.Value, fallback string) *Template {
	name := fallback
	if n, err := v.LookupPath(cue.ParsePath("pipeline.name")).String(); err == nil && n != "" {
		name = n
	}
	return &Template{name: name, value: v}
}

// Name implements template.Template.
func (t *Template) Name() string { return t.name }

// Value returns the underlying CUE value.
func (t *Template) Value() cue.Value { return t.value }

// Expand implements template.Template. The run Context is bound into the
// CUE value, the result is validated and analyzed for cycles, and the
// graph is then declared on a pipeline.Builder in entry order.
func (t *Template) Expand(ctx ir.Context, opts template.Options) (*template.Expansion, error) {
	spec, err := CompileTemplate(t.value, ctx)
	if err != nil {
		return nil, err
	}
	if err := Check(spec); err != nil {
		return nil, err
	}

	b := pipeline.NewBuilder(spec.Name, ctx, opts.BuilderOptions()...)
	if err := declareNodes(b, spec.Graph, opts.Publish); err != nil {
		return nil, err
	}
	graph, err := b.Finalize()
	if err != nil {
		return nil, err
	}

	overrides, err := slotOverrides(spec)
	if err != nil {
		return nil, err
	}
	return &template.Expansion{Graph: graph, Overrides: overrides}, nil
}

// Check runs structural validation and cycle analysis. All problems found
// are joined into one error.
func Check(spec *TemplateSpec) error {
	var errs []error
	for _, ve := range Validate(spec) {
		errs = append(errs, ve)
	}
	for _, ce := range AnalyzeCycles(spec) {
		errs = append(errs, ce)
	}
	return errors.Join(errs...)
}

func declareNodes(b *pipeline.Builder, nodes []Node, publish pipeline.PublishSpec) error {
	for _, n := range nodes {
		switch n.Kind {
		case KindSubgraph:
			sg := n.Subgraph
			err := b.IncludeSubgraphIf(sg.Name, guardOf(sg.When), func(b *pipeline.Builder) error {
				return declareNodes(b, sg.Graph, publish)
			})
			if fatal(err) {
				return err
			}
		case KindPublish:
			spec := publish
			if n.Job.ID != "" {
				spec.ID = n.Job.ID
			}
			if n.Job.Label != "" {
				spec.Label = n.Job.Label
			}
			if _, err := b.DeclarePublishJob(spec, publishOptions(n.Job)...); fatal(err) {
				return err
			}
		case KindJob:
			if _, err := b.DeclareJob(n.Job.ID, jobOptions(n.Job)...); fatal(err) {
				return err
			}
		default:
			return fmt.Errorf("%s: unclassified entry", n.Field)
		}
	}
	return nil
}

// fatal reports errors the builder has not recorded. Recorded configuration
// errors are collected and returned together by Finalize.
func fatal(err error) bool {
	return err != nil && len(pipeline.ConfigErrors(err)) == 0
}

// guardOf converts a structured when into a Guard. A nil when is Always.
func guardOf(w *WhenSpec) pipeline.Guard {
	if w == nil {
		return pipeline.Always()
	}
	var guards []pipeline.Guard
	if len(w.Environment) > 0 {
		guards = append(guards, pipeline.EnvironmentIn(w.Environment...))
	}
	if len(w.Trigger) > 0 {
		guards = append(guards, pipeline.TriggerIn(w.Trigger...))
	}
	if w.RC != nil {
		if *w.RC {
			guards = append(guards, pipeline.ReleaseCandidate())
		} else {
			guards = append(guards, pipeline.Not(pipeline.ReleaseCandidate()))
		}
	}
	return pipeline.All(guards...)
}

func jobOptions(j *JobSpec) []pipeline.JobOption {
	opts := []pipeline.JobOption{
		pipeline.Needs(j.Needs...),
		pipeline.NeedsIfPresent(j.NeedsIfPresent...),
	}
	if j.Label != "" {
		opts = append(opts, pipeline.Label(j.Label))
	}
	if j.When != nil {
		opts = append(opts, pipeline.When(guardOf(j.When)))
	}
	if len(j.With) > 0 {
		opts = append(opts, pipeline.WithParams(j.With))
	}
	if j.ThreadContext {
		opts = append(opts, pipeline.ThreadContext())
	}
	if j.Uses != "" {
		opts = append(opts, pipeline.Uses(j.Uses))
	}
	if len(j.RunsOn) > 0 {
		opts = append(opts, pipeline.RunsOn(j.RunsOn...))
	}
	if j.Environment != "" {
		opts = append(opts, pipeline.Environment(j.Environment))
	}
	if !j.Secrets.Empty() {
		opts = append(opts, pipeline.Secrets(j.Secrets))
	}
	for _, k := range j.Env.SortedKeys() {
		opts = append(opts, pipeline.Env(k, j.Env[k]))
	}
	if len(j.Steps) > 0 {
		opts = append(opts, pipeline.Steps(j.Steps...))
	}
	if j.If != "" {
		opts = append(opts, pipeline.If(j.If))
	}
	if j.Concludes {
		opts = append(opts, pipeline.Concludes())
	}
	return opts
}

// publishOptions keeps only what DeclarePublishJob does not decide itself.
func publishOptions(j *JobSpec) []pipeline.JobOption {
	opts := []pipeline.JobOption{
		pipeline.Needs(j.Needs...),
		pipeline.NeedsIfPresent(j.NeedsIfPresent...),
	}
	if j.When != nil {
		opts = append(opts, pipeline.When(guardOf(j.When)))
	}
	if len(j.With) > 0 {
		opts = append(opts, pipeline.WithParams(j.With))
	}
	if j.If != "" {
		opts = append(opts, pipeline.If(j.If))
	}
	return opts
}

// slotOverrides turns blocks into literal replacements and extend into
// merges. When a slot has both, the extension is merged into the block.
func slotOverrides(spec *TemplateSpec) (workflow.Overrides, error) {
	overrides := workflow.Overrides{}
	for name, v := range spec.Blocks {
		ext, ok := spec.Extend[name]
		if !ok {
			overrides[name] = workflow.Literal(v)
			continue
		}
		base, isMap := v.(ir.Map)
		if !isMap {
			return nil, &CompileError{
				Field:   "pipeline.extend." + name,
				Message: "cannot extend a block that is not a struct",
			}
		}
		merged := base.Clone()
		maps.Copy(merged, ext)
		overrides[name] = workflow.Literal(merged)
	}
	for name, ext := range spec.Extend {
		if _, done := overrides[name]; !done {
			overrides[name] = workflow.Merge(ext)
		}
	}
	return overrides, nil
}
