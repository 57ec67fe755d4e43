package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cigraph/internal/ir"
)

// Entry kinds of a template graph list.
const (
	KindJob      = "job"
	KindSubgraph = "subgraph"
	KindPublish  = "publish"
)

// TemplateSpec is a pipeline template decoded from CUE.
type TemplateSpec struct {
	Name   string
	Blocks map[string]ir.Value // slot name -> literal replacement
	Extend map[string]ir.Map   // slot name -> keys merged into the default
	Graph  []Node
}

// Node is one entry of a graph list: a job, a subgraph or the publish job.
type Node struct {
	Kind     string
	Field    string // CUE path, for diagnostics
	Pos      token.Pos
	Job      *JobSpec
	Subgraph *SubgraphSpec
}

// JobSpec is a job entry.
type JobSpec struct {
	ID             string
	Label          string
	Needs          []string
	NeedsIfPresent []string
	When           *WhenSpec
	With           ir.Map
	ThreadContext  bool
	Uses           string
	RunsOn         []string
	Environment    string
	Secrets        ir.SecretsPolicy
	SecretsRaw     string // set when secrets is a string other than "inherit"
	Env            ir.Map
	If             string
	Steps          []ir.Step
	Concludes      bool
}

// SubgraphSpec is a subgraph entry.
type SubgraphSpec struct {
	Name  string
	When  *WhenSpec
	Graph []Node
}

// WhenSpec is a structured guard. All present fields must match.
type WhenSpec struct {
	Environment []string
	Trigger     []string
	RC          *bool
}

// contextValue is the run Context as injected at path "context".
func contextValue(ctx ir.Context) map[string]any {
	return map[string]any{
		"environment": ctx.Environment,
		"version":     ctx.Version,
		"rc":          ctx.ReleaseCandidate,
		"nightly":     ctx.Nightly(),
		"trigger":     ctx.Trigger,
		"repository":  ctx.Repository,
		"actor":       ctx.Actor,
		"run_id":      ctx.RunID,
	}
}

// CompileTemplate binds a run Context into a CUE template and decodes the
// pipeline struct. Uses the CUE Go API directly (not the cue CLI).
//
// The value should be the package root, e.g.:
//
//	v := cuecontext.New().CompileString(`pipeline: { name: "release", graph: [...] }`)
//	spec, err := CompileTemplate(v, ctx)
func CompileTemplate(v cue.Value, ctx ir.Context) (*TemplateSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	bound := v.FillPath(cue.ParsePath("context"), contextValue(ctx))
	if err := bound.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := bound.LookupPath(cue.ParsePath("pipeline"))
	if !p.Exists() {
		return nil, &CompileError{
			Field:   "pipeline",
			Message: "pipeline is required",
			Pos:     v.Pos(),
		}
	}
	if err := p.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &TemplateSpec{}

	name, err := optionalString(p, "name")
	if err != nil {
		return nil, err
	}
	spec.Name = name

	if spec.Blocks, err = parseBlocks(p); err != nil {
		return nil, err
	}
	if spec.Extend, err = parseExtend(p); err != nil {
		return nil, err
	}

	graphVal := lookup(p, "graph")
	if graphVal.Exists() {
		if spec.Graph, err = parseGraph(graphVal, "pipeline.graph"); err != nil {
			return nil, err
		}
	}

	return spec, nil
}

func parseBlocks(p cue.Value) (map[string]ir.Value, error) {
	blocksVal := lookup(p, "blocks")
	if !blocksVal.Exists() {
		return nil, nil
	}
	iter, err := blocksVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	blocks := make(map[string]ir.Value)
	for iter.Next() {
		val, err := valueOf(iter.Value())
		if err != nil {
			return nil, err
		}
		blocks[iter.Selector().Unquoted()] = val
	}
	return blocks, nil
}

func parseExtend(p cue.Value) (map[string]ir.Map, error) {
	extendVal := lookup(p, "extend")
	if !extendVal.Exists() {
		return nil, nil
	}
	iter, err := extendVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	extend := make(map[string]ir.Map)
	for iter.Next() {
		val, err := valueOf(iter.Value())
		if err != nil {
			return nil, err
		}
		m, ok := val.(ir.Map)
		if !ok {
			return nil, &CompileError{
				Field:   "extend." + iter.Selector().Unquoted(),
				Message: "extend entries must be structs",
				Pos:     iter.Value().Pos(),
			}
		}
		extend[iter.Selector().Unquoted()] = m
	}
	return extend, nil
}

// parseGraph decodes an ordered graph list.
func parseGraph(v cue.Value, field string) ([]Node, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var nodes []Node
	for i := 0; iter.Next(); i++ {
		entry := iter.Value()
		node, err := parseNode(entry, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// parseNode classifies an entry by its discriminating field: id for jobs,
// subgraph for subgraphs, publish for the publish job.
func parseNode(v cue.Value, field string) (Node, error) {
	node := Node{Field: field, Pos: v.Pos()}

	var kinds []string
	if lookup(v, "id").Exists() {
		kinds = append(kinds, KindJob)
	}
	if lookup(v, "subgraph").Exists() {
		kinds = append(kinds, KindSubgraph)
	}
	if lookup(v, "publish").Exists() {
		kinds = append(kinds, KindPublish)
	}
	if len(kinds) != 1 {
		// Left for Validate to report with every other structural issue.
		return node, nil
	}
	node.Kind = kinds[0]

	switch node.Kind {
	case KindSubgraph:
		sg := &SubgraphSpec{}
		var err error
		if sg.Name, err = optionalString(v, "subgraph"); err != nil {
			return node, err
		}
		if sg.When, err = parseWhen(v); err != nil {
			return node, err
		}
		if graphVal := lookup(v, "graph"); graphVal.Exists() {
			if sg.Graph, err = parseGraph(graphVal, field+".graph"); err != nil {
				return node, err
			}
		}
		node.Subgraph = sg
	case KindPublish:
		job, err := parseJob(v, "publish")
		if err != nil {
			return node, err
		}
		node.Job = job
	default:
		job, err := parseJob(v, "id")
		if err != nil {
			return node, err
		}
		node.Job = job
	}
	return node, nil
}

func parseJob(v cue.Value, idField string) (*JobSpec, error) {
	job := &JobSpec{}
	var err error

	if idField == "publish" {
		// publish: true uses the configured id; publish: "name" renames it.
		pub := lookup(v, "publish")
		if pub.IncompleteKind() == cue.StringKind {
			if job.ID, err = pub.String(); err != nil {
				return nil, formatCUEError(err)
			}
		}
	} else if job.ID, err = optionalString(v, idField); err != nil {
		return nil, err
	}

	if job.Label, err = optionalString(v, "label"); err != nil {
		return nil, err
	}
	if job.Needs, err = optionalStrings(v, "needs"); err != nil {
		return nil, err
	}
	if job.NeedsIfPresent, err = optionalStrings(v, "needs_if_present"); err != nil {
		return nil, err
	}
	if job.When, err = parseWhen(v); err != nil {
		return nil, err
	}
	if job.With, err = optionalMap(v, "with"); err != nil {
		return nil, err
	}
	if job.ThreadContext, err = optionalBool(v, "thread_context"); err != nil {
		return nil, err
	}
	if job.Uses, err = optionalString(v, "uses"); err != nil {
		return nil, err
	}
	if job.RunsOn, err = parseRunsOn(v); err != nil {
		return nil, err
	}
	if job.Environment, err = optionalString(v, "environment"); err != nil {
		return nil, err
	}
	if err := parseSecrets(v, job); err != nil {
		return nil, err
	}
	if job.Env, err = optionalMap(v, "env"); err != nil {
		return nil, err
	}
	if job.If, err = optionalString(v, "if"); err != nil {
		return nil, err
	}
	if job.Steps, err = parseSteps(v); err != nil {
		return nil, err
	}
	if job.Concludes, err = optionalBool(v, "concludes"); err != nil {
		return nil, err
	}
	return job, nil
}

// parseRunsOn accepts a single label or a list of labels.
func parseRunsOn(v cue.Value) ([]string, error) {
	val := lookup(v, "runs_on")
	if !val.Exists() {
		return nil, nil
	}
	if s, err := val.String(); err == nil {
		return []string{s}, nil
	}
	return optionalStrings(v, "runs_on")
}

// parseSecrets accepts "inherit" or a list of secret names.
func parseSecrets(v cue.Value, job *JobSpec) error {
	val := lookup(v, "secrets")
	if !val.Exists() {
		return nil
	}
	if s, err := val.String(); err == nil {
		if s == "inherit" {
			job.Secrets = ir.InheritSecrets()
		} else {
			job.SecretsRaw = s
		}
		return nil
	}
	names, err := optionalStrings(v, "secrets")
	if err != nil {
		return err
	}
	job.Secrets = ir.AllowSecrets(names...)
	return nil
}

func parseSteps(v cue.Value) ([]ir.Step, error) {
	val := lookup(v, "steps")
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var steps []ir.Step
	for iter.Next() {
		sv := iter.Value()
		var step ir.Step
		if step.Name, err = optionalString(sv, "name"); err != nil {
			return nil, err
		}
		if step.Uses, err = optionalString(sv, "uses"); err != nil {
			return nil, err
		}
		if step.Run, err = optionalString(sv, "run"); err != nil {
			return nil, err
		}
		if step.With, err = optionalMap(sv, "with"); err != nil {
			return nil, err
		}
		if step.Env, err = optionalMap(sv, "env"); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func parseWhen(v cue.Value) (*WhenSpec, error) {
	val := lookup(v, "when")
	if !val.Exists() {
		return nil, nil
	}
	when := &WhenSpec{}
	var err error
	if when.Environment, err = optionalStrings(val, "environment"); err != nil {
		return nil, err
	}
	if when.Trigger, err = optionalStrings(val, "trigger"); err != nil {
		return nil, err
	}
	if rcVal := lookup(val, "rc"); rcVal.Exists() {
		rc, err := rcVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		when.RC = &rc
	}
	return when, nil
}

// lookup selects a regular field by name. Labels such as "if" are
// keywords in CUE expressions, so paths are built rather than parsed.
func lookup(v cue.Value, field string) cue.Value {
	return v.LookupPath(cue.MakePath(cue.Str(field)))
}

func optionalString(v cue.Value, field string) (string, error) {
	val := lookup(v, field)
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	val := lookup(v, field)
	if !val.Exists() {
		return false, nil
	}
	b, err := val.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optionalStrings(v cue.Value, field string) ([]string, error) {
	val := lookup(v, field)
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalMap(v cue.Value, field string) (ir.Map, error) {
	val := lookup(v, field)
	if !val.Exists() {
		return nil, nil
	}
	out, err := valueOf(val)
	if err != nil {
		return nil, err
	}
	m, ok := out.(ir.Map)
	if !ok {
		return nil, &CompileError{Field: field, Message: "must be a struct", Pos: val.Pos()}
	}
	return m, nil
}

// valueOf converts a concrete CUE value to an ir.Value.
// Floats and null are forbidden; parameters must canonicalize.
func valueOf(v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(i), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		list := ir.List{}
		for iter.Next() {
			item, err := valueOf(iter.Value())
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		m := ir.Map{}
		for iter.Next() {
			item, err := valueOf(iter.Value())
			if err != nil {
				return nil, err
			}
			m[iter.Selector().Unquoted()] = item
		}
		return m, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "float values are forbidden - use int or a quoted string",
			Pos:     v.Pos(),
		}
	case cue.NullKind:
		return nil, &CompileError{
			Field:   "value",
			Message: "null values are forbidden",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
