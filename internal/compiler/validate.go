package compiler

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/workflow"
)

// Validation error codes (E100-E199)
const (
	// Template errors (E101-E109)
	ErrTemplateNameEmpty = "E101" // pipeline name is required
	ErrTemplateNoJobs    = "E102" // graph must declare at least one job
	ErrUnknownBlock      = "E103" // blocks/extend names an unknown slot
	ErrMultiplePublish   = "E104" // more than one publish entry

	// Graph entry errors (E110-E119)
	ErrEntryKind        = "E110" // entry is not exactly one of job, subgraph, publish
	ErrInvalidJobID     = "E111" // job id empty or malformed
	ErrDuplicateName    = "E112" // duplicate job id or subgraph name
	ErrInvalidSecrets   = "E113" // secrets is neither "inherit" nor a list
	ErrInvalidStep      = "E114" // step must set exactly one of uses or run
	ErrSubgraphNameless = "E115" // subgraph needs a name
	ErrEmptyWhen        = "E116" // when has no conditions
	ErrInvalidNeeds     = "E117" // needs entry empty
)

// ValidationError represents a template validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// jobIDPattern mirrors the identifiers the builder accepts.
var jobIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks a decoded template for structural issues.
// Returns all errors found (does not fail-fast).
func Validate(spec *TemplateSpec) []ValidationError {
	var errs []ValidationError

	// E101: name is required
	if strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "pipeline.name",
			Message: "name is required and must be non-empty",
			Code:    ErrTemplateNameEmpty,
		})
	}

	// E103: blocks must name skeleton slots
	skeleton := workflow.BaseSkeleton()
	for _, name := range sortedKeys(spec.Blocks) {
		if !skeleton.Has(name) {
			errs = append(errs, ValidationError{
				Field:   "pipeline.blocks." + name,
				Message: fmt.Sprintf("unknown block %q (known: %s)", name, strings.Join(skeleton.Slots(), ", ")),
				Code:    ErrUnknownBlock,
			})
		}
	}
	for _, name := range sortedKeys(spec.Extend) {
		if !skeleton.Has(name) {
			errs = append(errs, ValidationError{
				Field:   "pipeline.extend." + name,
				Message: fmt.Sprintf("unknown block %q (known: %s)", name, strings.Join(skeleton.Slots(), ", ")),
				Code:    ErrUnknownBlock,
			})
		}
	}

	v := &validator{ids: make(map[string]string), subgraphs: make(map[string]string)}
	v.walk(spec.Graph)
	errs = append(errs, v.errs...)

	// E102: at least one job
	if v.jobs == 0 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.graph",
			Message: "at least one job is required",
			Code:    ErrTemplateNoJobs,
		})
	}

	// E104: one publish entry at most
	if v.publish > 1 {
		errs = append(errs, ValidationError{
			Field:   "pipeline.graph",
			Message: fmt.Sprintf("publish may appear once, found %d", v.publish),
			Code:    ErrMultiplePublish,
		})
	}

	return errs
}

type validator struct {
	ids       map[string]string // job id -> field of first declaration
	subgraphs map[string]string
	jobs      int
	publish   int
	line      int // line of the entry being checked
	errs      []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code, Line: v.line})
}

func (v *validator) walk(nodes []Node) {
	for _, n := range nodes {
		v.line = 0
		if n.Pos.IsValid() {
			v.line = n.Pos.Line()
		}
		switch n.Kind {
		case KindJob:
			v.jobs++
			v.job(n.Field, n.Job, true)
		case KindPublish:
			v.jobs++
			v.publish++
			v.job(n.Field, n.Job, false)
		case KindSubgraph:
			v.subgraph(n.Field, n.Subgraph)
		default:
			// E110
			v.add(n.Field, ErrEntryKind, "entry must set exactly one of id, subgraph or publish")
		}
	}
}

func (v *validator) job(field string, job *JobSpec, requireID bool) {
	// E111
	switch {
	case job.ID == "" && requireID:
		v.add(field+".id", ErrInvalidJobID, "job id is required")
	case job.ID != "" && !jobIDPattern.MatchString(job.ID):
		v.add(field+".id", ErrInvalidJobID, "job id %q must match %s", job.ID, jobIDPattern)
	}

	// E112
	if job.ID != "" {
		if first, dup := v.ids[job.ID]; dup {
			v.add(field+".id", ErrDuplicateName, "duplicate job id %q (first declared at %s)", job.ID, first)
		} else {
			v.ids[job.ID] = field
		}
	}

	// E117
	for i, ref := range append(append([]string{}, job.Needs...), job.NeedsIfPresent...) {
		if strings.TrimSpace(ref) == "" {
			v.add(fmt.Sprintf("%s.needs[%d]", field, i), ErrInvalidNeeds, "dependency must be a job id")
		}
	}

	// E113
	if job.SecretsRaw != "" {
		v.add(field+".secrets", ErrInvalidSecrets, "secrets must be \"inherit\" or a list of names, got %q", job.SecretsRaw)
	}

	// E114
	for i, step := range job.Steps {
		if (step.Uses == "") == (step.Run == "") {
			v.add(fmt.Sprintf("%s.steps[%d]", field, i), ErrInvalidStep, "step must set exactly one of uses or run")
		}
	}

	v.when(field, job.When)
}

func (v *validator) subgraph(field string, sg *SubgraphSpec) {
	// E115
	if strings.TrimSpace(sg.Name) == "" {
		v.add(field+".subgraph", ErrSubgraphNameless, "subgraph name is required")
	} else if first, dup := v.subgraphs[sg.Name]; dup {
		v.add(field+".subgraph", ErrDuplicateName, "duplicate subgraph %q (first declared at %s)", sg.Name, first)
	} else {
		v.subgraphs[sg.Name] = field
	}
	v.when(field, sg.When)
	v.walk(sg.Graph)
}

func (v *validator) when(field string, w *WhenSpec) {
	// E116
	if w != nil && len(w.Environment) == 0 && len(w.Trigger) == 0 && w.RC == nil {
		v.add(field+".when", ErrEmptyWhen, "when must set environment, trigger or rc")
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
