package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Jobs     []string // Materialized job IDs for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Jobs) > 0 {
		fmt.Fprintf(&buf, "\nJobs:\n")
		for i, id := range e.Jobs {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, id)
		}
	}

	return buf.String()
}

func fail(g *ir.Graph, typ, expected, actual string) *AssertionError {
	var jobs []string
	if g != nil {
		jobs = g.IDs()
	}
	return &AssertionError{Type: typ, Expected: expected, Actual: actual, Jobs: jobs}
}

// EvaluateAssertion checks one assertion against an expansion outcome.
// g is nil when expansion failed with expandErr.
func EvaluateAssertion(g *ir.Graph, expandErr error, a Assertion) error {
	if a.Type == AssertErrorCode {
		return assertErrorCode(expandErr, a)
	}
	if expandErr != nil {
		return fail(nil, a.Type, "successful expansion", expandErr.Error())
	}

	switch a.Type {
	case AssertJobPresent:
		if !g.Has(a.Job) {
			return fail(g, a.Type, fmt.Sprintf("job %s materialized", a.Job), "job not in graph")
		}
	case AssertJobAbsent:
		if g.Has(a.Job) {
			return fail(g, a.Type, fmt.Sprintf("job %s omitted", a.Job), "job in graph")
		}
	case AssertNeeds:
		return assertNeeds(g, a)
	case AssertParam:
		return assertParam(g, a)
	case AssertRunContains, AssertRunNotContains:
		return assertRun(g, a)
	case AssertUses:
		job, ok := g.Job(a.Job)
		if !ok {
			return fail(g, a.Type, fmt.Sprintf("job %s uses %s", a.Job, a.Uses), "job not in graph")
		}
		if job.Uses != a.Uses {
			return fail(g, a.Type, fmt.Sprintf("job %s uses %s", a.Job, a.Uses), fmt.Sprintf("uses %q", job.Uses))
		}
	case AssertConclusionEquals:
		if !slices.Equal(g.Conclusion, a.Jobs) {
			return fail(g, a.Type, fmt.Sprintf("conclusion %v", a.Jobs), fmt.Sprintf("conclusion %v", g.Conclusion))
		}
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
	return nil
}

func assertErrorCode(expandErr error, a Assertion) error {
	if expandErr == nil {
		return fail(nil, a.Type, fmt.Sprintf("expansion error %s", a.Code), "expansion succeeded")
	}
	if pipeline.HasCode(expandErr, a.Code) || strings.Contains(expandErr.Error(), "["+a.Code+"]") {
		return nil
	}
	return fail(nil, a.Type, fmt.Sprintf("expansion error %s", a.Code), expandErr.Error())
}

func assertNeeds(g *ir.Graph, a Assertion) error {
	job, ok := g.Job(a.Job)
	if !ok {
		return fail(g, a.Type, fmt.Sprintf("job %s needs %v", a.Job, a.Needs), "job not in graph")
	}
	if len(job.Needs) == 0 && len(a.Needs) == 0 {
		return nil
	}
	if !slices.Equal(job.Needs, a.Needs) {
		return fail(g, a.Type, fmt.Sprintf("job %s needs %v", a.Job, a.Needs), fmt.Sprintf("needs %v", job.Needs))
	}
	return nil
}

func assertParam(g *ir.Graph, a Assertion) error {
	want, err := ir.ValueOf(a.Value)
	if err != nil {
		return fmt.Errorf("param assertion on %s.%s: %w", a.Job, a.Key, err)
	}
	job, ok := g.Job(a.Job)
	if !ok {
		return fail(g, a.Type, fmt.Sprintf("job %s with %s=%v", a.Job, a.Key, a.Value), "job not in graph")
	}
	got, ok := job.Param(a.Key)
	if !ok {
		return fail(g, a.Type, fmt.Sprintf("job %s with %s=%v", a.Job, a.Key, a.Value), "parameter not set")
	}
	if !valuesEqual(got, want) {
		return fail(g, a.Type, fmt.Sprintf("job %s with %s=%v", a.Job, a.Key, a.Value), fmt.Sprintf("%s=%v", a.Key, ir.Plain(got)))
	}
	return nil
}

func assertRun(g *ir.Graph, a Assertion) error {
	job, ok := g.Job(a.Job)
	if !ok {
		return fail(g, a.Type, fmt.Sprintf("job %s run lines checked for %q", a.Job, a.Text), "job not in graph")
	}
	found := slices.ContainsFunc(job.Steps, func(s ir.Step) bool {
		return strings.Contains(s.Run, a.Text)
	})
	switch {
	case a.Type == AssertRunContains && !found:
		return fail(g, a.Type, fmt.Sprintf("a run line of %s contains %q", a.Job, a.Text), runLines(job))
	case a.Type == AssertRunNotContains && found:
		return fail(g, a.Type, fmt.Sprintf("no run line of %s contains %q", a.Job, a.Text), runLines(job))
	}
	return nil
}

func runLines(job ir.Job) string {
	var lines []string
	for _, s := range job.Steps {
		if s.Run != "" {
			lines = append(lines, s.Run)
		}
	}
	if len(lines) == 0 {
		return "no run lines"
	}
	return strings.Join(lines, "; ")
}

// valuesEqual compares parameter values through their canonical JSON.
func valuesEqual(a, b ir.Value) bool {
	aj, errA := ir.MarshalValue(a)
	bj, errB := ir.MarshalValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(g *ir.Graph, expandErr error, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := EvaluateAssertion(g, expandErr, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}
