package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/ir"
)

// CheckProperties verifies the invariants every finalized graph must hold,
// whatever template produced it:
//   - every needs entry names a job in the graph
//   - the terminal job exists, is last and needs exactly the conclusion set
//   - the conclusion set has no duplicates
//   - rc-build parameters agree with the context
func CheckProperties(g *ir.Graph) []string {
	var errs []string

	for _, e := range g.Edges() {
		if !g.Has(e.To) {
			errs = append(errs, fmt.Sprintf("dangling edge %s -> %s", e.From, e.To))
		}
	}

	terminal, ok := g.Job(g.Terminal)
	switch {
	case !ok:
		errs = append(errs, fmt.Sprintf("terminal job %q missing", g.Terminal))
	case g.Jobs[len(g.Jobs)-1].ID != g.Terminal:
		errs = append(errs, fmt.Sprintf("terminal job %q is not last", g.Terminal))
	case !slices.Equal(terminal.Needs, g.Conclusion):
		errs = append(errs, fmt.Sprintf("terminal needs %v, conclusion set %v", terminal.Needs, g.Conclusion))
	}

	seen := make(map[string]bool, len(g.Conclusion))
	for _, id := range g.Conclusion {
		if seen[id] {
			errs = append(errs, fmt.Sprintf("conclusion set lists %s twice", id))
		}
		seen[id] = true
	}

	wantRC := ir.Bool(g.Context.ReleaseCandidate)
	for _, job := range g.Jobs {
		if v, ok := job.Param("rc-build"); ok && v != wantRC {
			errs = append(errs, fmt.Sprintf("job %s has rc-build=%v, context says %v", job.ID, ir.Plain(v), wantRC))
		}
	}

	return errs
}

// SuiteResult summarizes running every scenario in a directory.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents one failed scenario.
type ScenarioFailure struct {
	Scenario     string `json:"scenario"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// FindScenarios returns the .yaml and .yml files in dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// RunSuite loads and runs every scenario under dir with h.
//
// For each scenario file:
// 1. Load the scenario, resolving its template against the file location
// 2. Run it
// 3. Collect and report results
func RunSuite(h *Harness, dir string) (*SuiteResult, error) {
	paths, err := FindScenarios(dir)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	for _, path := range paths {
		result.TotalScenarios++

		scenario, err := LoadScenarioWithBasePath(path, filepath.Dir(path))
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: path,
				Error:        fmt.Sprintf("failed to load scenario: %v", err),
			})
			continue
		}

		run, err := h.Run(scenario)
		if err != nil {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Error:        fmt.Sprintf("scenario execution failed: %v", err),
			})
			continue
		}

		if !run.Pass {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				Scenario:     scenario.Name,
				ScenarioPath: path,
				Error:        strings.Join(run.Errors, "\n"),
			})
			continue
		}

		result.Passed++
	}

	return result, nil
}
