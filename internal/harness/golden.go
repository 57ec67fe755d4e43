package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares the emitted workflow
// document against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. A scenario whose expansion
// fails has no document and is reported as an error too.
// Test failure (via goldie) occurs if the document doesn't match.
func RunWithGolden(t *testing.T, h *Harness, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := h.Run(scenario)
	if err != nil {
		return nil, err
	}
	if result.ExpandErr != nil {
		return result, result.ExpandErr
	}

	AssertGolden(t, scenario.Name, result.Document)
	return result, nil
}

// AssertGolden compares a document against testdata/golden/{name}.golden.
func AssertGolden(t *testing.T, name string, document []byte) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, document)
}
