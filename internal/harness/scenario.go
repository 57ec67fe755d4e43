package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/template"
)

// Scenario defines a conformance scenario: one template expanded for one
// run Context, with assertions over the resulting graph.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Template is builtin:<name> or a CUE template directory. Relative
	// directories resolve against the scenario file location.
	Template string `yaml:"template"`

	// Context holds the externally resolved run inputs.
	Context ir.ContextInput `yaml:"context"`

	// Publish optionally overrides the publish strategy (auto,
	// self-hosted, reusable).
	Publish string `yaml:"publish,omitempty"`

	// Assertions validate the expanded graph or the expansion error.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one property of the expansion.
type Assertion struct {
	// Type specifies the assertion type, one of the Assert* constants.
	Type string `yaml:"type"`

	// Job is the job ID (job_present, job_absent, needs, param,
	// run_contains, run_not_contains, uses).
	Job string `yaml:"job,omitempty"`

	// Needs is the exact expected dependency list (needs).
	Needs []string `yaml:"needs,omitempty"`

	// Key and Value describe a job parameter (param).
	Key   string `yaml:"key,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Text is matched against the job's run lines (run_contains,
	// run_not_contains).
	Text string `yaml:"text,omitempty"`

	// Uses is the expected sub-pipeline reference (uses).
	Uses string `yaml:"uses,omitempty"`

	// Jobs is the exact expected conclusion set (conclusion_equals).
	Jobs []string `yaml:"jobs,omitempty"`

	// Code is an expected configuration error code (error_code).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertJobPresent       = "job_present"
	AssertJobAbsent        = "job_absent"
	AssertNeeds            = "needs"
	AssertParam            = "param"
	AssertRunContains      = "run_contains"
	AssertRunNotContains   = "run_not_contains"
	AssertUses             = "uses"
	AssertConclusionEquals = "conclusion_equals"
	AssertErrorCode        = "error_code"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving a relative template directory against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if !template.IsBuiltin(scenario.Template) && !filepath.IsAbs(scenario.Template) && basePath != "" {
		scenario.Template = filepath.Join(basePath, scenario.Template)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Template == "" {
		return fmt.Errorf("template is required")
	}
	if s.Context.Version == "" {
		return fmt.Errorf("context.version is required")
	}
	if s.Context.Trigger == "" {
		return fmt.Errorf("context.trigger is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	requireJob := func() error {
		if a.Job == "" {
			return fmt.Errorf("assertions[%d]: job is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertJobPresent, AssertJobAbsent:
		return requireJob()
	case AssertNeeds:
		// An empty needs list asserts a root job.
		return requireJob()
	case AssertParam:
		if err := requireJob(); err != nil {
			return err
		}
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for param", index)
		}
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for param", index)
		}
	case AssertRunContains, AssertRunNotContains:
		if err := requireJob(); err != nil {
			return err
		}
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for %s", index, a.Type)
		}
	case AssertUses:
		if err := requireJob(); err != nil {
			return err
		}
		if a.Uses == "" {
			return fmt.Errorf("assertions[%d]: uses is required for uses", index)
		}
	case AssertConclusionEquals:
		if len(a.Jobs) == 0 {
			return fmt.Errorf("assertions[%d]: jobs list is required for conclusion_equals", index)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
