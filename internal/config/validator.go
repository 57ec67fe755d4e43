package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/pipeline"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "publish.strategy")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

var (
	// nameRegex matches environment names and job ids.
	nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	// secretRegex matches secret names as the CI service accepts them.
	secretRegex = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// ValidLogLevels returns the accepted logging levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all
// validation errors found.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateMatrix()...)
	errs = append(errs, c.validatePublish()...)
	errs = append(errs, c.validateStatus()...)

	if !secretRegex.MatchString(c.Secrets.Key) {
		errs = append(errs, ValidationError{
			Field:   "secrets.key",
			Value:   c.Secrets.Key,
			Message: "must be an upper-case secret name",
		})
	}
	if strings.TrimSpace(c.Ledger.Path) == "" {
		errs = append(errs, ValidationError{Field: "ledger.path", Value: c.Ledger.Path, Message: "must not be empty"})
	}
	if strings.TrimSpace(c.Template.Default) == "" {
		errs = append(errs, ValidationError{Field: "template.default", Value: c.Template.Default, Message: "must not be empty"})
	}
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	return errs
}

func (c *Config) validateMatrix() []ValidationError {
	var errs []ValidationError

	if len(c.Environments) == 0 {
		errs = append(errs, ValidationError{Field: "environments", Value: c.Environments, Message: "must list at least one environment"})
	}
	for i, env := range c.Environments {
		if !nameRegex.MatchString(env) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("environments[%d]", i),
				Value:   env,
				Message: "must be a lower-case name",
			})
		}
	}
	if !slices.Contains(c.Environments, c.DefaultEnvironment) {
		errs = append(errs, ValidationError{
			Field:   "default_environment",
			Value:   c.DefaultEnvironment,
			Message: "must be one of the configured environments",
		})
	}

	if len(c.Triggers) == 0 {
		errs = append(errs, ValidationError{Field: "triggers", Value: c.Triggers, Message: "must list at least one trigger"})
	}
	for i, trigger := range c.Triggers {
		if strings.TrimSpace(trigger) == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("triggers[%d]", i), Value: trigger, Message: "must not be empty"})
		}
	}
	return errs
}

func (c *Config) validatePublish() []ValidationError {
	var errs []ValidationError

	strategy, err := pipeline.ParseStrategy(c.Publish.Strategy)
	if err != nil {
		errs = append(errs, ValidationError{Field: "publish.strategy", Value: c.Publish.Strategy, Message: err.Error()})
	}
	// auto may pick either variant, so it needs both sets of settings.
	selfHosted := strategy == pipeline.StrategySelfHosted || strategy == pipeline.StrategyAuto
	reusable := strategy == pipeline.StrategyReusable || strategy == pipeline.StrategyAuto

	if selfHosted && len(c.Publish.RunnerLabels) == 0 {
		errs = append(errs, ValidationError{Field: "publish.runner_labels", Value: c.Publish.RunnerLabels, Message: "self-hosted publishing needs runner labels"})
	}
	if selfHosted && strings.TrimSpace(c.Publish.Tool) == "" {
		errs = append(errs, ValidationError{Field: "publish.tool", Value: c.Publish.Tool, Message: "self-hosted publishing needs a tool"})
	}
	if selfHosted && strings.TrimSpace(c.Publish.ArtifactPath) == "" {
		errs = append(errs, ValidationError{Field: "publish.artifact_path", Value: c.Publish.ArtifactPath, Message: "self-hosted publishing needs an artifact path"})
	}
	if reusable && strings.TrimSpace(c.Publish.ReusableWorkflow) == "" {
		errs = append(errs, ValidationError{Field: "publish.reusable_workflow", Value: c.Publish.ReusableWorkflow, Message: "reusable publishing needs a workflow reference"})
	}
	return errs
}

func (c *Config) validateStatus() []ValidationError {
	var errs []ValidationError
	if !nameRegex.MatchString(c.Status.JobID) {
		errs = append(errs, ValidationError{Field: "status.job_id", Value: c.Status.JobID, Message: "must be a valid job id"})
	}
	if strings.TrimSpace(c.Status.Action) == "" {
		errs = append(errs, ValidationError{Field: "status.action", Value: c.Status.Action, Message: "must not be empty"})
	}
	return errs
}
