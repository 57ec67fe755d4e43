package ir

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultEnvironment is the target environment when none is supplied.
const DefaultEnvironment = "nightly"

// Trigger kinds recognised by the built-in templates. Any non-empty string
// is accepted; these are the values configuration defaults enumerate.
const (
	TriggerSchedule         = "schedule"
	TriggerManual           = "manual"
	TriggerWorkflowDispatch = "workflow_dispatch"
	TriggerPush             = "push"
	TriggerPullRequest      = "pull_request"
)

// Context is the immutable bag of run-time inputs for one expansion pass.
// Construct it with NewContext so the derived fields are computed exactly
// once; every job reads them from here instead of recomputing.
type Context struct {
	Environment      string `json:"environment"`
	Version          string `json:"version"`
	ReleaseCandidate bool   `json:"release_candidate"`
	Trigger          string `json:"trigger"`
	Repository       string `json:"repository,omitempty"`
	Actor            string `json:"actor,omitempty"`
	RunID            string `json:"run_id,omitempty"`
}

// Context values end up in runner labels, shell lines and expressions of
// the emitted workflow, so each field is restricted to a plain alphabet.
var (
	environmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	versionPattern     = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z.+_-]*$`)
	triggerPattern     = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	repositoryPattern  = regexp.MustCompile(`^[A-Za-z0-9_.-]+(/[A-Za-z0-9_.-]+)?$`)
	actorPattern       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*(\[bot\])?$`)
	runIDPattern       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// ContextInput holds the externally resolved values NewContext derives a
// Context from.
type ContextInput struct {
	Environment string `json:"environment" yaml:"environment"`
	Version     string `json:"version" yaml:"version"`
	Trigger     string `json:"trigger" yaml:"trigger"`
	Repository  string `json:"repository" yaml:"repository"`
	Actor       string `json:"actor" yaml:"actor"`
	RunID       string `json:"run_id" yaml:"run_id"`
}

// NewContext builds a Context, defaulting the environment to
// DefaultEnvironment and deriving the release-candidate flag. Every
// malformed field is reported.
func NewContext(in ContextInput) (Context, error) {
	ctx := Context{
		Environment: strings.TrimSpace(in.Environment),
		Version:     strings.TrimSpace(in.Version),
		Trigger:     strings.TrimSpace(in.Trigger),
		Repository:  strings.TrimSpace(in.Repository),
		Actor:       strings.TrimSpace(in.Actor),
		RunID:       strings.TrimSpace(in.RunID),
	}
	if ctx.Environment == "" {
		ctx.Environment = DefaultEnvironment
	}
	if err := ctx.Validate(); err != nil {
		return Context{}, err
	}
	ctx.ReleaseCandidate = IsReleaseCandidate(ctx.Version)
	return ctx, nil
}

// Validate checks every field against its alphabet and returns all
// problems joined.
func (c Context) Validate() error {
	var errs []error
	check := func(field, value string, required bool, pattern *regexp.Regexp) {
		switch {
		case value == "":
			if required {
				errs = append(errs, fmt.Errorf("%s is required", field))
			}
		case !pattern.MatchString(value):
			errs = append(errs, fmt.Errorf("%s %q must match %s", field, value, pattern))
		}
	}
	check("environment", c.Environment, true, environmentPattern)
	check("version", c.Version, true, versionPattern)
	check("trigger", c.Trigger, true, triggerPattern)
	check("repository", c.Repository, false, repositoryPattern)
	check("actor", c.Actor, false, actorPattern)
	check("run_id", c.RunID, false, runIDPattern)
	return errors.Join(errs...)
}

// IsReleaseCandidate reports whether a version string marks a
// release-candidate build. The rule is a plain substring match on "rc".
func IsReleaseCandidate(version string) bool {
	return strings.Contains(version, "rc")
}

// Nightly reports whether the target environment is the nightly one.
func (c Context) Nightly() bool {
	return c.Environment == DefaultEnvironment
}

// Manual reports whether the run was started by hand.
func (c Context) Manual() bool {
	return c.Trigger == TriggerManual || c.Trigger == TriggerWorkflowDispatch
}

// Key returns the canonical JSON of the context fields that influence
// expansion. Actor and run ID are included: they feed concurrency naming.
func (c Context) Key() string {
	data, err := MarshalCanonical(map[string]any{
		"environment":       c.Environment,
		"version":           c.Version,
		"release_candidate": c.ReleaseCandidate,
		"trigger":           c.Trigger,
		"repository":        c.Repository,
		"actor":             c.Actor,
		"run_id":            c.RunID,
	})
	if err != nil {
		// Only strings and bools above; canonical marshaling cannot fail.
		panic(err)
	}
	return string(data)
}
