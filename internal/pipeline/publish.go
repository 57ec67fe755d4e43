package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/ir"
)

// PublishStrategy selects how the publish stage reaches the package
// repository. The choice is data: one declaration serves every strategy.
type PublishStrategy string

const (
	// StrategyAuto picks self-hosted for the nightly environment and
	// reusable for every other environment.
	StrategyAuto PublishStrategy = "auto"
	// StrategySelfHosted runs the publish tool on an environment-named
	// runner pool.
	StrategySelfHosted PublishStrategy = "self-hosted"
	// StrategyReusable delegates to a separately versioned sub-pipeline.
	StrategyReusable PublishStrategy = "reusable"
)

// Strategies lists the accepted strategy names.
var Strategies = []PublishStrategy{StrategyAuto, StrategySelfHosted, StrategyReusable}

// ParseStrategy parses a strategy name. The empty string means auto.
func ParseStrategy(s string) (PublishStrategy, error) {
	if s == "" {
		return StrategyAuto, nil
	}
	p := PublishStrategy(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Strategies, p) {
		return "", fmt.Errorf("unknown publish strategy %q (want one of auto, self-hosted, reusable)", s)
	}
	return p, nil
}

// ResolveStrategy turns auto into a concrete strategy for ctx.
func ResolveStrategy(s PublishStrategy, ctx ir.Context) PublishStrategy {
	if s != StrategyAuto && s != "" {
		return s
	}
	if ctx.Nightly() {
		return StrategySelfHosted
	}
	return StrategyReusable
}

// PublishSpec configures the publish job.
type PublishSpec struct {
	ID               string
	Label            string
	Strategy         PublishStrategy
	RunnerLabels     []string // self-hosted; repo-<environment> is appended
	ReusableWorkflow string   // reusable
	Tool             string   // self-hosted: publish tool entrypoint
	ArtifactName     string
	ArtifactPath     string
	SecretKey        string // self-hosted: the single forwarded secret
}

// DefaultPublishSpec returns the publish settings used by the built-in
// templates.
func DefaultPublishSpec() PublishSpec {
	return PublishSpec{
		ID:               "publish-repositories",
		Label:            "Publish Repositories",
		Strategy:         StrategyAuto,
		RunnerLabels:     []string{"self-hosted", "linux"},
		ReusableWorkflow: "./.github/workflows/publish-repositories.yml",
		Tool:             "tools",
		ArtifactName:     "pkgs-repo",
		ArtifactPath:     "artifacts/pkgs/repo/",
		SecretKey:        "SECRETS_KEY",
	}
}

// PublishCommand renders the publish tool invocation.
func PublishCommand(tool, environment string, rc bool, path string) string {
	parts := []string{tool, "pkg", "repo", "publish", environment}
	if rc {
		parts = append(parts, "--rc-build")
	}
	parts = append(parts, path)
	return strings.Join(parts, " ")
}

// DeclarePublishJob declares the publish job using the strategy resolved
// for the builder's context. Extra options (dependencies, guards) apply to
// either variant; the job is always conclusion-relevant.
func (b *Builder) DeclarePublishJob(spec PublishSpec, opts ...JobOption) (ir.Job, error) {
	strategy := ResolveStrategy(spec.Strategy, b.ctx)
	env := b.ctx.Environment

	base := []JobOption{Label(spec.Label), Concludes()}

	switch strategy {
	case StrategySelfHosted:
		labels := append(slices.Clone(spec.RunnerLabels), "repo-"+env)
		base = append(base,
			RunsOn(labels...),
			Environment(env),
			Secrets(ir.AllowSecrets(spec.SecretKey)),
			Steps(
				ir.Step{
					Name: "Download Repository Artifact",
					Uses: "actions/download-artifact@v4",
					With: ir.Map{
						"name": ir.String(spec.ArtifactName),
						"path": ir.String(spec.ArtifactPath),
					},
				},
				ir.Step{
					Name: "Publish Repository",
					Run:  PublishCommand(spec.Tool, env, b.ctx.ReleaseCandidate, spec.ArtifactPath),
				},
			),
		)
	case StrategyReusable:
		if spec.ReusableWorkflow == "" {
			return ir.Job{}, b.fail(newConfigError(ErrMalformedBlock, spec.ID, "", "reusable publish strategy needs a workflow reference"))
		}
		base = append(base,
			Uses(spec.ReusableWorkflow),
			With("environment", ir.String(env)),
			ThreadContext(),
			Secrets(ir.InheritSecrets()),
		)
	default:
		return ir.Job{}, b.fail(newConfigError(ErrMalformedBlock, spec.ID, "", "unknown publish strategy %q", strategy))
	}

	b.logger.Debug("publish strategy", "job", spec.ID, "strategy", string(strategy), "environment", env)
	return b.DeclareJob(spec.ID, append(base, opts...)...)
}
