package template

import (
	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
	"github.com/roach88/cigraph/internal/workflow"
)

// Job IDs of the release pipeline.
const (
	JobPrepareWorkflow    = "prepare-workflow"
	JobPreCommit          = "pre-commit"
	JobLint               = "lint"
	JobBuildSourceTarball = "build-source-tarball"
	JobBuildDepsOnedir    = "build-deps-onedir"
	JobBuildOnedir        = "build-onedir"
	JobBuildPkgs          = "build-pkgs"
	JobTestPackages       = "test-packages"
	JobTest               = "test"
	JobTestFullMatrix     = "test-full-matrix"
	JobVerifyRCVersion    = "verify-rc-version"
)

// Subgraph names of the release pipeline.
const (
	SubgraphNightlyTests   = "nightly-tests"
	SubgraphScheduledTests = "scheduled-tests"
	SubgraphRCChecks       = "rc-checks"
)

const (
	relenvVersion = "0.13.2"
	pythonVersion = "3.10.13"
)

// Release is the built-in release pipeline: build, nightly-only tests,
// release-candidate checks and publishing.
type Release struct{}

// Name implements Template.
func (Release) Name() string { return "release" }

// Expand implements Template.
func (r Release) Expand(ctx ir.Context, opts Options) (*Expansion, error) {
	b := pipeline.NewBuilder(r.Name(), ctx, opts.BuilderOptions()...)

	if err := declareBuild(b); err != nil {
		return nil, err
	}
	if err := b.IncludeSubgraphIf(SubgraphNightlyTests, pipeline.EnvironmentIn(ir.DefaultEnvironment), declareTests); err != nil {
		return nil, err
	}
	if err := b.IncludeSubgraphIf(SubgraphRCChecks, pipeline.ReleaseCandidate(), declareRCChecks); err != nil {
		return nil, err
	}

	if _, err := b.DeclarePublishJob(opts.Publish,
		pipeline.Needs(JobPrepareWorkflow, JobBuildPkgs),
		pipeline.NeedsIfPresent(JobTestPackages, JobTest, JobTestFullMatrix, JobVerifyRCVersion),
	); err != nil {
		return nil, err
	}

	graph, err := b.Finalize()
	if err != nil {
		return nil, err
	}

	return &Expansion{
		Graph: graph,
		Overrides: workflow.Overrides{
			workflow.SlotPermissions: workflow.Merge(ir.Map{"id-token": ir.String("write")}),
		},
	}, nil
}

func reusable(name string) string {
	return "./.github/workflows/" + name + ".yml"
}

func declareBuild(b *pipeline.Builder) error {
	jobs := []struct {
		id   string
		opts []pipeline.JobOption
	}{
		{JobPrepareWorkflow, []pipeline.JobOption{
			pipeline.Label("Prepare Workflow Run"),
			pipeline.RunsOn("ubuntu-latest"),
			pipeline.Steps(
				ir.Step{Name: "Checkout", Uses: "actions/checkout@v4"},
				ir.Step{Name: "Set up Python", Uses: "actions/setup-python@v5", With: ir.Map{"python-version": ir.String("3.10")}},
				ir.Step{Name: "Install tools", Run: "python3 -m pip install -r requirements/static/ci/py3.10/tools.txt"},
			),
		}},
		{JobPreCommit, []pipeline.JobOption{
			pipeline.Label("Pre-Commit"),
			pipeline.Needs(JobPrepareWorkflow),
			pipeline.Uses(reusable("pre-commit-action")),
		}},
		{JobLint, []pipeline.JobOption{
			pipeline.Label("Lint"),
			pipeline.Needs(JobPrepareWorkflow),
			pipeline.Uses(reusable("lint-action")),
		}},
		{JobBuildSourceTarball, []pipeline.JobOption{
			pipeline.Label("Build Source Tarball"),
			pipeline.Needs(JobPrepareWorkflow),
			pipeline.Uses(reusable("build-source-tarball")),
			pipeline.ThreadContext(),
		}},
		{JobBuildDepsOnedir, []pipeline.JobOption{
			pipeline.Label("Build Dependencies Onedir"),
			pipeline.Needs(JobPrepareWorkflow),
			pipeline.Uses(reusable("build-deps-onedir")),
			pipeline.With("relenv-version", ir.String(relenvVersion)),
			pipeline.With("python-version", ir.String(pythonVersion)),
			pipeline.ThreadContext(),
		}},
		{JobBuildOnedir, []pipeline.JobOption{
			pipeline.Label("Build Onedir"),
			pipeline.Needs(JobPrepareWorkflow, JobBuildDepsOnedir),
			pipeline.Uses(reusable("build-onedir")),
			pipeline.With("relenv-version", ir.String(relenvVersion)),
			pipeline.With("python-version", ir.String(pythonVersion)),
			pipeline.ThreadContext(),
		}},
		{JobBuildPkgs, []pipeline.JobOption{
			pipeline.Label("Build Packages"),
			pipeline.Needs(JobPrepareWorkflow, JobBuildOnedir),
			pipeline.Uses(reusable("build-packages")),
			pipeline.ThreadContext(),
		}},
	}

	for _, j := range jobs {
		if _, err := b.DeclareJob(j.id, append(j.opts, pipeline.Concludes())...); err != nil {
			return err
		}
	}
	return nil
}

func declareTests(b *pipeline.Builder) error {
	if _, err := b.DeclareJob(JobTestPackages,
		pipeline.Label("Test Packages"),
		pipeline.Needs(JobPrepareWorkflow, JobBuildPkgs),
		pipeline.Uses(reusable("test-packages-action")),
		pipeline.ThreadContext(),
		pipeline.Concludes(),
	); err != nil {
		return err
	}
	if _, err := b.DeclareJob(JobTest,
		pipeline.Label("Test"),
		pipeline.Needs(JobPrepareWorkflow, JobBuildOnedir),
		pipeline.Uses(reusable("test-action")),
		pipeline.ThreadContext(),
		pipeline.Concludes(),
	); err != nil {
		return err
	}

	return b.IncludeSubgraphIf(SubgraphScheduledTests, pipeline.TriggerIn(ir.TriggerSchedule), func(b *pipeline.Builder) error {
		_, err := b.DeclareJob(JobTestFullMatrix,
			pipeline.Label("Test Full Matrix"),
			pipeline.Needs(JobPrepareWorkflow, JobBuildOnedir, JobTest),
			pipeline.Uses(reusable("test-action")),
			pipeline.With("full-matrix", ir.Bool(true)),
			pipeline.ThreadContext(),
			pipeline.Concludes(),
		)
		return err
	})
}

func declareRCChecks(b *pipeline.Builder) error {
	_, err := b.DeclareJob(JobVerifyRCVersion,
		pipeline.Label("Verify Release Candidate Version"),
		pipeline.Needs(JobPrepareWorkflow),
		pipeline.RunsOn("ubuntu-latest"),
		pipeline.Steps(
			ir.Step{Name: "Checkout", Uses: "actions/checkout@v4"},
			ir.Step{Name: "Verify Version", Run: "tools pkg verify-version " + b.Context().Version},
		),
		pipeline.Concludes(),
	)
	return err
}
