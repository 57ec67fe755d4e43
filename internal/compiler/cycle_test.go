package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cigraph/internal/pipeline"
)

func jobNode(id string, needs ...string) Node {
	return Node{Kind: KindJob, Field: "pipeline.graph", Job: &JobSpec{ID: id, Needs: needs}}
}

func subgraphNode(name string, nodes ...Node) Node {
	return Node{Kind: KindSubgraph, Field: "pipeline.graph", Subgraph: &SubgraphSpec{Name: name, Graph: nodes}}
}

// TestAnalyzeCycles_Empty tests that an empty template produces no errors.
func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(&TemplateSpec{}))
}

// TestAnalyzeCycles_DAG tests that a directed acyclic graph produces no errors.
func TestAnalyzeCycles_DAG(t *testing.T) {
	spec := &TemplateSpec{Graph: []Node{
		jobNode("prepare"),
		jobNode("build", "prepare"),
		jobNode("lint", "prepare"),
		jobNode("publish", "build", "lint"),
	}}
	assert.Empty(t, AnalyzeCycles(spec), "DAG should produce no cycle errors")
}

// TestAnalyzeCycles_SelfLoop tests that a job needing itself is reported.
func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	spec := &TemplateSpec{Graph: []Node{jobNode("build", "build")}}

	errs := AnalyzeCycles(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, pipeline.ErrCyclicReference, errs[0].Code)
	assert.Equal(t, []string{"build", "build"}, errs[0].Path)
	assert.Equal(t, "job depends on itself", errs[0].Message)
}

// TestAnalyzeCycles_TwoNodeCycle tests a forward reference that closes a loop.
func TestAnalyzeCycles_TwoNodeCycle(t *testing.T) {
	spec := &TemplateSpec{Graph: []Node{
		jobNode("a", "b"),
		jobNode("b", "a"),
	}}

	errs := AnalyzeCycles(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"a", "b", "a"}, errs[0].Path)
	assert.Equal(t, "a", errs[0].Job)
	assert.Equal(t, "b", errs[0].Ref)
	assert.Contains(t, errs[0].Error(), "a -> b -> a")
}

// TestAnalyzeCycles_AcrossSubgraphs tests that subgraph boundaries and
// soft dependencies do not hide a cycle.
func TestAnalyzeCycles_AcrossSubgraphs(t *testing.T) {
	soft := jobNode("c")
	soft.Job.NeedsIfPresent = []string{"a"}

	spec := &TemplateSpec{Graph: []Node{
		jobNode("a", "b"),
		subgraphNode("tests",
			jobNode("b", "c"),
			subgraphNode("nested", soft),
		),
	}}

	errs := AnalyzeCycles(spec)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, errs[0].Path)
	assert.Contains(t, errs[0].Message, "a, b, c")
}

// TestAnalyzeCycles_MultipleIndependentCycles tests that each SCC is
// reported once, in declaration order.
func TestAnalyzeCycles_MultipleIndependentCycles(t *testing.T) {
	spec := &TemplateSpec{Graph: []Node{
		jobNode("x", "y"),
		jobNode("y", "x"),
		jobNode("ok"),
		jobNode("p", "q"),
		jobNode("q", "p"),
		jobNode("solo", "solo"),
	}}

	errs := AnalyzeCycles(spec)
	require.Len(t, errs, 3)
	assert.Equal(t, "x", errs[0].Path[0])
	assert.Equal(t, "p", errs[1].Path[0])
	assert.Equal(t, []string{"solo", "solo"}, errs[2].Path)
}

// TestAnalyzeCycles_UnknownRefIgnored tests that references to undeclared
// jobs are left to the builder.
func TestAnalyzeCycles_UnknownRefIgnored(t *testing.T) {
	spec := &TemplateSpec{Graph: []Node{jobNode("a", "ghost")}}
	assert.Empty(t, AnalyzeCycles(spec))
}

func TestBuildDependencyGraph_Basic(t *testing.T) {
	graph, order := buildDependencyGraph([]Node{
		jobNode("a"),
		subgraphNode("sg", jobNode("b", "a")),
		{Kind: KindPublish, Job: &JobSpec{ID: "publish", Needs: []string{"b"}}},
	})

	assert.Equal(t, []string{"a", "b", "publish"}, order)
	assert.Empty(t, graph["a"])
	assert.Equal(t, []string{"a"}, graph["b"])
	assert.Equal(t, []string{"b"}, graph["publish"])
}

func TestHasSelfLoop(t *testing.T) {
	graph := dependencyGraph{"a": {"a"}, "b": {"a"}}
	assert.True(t, hasSelfLoop("a", graph))
	assert.False(t, hasSelfLoop("b", graph))
}

func TestTarjanSCC_DAG(t *testing.T) {
	graph := dependencyGraph{"a": {}, "b": {"a"}, "c": {"b"}}
	sccs := tarjanSCC(graph, []string{"a", "b", "c"})
	require.Len(t, sccs, 3)
	for _, scc := range sccs {
		assert.Len(t, scc, 1)
	}
}

func TestTarjanSCC_TwoNodeCycle(t *testing.T) {
	graph := dependencyGraph{"a": {"b"}, "b": {"a"}}
	sccs := tarjanSCC(graph, []string{"a", "b"})
	require.Len(t, sccs, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, sccs[0])
}

func TestReconstructCyclePath_Empty(t *testing.T) {
	assert.Empty(t, reconstructCyclePath(nil, dependencyGraph{}, nil))
}

func TestReconstructCyclePath_StartsAtEarliest(t *testing.T) {
	graph := dependencyGraph{"a": {"b"}, "b": {"c"}, "c": {"a"}}
	path := reconstructCyclePath([]string{"c", "b", "a"}, graph, []string{"a", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c", "a"}, path)
}

func TestReconstructCyclePath_ClosesThroughBranch(t *testing.T) {
	// b fans out to c before a; the path must still return to a.
	graph := dependencyGraph{"a": {"b"}, "b": {"c", "a"}, "c": {"b"}}
	path := reconstructCyclePath([]string{"a", "b", "c"}, graph, []string{"a", "b", "c"})
	assert.Equal(t, []string{"a", "b", "a"}, path)
}

func TestReconstructCyclePath_EveryStepIsAnEdge(t *testing.T) {
	graph := dependencyGraph{
		"a":  {"d", "b"},
		"b":  {"c"},
		"c":  {"b", "a"},
		"d":  {"d2"},
		"d2": {"b"},
	}
	path := reconstructCyclePath([]string{"a", "b", "c", "d", "d2"}, graph, []string{"a", "b", "c", "d", "d2"})

	require.GreaterOrEqual(t, len(path), 3)
	assert.Equal(t, path[0], path[len(path)-1])
	for i := 0; i+1 < len(path); i++ {
		assert.Contains(t, graph[path[i]], path[i+1], "%s -> %s", path[i], path[i+1])
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, path)
}
