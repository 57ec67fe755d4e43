// Package pipeline builds CI job graphs from templates.
//
// A Builder accumulates jobs in declaration order. Dependencies may only
// point backwards, so the graph is a DAG by construction. Subgraphs are
// included or excluded as a whole by a Guard evaluated against the run
// Context; excluded subgraphs are still walked in a shadow scope so that
// static checks do not depend on which environment happens to be expanded.
//
// Jobs flagged with Concludes register in a ConclusionAccumulator. Finalize
// snapshots the accumulator into the needs of the terminal status job and
// returns an immutable ir.Graph, or every ConfigError found.
//
// The typical flow:
//
//	b := pipeline.NewBuilder("nightly", ctx)
//	b.DeclareJob("build", pipeline.Concludes())
//	b.IncludeSubgraphIf("tests", pipeline.EnvironmentIn("nightly"), func(b *pipeline.Builder) error {
//		_, err := b.DeclareJob("test", pipeline.Needs("build"), pipeline.Concludes())
//		return err
//	})
//	graph, err := b.Finalize()
package pipeline
