package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/pipeline"
)

// AnalyzeCycles performs static cycle analysis over the raw dependency
// lists of a template, before any guard is evaluated.
//
// The builder only sees a cycle as a reference to a later job. Running
// Tarjan's algorithm first lets the cycle be reported as what it is:
//  1. Build job → dependency graph from needs and needs_if_present
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop as an E206 error
//
// A DAG returns nil. Results follow declaration order.
func AnalyzeCycles(spec *TemplateSpec) []*pipeline.ConfigError {
	graph, order := buildDependencyGraph(spec.Graph)
	if len(order) == 0 {
		return nil
	}

	var errs []*pipeline.ConfigError
	for _, scc := range tarjanSCC(graph, order) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			errs = append(errs, cycleSCCToError(scc, graph, order))
		}
	}
	return errs
}

// dependencyGraph maps job_id → job_ids it depends on.
type dependencyGraph map[string][]string

// buildDependencyGraph flattens subgraphs; guards do not matter for cycles.
func buildDependencyGraph(nodes []Node) (dependencyGraph, []string) {
	graph := make(dependencyGraph)
	var order []string

	var walk func([]Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			switch {
			case n.Subgraph != nil:
				walk(n.Subgraph.Graph)
			case n.Job != nil && n.Job.ID != "":
				id := n.Job.ID
				if _, seen := graph[id]; !seen {
					order = append(order, id)
					// Initialize with empty slice (ensures node exists in graph)
					graph[id] = []string{}
				}
				graph[id] = append(graph[id], n.Job.Needs...)
				graph[id] = append(graph[id], n.Job.NeedsIfPresent...)
			}
		}
	}
	walk(nodes)
	return graph, order
}

// hasSelfLoop checks if a node has an edge to itself.
func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Returns a list of SCCs, where each SCC is a list of job IDs.
// Single-node SCCs without self-loops are NOT cycles. Edges to IDs that are
// never declared are ignored; the builder reports those.
func tarjanSCC(graph dependencyGraph, order []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, w := range graph[v] {
			if _, declared := graph[w]; !declared {
				continue
			}
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Visit all nodes in declaration order
	for _, node := range order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// cycleSCCToError converts an SCC to an E206 error.
//
// For self-loops, the path is [job-id, job-id].
// For multi-node cycles, the path starts at the earliest declared member.
func cycleSCCToError(scc []string, graph dependencyGraph, order []string) *pipeline.ConfigError {
	if len(scc) == 1 {
		id := scc[0]
		return &pipeline.ConfigError{
			Code:    pipeline.ErrCyclicReference,
			Job:     id,
			Ref:     id,
			Message: "job depends on itself",
			Path:    []string{id, id},
		}
	}

	path := reconstructCyclePath(scc, graph, order)
	return &pipeline.ConfigError{
		Code:    pipeline.ErrCyclicReference,
		Job:     path[0],
		Ref:     path[1],
		Message: fmt.Sprintf("dependency cycle between %s", strings.Join(sortedByOrder(scc, order), ", ")),
		Path:    path,
	}
}

// reconstructCyclePath builds a cycle path from an SCC.
//
// Breadth-first search inside the SCC from the earliest declared member
// back to itself, so the path is the shortest cycle through that member
// and always closes.
func reconstructCyclePath(scc []string, graph dependencyGraph, order []string) []string {
	if len(scc) == 0 {
		return []string{}
	}

	sccSet := make(map[string]bool, len(scc))
	for _, node := range scc {
		sccSet[node] = true
	}

	start := sortedByOrder(scc, order)[0]
	parent := map[string]string{}
	seen := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, neighbor := range graph[current] {
			if !sccSet[neighbor] {
				continue
			}
			if neighbor == start {
				var back []string
				for n := current; n != start; n = parent[n] {
					back = append(back, n)
				}
				slices.Reverse(back)
				path := append([]string{start}, back...)
				return append(path, start)
			}
			if !seen[neighbor] {
				seen[neighbor] = true
				parent[neighbor] = current
				queue = append(queue, neighbor)
			}
		}
	}

	// Unreachable for a real SCC.
	return []string{start}
}

func sortedByOrder(ids []string, order []string) []string {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b string) int {
		return slices.Index(order, a) - slices.Index(order, b)
	})
	return out
}
