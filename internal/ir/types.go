package ir

import "slices"

// Job is one node of the expanded pipeline graph.
type Job struct {
	ID          string        `json:"id"`
	Label       string        `json:"label,omitempty"`
	Needs       []string      `json:"needs,omitempty"`
	Guard       string        `json:"guard"` // rendered expansion-time guard
	If          string        `json:"if,omitempty"`
	Uses        string        `json:"uses,omitempty"`
	RunsOn      []string      `json:"runs_on,omitempty"`
	Environment string        `json:"environment,omitempty"`
	With        Map           `json:"with,omitempty"`
	Secrets     SecretsPolicy `json:"secrets"`
	Env         Map           `json:"env,omitempty"`
	Steps       []Step        `json:"steps,omitempty"`
	Concludes   bool          `json:"concludes"`
	Scope       []string      `json:"scope,omitempty"` // enclosing subgraph names, outermost first
}

// Reusable reports whether the job delegates to a reusable sub-pipeline.
func (j Job) Reusable() bool {
	return j.Uses != ""
}

// Param returns a parameter value and whether it is set.
func (j Job) Param(key string) (Value, bool) {
	v, ok := j.With[key]
	return v, ok
}

// Clone returns a deep copy so graphs never share slices or maps.
func (j Job) Clone() Job {
	out := j
	out.Needs = slices.Clone(j.Needs)
	out.RunsOn = slices.Clone(j.RunsOn)
	out.Scope = slices.Clone(j.Scope)
	out.With = j.With.Clone()
	out.Env = j.Env.Clone()
	out.Secrets = SecretsPolicy{Inherit: j.Secrets.Inherit, Allow: slices.Clone(j.Secrets.Allow)}
	if j.Steps != nil {
		out.Steps = make([]Step, len(j.Steps))
		for i, s := range j.Steps {
			out.Steps[i] = s.Clone()
		}
	}
	return out
}

// Step is one step of a runner-hosted job. Exactly one of Uses or Run is set.
type Step struct {
	Name string `json:"name,omitempty"`
	Uses string `json:"uses,omitempty"`
	Run  string `json:"run,omitempty"`
	With Map    `json:"with,omitempty"`
	Env  Map    `json:"env,omitempty"`
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	out.With = s.With.Clone()
	out.Env = s.Env.Clone()
	return out
}

// SecretsPolicy controls which secrets a job receives. The zero value
// forwards nothing.
type SecretsPolicy struct {
	Inherit bool     `json:"inherit,omitempty"`
	Allow   []string `json:"allow,omitempty"`
}

// InheritSecrets forwards every secret of the caller.
func InheritSecrets() SecretsPolicy {
	return SecretsPolicy{Inherit: true}
}

// AllowSecrets forwards only the named secrets.
func AllowSecrets(names ...string) SecretsPolicy {
	return SecretsPolicy{Allow: names}
}

// SecretRef returns the runner expression that reads the named secret.
func SecretRef(name string) string {
	return "${{ secrets." + name + " }}"
}

// Empty reports whether the policy forwards nothing.
func (p SecretsPolicy) Empty() bool {
	return !p.Inherit && len(p.Allow) == 0
}

// Graph is a finalized, immutable job graph.
type Graph struct {
	Name       string   `json:"name"`
	Context    Context  `json:"context"`
	Jobs       []Job    `json:"jobs"` // declaration order, terminal job last
	Terminal   string   `json:"terminal"`
	Conclusion []string `json:"conclusion"`
	Excluded   []string `json:"excluded,omitempty"`
}

// Job looks up a job by ID.
func (g *Graph) Job(id string) (Job, bool) {
	for _, j := range g.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// Has reports whether a job with the given ID was materialized.
func (g *Graph) Has(id string) bool {
	_, ok := g.Job(id)
	return ok
}

// IDs returns job IDs in declaration order.
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.Jobs))
	for i, j := range g.Jobs {
		ids[i] = j.ID
	}
	return ids
}

// Edge is a dependency edge: To must reach a terminal state before From starts.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Edges returns every dependency edge in declaration order.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, j := range g.Jobs {
		for _, dep := range j.Needs {
			edges = append(edges, Edge{From: j.ID, To: dep})
		}
	}
	return edges
}
