package pipeline

import "slices"

// ConclusionAccumulator is the ordered, deduplicated set of job IDs whose
// outcome gates the overall pipeline status. Registration order is kept so
// emitted output is deterministic; it carries no other meaning.
type ConclusionAccumulator struct {
	ids  []string
	seen map[string]bool
}

// NewConclusionAccumulator creates an empty accumulator.
func NewConclusionAccumulator() *ConclusionAccumulator {
	return &ConclusionAccumulator{seen: make(map[string]bool)}
}

// Add registers id. Returns false if it was already present.
func (a *ConclusionAccumulator) Add(id string) bool {
	if a.seen[id] {
		return false
	}
	a.seen[id] = true
	a.ids = append(a.ids, id)
	return true
}

// Contains reports whether id is registered.
func (a *ConclusionAccumulator) Contains(id string) bool {
	return a.seen[id]
}

// Len returns the number of registered IDs.
func (a *ConclusionAccumulator) Len() int {
	return len(a.ids)
}

// Snapshot returns a copy of the registered IDs in registration order.
func (a *ConclusionAccumulator) Snapshot() []string {
	return slices.Clone(a.ids)
}
