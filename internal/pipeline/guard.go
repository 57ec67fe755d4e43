package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cigraph/internal/ir"
)

// Guard decides at expansion time whether a job or subgraph is
// materialized. Guards form a fixed combinator set over the run Context.
type Guard interface {
	Eval(ctx ir.Context) bool
	String() string
}

type constGuard bool

func (g constGuard) Eval(ir.Context) bool { return bool(g) }

func (g constGuard) String() string {
	if g {
		return "always"
	}
	return "never"
}

// Always includes unconditionally. It is the default guard.
func Always() Guard { return constGuard(true) }

// Never excludes unconditionally.
func Never() Guard { return constGuard(false) }

type fieldGuard struct {
	field  string
	values []string
	get    func(ir.Context) string
}

func (g fieldGuard) Eval(ctx ir.Context) bool {
	return slices.Contains(g.values, g.get(ctx))
}

func (g fieldGuard) String() string {
	return fmt.Sprintf("%s in [%s]", g.field, strings.Join(g.values, ", "))
}

// EnvironmentIn matches when the target environment is one of envs.
func EnvironmentIn(envs ...string) Guard {
	return fieldGuard{field: "environment", values: envs, get: func(c ir.Context) string { return c.Environment }}
}

// TriggerIn matches when the workflow trigger kind is one of triggers.
func TriggerIn(triggers ...string) Guard {
	return fieldGuard{field: "trigger", values: triggers, get: func(c ir.Context) string { return c.Trigger }}
}

type rcGuard struct{}

func (rcGuard) Eval(ctx ir.Context) bool { return ctx.ReleaseCandidate }
func (rcGuard) String() string           { return "release-candidate" }

// ReleaseCandidate matches release-candidate builds.
func ReleaseCandidate() Guard { return rcGuard{} }

type allGuard []Guard

func (g allGuard) Eval(ctx ir.Context) bool {
	for _, inner := range g {
		if !inner.Eval(ctx) {
			return false
		}
	}
	return true
}

func (g allGuard) String() string { return joinGuards(g, " && ") }

type anyGuard []Guard

func (g anyGuard) Eval(ctx ir.Context) bool {
	for _, inner := range g {
		if inner.Eval(ctx) {
			return true
		}
	}
	return false
}

func (g anyGuard) String() string { return joinGuards(g, " || ") }

// All matches when every guard matches. Always entries are dropped;
// All() with no remaining guards is Always.
func All(guards ...Guard) Guard {
	var kept allGuard
	for _, g := range guards {
		if g == nil || isAlways(g) {
			continue
		}
		kept = append(kept, g)
	}
	switch len(kept) {
	case 0:
		return Always()
	case 1:
		return kept[0]
	}
	return kept
}

// Any matches when at least one guard matches. Any() is Never.
func Any(guards ...Guard) Guard {
	switch len(guards) {
	case 0:
		return Never()
	case 1:
		return guards[0]
	}
	return anyGuard(guards)
}

type notGuard struct{ inner Guard }

func (g notGuard) Eval(ctx ir.Context) bool { return !g.inner.Eval(ctx) }
func (g notGuard) String() string           { return "!" + wrapGuard(g.inner) }

// Not inverts a guard.
func Not(g Guard) Guard { return notGuard{inner: g} }

func isAlways(g Guard) bool {
	c, ok := g.(constGuard)
	return ok && bool(c)
}

func joinGuards(guards []Guard, sep string) string {
	parts := make([]string, len(guards))
	for i, g := range guards {
		parts[i] = wrapGuard(g)
	}
	return strings.Join(parts, sep)
}

func wrapGuard(g Guard) string {
	switch g.(type) {
	case allGuard, anyGuard:
		return "(" + g.String() + ")"
	}
	return g.String()
}
