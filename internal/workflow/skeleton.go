package workflow

import (
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
)

// Slot names of the base skeleton, in document order.
const (
	SlotName               = "name"
	SlotOn                 = "on"
	SlotConcurrency        = "concurrency"
	SlotPermissions        = "permissions"
	SlotEnv                = "env"
	SlotJobs               = "jobs"
	SlotPipelineExitStatus = "pipeline_exit_status"
)

// DefaultCron is the schedule emitted for scheduled pipelines.
const DefaultCron = "0 0 * * *"

// SlotContext is passed to every slot function.
type SlotContext struct {
	Graph *ir.Graph
	Slot  string

	super func() (*yaml.Node, error)
}

// Super returns the content the slot would have without the override.
// For base skeleton slots it returns (nil, nil).
func (c SlotContext) Super() (*yaml.Node, error) {
	if c.super == nil {
		return nil, nil
	}
	return c.super()
}

// SlotFunc produces the content of one named slot. A nil node omits the
// slot from the document.
type SlotFunc func(SlotContext) (*yaml.Node, error)

// Overrides maps slot names to replacement content.
type Overrides map[string]SlotFunc

type slot struct {
	name string
	fn   SlotFunc
}

// Skeleton is an ordered set of named slots with default content.
type Skeleton struct {
	slots []slot
}

// BaseSkeleton returns the default workflow skeleton.
func BaseSkeleton() *Skeleton {
	return &Skeleton{slots: []slot{
		{SlotName, nameSlot},
		{SlotOn, onSlot},
		{SlotConcurrency, concurrencySlot},
		{SlotPermissions, permissionsSlot},
		{SlotEnv, envSlot},
		{SlotJobs, jobsSlot},
		{SlotPipelineExitStatus, exitStatusSlot},
	}}
}

// Slots returns the slot names in document order.
func (s *Skeleton) Slots() []string {
	names := make([]string, len(s.slots))
	for i, sl := range s.slots {
		names[i] = sl.name
	}
	return names
}

// Has reports whether the skeleton defines a slot.
func (s *Skeleton) Has(name string) bool {
	for _, sl := range s.slots {
		if sl.name == name {
			return true
		}
	}
	return false
}

// Extend returns a copy of the skeleton with overrides applied. Each
// override sees the previous content through SlotContext.Super.
func (s *Skeleton) Extend(overrides Overrides) (*Skeleton, error) {
	if err := s.check(overrides); err != nil {
		return nil, err
	}
	out := &Skeleton{slots: make([]slot, len(s.slots))}
	for i, sl := range s.slots {
		out.slots[i] = sl
		if fn, ok := overrides[sl.name]; ok && fn != nil {
			out.slots[i].fn = chain(sl.fn, fn)
		}
	}
	return out, nil
}

func (s *Skeleton) check(overrides Overrides) error {
	var unknown []string
	for name := range overrides {
		if !s.Has(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	return &pipeline.ConfigError{
		Code:    pipeline.ErrMalformedBlock,
		Ref:     strings.Join(unknown, ", "),
		Message: fmt.Sprintf("unknown extension point(s) %s (known: %s)", strings.Join(unknown, ", "), strings.Join(s.Slots(), ", ")),
	}
}

// chain binds parent as the Super of child.
func chain(parent, child SlotFunc) SlotFunc {
	return func(sc SlotContext) (*yaml.Node, error) {
		outer := sc
		outer.super = func() (*yaml.Node, error) {
			inner := sc
			inner.super = nil
			return parent(inner)
		}
		return child(outer)
	}
}

func nameSlot(sc SlotContext) (*yaml.Node, error) {
	return str(sc.Graph.Name), nil
}

func onSlot(sc SlotContext) (*yaml.Node, error) {
	trigger := sc.Graph.Context.Trigger
	switch trigger {
	case ir.TriggerSchedule:
		return mapping(
			"schedule", sequence(mapping("cron", str(DefaultCron))),
		), nil
	case ir.TriggerManual, ir.TriggerWorkflowDispatch:
		return mapping(ir.TriggerWorkflowDispatch, emptyMapping()), nil
	}
	return mapping(trigger, emptyMapping()), nil
}

// ConcurrencyGroup names the concurrency group of a run. Manual runs get
// their own group so they never cancel each other. Empty parts are skipped.
func ConcurrencyGroup(workflow string, ctx ir.Context) string {
	candidates := []string{workflow, ctx.Trigger, ctx.Repository}
	if ctx.Manual() {
		candidates = append(candidates, ctx.Actor, ctx.RunID)
	}
	parts := candidates[:0]
	for _, p := range candidates {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}

func concurrencySlot(sc SlotContext) (*yaml.Node, error) {
	return mapping(
		"group", str(ConcurrencyGroup(sc.Graph.Name, sc.Graph.Context)),
		"cancel-in-progress", boolean(false),
	), nil
}

func permissionsSlot(SlotContext) (*yaml.Node, error) {
	return mapping(
		"actions", str("read"),
		"contents", str("read"),
	), nil
}

func envSlot(sc SlotContext) (*yaml.Node, error) {
	return mapping(
		"COLUMNS", str("190"),
		"PIPELINE_ENVIRONMENT", str(sc.Graph.Context.Environment),
		"PIPELINE_VERSION", str(sc.Graph.Context.Version),
	), nil
}

func jobsSlot(sc SlotContext) (*yaml.Node, error) {
	node := emptyMapping()
	for _, job := range sc.Graph.Jobs {
		if job.ID == sc.Graph.Terminal {
			continue
		}
		node.Content = append(node.Content, str(job.ID), JobNode(job))
	}
	return node, nil
}

func exitStatusSlot(sc SlotContext) (*yaml.Node, error) {
	job, ok := sc.Graph.Job(sc.Graph.Terminal)
	if !ok {
		return nil, nil
	}
	return JobNode(job), nil
}
