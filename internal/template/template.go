// Package template holds pipeline templates and the registry that names
// them. A template expands a run Context into a finalized graph plus the
// skeleton overrides used to emit it.
package template

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
	"github.com/roach88/cigraph/internal/workflow"
)

// BuiltinPrefix marks a registry reference on the command line.
const BuiltinPrefix = "builtin:"

// Options carries project settings into an expansion.
type Options struct {
	Publish  pipeline.PublishSpec
	Terminal pipeline.TerminalSpec
	Logger   *slog.Logger
}

// DefaultOptions returns the settings used when no configuration exists.
func DefaultOptions() Options {
	return Options{
		Publish:  pipeline.DefaultPublishSpec(),
		Terminal: pipeline.DefaultTerminal(),
		Logger:   slog.New(slog.DiscardHandler),
	}
}

// BuilderOptions converts Options into Builder options.
func (o Options) BuilderOptions() []pipeline.Option {
	opts := []pipeline.Option{pipeline.WithTerminal(o.Terminal)}
	if o.Logger != nil {
		opts = append(opts, pipeline.WithLogger(o.Logger))
	}
	return opts
}

// Key digests the template source together with every option that shapes
// the emitted document, so ledger entries are only compared against runs
// with the same settings. The logger is not part of the key.
func (o Options) Key(source string) (string, error) {
	return ir.OptionsDigest(map[string]any{
		"source": source,
		"publish": map[string]any{
			"id":                o.Publish.ID,
			"label":             o.Publish.Label,
			"strategy":          string(o.Publish.Strategy),
			"runner_labels":     o.Publish.RunnerLabels,
			"reusable_workflow": o.Publish.ReusableWorkflow,
			"tool":              o.Publish.Tool,
			"artifact_name":     o.Publish.ArtifactName,
			"artifact_path":     o.Publish.ArtifactPath,
			"secret_key":        o.Publish.SecretKey,
		},
		"terminal": map[string]any{
			"id":      o.Terminal.ID,
			"label":   o.Terminal.Label,
			"runs_on": o.Terminal.RunsOn,
			"steps":   stepsKey(o.Terminal.Steps),
		},
	})
}

func stepsKey(steps []ir.Step) []any {
	out := make([]any, len(steps))
	for i, s := range steps {
		out[i] = map[string]any{
			"name": s.Name,
			"uses": s.Uses,
			"run":  s.Run,
			"with": s.With,
			"env":  s.Env,
		}
	}
	return out
}

// Expansion is the result of expanding a template.
type Expansion struct {
	Graph     *ir.Graph
	Overrides workflow.Overrides
}

// Render emits the expansion with the base skeleton.
func (e *Expansion) Render() ([]byte, error) {
	return workflow.Render(e.Graph, workflow.BaseSkeleton(), e.Overrides)
}

// Template expands a run Context into a graph.
type Template interface {
	Name() string
	Expand(ctx ir.Context, opts Options) (*Expansion, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Template{}
)

// Register adds a template to the registry. Registering a name twice
// panics.
func Register(t Template) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[t.Name()]; dup {
		panic(fmt.Sprintf("template: %q registered twice", t.Name()))
	}
	registry[t.Name()] = t
}

// Lookup finds a registered template. The builtin: prefix is optional.
func Lookup(name string) (Template, error) {
	name = strings.TrimPrefix(name, BuiltinPrefix)
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q (available: %s)", name, strings.Join(namesLocked(), ", "))
	}
	return t, nil
}

// Names lists registered template names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsBuiltin reports whether ref names a registry template.
func IsBuiltin(ref string) bool {
	return strings.HasPrefix(ref, BuiltinPrefix)
}

func init() {
	Register(Release{})
}
