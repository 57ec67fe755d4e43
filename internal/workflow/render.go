package workflow

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cigraph/internal/ir"
)

// Document builds the workflow document node for a finalized graph.
// The pipeline_exit_status slot is appended as the last entry of jobs.
func Document(graph *ir.Graph, skeleton *Skeleton, overrides Overrides) (*yaml.Node, error) {
	if graph == nil {
		return nil, fmt.Errorf("workflow: nil graph")
	}
	if skeleton == nil {
		skeleton = BaseSkeleton()
	}
	sk, err := skeleton.Extend(overrides)
	if err != nil {
		return nil, err
	}

	root := emptyMapping()
	var jobs, exitStatus *yaml.Node
	for _, sl := range sk.slots {
		node, err := sl.fn(SlotContext{Graph: graph, Slot: sl.name})
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", sl.name, err)
		}
		if node == nil {
			continue
		}
		switch sl.name {
		case SlotJobs:
			jobs = node
		case SlotPipelineExitStatus:
			exitStatus = node
		default:
			root.Content = append(root.Content, str(sl.name), node)
		}
	}

	if jobs == nil {
		jobs = emptyMapping()
	}
	if jobs.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("slot %q: must produce a mapping, got kind %d", SlotJobs, jobs.Kind)
	}
	if exitStatus != nil {
		jobs.Content = append(jobs.Content, str(graph.Terminal), exitStatus)
	}
	root.Content = append(root.Content, str(SlotJobs), jobs)

	return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}, nil
}

// Render emits the workflow document as YAML. Identical inputs produce
// byte-identical output.
func Render(graph *ir.Graph, skeleton *Skeleton, overrides Overrides) ([]byte, error) {
	doc, err := Document(graph, skeleton, overrides)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode workflow: %w", err)
	}
	return buf.Bytes(), nil
}

// Literal wraps fixed content as a slot override. Used for blocks a
// template supplies as data.
func Literal(v ir.Value) SlotFunc {
	return func(SlotContext) (*yaml.Node, error) {
		return ValueNode(v), nil
	}
}

// Merge overrides a mapping slot by adding or replacing keys of the
// default content. Keys of extra are applied in canonical order.
func Merge(extra ir.Map) SlotFunc {
	return func(sc SlotContext) (*yaml.Node, error) {
		base, err := sc.Super()
		if err != nil {
			return nil, err
		}
		if base == nil {
			base = emptyMapping()
		}
		if base.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("slot %q: cannot merge into non-mapping content", sc.Slot)
		}
		out := emptyMapping()
		out.Content = append(out.Content, base.Content...)
		for _, k := range extra.SortedKeys() {
			v := ValueNode(extra[k])
			replaced := false
			for i := 0; i+1 < len(out.Content); i += 2 {
				if out.Content[i].Value == k {
					out.Content[i+1] = v
					replaced = true
					break
				}
			}
			if !replaced {
				out.Content = append(out.Content, str(k), v)
			}
		}
		return out, nil
	}
}
