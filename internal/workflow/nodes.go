package workflow

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cigraph/internal/ir"
)

func str(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if strings.Contains(s, "\n") {
		n.Style = yaml.LiteralStyle
	}
	return n
}

func boolean(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
}

func integer(i int64) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(i, 10)}
}

func emptyMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// mapping builds a mapping node from alternating string keys and node values.
func mapping(pairs ...any) *yaml.Node {
	n := emptyMapping()
	for i := 0; i+1 < len(pairs); i += 2 {
		n.Content = append(n.Content, str(pairs[i].(string)), pairs[i+1].(*yaml.Node))
	}
	return n
}

func sequence(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
}

func stringSeq(items []string) *yaml.Node {
	seq := sequence()
	for _, s := range items {
		seq.Content = append(seq.Content, str(s))
	}
	return seq
}

// ValueNode converts a parameter value into a YAML node. Map keys are
// emitted in canonical order.
func ValueNode(v ir.Value) *yaml.Node {
	switch val := v.(type) {
	case ir.String:
		return str(string(val))
	case ir.Int:
		return integer(int64(val))
	case ir.Bool:
		return boolean(bool(val))
	case ir.List:
		seq := sequence()
		for _, item := range val {
			seq.Content = append(seq.Content, ValueNode(item))
		}
		return seq
	case ir.Map:
		return mapNode(val)
	}
	panic(fmt.Sprintf("workflow: unsupported value %T", v))
}

func mapNode(m ir.Map) *yaml.Node {
	n := emptyMapping()
	for _, k := range m.SortedKeys() {
		n.Content = append(n.Content, str(k), ValueNode(m[k]))
	}
	return n
}

// JobNode renders one job with a fixed key order: name, needs, if, uses,
// runs-on, environment, with, secrets, env, steps.
func JobNode(job ir.Job) *yaml.Node {
	n := emptyMapping()
	add := func(key string, v *yaml.Node) {
		n.Content = append(n.Content, str(key), v)
	}

	if job.Label != "" {
		add("name", str(job.Label))
	}
	if len(job.Needs) > 0 {
		add("needs", stringSeq(job.Needs))
	}
	if job.If != "" {
		add("if", str(job.If))
	}
	if job.Uses != "" {
		add("uses", str(job.Uses))
	}
	switch len(job.RunsOn) {
	case 0:
	case 1:
		add("runs-on", str(job.RunsOn[0]))
	default:
		add("runs-on", stringSeq(job.RunsOn))
	}
	if job.Environment != "" {
		add("environment", str(job.Environment))
	}
	if len(job.With) > 0 {
		add("with", mapNode(job.With))
	}
	// Only reusable jobs take a secrets key; runner jobs receive
	// allow-listed secrets through env.
	if job.Reusable() {
		switch {
		case job.Secrets.Inherit:
			add("secrets", str("inherit"))
		case len(job.Secrets.Allow) > 0:
			secrets := emptyMapping()
			for _, name := range job.Secrets.Allow {
				secrets.Content = append(secrets.Content, str(name), str(ir.SecretRef(name)))
			}
			add("secrets", secrets)
		}
	}
	if len(job.Env) > 0 {
		add("env", mapNode(job.Env))
	}
	if len(job.Steps) > 0 {
		steps := sequence()
		for _, s := range job.Steps {
			steps.Content = append(steps.Content, stepNode(s))
		}
		add("steps", steps)
	}
	return n
}

func stepNode(s ir.Step) *yaml.Node {
	n := emptyMapping()
	if s.Name != "" {
		n.Content = append(n.Content, str("name"), str(s.Name))
	}
	if s.Uses != "" {
		n.Content = append(n.Content, str("uses"), str(s.Uses))
	}
	if s.Run != "" {
		n.Content = append(n.Content, str("run"), str(s.Run))
	}
	if len(s.With) > 0 {
		n.Content = append(n.Content, str("with"), mapNode(s.With))
	}
	if len(s.Env) > 0 {
		n.Content = append(n.Content, str("env"), mapNode(s.Env))
	}
	return n
}
