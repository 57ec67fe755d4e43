package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/roach88/cigraph/internal/ir"
)

// ContextFlags collects the run context from the command line.
//
// Sources are layered, later ones winning over earlier ones:
//  1. the configured default environment
//  2. GITHUB_* variables set by the Actions runner
//  3. a JSONC context file given with --context
//  4. individual flags
type ContextFlags struct {
	File        string
	Environment string
	Version     string
	Trigger     string
	Repository  string
	Actor       string
	RunID       string
}

// runnerEnv maps runner variables onto context fields.
var runnerEnv = []struct {
	name  string
	field func(*ir.ContextInput) *string
}{
	{"GITHUB_EVENT_NAME", func(in *ir.ContextInput) *string { return &in.Trigger }},
	{"GITHUB_REPOSITORY", func(in *ir.ContextInput) *string { return &in.Repository }},
	{"GITHUB_ACTOR", func(in *ir.ContextInput) *string { return &in.Actor }},
	{"GITHUB_RUN_ID", func(in *ir.ContextInput) *string { return &in.RunID }},
}

func (f *ContextFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.File, "context", "", "JSONC file with context fields")
	cmd.Flags().StringVarP(&f.Environment, "environment", "e", "", "target environment (default from config)")
	cmd.Flags().StringVar(&f.Version, "version", "", "version being built")
	cmd.Flags().StringVarP(&f.Trigger, "trigger", "t", "", "trigger kind (schedule, manual, push, ...)")
	cmd.Flags().StringVar(&f.Repository, "repository", "", "owner/name of the repository")
	cmd.Flags().StringVar(&f.Actor, "actor", "", "user that started the run")
	cmd.Flags().StringVar(&f.RunID, "run-id", "", "workflow run identifier")
}

// resolve layers the context sources and builds an ir.Context.
func (f *ContextFlags) resolve(defaultEnv string) (ir.Context, error) {
	in := ir.ContextInput{Environment: defaultEnv}

	for _, e := range runnerEnv {
		if v := os.Getenv(e.name); v != "" {
			*e.field(&in) = v
		}
	}

	if f.File != "" {
		fromFile, err := ReadContextFile(f.File)
		if err != nil {
			return ir.Context{}, err
		}
		overlay(&in, fromFile)
	}

	overlay(&in, ir.ContextInput{
		Environment: f.Environment,
		Version:     f.Version,
		Trigger:     f.Trigger,
		Repository:  f.Repository,
		Actor:       f.Actor,
		RunID:       f.RunID,
	})

	return ir.NewContext(in)
}

// overlay copies the non-empty fields of src onto dst.
func overlay(dst *ir.ContextInput, src ir.ContextInput) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Environment, src.Environment)
	set(&dst.Version, src.Version)
	set(&dst.Trigger, src.Trigger)
	set(&dst.Repository, src.Repository)
	set(&dst.Actor, src.Actor)
	set(&dst.RunID, src.RunID)
}

// ParseContext strips JSONC comments and trailing commas from data and
// decodes the context fields. Unknown fields are rejected.
func ParseContext(data []byte) (ir.ContextInput, error) {
	var in ir.ContextInput
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return ir.ContextInput{}, fmt.Errorf("parsing context: %w", err)
	}
	return in, nil
}

// ReadContextFile reads and parses a JSONC context file.
func ReadContextFile(path string) (ir.ContextInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.ContextInput{}, fmt.Errorf("reading %s: %w", path, err)
	}
	in, err := ParseContext(data)
	if err != nil {
		return ir.ContextInput{}, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}
