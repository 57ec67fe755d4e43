package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/cigraph/internal/compiler"
	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/store"
	"github.com/roach88/cigraph/internal/template"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Context ContextFlags
	Output  string // write the document here instead of stdout
	Publish string // publish strategy override
	Record  bool   // append the expansion to the ledger
	Ledger  string // ledger path override
}

// RenderResult is the JSON payload of a successful render.
type RenderResult struct {
	Template    string     `json:"template"`
	Context     ir.Context `json:"context"`
	Jobs        int        `json:"jobs"`
	Digest      string     `json:"digest"`
	GraphDigest string     `json:"graph_digest"`
	Output      string     `json:"output,omitempty"`
	Document    string     `json:"document,omitempty"`
	EntryID     string     `json:"entry_id,omitempty"`
	Seq         int64      `json:"seq,omitempty"`
	Drift       bool       `json:"drift,omitempty"`
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render [template]",
		Short: "Expand a template into a workflow document",
		Long: `Expand a template for one run context and emit the workflow YAML.

The template is either builtin:<name> or a directory of CUE files. When
omitted, template.default from the configuration is used.

With --record the expansion is appended to the ledger. If an earlier
expansion of the same template and context produced a different
document, a drift warning is printed.

Exit codes:
  0 - Document emitted
  2 - Template, context or expansion error

Examples:
  cigraph render --version 3007.1 --trigger schedule
  cigraph render builtin:release -e staging --version 3007.1rc1 --trigger manual
  cigraph render ./pipelines/release --context ctx.jsonc -o .github/workflows/release.yml --record`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, opts.templateRef(args), cmd)
		},
	}

	opts.Context.register(cmd)
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the document to a file")
	cmd.Flags().StringVar(&opts.Publish, "publish", "", "publish strategy override (auto|self-hosted|reusable)")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record the expansion in the ledger")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "ledger database path (default from config)")

	return cmd
}

func runRender(opts *RenderOptions, ref string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	run, err := expand(opts.RootOptions, formatter, ref, &opts.Context, opts.Publish)
	if err != nil {
		return err
	}
	tmpl, exp := run.tmpl, run.exp

	doc, err := exp.Render()
	if err != nil {
		return outputProblems(formatter, "render failed", err, ExitCommandError)
	}

	graphDigest, err := ir.GraphDigest(exp.Graph)
	if err != nil {
		return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	result := RenderResult{
		Template:    tmpl.Name(),
		Context:     run.ctx,
		Jobs:        len(exp.Graph.Jobs),
		Digest:      ir.DocumentDigest(doc),
		GraphDigest: graphDigest,
		Output:      opts.Output,
	}

	if opts.Output != "" {
		if err := writeDocument(opts.Output, doc); err != nil {
			return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
		}
		logger.Info("wrote workflow", "path", opts.Output, "digest", result.Digest)
	}

	if opts.Record {
		entry, drift, err := record(cmd, opts, run, doc)
		if err != nil {
			return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
		}
		if drift != nil {
			result.Drift = true
			logger.Warn("nondeterministic expansion", "template", tmpl.Name(), "previous", drift.Previous.ID)
			fmt.Fprintf(formatter.GetErrWriter(), "warning: %v\n", drift)
		}
		result.EntryID = entry.ID
		result.Seq = entry.Seq
	}

	if opts.Format == "json" {
		if opts.Output == "" {
			result.Document = string(doc)
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	if opts.Output == "" {
		_, err := w.Write(doc)
		return err
	}
	fmt.Fprintf(w, "✓ Wrote %s (%d jobs) to %s\n", result.Template, result.Jobs, opts.Output)
	if opts.Record {
		fmt.Fprintf(w, "  Recorded expansion %s (seq %d)\n", result.EntryID, result.Seq)
	}
	return nil
}

// expansion is one resolved and expanded template.
type expansion struct {
	tmpl   template.Template
	source string // builtin:<name> or the absolute template directory
	ctx    ir.Context
	opts   template.Options
	exp    *template.Expansion
}

// expand resolves the template and context and runs one expansion,
// reporting failures through formatter.
func expand(opts *RootOptions, formatter *OutputFormatter, ref string, flags *ContextFlags, publish string) (*expansion, error) {
	logger := opts.logger()

	tmpl, err := compiler.Resolve(ref)
	if err != nil {
		return nil, outputProblems(formatter, "template load failed", err, ExitCommandError)
	}
	source, err := templateSource(ref, tmpl)
	if err != nil {
		return nil, outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	runCtx, err := flags.resolve(opts.config().DefaultEnvironment)
	if err != nil {
		return nil, outputCommandError(formatter, compiler.ErrCodeGeneric, fmt.Sprintf("context: %v", err))
	}

	expOpts, err := opts.expansionOptions(publish)
	if err != nil {
		return nil, outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	logger.Debug("expanding template", "template", tmpl.Name(), "source", source, "context", runCtx.Key())
	exp, err := tmpl.Expand(runCtx, expOpts)
	if err != nil {
		return nil, outputProblems(formatter, "expansion failed", err, ExitCommandError)
	}
	return &expansion{tmpl: tmpl, source: source, ctx: runCtx, opts: expOpts, exp: exp}, nil
}

// templateSource names where a template came from, independent of the
// working directory.
func templateSource(ref string, tmpl template.Template) (string, error) {
	if template.IsBuiltin(ref) {
		return template.BuiltinPrefix + tmpl.Name(), nil
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", fmt.Errorf("resolve template path: %w", err)
	}
	return abs, nil
}

// record checks the new document against the ledger entries made with the
// same template source and settings, then appends it.
func record(cmd *cobra.Command, opts *RenderOptions, run *expansion, doc []byte) (store.Entry, *store.Drift, error) {
	optionsKey, err := run.opts.Key(run.source)
	if err != nil {
		return store.Entry{}, nil, err
	}

	st, err := openLedger(ledgerPath(opts.RootOptions, opts.Ledger))
	if err != nil {
		return store.Entry{}, nil, err
	}
	defer st.Close()

	ctx := cmd.Context()
	name := run.tmpl.Name()
	var drift *store.Drift
	if err := st.VerifyDeterminism(ctx, name, run.exp.Graph.Context, optionsKey, doc); err != nil && !errors.As(err, &drift) {
		return store.Entry{}, nil, err
	}

	entry, err := st.Record(ctx, name, run.exp.Graph, doc, store.WithOptionsKey(optionsKey))
	if err != nil {
		return store.Entry{}, nil, err
	}
	return entry, drift, nil
}

func ledgerPath(opts *RootOptions, override string) string {
	if override != "" {
		return override
	}
	return opts.config().Ledger.Path
}

// openLedger opens the ledger, creating its directory first.
func openLedger(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	return store.Open(path)
}

func writeDocument(path string, doc []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}
