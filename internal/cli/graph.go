package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cigraph/internal/compiler"
	"github.com/roach88/cigraph/internal/ir"
)

// GraphOptions holds flags for the graph command.
type GraphOptions struct {
	*RootOptions
	Context ContextFlags
	Publish string
}

// GraphNode is one job in the graph listing.
type GraphNode struct {
	ID       string   `json:"id"`
	Needs    []string `json:"needs,omitempty"`
	Guard    string   `json:"guard"`
	Scope    []string `json:"scope,omitempty"`
	Reusable bool     `json:"reusable,omitempty"`
	Terminal bool     `json:"terminal,omitempty"`
}

// GraphView is the JSON payload of the graph command.
type GraphView struct {
	Name       string      `json:"name"`
	Context    ir.Context  `json:"context"`
	Jobs       []GraphNode `json:"jobs"`
	Excluded   []string    `json:"excluded,omitempty"`
	Conclusion []string    `json:"conclusion"`
	Digest     string      `json:"digest"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GraphOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "graph [template]",
		Short: "Show the expanded job graph",
		Long: `Expand a template and print the job graph instead of the workflow:
every job with its needs and guard, the jobs guards excluded and the
conclusion set the terminal job waits on.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(opts, opts.templateRef(args), cmd)
		},
	}

	opts.Context.register(cmd)
	cmd.Flags().StringVar(&opts.Publish, "publish", "", "publish strategy override (auto|self-hosted|reusable)")

	return cmd
}

func runGraph(opts *GraphOptions, ref string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	run, err := expand(opts.RootOptions, formatter, ref, &opts.Context, opts.Publish)
	if err != nil {
		return err
	}

	view, err := newGraphView(run.exp.Graph)
	if err != nil {
		return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	if opts.Format == "json" {
		return formatter.Success(view)
	}
	writeGraphText(formatter, view)
	return nil
}

func newGraphView(g *ir.Graph) (GraphView, error) {
	digest, err := ir.GraphDigest(g)
	if err != nil {
		return GraphView{}, err
	}
	view := GraphView{
		Name:       g.Name,
		Context:    g.Context,
		Jobs:       make([]GraphNode, 0, len(g.Jobs)),
		Excluded:   g.Excluded,
		Conclusion: g.Conclusion,
		Digest:     digest,
	}
	for _, j := range g.Jobs {
		view.Jobs = append(view.Jobs, GraphNode{
			ID:       j.ID,
			Needs:    j.Needs,
			Guard:    j.Guard,
			Scope:    j.Scope,
			Reusable: j.Reusable(),
			Terminal: j.ID == g.Terminal,
		})
	}
	return view, nil
}

func writeGraphText(formatter *OutputFormatter, view GraphView) {
	w := formatter.Writer
	c := view.Context
	fmt.Fprintf(w, "Pipeline %s (%s, %s, %s)\n", view.Name, c.Environment, c.Version, c.Trigger)
	fmt.Fprintln(w, "Jobs:")
	for _, n := range view.Jobs {
		line := "  " + n.ID
		if len(n.Needs) > 0 {
			line += " <- " + strings.Join(n.Needs, ", ")
		}
		if n.Terminal {
			line += " [terminal]"
		}
		fmt.Fprintln(w, line)
		if formatter.Verbose && len(n.Scope) > 0 {
			fmt.Fprintf(w, "      scope: %s, guard: %s\n", strings.Join(n.Scope, "/"), n.Guard)
		}
	}
	if len(view.Excluded) > 0 {
		fmt.Fprintf(w, "Excluded: %s\n", strings.Join(view.Excluded, ", "))
	}
	fmt.Fprintf(w, "Conclusion: %s\n", strings.Join(view.Conclusion, ", "))
	fmt.Fprintf(w, "Digest: %s\n", view.Digest)
}
