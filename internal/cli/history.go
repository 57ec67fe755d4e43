package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/cigraph/internal/compiler"
	"github.com/roach88/cigraph/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit  int
	Ledger string
	Filter HistoryFilter
}

// HistoryFilter narrows the listing to matching entries.
type HistoryFilter struct {
	Template    string
	Environment string
	Version     string
	Trigger     string
}

func (f HistoryFilter) predicate() store.Predicate {
	return store.Where(map[string]string{
		"template":    f.Template,
		"environment": f.Environment,
		"version":     f.Version,
		"trigger":     f.Trigger,
	})
}

// HistoryResult is the JSON payload of the history listing.
type HistoryResult struct {
	Ledger  string        `json:"ledger"`
	Entries []store.Entry `json:"entries"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [entry-id]",
		Short: "List recorded expansions",
		Long: `List the expansions recorded with render --record, newest first.

Given an entry ID, print the document recorded for that entry.

Examples:
  cigraph history
  cigraph history --environment nightly --trigger schedule -n 5
  cigraph history 0190f6c2-7d3e-7c6a-9a51-3f0c2b1e4d5a`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runHistoryShow(opts, args[0], cmd)
			}
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum entries to list (0 for all)")
	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "ledger database path (default from config)")
	cmd.Flags().StringVar(&opts.Filter.Template, "template", "", "only entries of this template")
	cmd.Flags().StringVarP(&opts.Filter.Environment, "environment", "e", "", "only entries for this environment")
	cmd.Flags().StringVar(&opts.Filter.Version, "version", "", "only entries for this version")
	cmd.Flags().StringVarP(&opts.Filter.Trigger, "trigger", "t", "", "only entries for this trigger")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	path := ledgerPath(opts.RootOptions, opts.Ledger)

	result := HistoryResult{Ledger: path, Entries: []store.Entry{}}

	// A missing ledger is an empty history; don't create one just to list it.
	if _, err := os.Stat(path); err == nil {
		st, err := store.Open(path)
		if err != nil {
			return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
		}
		defer st.Close()

		entries, err := st.Find(cmd.Context(), opts.Filter.predicate(), opts.Limit)
		if err != nil {
			return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
		}
		result.Entries = entries
	} else if !errors.Is(err, os.ErrNotExist) {
		return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No expansions recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tTEMPLATE\tENVIRONMENT\tVERSION\tTRIGGER\tDIGEST")
	for _, e := range result.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.ID, e.Template, e.Context.Environment, e.Context.Version, e.Context.Trigger, shortDigest(e.Digest))
	}
	return tw.Flush()
}

func runHistoryShow(opts *HistoryOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	path := ledgerPath(opts.RootOptions, opts.Ledger)

	if _, err := os.Stat(path); err != nil {
		return outputCommandError(formatter, compiler.ErrCodeNotFound, fmt.Sprintf("ledger not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}
	defer st.Close()

	entry, err := st.Get(cmd.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return outputCommandError(formatter, compiler.ErrCodeNotFound, fmt.Sprintf("no expansion %s", id))
	}
	if err != nil {
		return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	if opts.Format == "json" {
		return formatter.Success(struct {
			store.Entry
			Document string `json:"document"`
		}{entry, string(entry.Document)})
	}
	_, err = formatter.Writer.Write(entry.Document)
	return err
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
