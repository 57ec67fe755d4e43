package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/cigraph/internal/compiler"
	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/template"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Version string // base version; the RC variant appends rcSuffix
	Publish string
}

const rcSuffix = "rc1"

// Combination is one point of the validation matrix.
type Combination struct {
	Environment string `json:"environment"`
	Trigger     string `json:"trigger"`
	Version     string `json:"version"`
}

func (c Combination) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Environment, c.Trigger, c.Version)
}

// MatrixIssue is a problem found expanding one combination.
type MatrixIssue struct {
	Combination Combination `json:"combination"`
	Problem
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool          `json:"valid"`
	Template     string        `json:"template"`
	Combinations int           `json:"combinations"`
	Errors       []MatrixIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [template]",
		Short: "Expand a template across every configured context",
		Long: `Validate a template by expanding it for every combination of the
configured environments and triggers, once with a final version and once
with a release candidate, and rendering each result.

Exit codes:
  0 - Every combination expanded
  1 - One or more combinations failed
  2 - Template could not be loaded`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, opts.templateRef(args), cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Version, "version", "1.0.0", "base version to expand with")
	cmd.Flags().StringVar(&opts.Publish, "publish", "", "publish strategy override (auto|self-hosted|reusable)")

	return cmd
}

func runValidate(opts *ValidateOptions, ref string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if ir.IsReleaseCandidate(opts.Version) {
		return outputCommandError(formatter, compiler.ErrCodeGeneric,
			fmt.Sprintf("version %q is already a release candidate", opts.Version))
	}

	tmpl, err := compiler.Resolve(ref)
	if err != nil {
		return outputProblems(formatter, "template load failed", err, ExitCommandError)
	}

	expOpts, err := opts.expansionOptions(opts.Publish)
	if err != nil {
		return outputCommandError(formatter, compiler.ErrCodeGeneric, err.Error())
	}

	matrix := validationMatrix(opts.config().Environments, opts.config().Triggers, opts.Version)
	result := ValidationResult{Template: tmpl.Name(), Combinations: len(matrix)}
	for _, c := range matrix {
		formatter.VerboseLog("Expanding %s", c)
		for _, p := range checkCombination(tmpl, c, expOpts) {
			result.Errors = append(result.Errors, MatrixIssue{Combination: c, Problem: p})
		}
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// validationMatrix enumerates environments × triggers × {final, rc}.
func validationMatrix(envs, triggers []string, version string) []Combination {
	var out []Combination
	for _, env := range envs {
		for _, trigger := range triggers {
			for _, v := range []string{version, version + rcSuffix} {
				out = append(out, Combination{Environment: env, Trigger: trigger, Version: v})
			}
		}
	}
	return out
}

func checkCombination(tmpl template.Template, c Combination, opts template.Options) []Problem {
	runCtx, err := ir.NewContext(ir.ContextInput{
		Environment: c.Environment,
		Version:     c.Version,
		Trigger:     c.Trigger,
	})
	if err != nil {
		return Problems(err)
	}
	exp, err := tmpl.Expand(runCtx, opts)
	if err != nil {
		return Problems(err)
	}
	if _, err := exp.Render(); err != nil {
		return Problems(err)
	}
	return nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Template %s valid across %d combinations\n", result.Template, result.Combinations)
	return nil
}

// outputValidationErrors outputs every matrix issue.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	var last Combination
	for i, issue := range result.Errors {
		if i == 0 || issue.Combination != last {
			fmt.Fprintf(formatter.Writer, "%s\n", issue.Combination)
			last = issue.Combination
		}
		fmt.Fprintf(formatter.Writer, "  %s\n", issue.Problem)
	}
	fmt.Fprintln(formatter.Writer)

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
