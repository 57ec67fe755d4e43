package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/cigraph/internal/config"
	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
	"github.com/roach88/cigraph/internal/template"
)

// RootOptions holds global flags for all commands, plus the configuration
// and logger resolved before any subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cigraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cigraph",
		Short: "cigraph - CI pipeline graph builder",
		Long: `Expand pipeline templates into GitHub Actions workflows.

A template declares jobs, their dependencies and the guards that decide
whether they run. cigraph evaluates the guards against a run context,
threads the context into every job and emits one workflow document.`,
		Version:       ir.ToolVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default .cigraph.yaml)")

	cmd.AddCommand(NewRenderCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load reads configuration and sets up the diagnostic logger.
func (o *RootOptions) load(cmd *cobra.Command) error {
	formatter := o.formatter(cmd)

	v, err := config.NewViper(o.ConfigFile)
	if err != nil {
		return outputCommandError(formatter, "E001", err.Error())
	}
	cfg, err := config.Load(v)
	if err != nil {
		return outputCommandError(formatter, "E001", err.Error())
	}

	level := cfg.LogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	o.Config = cfg
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	o.Logger.Debug("configuration loaded", "config_file", v.ConfigFileUsed())
	return nil
}

// config returns the loaded configuration, or the defaults when a command
// runs without the root pre-run.
func (o *RootOptions) config() *config.Config {
	if o.Config == nil {
		return config.Default()
	}
	return o.Config
}

func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// expansionOptions builds template options from configuration, applying a
// --publish override when one is given.
func (o *RootOptions) expansionOptions(publish string) (template.Options, error) {
	opts, err := o.config().Options(o.logger())
	if err != nil {
		return template.Options{}, err
	}
	if publish != "" {
		strategy, err := pipeline.ParseStrategy(publish)
		if err != nil {
			return template.Options{}, err
		}
		opts.Publish.Strategy = strategy
	}
	return opts, nil
}

// templateRef picks the template argument, falling back to the configured
// default.
func (o *RootOptions) templateRef(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return o.config().Template.Default
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
