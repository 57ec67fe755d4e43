// Package config loads project settings for cigraph from .cigraph.yaml,
// CIGRAPH_* environment variables and built-in defaults, in that order of
// precedence after command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/cigraph/internal/ir"
	"github.com/roach88/cigraph/internal/pipeline"
	"github.com/roach88/cigraph/internal/template"
)

// EnvPrefix prefixes every environment variable override, e.g.
// CIGRAPH_PUBLISH_STRATEGY.
const EnvPrefix = "CIGRAPH"

// FileName is the config file name searched for without extension.
const FileName = ".cigraph"

// Config is the project configuration.
type Config struct {
	// DefaultEnvironment is used when a run names no environment.
	DefaultEnvironment string `mapstructure:"default_environment"`
	// Environments enumerates the target environments validate expands for.
	Environments []string `mapstructure:"environments"`
	// Triggers enumerates the trigger kinds validate expands for.
	Triggers []string       `mapstructure:"triggers"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Status   StatusConfig   `mapstructure:"status"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Template TemplateConfig `mapstructure:"template"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PublishConfig configures the publish job.
type PublishConfig struct {
	Strategy         string   `mapstructure:"strategy"`
	RunnerLabels     []string `mapstructure:"runner_labels"`
	ReusableWorkflow string   `mapstructure:"reusable_workflow"`
	Tool             string   `mapstructure:"tool"`
	ArtifactName     string   `mapstructure:"artifact_name"`
	ArtifactPath     string   `mapstructure:"artifact_path"`
}

// SecretsConfig names the single secret forwarded to self-hosted publishing.
type SecretsConfig struct {
	Key string `mapstructure:"key"`
}

// StatusConfig configures the terminal status job.
type StatusConfig struct {
	JobID  string `mapstructure:"job_id"`
	Label  string `mapstructure:"label"`
	Action string `mapstructure:"action"`
}

// LedgerConfig locates the expansion ledger database.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// TemplateConfig selects the template used when none is given.
type TemplateConfig struct {
	Default string `mapstructure:"default"`
}

// LoggingConfig sets the diagnostic log level.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the configuration used when no file or environment
// override exists.
func Default() *Config {
	publish := pipeline.DefaultPublishSpec()
	status := pipeline.DefaultTerminal()
	return &Config{
		DefaultEnvironment: ir.DefaultEnvironment,
		Environments:       []string{"nightly", "staging", "release"},
		Triggers:           []string{ir.TriggerSchedule, ir.TriggerManual, ir.TriggerPush},
		Publish: PublishConfig{
			Strategy:         string(publish.Strategy),
			RunnerLabels:     publish.RunnerLabels,
			ReusableWorkflow: publish.ReusableWorkflow,
			Tool:             publish.Tool,
			ArtifactName:     publish.ArtifactName,
			ArtifactPath:     publish.ArtifactPath,
		},
		Secrets: SecretsConfig{Key: publish.SecretKey},
		Status: StatusConfig{
			JobID:  status.ID,
			Label:  status.Label,
			Action: status.Steps[0].Uses,
		},
		Ledger:   LedgerConfig{Path: filepath.Join(".cigraph", "ledger.db")},
		Template: TemplateConfig{Default: template.BuiltinPrefix + "release"},
		Logging:  LoggingConfig{Level: "warn"},
	}
}

// SetDefaults registers every default with v. Keys without a default are
// invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("default_environment", defaults.DefaultEnvironment)
	v.SetDefault("environments", defaults.Environments)
	v.SetDefault("triggers", defaults.Triggers)

	// Publish defaults
	v.SetDefault("publish.strategy", defaults.Publish.Strategy)
	v.SetDefault("publish.runner_labels", defaults.Publish.RunnerLabels)
	v.SetDefault("publish.reusable_workflow", defaults.Publish.ReusableWorkflow)
	v.SetDefault("publish.tool", defaults.Publish.Tool)
	v.SetDefault("publish.artifact_name", defaults.Publish.ArtifactName)
	v.SetDefault("publish.artifact_path", defaults.Publish.ArtifactPath)

	v.SetDefault("secrets.key", defaults.Secrets.Key)

	// Status job defaults
	v.SetDefault("status.job_id", defaults.Status.JobID)
	v.SetDefault("status.label", defaults.Status.Label)
	v.SetDefault("status.action", defaults.Status.Action)

	v.SetDefault("ledger.path", defaults.Ledger.Path)
	v.SetDefault("template.default", defaults.Template.Default)
	v.SetDefault("logging.level", defaults.Logging.Level)
}

// NewViper returns a viper instance with defaults, environment overrides
// and the config file read in. An explicit cfgFile must exist; otherwise
// .cigraph.yaml is searched in the working directory and ConfigDir, and
// its absence is not an error.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the user-level config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cigraph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cigraph"
	}
	return filepath.Join(home, ".config", "cigraph")
}

// PublishSpec converts the publish settings into a builder PublishSpec.
func (c *Config) PublishSpec() (pipeline.PublishSpec, error) {
	strategy, err := pipeline.ParseStrategy(c.Publish.Strategy)
	if err != nil {
		return pipeline.PublishSpec{}, err
	}
	spec := pipeline.DefaultPublishSpec()
	spec.Strategy = strategy
	spec.RunnerLabels = c.Publish.RunnerLabels
	spec.ReusableWorkflow = c.Publish.ReusableWorkflow
	spec.Tool = c.Publish.Tool
	spec.ArtifactName = c.Publish.ArtifactName
	spec.ArtifactPath = c.Publish.ArtifactPath
	spec.SecretKey = c.Secrets.Key
	return spec, nil
}

// TerminalSpec converts the status settings into a builder TerminalSpec.
func (c *Config) TerminalSpec() pipeline.TerminalSpec {
	spec := pipeline.DefaultTerminal()
	spec.ID = c.Status.JobID
	spec.Label = c.Status.Label
	step := spec.Steps[0].Clone()
	step.Uses = c.Status.Action
	spec.Steps = []ir.Step{step}
	return spec
}

// Options returns the expansion options for this configuration.
func (c *Config) Options(logger *slog.Logger) (template.Options, error) {
	publish, err := c.PublishSpec()
	if err != nil {
		return template.Options{}, err
	}
	opts := template.DefaultOptions()
	opts.Publish = publish
	opts.Terminal = c.TerminalSpec()
	if logger != nil {
		opts.Logger = logger
	}
	return opts, nil
}

// LogLevel parses the configured log level. Unknown levels mean warn;
// Validate rejects them before this is reached.
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelWarn
	}
	return level
}
