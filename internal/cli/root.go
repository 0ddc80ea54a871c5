package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mengxiangmengyuan/fabrik/internal/config"
	"github.com/mengxiangmengyuan/fabrik/internal/driver"
	"github.com/mengxiangmengyuan/fabrik/internal/engine"
	"github.com/mengxiangmengyuan/fabrik/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	LogLevel string
	DB       string

	// Registry overrides the default driver registry (for testing).
	Registry *driver.Registry

	// RunIDs overrides the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	// Clock overrides the engine clock (for testing).
	Clock engine.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fabsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fabsync",
		Short: "fabsync - pull web service records into local tables",
		Long: `Fetch records from external services, map them with declarative rules
and reconcile them into local tables by foreign key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !logging.ValidLevel(opts.LogLevel) {
				return fmt.Errorf("invalid log level %q", opts.LogLevel)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error), overrides "+config.EnvLogLevel)
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database, overrides "+config.EnvDB)

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewMapCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDriversCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// settings loads process configuration from the environment and applies
// flag overrides.
func (o *RootOptions) settings() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.DB != "" {
		cfg.DBPath = o.DB
	}
	switch {
	case o.LogLevel != "":
		cfg.LogLevel = o.LogLevel
	case o.Verbose:
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logger builds the command logger. Logs always go to w (stderr) so JSON
// output on stdout stays parseable.
func (o *RootOptions) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.NewLogger(cfg.LogFormat, cfg.LogLevel, w)
}

func (o *RootOptions) registry() *driver.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return driver.DefaultRegistry()
}

// engineOptions returns the options shared by every command that builds an
// engine.
func (o *RootOptions) engineOptions(cfg *config.Config, logger *slog.Logger) []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithCache(driver.NewCache(o.registry(), driver.WithLogger(logger))),
		engine.WithMaxSteps(cfg.ExprMaxSteps),
		engine.WithMapWorkers(cfg.MapWorkers),
	}
	if o.RunIDs != nil {
		opts = append(opts, engine.WithRunIDGenerator(o.RunIDs))
	}
	if o.Clock != nil {
		opts = append(opts, engine.WithClock(o.Clock))
	}
	return opts
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}
