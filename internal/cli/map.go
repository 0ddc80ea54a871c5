package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mengxiangmengyuan/fabrik/internal/engine"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// MapOptions holds flags for the map command.
type MapOptions struct {
	*RootOptions
	Name  string
	Limit int
}

// MapResult is the payload of the map command.
type MapResult struct {
	Definition string            `json:"definition"`
	Fetched    int               `json:"fetched"`
	Records    []ir.MappedRecord `json:"records"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// NewMapCommand creates the map command.
func NewMapCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MapOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "map <definition>",
		Short: "Fetch and map records without storing them",
		Long: `Fetch records for one definition and print the mapped records.

Nothing is written to the local database. Use it to check mapping rules
against live data before running a sync.

Example:
  fabsync map ./definitions/events.cue
  fabsync map --name concerts --limit 5 ./definitions`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMap(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "definition to map when the path holds several")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "print at most N records (0 = all)")

	return cmd
}

func runMap(opts *MapOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := opts.logger(cfg, cmd.ErrOrStderr())

	var only []string
	if opts.Name != "" {
		only = []string{opts.Name}
	}
	defs, err := selectDefinitions([]string{path}, only)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	if len(defs) != 1 {
		msg := fmt.Sprintf("%s holds %d definitions, choose one with --name", path, len(defs))
		_ = formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	eng := engine.New(nil, opts.engineOptions(cfg, logger)...)
	defer eng.Close()

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	preview, err := eng.Preview(ctx, defs[0])
	if err != nil {
		code := SyncErrorToCode(err)
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitFailure, "map failed", err)
	}

	result := MapResult{
		Definition: preview.Definition,
		Fetched:    preview.Fetched,
		Records:    preview.Records,
	}
	if opts.Limit > 0 && len(result.Records) > opts.Limit {
		result.Records = result.Records[:opts.Limit]
	}
	for _, e := range preview.RuleErrors {
		result.Warnings = append(result.Warnings, e.Error())
	}
	if result.Records == nil {
		result.Records = []ir.MappedRecord{}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if err := formatter.Records(result.Records); err != nil {
		return WrapExitError(ExitFailure, "encode record", err)
	}
	for _, w := range result.Warnings {
		formatter.Warn("%s", w)
	}
	formatter.VerboseLog("Mapped %d of %d fetched record(s)", len(result.Records), result.Fetched)
	return nil
}
