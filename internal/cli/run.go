package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mengxiangmengyuan/fabrik/internal/compiler"
	"github.com/mengxiangmengyuan/fabrik/internal/engine"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Only             []string
	Dedupe           bool
	ContinueOnErrors bool
}

// RunSummary is the outcome of one definition in a run command.
type RunSummary struct {
	Definition string          `json:"definition"`
	RunID      string          `json:"run_id,omitempty"`
	Status     store.RunStatus `json:"status"`
	Fetched    int             `json:"fetched"`
	Counts     ir.Counts       `json:"counts"`
	Warnings   int             `json:"warnings"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
}

// RunResult is the payload of the run command.
type RunResult struct {
	Runs []RunSummary `json:"runs"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definition>...",
		Short: "Fetch, map and store records for each definition",
		Long: `Run every definition found in the given files or directories.

Each definition fetches records from its service, maps them with its rules
and reconciles them into the target table of the local SQLite database.
The table is created or extended as needed and each run is recorded in the
run history.

Example:
  fabsync run --db ./fabsync.db ./definitions
  fabsync run --only events ./definitions/events.cue`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Only, "only", nil, "run only the named definitions")
	cmd.Flags().BoolVar(&opts.Dedupe, "dedupe", false, "update instead of re-inserting repeated foreign keys within a batch")
	cmd.Flags().BoolVar(&opts.ContinueOnErrors, "continue-on-error", false, "keep storing records after a write fails")

	return cmd
}

func runSync(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := opts.logger(cfg, cmd.ErrOrStderr())

	defs, err := selectDefinitions(paths, opts.Only)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	formatter.VerboseLog("Loaded %d definition(s)", len(defs))

	// Open database (create if not exists)
	logger.Debug("opening database", "path", cfg.DBPath)
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreOpen, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	engOpts := append(opts.engineOptions(cfg, logger),
		engine.WithDedupeBatch(opts.Dedupe),
		engine.WithContinueOnPersistError(opts.ContinueOnErrors),
	)
	eng := engine.New(st, engOpts...)
	defer eng.Close()

	ctx, stop := signalContext(cmd.Context(), logger)
	defer stop()

	result := RunResult{}
	failed := 0
	for _, def := range defs {
		report, syncErr := eng.Sync(ctx, def)
		summary := summarize(def, report, syncErr)
		if syncErr != nil {
			failed++
		}
		result.Runs = append(result.Runs, summary)
		if ctx.Err() != nil {
			break
		}
	}

	if err := outputRunResult(formatter, result, failed); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d sync(s) failed", failed, len(result.Runs)))
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan) // Prevent signal handler leak
		cancel()
	}
}

func summarize(def ir.Definition, report *engine.Report, err error) RunSummary {
	s := RunSummary{Definition: def.Name, Status: store.RunFailed}
	if report != nil {
		s.RunID = report.RunID
		s.Status = report.Status
		s.Fetched = report.Fetched
		s.Counts = report.Counts
		s.Warnings = len(report.RuleErrors)
	}
	if err != nil {
		s.Status = store.RunFailed
		s.Error = err.Error()
		s.Code = SyncErrorToCode(err)
	}
	return s
}

// SyncErrorToCode maps an engine error to a CLI error code.
func SyncErrorToCode(err error) string {
	switch engine.ErrorCode(err) {
	case engine.ErrCodeDefinition:
		return ErrCodeSyncDefinition
	case engine.ErrCodeDriver:
		return ErrCodeSyncDriver
	case engine.ErrCodeFetch:
		return ErrCodeSyncFetch
	case engine.ErrCodeStore:
		return ErrCodeSyncStore
	case engine.ErrCodeCancelled:
		return ErrCodeSyncCancelled
	default:
		return ErrCodeGeneric
	}
}

func outputRunResult(formatter *OutputFormatter, result RunResult, failed int) error {
	if formatter.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if len(result.Runs) == 1 {
			response.RunID = result.Runs[0].RunID
		}
		if failed > 0 {
			response.Status = "error"
			for _, r := range result.Runs {
				if r.Error != "" {
					response.Error = &CLIError{Code: r.Code, Message: r.Error}
					break
				}
			}
		}
		return json.NewEncoder(formatter.Writer).Encode(response)
	}

	for _, r := range result.Runs {
		fmt.Fprintf(formatter.Writer, "%s  %s  %s  fetched=%d added=%d updated=%d skipped=%d failed=%d\n",
			r.Definition, orDash(r.RunID), r.Status, r.Fetched,
			r.Counts.Added, r.Counts.Updated, r.Counts.Skipped, r.Counts.Failed)
		if r.Warnings > 0 {
			fmt.Fprintf(formatter.Writer, "  %d rule warning(s)\n", r.Warnings)
		}
		if r.Error != "" {
			fmt.Fprintf(formatter.Writer, "  Error [%s]: %s\n", r.Code, r.Error)
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// selectDefinitions loads definitions and keeps those named in only.
func selectDefinitions(paths, only []string) ([]ir.Definition, error) {
	loaded, loadErrors := LoadDefinitions(paths, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	if len(only) == 0 {
		return loaded.Definitions, nil
	}

	defs := make([]ir.Definition, 0, len(only))
	for _, name := range only {
		def, ok := loaded.Lookup(name)
		if !ok {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definition %q not found", name)}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// reportLoadError prints a load or validation failure and returns the
// matching exit error.
func reportLoadError(formatter *OutputFormatter, err error) error {
	code := ErrCodeGeneric
	message := err.Error()
	switch e := err.(type) {
	case *LoadError:
		code = e.Code
	case compiler.ValidationError:
		code = e.Code
	}
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, "failed to load definitions", err)
}
