package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mengxiangmengyuan/fabrik/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Limit      int
	Definition string
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent sync runs",
		Long: `Show the run history recorded in the local database, newest first.

Example:
  fabsync runs --db ./fabsync.db --limit 5
  fabsync runs --definition events --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to show (0 = all)")
	cmd.Flags().StringVar(&opts.Definition, "definition", "", "only show runs of this definition")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Limit < 0 {
		msg := fmt.Sprintf("invalid limit %d", opts.Limit)
		_ = formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	cfg, err := opts.settings()
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreOpen, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), store.RunQuery{Definition: opts.Definition, Limit: opts.Limit})
	if err != nil {
		_ = formatter.Error(ErrCodeSyncStore, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to list runs", err)
	}

	if formatter.Format == "json" {
		if runs == nil {
			runs = []store.Run{}
		}
		return formatter.Success(map[string][]store.Run{"runs": runs})
	}

	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(formatter.Writer, "%s  %s  %-8s %s  fetched=%d added=%d updated=%d skipped=%d failed=%d\n",
			r.StartedAt.UTC().Format(time.RFC3339), r.ID, r.Status, r.Definition, r.Fetched,
			r.Counts.Added, r.Counts.Updated, r.Counts.Skipped, r.Counts.Failed)
		if r.Error != "" {
			fmt.Fprintf(formatter.Writer, "  error: %s\n", r.Error)
		}
	}
	return nil
}
