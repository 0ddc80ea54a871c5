package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDriversCommand creates the drivers command.
func NewDriversCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "drivers",
		Short:         "List registered service drivers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			names := rootOpts.registry().Names()
			if formatter.Format == "json" {
				return formatter.Success(map[string][]string{"drivers": names})
			}
			for _, name := range names {
				fmt.Fprintln(formatter.Writer, name)
			}
			return nil
		},
	}
}
