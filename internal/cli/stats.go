package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgivc/recfetch/internal/output"
)

func NewStatsCmd(deps *Dependencies) *cobra.Command {
	var files bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show totals of downloaded files (requires redis_url)",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(cmd.OutOrStdout(), nil)

			stats, err := deps.App.Stats(cmd.Context())
			if err != nil {
				return err
			}
			formatter.PrintStats(stats)

			if !files {
				return nil
			}

			entries, err := deps.App.Ledger(cmd.Context())
			if err != nil {
				return err
			}

			for e, err := range entries {
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.TaskID, e.Path)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&files, "files", false, "also list every recorded download")

	return cmd
}
