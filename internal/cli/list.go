package cli

import (
	"github.com/spf13/cobra"

	"github.com/jgivc/recfetch/internal/output"
)

func NewListCmd(deps *Dependencies) *cobra.Command {
	var dr dateRange

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings in a date range",
		Long:  "List recordings with their files. Files marked with * are already downloaded; the printed ids can be passed to download --select.",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := dr.parse(now())
			if err != nil {
				return err
			}

			meetings, err := deps.App.List(cmd.Context(), from, to)
			if err != nil {
				return err
			}

			formatter := output.NewFormatter(cmd.OutOrStdout(), nil)
			formatter.PrintCatalog(meetings, deps.App.Downloaded(cmd.Context(), meetings))

			return nil
		},
	}

	dr.bind(cmd)

	return cmd
}
