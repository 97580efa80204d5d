package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgivc/recfetch/internal/app"
	"github.com/jgivc/recfetch/internal/output"
)

func NewDownloadCmd(deps *Dependencies) *cobra.Command {
	var (
		dr      dateRange
		selects []string
		force   bool
		noIndex bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download recordings in a date range",
		Long:  "Download every recording file in the range, or only the meetings and files named with --select.",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := dr.parse(now())
			if err != nil {
				return err
			}

			formatter := output.NewFormatter(cmd.OutOrStdout(), nil)

			sum, err := deps.App.Download(cmd.Context(), app.DownloadRequest{
				From:    from,
				To:      to,
				Select:  selects,
				Force:   force,
				NoIndex: noIndex,
			}, formatter)
			if err != nil {
				return err
			}

			formatter.PrintSummary(sum)

			if !sum.OK() {
				return fmt.Errorf("%d downloads failed, %d cancelled", sum.Failed, sum.Cancelled)
			}

			return nil
		},
	}

	dr.bind(cmd)
	cmd.Flags().StringSliceVarP(&selects, "select", "s", nil, "meeting uuid or uuid-fileid to download (repeatable)")
	cmd.Flags().BoolVar(&force, "force", false, "download files that were already downloaded")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "do not write index pages")

	return cmd
}
