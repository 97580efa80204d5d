package cli

import (
	"github.com/spf13/cobra"

	"github.com/jgivc/recfetch/internal/app"
	"github.com/jgivc/recfetch/internal/config"
)

var Version = "dev"

type Dependencies struct {
	App    *app.App
	Config *config.Config
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "recfetch",
		Short:         "Download cloud meeting recordings",
		Long:          "Authorize against the meeting provider, list recordings for a date range and download the selected files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	rootCmd.AddCommand(NewLoginCmd(deps))
	rootCmd.AddCommand(NewLogoutCmd(deps))
	rootCmd.AddCommand(NewRefreshCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewDownloadCmd(deps))
	rootCmd.AddCommand(NewStatsCmd(deps))

	return rootCmd
}
