package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const expiryLayout = time.RFC1123

func NewLoginCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize recfetch with the provider",
		Long:  "Print the authorization URL and wait for the browser redirect on the configured callback address.",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := deps.App.Login(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in. Token valid until %s.\n", tok.ExpiresAt.Local().Format(expiryLayout))

			return nil
		},
	}
}

func NewLogoutCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps.App.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")

			return nil
		},
	}
}

func NewRefreshCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token now",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := deps.App.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Token refreshed, valid until %s.\n", tok.ExpiresAt.Local().Format(expiryLayout))

			return nil
		},
	}
}
