package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fauna/fauna-cli/internal/appctx"
)

// NewLogoutCmd builds the logout command.
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored credential for the active profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := appctx.FromContext(cmd.Context())
			if err := app.Creds.Logout(); err != nil {
				return err
			}
			return app.Output.OK(fmt.Sprintf("Logged out of profile %q.", app.Config.Profile))
		},
	}
}
