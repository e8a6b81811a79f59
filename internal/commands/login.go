// Package commands implements the CLI subcommands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fauna/fauna-cli/internal/appctx"
	"github.com/fauna/fauna-cli/internal/auth"
)

// NewLoginCmd builds the login command.
func NewLoginCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to Fauna using your browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := appctx.FromContext(cmd.Context())

			flow := auth.NewFlow(app.Config, app.Account)
			token, err := flow.Run(cmd.Context(), auth.LoginOptions{
				NoBrowser: noBrowser,
				Log: func(msg string) {
					fmt.Fprintln(os.Stderr, msg)
				},
			})
			if err != nil {
				return err
			}

			if err := app.Creds.Login(cmd.Context(), token); err != nil {
				return err
			}
			return app.Output.OK(fmt.Sprintf("Logged in as profile %q.", app.Config.Profile))
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")
	return cmd
}
