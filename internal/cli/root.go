// Package cli assembles the cobra command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fauna/fauna-cli/internal/appctx"
	"github.com/fauna/fauna-cli/internal/commands"
	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/output"
	"github.com/fauna/fauna-cli/internal/version"
)

// NewRootCmd builds the root command and its global flags.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	root := &cobra.Command{
		Use:           "fauna",
		Short:         "A CLI for managing Fauna credentials and databases",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.FlagOverrides{
				Profile:    flags.Profile,
				AccountKey: flags.AccountKey,
				Secret:     flags.Secret,
				Database:   flags.Database,
				Role:       flags.Role,
				AccountURL: flags.AccountURL,
				Local:      flags.Local,
			})
			if err != nil {
				return err
			}

			app, err := appctx.NewApp(cfg, flags)
			if err != nil {
				return err
			}
			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.Profile, "profile", "p", "", "Profile to use from the config file")
	pf.StringVar(&flags.AccountKey, "account-key", "", "Account key for control-plane operations")
	pf.StringVar(&flags.Secret, "secret", "", "Database secret for data-plane operations")
	pf.StringVarP(&flags.Database, "database", "d", "", "Database path")
	pf.StringVarP(&flags.Role, "role", "r", "", "Role scoping the database secret")
	pf.StringVar(&flags.AccountURL, "account-url", "", "Base URL of the account API")
	pf.BoolVar(&flags.Local, "local", false, "Target a local Fauna container")
	pf.BoolVar(&flags.JSON, "json", false, "Render output as JSON")
	pf.BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		commands.NewLoginCmd(),
		commands.NewLogoutCmd(),
		commands.NewKeyCmd(),
		commands.NewDatabaseCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		e := output.AsError(err)
		if e.Hint != "" {
			fmt.Fprintf(os.Stderr, "Error: %s\n%s\n", e.Message, e.Hint)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e.Message)
		}
		return e.ExitCode()
	}
	return 0
}
