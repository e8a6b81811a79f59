package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/appctx"
	"github.com/fauna/fauna-cli/internal/credentials"
)

// NewDatabaseCmd builds the database command group.
func NewDatabaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "database",
		Aliases: []string{"db"},
		Short:   "Manage databases",
	}
	cmd.AddCommand(newDatabaseListCmd())
	return cmd
}

func newDatabaseListCmd() *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List databases visible to the active account key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := appctx.FromContext(cmd.Context())

			accountKey, err := app.Creds.AccountKeys.GetOrRefresh(cmd.Context())
			if err != nil {
				return err
			}

			// Account-authenticated call: one refresh-and-retry on a 401.
			databases, err := credentials.RetryUnauthorizedOnce(cmd.Context(), app.Creds.AccountKeys, accountKey,
				func(ctx context.Context, bearer string) ([]api.Database, error) {
					return app.Account.ListDatabases(ctx, bearer, app.Config.Database, pageSize)
				})
			if err != nil {
				return err
			}

			if app.Flags.JSON {
				return app.Output.OK(databases)
			}

			var b strings.Builder
			for _, db := range databases {
				if db.Region != "" {
					fmt.Fprintf(&b, "%s [%s]\n", db.Path, db.Region)
				} else {
					fmt.Fprintf(&b, "%s\n", db.Path)
				}
			}
			return app.Output.OK(strings.TrimRight(b.String(), "\n"))
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", 1000, "Maximum number of databases to return")
	return cmd
}
