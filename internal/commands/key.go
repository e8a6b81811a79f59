package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/fauna/fauna-cli/internal/appctx"
	"github.com/fauna/fauna-cli/internal/credentials"
)

// NewKeyCmd builds the key command group.
func NewKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage database secrets",
	}
	cmd.AddCommand(newKeyCreateCmd(), newKeyStatusCmd())
	return cmd
}

// newKeyCreateCmd returns a command that resolves (or mints) the database
// secret for the active (database, role) pair and prints it. A cached
// secret within its TTL is reused; an expired or missing one is minted
// fresh through the account API.
func newKeyCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create or reuse a scoped database secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := appctx.FromContext(cmd.Context())

			secret, err := app.Creds.DatabaseKeys.GetOrRefresh(cmd.Context())
			if err != nil {
				return err
			}

			if app.Flags.JSON {
				return app.Output.OK(map[string]string{"secret": secret})
			}
			return app.Output.OK(secret)
		},
	}
}

// newKeyStatusCmd reports where the active database secret would come from
// without minting anything.
func newKeyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached database secret for the active database and role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := appctx.FromContext(cmd.Context())
			dbm := app.Creds.DatabaseKeys

			status := map[string]any{
				"source": string(dbm.Source()),
				"key":    dbm.KeyName(),
			}
			if dbm.Source() == credentials.SourceStored {
				cached, err := dbm.Cached()
				if err != nil {
					return err
				}
				status["cached"] = cached != nil
				if cached != nil {
					status["expired"] = cached.Expired(time.Now())
					status["expiresAt"] = time.UnixMilli(cached.ExpiresAt).UTC().Format(time.RFC3339)
				}
			}
			return app.Output.OK(status)
		},
	}
}
