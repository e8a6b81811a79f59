package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/output"
)

// localSecret is the fixed secret local container images accept.
const localSecret = "secret"

// Credentials composes the account and database key managers for one
// invocation and owns the cross-cutting pieces: input validation, orphan
// cleanup, and login.
type Credentials struct {
	AccountKeys  *AccountKeyManager
	DatabaseKeys *DatabaseKeyManager

	accountStore *AccountKeyStore
	client       *api.Client
	logger       *slog.Logger
}

// New validates cfg's credential inputs, builds both managers, and
// garbage-collects secret namespaces no longer reachable from any known
// account key.
func New(cfg *config.Config, client *api.Client, logger *slog.Logger) (*Credentials, error) {
	if err := validateCredentialArgs(cfg); err != nil {
		return nil, err
	}

	if cfg.Local && cfg.Secret == "" {
		// Local containers accept a fixed secret; no minting happens.
		cfg.Secret = localSecret
	}

	dir := config.CredentialsDir()
	accountStore := NewAccountKeyStore(dir)

	accountKeys, err := NewAccountKeyManager(cfg, accountStore, client, logger)
	if err != nil {
		return nil, err
	}

	secretStore := NewSecretKeyStore(dir, accountKeys.Key())
	databaseKeys, err := NewDatabaseKeyManager(cfg, accountKeys, secretStore, client, logger)
	if err != nil {
		return nil, err
	}
	accountKeys.onRotate = databaseKeys.UpdateAccountKeyNamespace

	c := &Credentials{
		AccountKeys:  accountKeys,
		DatabaseKeys: databaseKeys,
		accountStore: accountStore,
		client:       client,
		logger:       logger,
	}

	if err := c.CleanupOrphans(); err != nil {
		// Cleanup failure must not block the command.
		logger.Debug("failed to clean up orphaned database secrets", "component", "creds", "error", err)
	}
	return c, nil
}

// validateCredentialArgs rejects illegal input combinations before any
// credential resolution or network call. Local mode permits them all,
// since it bypasses account-key-based minting entirely.
func validateCredentialArgs(cfg *config.Config) error {
	if cfg.Local {
		return nil
	}

	// Role carries a default, so only an explicitly provided role counts.
	explicitRole := ""
	if cfg.Sources["role"] != "" {
		explicitRole = cfg.Role
	}

	illegalCombos := [][2]string{
		{"account-key", "secret"},
		{"secret", "database"},
		{"secret", "role"},
	}
	values := map[string]string{
		"account-key": cfg.AccountKey,
		"secret":      cfg.Secret,
		"database":    cfg.Database,
		"role":        explicitRole,
	}
	for _, combo := range illegalCombos {
		if values[combo[0]] != "" && values[combo[1]] != "" {
			return output.ErrUsage(fmt.Sprintf("Cannot use both the '--%s' and '--%s' options together. Please specify only one.", combo[0], combo[1]))
		}
	}
	return nil
}

// CleanupOrphans walks the database-secret store and deletes every
// namespace whose account key no longer appears in the account store.
// Secrets filed under a rotated account key must never stay reachable.
func (c *Credentials) CleanupOrphans() error {
	accountKeys, err := c.accountStore.AccountKeys()
	if err != nil {
		return err
	}
	namespaces, err := c.DatabaseKeys.store.Namespaces()
	if err != nil {
		return err
	}

	for _, ns := range namespaces {
		if !slices.Contains(accountKeys, ns) {
			c.logger.Debug("deleting orphaned database secrets", "component", "creds")
			if err := c.DatabaseKeys.store.DeleteNamespace(ns); err != nil {
				return err
			}
		}
	}
	return nil
}

// Login exchanges an OAuth access token for a control-plane session and
// installs it as the profile's account credential.
func (c *Credentials) Login(ctx context.Context, accessToken string) error {
	session, err := c.client.GetSession(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := c.AccountKeys.store.Save(AccountCredential{
		AccountKey:   session.AccountKey,
		RefreshToken: session.RefreshToken,
	}); err != nil {
		return err
	}
	c.AccountKeys.key = session.AccountKey
	c.AccountKeys.source = SourceStored
	c.DatabaseKeys.UpdateAccountKeyNamespace(session.AccountKey)
	return nil
}

// Logout removes the profile's stored account credential.
func (c *Credentials) Logout() error {
	return c.AccountKeys.store.Delete()
}
