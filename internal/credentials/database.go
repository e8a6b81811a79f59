package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/output"
)

// DefaultTTL is how long a minted database secret stays valid.
const DefaultTTL = 15 * time.Minute

// mintedKeyName is the name attached to keys this tool creates.
const mintedKeyName = "generated"

// DatabaseKeyManager resolves, caches, and mints the database secret for
// one (database path, role) pair. Stored secrets live under the namespace
// of the account key that minted them and carry a TTL; an expired secret
// is treated as absent and re-minted before use, never retried reactively.
type DatabaseKeyManager struct {
	path    string
	role    string
	ttl     time.Duration
	store   *SecretKeyStore
	client  *api.Client
	account *AccountKeyManager
	logger  *slog.Logger

	key    string
	source Source

	now func() time.Time
}

// NewDatabaseKeyManager builds the manager for cfg's database and role,
// scoped to the account manager's current key.
func NewDatabaseKeyManager(cfg *config.Config, account *AccountKeyManager, store *SecretKeyStore, client *api.Client, logger *slog.Logger) (*DatabaseKeyManager, error) {
	role := cfg.Role
	if role == "" {
		role = config.DefaultRole
	}

	m := &DatabaseKeyManager{
		path:    cfg.Database,
		role:    role,
		ttl:     DefaultTTL,
		store:   store,
		client:  client,
		account: account,
		logger:  logger,
		now:     time.Now,
	}

	var storedKey string
	if secret, err := store.Get(m.KeyName()); err != nil {
		return nil, err
	} else if secret != nil {
		storedKey = secret.Secret
	}

	key, source := resolveKey(cfg.Secret, storedKey)
	m.key = key
	m.source = source

	if m.source != SourceStored {
		// A provided secret carries a role assignment already.
		m.role = ""
	}
	if key == "" && source != SourceStored {
		return nil, output.ErrUsage(fmt.Sprintf("The database secret provided by %s is invalid. Please provide an updated secret.", source))
	}

	return m, nil
}

// KeyName is the store key for the (path, role) pair.
func (m *DatabaseKeyManager) KeyName() string {
	return m.path + ":" + m.role
}

// Key returns the currently active database secret.
func (m *DatabaseKeyManager) Key() string {
	return m.key
}

// Source returns where the active secret came from.
func (m *DatabaseKeyManager) Source() Source {
	return m.source
}

// Cached returns the stored secret for the (path, role) pair without
// minting, or nil when none is stored.
func (m *DatabaseKeyManager) Cached() (*DatabaseSecret, error) {
	return m.store.Get(m.KeyName())
}

// UpdateAccountKeyNamespace re-points the secret store at a new account
// key after a refresh. The cached secret value is untouched until it is
// next read.
func (m *DatabaseKeyManager) UpdateAccountKeyNamespace(accountKey string) {
	m.store.UpdateAccountKey(accountKey)
}

// GetOrRefresh returns a usable database secret. A stored secret whose
// TTL has lapsed is treated as absent and a fresh one is minted.
func (m *DatabaseKeyManager) GetOrRefresh(ctx context.Context) (string, error) {
	if m.source == SourceStored {
		secret, err := m.store.Get(m.KeyName())
		if err != nil {
			return "", err
		}
		if secret == nil || secret.Expired(m.now()) {
			m.logger.Debug("found db key, but it is expired. Refreshing...", "component", "creds")
			if err := m.Mint(ctx); err != nil {
				return "", err
			}
		} else {
			m.key = secret.Secret
		}
	}
	return m.key, nil
}

// Mint creates a new database secret via the account API and persists it
// under the current account-key namespace, overwriting any previous
// secret for the same (path, role).
func (m *DatabaseKeyManager) Mint(ctx context.Context) error {
	m.logger.Debug("creating new db key", "component", "creds", "key", m.KeyName())

	path, role, _ := strings.Cut(m.KeyName(), ":")
	expiration := m.now().Add(m.ttl)

	accountKey, err := m.account.GetOrRefresh(ctx)
	if err != nil {
		return err
	}

	// Account-authenticated call: one refresh-and-retry on a 401.
	key, err := RetryUnauthorizedOnce(ctx, m.account, accountKey,
		func(ctx context.Context, bearer string) (*api.Key, error) {
			return m.client.CreateKey(ctx, bearer, path, role, expiration, mintedKeyName)
		})
	if err != nil {
		return err
	}

	if err := m.store.Save(m.KeyName(), DatabaseSecret{
		Secret:    key.Secret,
		ExpiresAt: expiration.UnixMilli(),
	}); err != nil {
		return err
	}
	m.key = key.Secret
	return nil
}

// OnInvalidCreds handles a rejected database secret. A user-provided
// secret cannot be re-minted, so the original rejection propagates
// unchanged; a stored one is replaced by a fresh mint.
func (m *DatabaseKeyManager) OnInvalidCreds(ctx context.Context, cause error) error {
	if m.source != SourceStored {
		return cause
	}
	return m.Mint(ctx)
}
