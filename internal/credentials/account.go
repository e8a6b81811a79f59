package credentials

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/output"
)

// Source identifies where a credential value came from.
type Source string

const (
	// SourceUser covers values supplied by the user: flag, environment
	// variable, or profile config.
	SourceUser Source = "user"

	// SourceStored covers values read from the local credentials file.
	SourceStored Source = "credentials-file"
)

// AccountKeyManager resolves, caches, and refreshes the account key for
// the active profile. A user-provided key is never refreshed: when it is
// rejected there is nothing this layer can do but ask for a new one.
type AccountKeyManager struct {
	profile string
	store   *AccountKeyStore
	client  *api.Client
	logger  *slog.Logger

	key    string
	source Source

	// onRotate is invoked with the new account key after a refresh so the
	// database-secret store namespace stays correct.
	onRotate func(newKey string)
}

// NewAccountKeyManager builds the manager for cfg's profile, resolving
// the active key per source precedence.
func NewAccountKeyManager(cfg *config.Config, store *AccountKeyStore, client *api.Client, logger *slog.Logger) (*AccountKeyManager, error) {
	scoped := store.ForProfile(cfg.Profile)

	var storedKey string
	if cred, err := scoped.Get(); err != nil {
		return nil, err
	} else if cred != nil {
		storedKey = cred.AccountKey
	}

	key, source := resolveKey(cfg.AccountKey, storedKey)
	if key == "" && source != SourceStored {
		return nil, output.ErrUsage(fmt.Sprintf("The account key provided by %s is invalid. Please provide an updated value.", source))
	}

	return &AccountKeyManager{
		profile: cfg.Profile,
		store:   scoped,
		client:  client,
		logger:  logger,
		key:     key,
		source:  source,
	}, nil
}

// resolveKey picks the credential value by precedence: explicit user
// input always wins over the stored value. A missing stored value is
// allowed; it triggers a refresh later instead of failing here.
func resolveKey(explicit, stored string) (string, Source) {
	if explicit != "" {
		return explicit, SourceUser
	}
	return stored, SourceStored
}

// Key returns the currently active account key.
func (m *AccountKeyManager) Key() string {
	return m.key
}

// Source returns where the active key came from.
func (m *AccountKeyManager) Source() Source {
	return m.source
}

// GetOrRefresh returns a valid account key. For a stored key, a missing
// value triggers a refresh first.
func (m *AccountKeyManager) GetOrRefresh(ctx context.Context) (string, error) {
	if m.source == SourceStored {
		cred, err := m.store.Get()
		if err != nil {
			return "", err
		}
		if cred == nil || cred.AccountKey == "" {
			m.logger.Debug("no stored account key, refreshing", "component", "creds")
			if err := m.Refresh(ctx); err != nil {
				return "", err
			}
		} else {
			m.key = cred.AccountKey
		}
	}
	return m.key, nil
}

// Refresh exchanges the stored refresh token for a new session, persists
// it, and re-points the database-secret namespace at the new key. Without
// a refresh token, or when the exchange itself is rejected, the only
// recovery is a fresh login.
func (m *AccountKeyManager) Refresh(ctx context.Context) error {
	cred, err := m.store.Get()
	if err != nil {
		return err
	}
	if cred == nil || cred.RefreshToken == "" {
		return m.promptLogin()
	}

	session, err := m.client.RefreshSession(ctx, cred.RefreshToken)
	if err != nil {
		if output.IsAuth(err) {
			return m.promptLogin()
		}
		return err
	}

	if err := m.store.Save(AccountCredential{
		AccountKey:   session.AccountKey,
		RefreshToken: session.RefreshToken,
	}); err != nil {
		return err
	}
	m.key = session.AccountKey
	if m.onRotate != nil {
		m.onRotate(session.AccountKey)
	}
	return nil
}

// OnInvalidCreds handles a rejected account key. A user-provided key
// fails immediately; a stored one is refreshed.
func (m *AccountKeyManager) OnInvalidCreds(ctx context.Context, _ error) error {
	if m.source != SourceStored {
		return output.ErrUsage(fmt.Sprintf("Account key provided by %s is invalid. Please provide an updated account key.", m.source))
	}
	return m.Refresh(ctx)
}

// promptLogin is the terminal authentication failure: the profile cannot
// be refreshed and the user must sign in again.
func (m *AccountKeyManager) promptLogin() error {
	return output.ErrAuth(fmt.Sprintf("The requested profile %q is not signed in or has expired.\nPlease re-authenticate", m.profile))
}
