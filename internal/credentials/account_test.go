package credentials

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fauna/fauna-cli/internal/api"
	"github.com/fauna/fauna-cli/internal/config"
	"github.com/fauna/fauna-cli/internal/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, serverURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Profile = "test"
	cfg.AccountURL = serverURL
	return cfg
}

// fakeAccountServer answers session refreshes. Each refresh rotates both
// the account key and the refresh token.
func fakeAccountServer(t *testing.T, refreshes *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/session/refresh":
			if r.Header.Get("Authorization") != "Bearer rt_valid" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"code": "invalid_token", "reason": "refresh token rejected"})
				return
			}
			*refreshes++
			_ = json.NewEncoder(w).Encode(map[string]string{
				"account_key":   "fn_refreshed",
				"refresh_token": "rt_next",
			})
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestAccountKeyPrecedenceUserOverStored(t *testing.T) {
	dir := t.TempDir()
	store := NewAccountKeyStore(dir)
	require.NoError(t, store.ForProfile("test").Save(AccountCredential{AccountKey: "fn_stored"}))

	cfg := testConfig(t, "http://unused")
	cfg.AccountKey = "fn_flag"

	m, err := NewAccountKeyManager(cfg, store, api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "fn_flag", m.Key())
	assert.Equal(t, SourceUser, m.Source())
}

func TestAccountKeyStoredWhenNoUserInput(t *testing.T) {
	dir := t.TempDir()
	store := NewAccountKeyStore(dir)
	require.NoError(t, store.ForProfile("test").Save(AccountCredential{AccountKey: "fn_stored"}))

	cfg := testConfig(t, "http://unused")

	m, err := NewAccountKeyManager(cfg, store, api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "fn_stored", m.Key())
	assert.Equal(t, SourceStored, m.Source())
}

func TestAccountKeyMissingStoredIsAllowed(t *testing.T) {
	cfg := testConfig(t, "http://unused")

	m, err := NewAccountKeyManager(cfg, NewAccountKeyStore(t.TempDir()), api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)
	assert.Equal(t, "", m.Key())
	assert.Equal(t, SourceStored, m.Source())
}

func TestAccountKeyGetOrRefreshUsesStoredValue(t *testing.T) {
	dir := t.TempDir()
	store := NewAccountKeyStore(dir)
	require.NoError(t, store.ForProfile("test").Save(AccountCredential{AccountKey: "fn_stored"}))

	cfg := testConfig(t, "http://unused")
	m, err := NewAccountKeyManager(cfg, store, api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)

	key, err := m.GetOrRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fn_stored", key)
}

func TestAccountKeyRefreshRotatesAndNotifies(t *testing.T) {
	var refreshes int
	server := fakeAccountServer(t, &refreshes)
	defer server.Close()

	dir := t.TempDir()
	store := NewAccountKeyStore(dir)
	require.NoError(t, store.ForProfile("test").Save(AccountCredential{
		AccountKey:   "fn_old",
		RefreshToken: "rt_valid",
	}))

	cfg := testConfig(t, server.URL)
	m, err := NewAccountKeyManager(cfg, store, api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)

	var rotatedTo string
	m.onRotate = func(newKey string) { rotatedTo = newKey }

	require.NoError(t, m.Refresh(context.Background()))
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, "fn_refreshed", m.Key())
	assert.Equal(t, "fn_refreshed", rotatedTo)

	cred, err := store.ForProfile("test").Get()
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "fn_refreshed", cred.AccountKey)
	assert.Equal(t, "rt_next", cred.RefreshToken)
}

func TestAccountKeyRefreshWithoutTokenPromptsLogin(t *testing.T) {
	dir := t.TempDir()
	store := NewAccountKeyStore(dir)
	require.NoError(t, store.ForProfile("test").Save(AccountCredential{AccountKey: "fn_old"}))

	cfg := testConfig(t, "http://unused")
	m, err := NewAccountKeyManager(cfg, store, api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)

	err = m.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsAuth(err))
	assert.Contains(t, err.Error(), `profile "test"`)
}

func TestAccountKeyRejectedRefreshTokenPromptsLogin(t *testing.T) {
	var refreshes int
	server := fakeAccountServer(t, &refreshes)
	defer server.Close()

	dir := t.TempDir()
	store := NewAccountKeyStore(dir)
	require.NoError(t, store.ForProfile("test").Save(AccountCredential{
		AccountKey:   "fn_old",
		RefreshToken: "rt_revoked",
	}))

	cfg := testConfig(t, server.URL)
	m, err := NewAccountKeyManager(cfg, store, api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)

	err = m.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, output.IsAuth(err))
	assert.Contains(t, err.Error(), "not signed in or has expired")
	assert.Equal(t, 0, refreshes)
}

func TestAccountKeyOnInvalidCredsUserFailsImmediately(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.AccountKey = "fn_flag"

	m, err := NewAccountKeyManager(cfg, NewAccountKeyStore(t.TempDir()), api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)

	err = m.OnInvalidCreds(context.Background(), output.ErrAuth("rejected"))
	require.Error(t, err)
	e := output.AsError(err)
	assert.Equal(t, output.CodeUsage, e.Code)
	assert.Contains(t, err.Error(), "user")
}

func TestAccountKeyOnInvalidCredsStoredRefreshes(t *testing.T) {
	var refreshes int
	server := fakeAccountServer(t, &refreshes)
	defer server.Close()

	dir := t.TempDir()
	store := NewAccountKeyStore(dir)
	require.NoError(t, store.ForProfile("test").Save(AccountCredential{
		AccountKey:   "fn_old",
		RefreshToken: "rt_valid",
	}))

	cfg := testConfig(t, server.URL)
	m, err := NewAccountKeyManager(cfg, store, api.NewClient(cfg.AccountURL), testLogger())
	require.NoError(t, err)

	require.NoError(t, m.OnInvalidCreds(context.Background(), output.ErrAuth("rejected")))
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, "fn_refreshed", m.Key())
}
