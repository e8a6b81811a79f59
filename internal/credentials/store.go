// Package credentials manages account keys and database secrets: resolving
// them from flags, environment, or the local credential files, refreshing
// them when they expire or are rejected, and scoping database secrets to
// the account key that minted them.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

const (
	accountKeysFile = "access_keys.json"
	secretKeysFile  = "secret_keys.json"
)

// AccountCredential is the persisted account-level credential for a profile.
type AccountCredential struct {
	AccountKey   string `json:"accountKey"`
	RefreshToken string `json:"refreshToken"`
}

// DatabaseSecret is a persisted database-scoped secret.
type DatabaseSecret struct {
	Secret string `json:"secret"`
	// ExpiresAt is Unix milliseconds.
	ExpiresAt int64 `json:"expiresAt"`
}

// Expired reports whether the secret's TTL has lapsed at the given time.
func (s DatabaseSecret) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// lockTimeout is the maximum time to wait for the advisory file lock.
// If exceeded, operations proceed without locking (fail-open) so the CLI
// never hangs on a stale lock. Two concurrent invocations can then still
// interleave whole-document writes; accepted limitation for a
// single-process, single-invocation tool.
const lockTimeout = 100 * time.Millisecond

// Store is a namespaced, file-backed JSON document store. The whole
// document is read and rewritten on every mutation.
type Store struct {
	dir      string
	filename string
}

// NewStore creates a store backed by dir/filename.
func NewStore(dir, filename string) *Store {
	return &Store{dir: dir, filename: filename}
}

// NewAccountKeyStore creates the store holding account credentials keyed
// by profile name.
func NewAccountKeyStore(dir string) *AccountKeyStore {
	return &AccountKeyStore{store: NewStore(dir, accountKeysFile)}
}

// NewSecretKeyStore creates the store holding database secrets keyed by
// the owning account key.
func NewSecretKeyStore(dir, accountKey string) *SecretKeyStore {
	return &SecretKeyStore{store: NewStore(dir, secretKeysFile), accountKey: accountKey}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, s.filename)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, "."+s.filename+".lock")
}

// acquireLock obtains the advisory lock, or nil after lockTimeout
// (fail-open). The caller must release a non-nil lock.
func (s *Store) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(s.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, nil
		}
		return nil, err
	}
	if !locked {
		return nil, nil
	}
	return fl, nil
}

// GetFile returns the full namespace document. A missing file reads as an
// empty document rather than an error.
func (s *Store) GetFile() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return make(map[string]json.RawMessage), nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("credentials file at %s contains invalid formatting: %w", s.path(), err)
	}
	if doc == nil {
		doc = make(map[string]json.RawMessage)
	}
	return doc, nil
}

func (s *Store) setFile(doc map[string]json.RawMessage) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write with randomized temp file name
	tmpFile, err := os.CreateTemp(s.dir, s.filename+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// Unix: rename atomically replaces the destination.
	// Windows: rename fails when destination exists; remove and retry.
	if err := os.Rename(tmpPath, s.path()); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(s.path())
			return os.Rename(tmpPath, s.path())
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Get unmarshals the entry stored under namespace into v. It reports
// whether the namespace was present.
func (s *Store) Get(namespace string, v any) (bool, error) {
	doc, err := s.GetFile()
	if err != nil {
		return false, err
	}
	raw, ok := doc[namespace]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("invalid credentials under %q: %w", namespace, err)
	}
	return true, nil
}

// Save writes the entry under namespace, replacing any existing value.
func (s *Store) Save(namespace string, v any) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	doc, err := s.GetFile()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	doc[namespace] = raw
	return s.setFile(doc)
}

// DeleteAll removes the entire namespace.
func (s *Store) DeleteAll(namespace string) error {
	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	doc, err := s.GetFile()
	if err != nil {
		return err
	}
	if _, ok := doc[namespace]; !ok {
		return nil
	}
	delete(doc, namespace)
	return s.setFile(doc)
}

// AccountKeyStore accesses account credentials, namespaced by profile.
type AccountKeyStore struct {
	store   *Store
	profile string
}

// ForProfile returns a view of the store scoped to the given profile.
func (s *AccountKeyStore) ForProfile(profile string) *AccountKeyStore {
	return &AccountKeyStore{store: s.store, profile: profile}
}

// Get returns the stored credential for the profile, or nil if absent.
func (s *AccountKeyStore) Get() (*AccountCredential, error) {
	var cred AccountCredential
	ok, err := s.store.Get(s.profile, &cred)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

// Save persists the credential under the profile.
func (s *AccountKeyStore) Save(cred AccountCredential) error {
	return s.store.Save(s.profile, cred)
}

// Delete removes the profile's credential.
func (s *AccountKeyStore) Delete() error {
	return s.store.DeleteAll(s.profile)
}

// AccountKeys returns every account key value present in the store, across
// all profiles. Used by orphan cleanup to decide which secret namespaces
// are still reachable.
func (s *AccountKeyStore) AccountKeys() ([]string, error) {
	doc, err := s.store.GetFile()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(doc))
	for _, raw := range doc {
		var cred AccountCredential
		if err := json.Unmarshal(raw, &cred); err != nil {
			continue
		}
		if cred.AccountKey != "" {
			keys = append(keys, cred.AccountKey)
		}
	}
	return keys, nil
}

// SecretKeyStore accesses database secrets, namespaced by the account key
// that minted them. Rotating the account key re-points the namespace so
// secrets never leak across accounts.
type SecretKeyStore struct {
	store      *Store
	accountKey string
}

// UpdateAccountKey re-points the store at a new account key namespace.
// Cached secret values are untouched until next read.
func (s *SecretKeyStore) UpdateAccountKey(accountKey string) {
	s.accountKey = accountKey
}

// Get returns the secret stored under the path:role key, or nil if the
// namespace or key is absent.
func (s *SecretKeyStore) Get(key string) (*DatabaseSecret, error) {
	all, err := s.allForAccount()
	if err != nil {
		return nil, err
	}
	secret, ok := all[key]
	if !ok {
		return nil, nil
	}
	return &secret, nil
}

// Save persists a secret under the path:role key, overwriting any
// previous secret for the same key.
func (s *SecretKeyStore) Save(key string, secret DatabaseSecret) error {
	lock, err := s.store.acquireLock()
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}

	doc, err := s.store.GetFile()
	if err != nil {
		return err
	}

	all := make(map[string]DatabaseSecret)
	if raw, ok := doc[s.accountKey]; ok {
		_ = json.Unmarshal(raw, &all)
	}
	all[key] = secret

	raw, err := json.Marshal(all)
	if err != nil {
		return err
	}
	doc[s.accountKey] = raw
	return s.store.setFile(doc)
}

// DeleteAllForAccount removes every secret under the current account key.
func (s *SecretKeyStore) DeleteAllForAccount() error {
	return s.store.DeleteAll(s.accountKey)
}

// DeleteNamespace removes every secret under the given account key,
// without re-pointing the store.
func (s *SecretKeyStore) DeleteNamespace(accountKey string) error {
	return s.store.DeleteAll(accountKey)
}

// Namespaces returns every account-key namespace present in the store.
func (s *SecretKeyStore) Namespaces() ([]string, error) {
	doc, err := s.store.GetFile()
	if err != nil {
		return nil, err
	}
	namespaces := make([]string, 0, len(doc))
	for ns := range doc {
		namespaces = append(namespaces, ns)
	}
	return namespaces, nil
}

func (s *SecretKeyStore) allForAccount() (map[string]DatabaseSecret, error) {
	doc, err := s.store.GetFile()
	if err != nil {
		return nil, err
	}
	raw, ok := doc[s.accountKey]
	if !ok {
		return map[string]DatabaseSecret{}, nil
	}
	var all map[string]DatabaseSecret
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("invalid secrets under account key namespace: %w", err)
	}
	return all, nil
}
