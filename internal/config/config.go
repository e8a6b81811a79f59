// Package config provides layered configuration loading.
//
// Precedence: flags > env > profile config file > defaults. A Sources map
// records where each value came from, for debugging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRole is the database role used when none is specified.
const DefaultRole = "admin"

// Config holds the resolved configuration for one invocation.
type Config struct {
	// API settings
	AccountURL string `yaml:"account_url"`
	ClientID   string `yaml:"client_id"`

	// ClientSecret identifies the native CLI client during the OAuth
	// exchange. Native public clients are not confidential; the value is
	// not used beyond client identification (RFC 8252 §8.5).
	ClientSecret string `yaml:"client_secret"`

	// Credential inputs (flag, env, or profile config)
	Profile    string `yaml:"-"`
	AccountKey string `yaml:"account_key"`
	Secret     string `yaml:"secret"`
	Database   string `yaml:"database"`
	Role       string `yaml:"role"`

	// Local mode targets a local container and bypasses minting.
	Local bool `yaml:"local"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]string `yaml:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceConfig  Source = "config"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// FlagOverrides holds command-line flag values.
type FlagOverrides struct {
	Profile    string
	AccountKey string
	Secret     string
	Database   string
	Role       string
	AccountURL string
	Local      bool
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		AccountURL:   "https://account.fauna.com",
		ClientID:     "-_vEB3FKRoWbJdFpMg72Mx0UVAA",
		ClientSecret: "CGNriRe8uZakmOL6yfhuSZJ_-15Tio4ueM3whw0O38fXLb2829PHCA",
		Profile:      "default",
		Role:         DefaultRole,
		Sources:      make(map[string]string),
	}
}

// Load loads configuration from all sources with proper precedence.
func Load(overrides FlagOverrides) (*Config, error) {
	cfg := Default()

	profile := overrides.Profile
	if profile == "" {
		profile = os.Getenv("FAUNA_PROFILE")
	}
	if profile != "" {
		cfg.Profile = profile
	}

	if err := loadFromFile(cfg, ConfigPath(), cfg.Profile); err != nil {
		return nil, err
	}
	LoadFromEnv(cfg)
	ApplyOverrides(cfg, overrides)

	return cfg, nil
}

func loadFromFile(cfg *Config, path, profile string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is the user's own config file
	if err != nil {
		return nil // No config file is fine; defaults apply
	}

	var profiles map[string]*Config
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return fmt.Errorf("malformed config at %s: %w", path, err)
	}

	p, ok := profiles[profile]
	if !ok {
		return nil
	}

	if p.AccountURL != "" {
		cfg.AccountURL = p.AccountURL
		cfg.Sources["account_url"] = string(SourceConfig)
	}
	if p.AccountKey != "" {
		cfg.AccountKey = p.AccountKey
		cfg.Sources["account_key"] = string(SourceConfig)
	}
	if p.Secret != "" {
		cfg.Secret = p.Secret
		cfg.Sources["secret"] = string(SourceConfig)
	}
	if p.Database != "" {
		cfg.Database = p.Database
		cfg.Sources["database"] = string(SourceConfig)
	}
	if p.Role != "" {
		cfg.Role = p.Role
		cfg.Sources["role"] = string(SourceConfig)
	}
	if p.ClientID != "" {
		cfg.ClientID = p.ClientID
		cfg.Sources["client_id"] = string(SourceConfig)
	}
	if p.Local {
		cfg.Local = true
		cfg.Sources["local"] = string(SourceConfig)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FAUNA_ACCOUNT_URL"); v != "" {
		cfg.AccountURL = v
		cfg.Sources["account_url"] = string(SourceEnv)
	}
	if v := os.Getenv("FAUNA_ACCOUNT_KEY"); v != "" {
		cfg.AccountKey = v
		cfg.Sources["account_key"] = string(SourceEnv)
	}
	if v := os.Getenv("FAUNA_SECRET"); v != "" {
		cfg.Secret = v
		cfg.Sources["secret"] = string(SourceEnv)
	}
	if v := os.Getenv("FAUNA_DATABASE"); v != "" {
		cfg.Database = v
		cfg.Sources["database"] = string(SourceEnv)
	}
	if v := os.Getenv("FAUNA_ROLE"); v != "" {
		cfg.Role = v
		cfg.Sources["role"] = string(SourceEnv)
	}
	if v := os.Getenv("FAUNA_CLIENT_ID"); v != "" {
		cfg.ClientID = v
		cfg.Sources["client_id"] = string(SourceEnv)
	}
	if v := os.Getenv("FAUNA_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
		cfg.Sources["client_secret"] = string(SourceEnv)
	}
}

// ApplyOverrides applies non-empty flag overrides to cfg.
func ApplyOverrides(cfg *Config, o FlagOverrides) {
	if o.AccountKey != "" {
		cfg.AccountKey = o.AccountKey
		cfg.Sources["account_key"] = string(SourceFlag)
	}
	if o.Secret != "" {
		cfg.Secret = o.Secret
		cfg.Sources["secret"] = string(SourceFlag)
	}
	if o.Database != "" {
		cfg.Database = o.Database
		cfg.Sources["database"] = string(SourceFlag)
	}
	if o.Role != "" {
		cfg.Role = o.Role
		cfg.Sources["role"] = string(SourceFlag)
	}
	if o.AccountURL != "" {
		cfg.AccountURL = o.AccountURL
		cfg.Sources["account_url"] = string(SourceFlag)
	}
	if o.Local {
		cfg.Local = true
		cfg.Sources["local"] = string(SourceFlag)
	}
}

// HomeDir returns the fauna settings directory (~/.fauna), honoring
// FAUNA_HOME for tests and sandboxed environments.
func HomeDir() string {
	if dir := os.Getenv("FAUNA_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".fauna")
}

// CredentialsDir returns the directory holding credential store files.
func CredentialsDir() string {
	return filepath.Join(HomeDir(), "credentials")
}

// ConfigPath returns the path of the profile config file.
func ConfigPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// NormalizeURL ensures consistent URL format (no trailing slash).
func NormalizeURL(url string) string {
	return strings.TrimSuffix(url, "/")
}
