// Package config manages apkdb configuration and the layout of a root
// directory. It handles loading, saving, and initializing the configuration
// and the repositories file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// EnvRoot overrides the root directory when no root is given explicitly.
const EnvRoot = "APKDB_ROOT"

// Paths relative to the root directory.
const (
	ConfigFile       = "etc/apkdb/config.toml"
	RepositoriesFile = "etc/apk/repositories"
	KeysDir          = "etc/apk/keys"
	DatabaseDir      = "lib/apkdb"
	DatabaseFile     = "lib/apkdb/apkdb.db"
	HistoryFile      = "lib/apkdb/history.db"
	PackagesDir      = "lib/apkdb/packages"
	DefaultCacheDir  = "var/cache/apk"
)

// Defaults for values left empty in the config file.
const (
	DefaultArch             = "x86_64"
	DefaultComparator       = "apk"
	DefaultFetchConcurrency = 4
	DefaultFetchRetries     = 3
	DefaultFetchTimeout     = 60
	DefaultLogLevel         = "warn"
)

// Config represents the apkdb configuration
type Config struct {
	Arch               string      `toml:"arch"`
	CacheDir           string      `toml:"cache_dir"` // relative to the root unless absolute
	Ephemeral          bool        `toml:"ephemeral"` // the root does not survive a reboot
	ForceNonRepository bool        `toml:"force_non_repository"`
	Comparator         string      `toml:"comparator"` // apk or semver
	LogLevel           string      `toml:"log_level"`
	Fetch              FetchConfig `toml:"fetch"`
	Webhooks           []string    `toml:"webhooks,omitempty"` // notified after every transaction
	root               string
}

// FetchConfig tunes repository and archive downloads
type FetchConfig struct {
	Concurrency    int    `toml:"concurrency"`
	Retries        int    `toml:"retries"` // negative disables retries
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent,omitempty"`
}

// ResolveRoot returns flagRoot if set, otherwise $APKDB_ROOT, otherwise "/".
func ResolveRoot(flagRoot string) string {
	if flagRoot != "" {
		return flagRoot
	}
	if v := os.Getenv(EnvRoot); v != "" {
		return v
	}
	return "/"
}

// Default returns the configuration used when the root has no config file.
func Default(root string) *Config {
	cfg := &Config{root: root}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Arch == "" {
		c.Arch = DefaultArch
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if c.Comparator == "" {
		c.Comparator = DefaultComparator
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = DefaultFetchConcurrency
	}
	if c.Fetch.Retries < 0 {
		c.Fetch.Retries = 0
	} else if c.Fetch.Retries == 0 {
		c.Fetch.Retries = DefaultFetchRetries
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		c.Fetch.TimeoutSeconds = DefaultFetchTimeout
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Comparator {
	case "apk", "semver":
	default:
		return fmt.Errorf("unknown comparator %q (want apk or semver)", c.Comparator)
	}
	return nil
}

// Load loads the configuration of root. A missing config file yields the defaults.
func Load(root string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(root, ConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Default(root), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.root = root
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := c.Path(ConfigFile)
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// Initialize lays out a new root with the given architecture and writes its
// configuration. An existing repositories file is left untouched.
func Initialize(root, arch string) (*Config, error) {
	cfg := Default(root)
	if arch != "" {
		cfg.Arch = arch
	}

	if _, err := os.Stat(cfg.Path(ConfigFile)); err == nil {
		return nil, fmt.Errorf("apkdb root already initialized: %s", root)
	}

	for _, dir := range []string{KeysDir, DatabaseDir, PackagesDir, filepath.Dir(ConfigFile)} {
		if err := os.MkdirAll(cfg.Path(dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(cfg.CachePath(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	reposPath := cfg.Path(RepositoriesFile)
	if _, err := os.Stat(reposPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(reposPath, nil, 0644); err != nil {
			return nil, fmt.Errorf("failed to create repositories file: %w", err)
		}
	}

	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Root returns the root directory the configuration belongs to
func (c *Config) Root() string {
	return c.root
}

// Path joins rel onto the root
func (c *Config) Path(rel string) string {
	return filepath.Join(c.root, rel)
}

// DatabasePath returns the path to the bbolt database
func (c *Config) DatabasePath() string {
	return c.Path(DatabaseFile)
}

// HistoryPath returns the path to the transaction history database
func (c *Config) HistoryPath() string {
	return c.Path(HistoryFile)
}

// RepositoriesPath returns the path to the repositories file
func (c *Config) RepositoriesPath() string {
	return c.Path(RepositoriesFile)
}

// KeysPath returns the directory of trusted signing keys
func (c *Config) KeysPath() string {
	return c.Path(KeysDir)
}

// PackagesPath returns the directory of per-package install records
func (c *Config) PackagesPath() string {
	return c.Path(PackagesDir)
}

// CachePath returns the package cache directory
func (c *Config) CachePath() string {
	if filepath.IsAbs(c.CacheDir) && c.root == "/" {
		return c.CacheDir
	}
	return c.Path(c.CacheDir)
}

// CacheActive returns true if downloaded archives are kept on disk.
func (c *Config) CacheActive() bool {
	if c.CacheDir == "" {
		return false
	}
	info, err := os.Stat(c.CachePath())
	return err == nil && info.IsDir()
}

// FetchTimeout returns the per-request timeout
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
