package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/bianoble/formulary/internal/cache"
)

// Defaults applied to zero-valued fields.
const (
	DefaultFetchTimeout   = 10 * time.Minute
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultParallelism    = 4
	DefaultBuildTimeout   = 30 * time.Minute
)

// DefaultDir returns the data directory holding prefixes, the ledger and the
// default formula directory. Uses XDG_DATA_HOME, otherwise ~/.local/share.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, configDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), configDirName)
	}
	return filepath.Join(home, ".local", "share", configDirName)
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	dir := DefaultDir()

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if len(cfg.FormulaDirs) == 0 {
		cfg.FormulaDirs = []string{filepath.Join(dir, "formulas")}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = filepath.Join(dir, "prefix")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = cache.DefaultDir()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(dir, "work")
	}

	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = BackendBadger
	}
	if cfg.Ledger.Path == "" {
		if cfg.Ledger.Backend == BackendFile {
			cfg.Ledger.Path = filepath.Join(dir, "formulary.lock")
		} else {
			cfg.Ledger.Path = filepath.Join(dir, "ledger")
		}
	}

	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = DefaultFetchTimeout
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Fetch.InitialBackoff == 0 {
		cfg.Fetch.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.Fetch.Parallelism == 0 {
		cfg.Fetch.Parallelism = DefaultParallelism
	}
	if cfg.Build.Timeout == 0 {
		cfg.Build.Timeout = DefaultBuildTimeout
	}
}

// ApplyEnv applies FORMULARY_PREFIX and FORMULARY_CACHE_DIR, which take
// precedence over every config layer.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("FORMULARY_PREFIX"); v != "" {
		cfg.Prefix = v
	}
	if v := os.Getenv("FORMULARY_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
}
