package config

import "time"

// Config represents the formulary.yaml configuration file.
type Config struct {
	Version     int      `yaml:"version"`
	FormulaDirs []string `yaml:"formula_dirs,omitempty"`
	Prefix      string   `yaml:"prefix,omitempty"`
	CacheDir    string   `yaml:"cache_dir,omitempty"`
	WorkDir     string   `yaml:"work_dir,omitempty"`
	Ledger      Ledger   `yaml:"ledger,omitempty"`
	Fetch       Fetch    `yaml:"fetch,omitempty"`
	Build       Build    `yaml:"build,omitempty"`
}

// Ledger selects where installation records are kept.
type Ledger struct {
	Backend string `yaml:"backend,omitempty"` // "badger" (default), "file"
	Path    string `yaml:"path,omitempty"`
}

// Fetch tunes archive downloads.
type Fetch struct {
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	MaxAttempts    int           `yaml:"max_attempts,omitempty"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxSize        int64         `yaml:"max_size,omitempty"`
	Parallelism    int           `yaml:"parallelism,omitempty"`
	RateLimit      float64       `yaml:"rate_limit,omitempty"` // downloads per second
}

// Build tunes recipe execution.
type Build struct {
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	KeepOnFailure bool          `yaml:"keep_on_failure,omitempty"`
	BasePath      string        `yaml:"base_path,omitempty"`
	PassEnv       []string      `yaml:"pass_env,omitempty"`
}

// Ledger backends.
const (
	BackendBadger = "badger"
	BackendFile   = "file"
)
