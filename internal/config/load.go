package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a formulary.yaml configuration file.
// Relative paths in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	cfg, err := decode(path)
	if err != nil {
		return nil, err
	}

	if errs := Validate(cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return cfg, nil
}

func decode(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	resolvePaths(&cfg, filepath.Dir(path))
	return &cfg, nil
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a Config for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(cfg *Config) []string {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d: only version 1 is supported", cfg.Version))
	}

	switch cfg.Ledger.Backend {
	case "", BackendBadger, BackendFile:
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown backend '%s': must be one of: badger, file", cfg.Ledger.Backend))
	}

	if cfg.Fetch.Timeout < 0 {
		errs = append(errs, "fetch: 'timeout' must not be negative")
	}
	if cfg.Fetch.InitialBackoff < 0 {
		errs = append(errs, "fetch: 'initial_backoff' must not be negative")
	}
	if cfg.Fetch.MaxAttempts < 0 {
		errs = append(errs, "fetch: 'max_attempts' must not be negative")
	}
	if cfg.Fetch.MaxSize < 0 {
		errs = append(errs, "fetch: 'max_size' must not be negative")
	}
	if cfg.Fetch.Parallelism < 0 {
		errs = append(errs, "fetch: 'parallelism' must not be negative")
	}
	if cfg.Fetch.RateLimit < 0 {
		errs = append(errs, "fetch: 'rate_limit' must not be negative")
	}
	if cfg.Build.Timeout < 0 {
		errs = append(errs, "build: 'timeout' must not be negative")
	}

	for i, name := range cfg.Build.PassEnv {
		if name == "" || strings.ContainsAny(name, "= ") {
			errs = append(errs, fmt.Sprintf("build: pass_env[%d]: invalid variable name '%s'", i, name))
		}
	}

	for i, dir := range cfg.FormulaDirs {
		if dir == "" {
			errs = append(errs, fmt.Sprintf("formula_dirs[%d]: empty path", i))
		}
	}

	return errs
}

// HierarchicalOptions controls LoadHierarchical.
type HierarchicalOptions struct {
	DiscoverOptions

	// NoInherit loads only the project layer.
	NoInherit bool
}

// HierarchicalResult is the merged config plus the layers that produced it.
type HierarchicalResult struct {
	Config *Config
	Layers []ConfigLayerInfo
}

// LoadHierarchical discovers the system, user and project config files,
// merges the ones that exist (lowest precedence first), applies defaults and
// environment overrides, then validates the result. Missing files are
// skipped; a file that exists but fails to parse is an error.
func LoadHierarchical(opts HierarchicalOptions) (*HierarchicalResult, error) {
	layers := DiscoverPaths(opts.DiscoverOptions)
	if opts.NoInherit || EnvNoInherit() {
		var project []ConfigLayerInfo
		for _, l := range layers {
			if l.Level == LevelProject {
				project = append(project, l)
			}
		}
		layers = project
	}

	var configs []*Config
	for i := range layers {
		cfg, err := decode(layers[i].Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			layers[i].Err = err
			return &HierarchicalResult{Layers: layers}, err
		}
		layers[i].Loaded = true
		configs = append(configs, cfg)
	}

	merged := &Config{Version: 1}
	if len(configs) > 0 {
		var err error
		merged, err = MergeAll(configs)
		if err != nil {
			return &HierarchicalResult{Layers: layers}, err
		}
	}

	ApplyDefaults(merged)
	ApplyEnv(merged)

	if errs := Validate(merged); len(errs) > 0 {
		return &HierarchicalResult{Layers: layers}, &ValidationError{Errors: errs}
	}

	return &HierarchicalResult{Config: merged, Layers: layers}, nil
}

func resolvePaths(cfg *Config, base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	cfg.Prefix = abs(cfg.Prefix)
	cfg.CacheDir = abs(cfg.CacheDir)
	cfg.WorkDir = abs(cfg.WorkDir)
	cfg.Ledger.Path = abs(cfg.Ledger.Path)
	for i, d := range cfg.FormulaDirs {
		cfg.FormulaDirs[i] = abs(d)
	}
}
