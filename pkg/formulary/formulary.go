// Package formulary provides the public Go library API for formulary.
//
// formulary installs packages described by formula records: it resolves the
// dependency graph, fetches and verifies every source archive, builds each
// formula into its own versioned prefix and records what it installed.
//
// # Basic Usage
//
//	client, err := formulary.New(formulary.Options{
//	    ConfigPath: "formulary.yaml",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Install a formula and its dependencies
//	result, err := client.Install(ctx, "jq", formulary.InstallOptions{})
//
//	// Check that installed files are still present
//	checkResult, err := client.Check(ctx, nil)
package formulary

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/bianoble/formulary/internal/build"
	"github.com/bianoble/formulary/internal/cache"
	"github.com/bianoble/formulary/internal/config"
	"github.com/bianoble/formulary/internal/engine"
	"github.com/bianoble/formulary/internal/fetch"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/ledger"
	"github.com/bianoble/formulary/internal/resolve"
)

// Installer resolves, fetches and installs a formula with its dependencies.
type Installer interface {
	Install(ctx context.Context, name string, opts InstallOptions) (*InstallResult, error)
}

// Uninstaller removes an installed formula.
type Uninstaller interface {
	Uninstall(ctx context.Context, name string, force bool) (*UninstallResult, error)
}

// Planner resolves an install plan without side effects.
type Planner interface {
	Plan(ctx context.Context, name, constraint string, ignoreInstalled bool) (*Plan, error)
}

// Checker verifies installed files against the ledger.
type Checker interface {
	Check(ctx context.Context, names []string) (*CheckResult, error)
}

// Options configures a formulary client. Non-empty fields override the
// loaded configuration.
type Options struct {
	// ConfigPath is the project config file. Default: "formulary.yaml".
	// A missing file means defaults.
	ConfigPath string

	// SystemConfigPath and UserConfigPath override the discovered system and
	// user config locations.
	SystemConfigPath string
	UserConfigPath   string

	// NoInherit skips the system and user config layers.
	NoInherit bool

	FormulaDirs   []string
	Prefix        string
	CacheDir      string
	WorkDir       string
	LedgerBackend string // "badger" or "file"
	LedgerPath    string

	// NoCache disables the persistent archive cache.
	NoCache bool

	// HTTPClient replaces the default HTTP client for archive downloads.
	HTTPClient HTTPClient

	Logger *slog.Logger
}

// Client is the main entry point for the formulary library.
// It implements Installer, Uninstaller, Planner, and Checker.
type Client struct {
	cfg    *config.Config
	layers []config.ConfigLayerInfo
	cache  *cache.Cache
	ledger ledger.Ledger
	engine *engine.Engine
}

// New loads configuration and formulas and opens the ledger. Callers must
// Close the client to release the ledger.
func New(opts Options) (*Client, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = "formulary.yaml"
	}

	hr, err := config.LoadHierarchical(config.HierarchicalOptions{
		DiscoverOptions: config.DiscoverOptions{
			ProjectPath:      opts.ConfigPath,
			SystemConfigPath: opts.SystemConfigPath,
			UserConfigPath:   opts.UserConfigPath,
		},
		NoInherit: opts.NoInherit,
	})
	if err != nil {
		return nil, err
	}
	cfg := hr.Config
	applyOverrides(cfg, opts)
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, &config.ValidationError{Errors: errs}
	}

	store, err := formula.LoadDirs(cfg.FormulaDirs...)
	if err != nil {
		return nil, err
	}

	var c *cache.Cache
	if !opts.NoCache {
		if c, err = cache.New(cfg.CacheDir); err != nil {
			return nil, fmt.Errorf("initializing cache: %w", err)
		}
	}

	led, err := openLedger(cfg, opts.Logger)
	if err != nil {
		return nil, err
	}

	ex, err := build.NewExecutor(led, build.Options{
		PrefixRoot:    cfg.Prefix,
		WorkRoot:      filepath.Join(cfg.WorkDir, "build"),
		Timeout:       cfg.Build.Timeout,
		KeepOnFailure: cfg.Build.KeepOnFailure,
		Env:           build.EnvSpec{BasePath: cfg.Build.BasePath, PassEnv: cfg.Build.PassEnv},
		Logger:        opts.Logger,
	})
	if err != nil {
		_ = led.Close()
		return nil, err
	}

	fetcher := fetch.New(fetch.DefaultRegistry(opts.HTTPClient), fetch.Options{
		WorkDir:        filepath.Join(cfg.WorkDir, "fetch"),
		Timeout:        cfg.Fetch.Timeout,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		InitialBackoff: cfg.Fetch.InitialBackoff,
		MaxSize:        cfg.Fetch.MaxSize,
		RateLimit:      cfg.Fetch.RateLimit,
		Cache:          c,
		Logger:         opts.Logger,
	})

	return &Client{
		cfg:    cfg,
		layers: hr.Layers,
		cache:  c,
		ledger: led,
		engine: &engine.Engine{
			Store:       store,
			Ledger:      led,
			Resolver:    resolve.New(store, led),
			Fetcher:     fetcher,
			Executor:    ex,
			Parallelism: cfg.Fetch.Parallelism,
			Logger:      opts.Logger,
		},
	}, nil
}

func applyOverrides(cfg *config.Config, opts Options) {
	if len(opts.FormulaDirs) > 0 {
		cfg.FormulaDirs = opts.FormulaDirs
	}
	if opts.Prefix != "" {
		cfg.Prefix = opts.Prefix
	}
	if opts.CacheDir != "" {
		cfg.CacheDir = opts.CacheDir
	}
	if opts.WorkDir != "" {
		cfg.WorkDir = opts.WorkDir
	}
	if opts.LedgerBackend != "" && opts.LedgerBackend != cfg.Ledger.Backend {
		cfg.Ledger.Backend = opts.LedgerBackend
		if opts.LedgerPath == "" {
			cfg.Ledger.Path = ""
			config.ApplyDefaults(cfg)
		}
	}
	if opts.LedgerPath != "" {
		cfg.Ledger.Path = opts.LedgerPath
	}
}

func openLedger(cfg *config.Config, logger *slog.Logger) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case config.BackendFile:
		return ledger.OpenFile(cfg.Ledger.Path)
	default:
		return ledger.OpenBadger(ledger.BadgerConfig{
			Path:       cfg.Ledger.Path,
			SyncWrites: true,
			Logger:     logger,
		})
	}
}

// Close releases the ledger.
func (c *Client) Close() error {
	return c.ledger.Close()
}

// Install resolves name and installs it with every missing dependency.
func (c *Client) Install(ctx context.Context, name string, opts InstallOptions) (*InstallResult, error) {
	return c.engine.Install(ctx, name, opts)
}

// Uninstall removes an installed formula. It refuses while installed
// formulas depend on it unless force is set.
func (c *Client) Uninstall(ctx context.Context, name string, force bool) (*UninstallResult, error) {
	return c.engine.Uninstall(ctx, name, force)
}

// Plan resolves the install plan for name without fetching or building.
func (c *Client) Plan(ctx context.Context, name, constraint string, ignoreInstalled bool) (*Plan, error) {
	return c.engine.Plan(ctx, name, constraint, ignoreInstalled)
}

// Fetch downloads and verifies every archive name needs. The caller must
// call Cleanup on the result once done with the artifacts.
func (c *Client) Fetch(ctx context.Context, name string, opts InstallOptions) (*FetchResult, error) {
	return c.engine.Fetch(ctx, name, opts)
}

// Check verifies installed files for names (all installed formulas when
// empty).
func (c *Client) Check(ctx context.Context, names []string) (*CheckResult, error) {
	return c.engine.Check(ctx, names)
}

// Status compares every installed formula with the available formulas.
func (c *Client) Status(ctx context.Context) ([]FormulaStatus, error) {
	return c.engine.Status(ctx)
}

// List returns every installation record sorted by name.
func (c *Client) List() ([]InstalledRecord, error) {
	return c.ledger.List()
}

// Formulas returns every available formula sorted by name.
func (c *Client) Formulas() []Formula {
	return c.engine.Store.All()
}

// Info describes the client's configuration, cache and ledger.
func (c *Client) Info(version string) (*InfoResult, error) {
	r, err := c.engine.Info(version, c.cfg, c.cache)
	if err != nil {
		return nil, err
	}
	for _, l := range c.layers {
		r.ConfigChain = append(r.ConfigChain, engine.ConfigLayerStatus{
			Level:  string(l.Level),
			Path:   l.Path,
			Loaded: l.Loaded,
		})
	}
	return r, nil
}
