package engine

import (
	"github.com/bianoble/formulary/internal/cache"
	"github.com/bianoble/formulary/internal/config"
)

// ConfigLayerStatus describes a config layer's load status for display.
type ConfigLayerStatus struct {
	Level  string // "system", "user", "project"
	Path   string
	Loaded bool
}

// InfoResult holds installation information for the info command.
type InfoResult struct {
	Version       string
	PrefixRoot    string
	WorkDir       string
	CacheDir      string
	LedgerBackend string
	LedgerPath    string
	FormulaDirs   []string
	ConfigChain   []ConfigLayerStatus
	CacheSize     int64
	Formulas      int
	Installed     int
}

// Info gathers information about the configured installation. cfg and c may
// be nil.
func (e *Engine) Info(version string, cfg *config.Config, c *cache.Cache) (*InfoResult, error) {
	r := &InfoResult{Version: version}

	if cfg != nil {
		r.PrefixRoot = cfg.Prefix
		r.WorkDir = cfg.WorkDir
		r.LedgerBackend = cfg.Ledger.Backend
		r.LedgerPath = cfg.Ledger.Path
		r.FormulaDirs = cfg.FormulaDirs
	}
	if e.Executor != nil {
		r.PrefixRoot = e.Executor.PrefixRoot()
	}

	if c != nil {
		r.CacheDir = c.Path()
		if size, err := c.Size(); err == nil {
			r.CacheSize = size
		}
	}

	if e.Store != nil {
		r.Formulas = e.Store.Len()
	}
	if e.Ledger != nil {
		recs, err := e.Ledger.List()
		if err != nil {
			return nil, err
		}
		r.Installed = len(recs)
	}

	return r, nil
}
