// Package engine runs install requests end to end: resolve the dependency
// plan, fetch and verify every archive, then build and record each formula in
// dependency order.
package engine

import (
	"io"
	"log/slog"

	"github.com/bianoble/formulary/internal/build"
	"github.com/bianoble/formulary/internal/fetch"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/ledger"
	"github.com/bianoble/formulary/internal/resolve"
)

// Engine wires the pipeline stages together.
type Engine struct {
	Store    *formula.Store
	Ledger   ledger.Ledger
	Resolver *resolve.Resolver
	Fetcher  *fetch.Fetcher
	Executor *build.Executor

	// Parallelism bounds concurrent fetches (0 = unbounded).
	Parallelism int

	Logger *slog.Logger
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e.Logger
}
