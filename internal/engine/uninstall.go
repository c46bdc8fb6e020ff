package engine

import (
	"context"

	"github.com/bianoble/formulary/internal/resolve"
)

// Plan resolves name without fetching or installing anything.
func (e *Engine) Plan(ctx context.Context, name, constraint string, ignoreInstalled bool) (*resolve.Plan, error) {
	return e.Resolver.Resolve(ctx, name, constraint, resolve.Options{IgnoreInstalled: ignoreInstalled})
}

// Uninstall removes name's owned paths and its ledger record. It refuses
// while other installed formulas depend on name unless force is set.
func (e *Engine) Uninstall(ctx context.Context, name string, force bool) (*UninstallResult, error) {
	dependents, err := e.Resolver.Dependents(name)
	if err != nil {
		return nil, err
	}
	if len(dependents) > 0 {
		if !force {
			return nil, &DependentsError{Name: name, Dependents: dependents}
		}
		e.logger().Warn("removing formula that others depend on", "formula", name, "dependents", dependents)
	}

	rec, err := e.Executor.Uninstall(ctx, name)
	if err != nil {
		return nil, err
	}
	return &UninstallResult{Name: rec.Name, Version: rec.Version, Removed: len(rec.Paths)}, nil
}
