package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bianoble/formulary/internal/build"
	"github.com/bianoble/formulary/internal/errs"
	"github.com/bianoble/formulary/internal/fetch"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/metrics"
	"github.com/bianoble/formulary/internal/resolve"
)

// InstallOptions configures an install request.
type InstallOptions struct {
	// Constraint restricts the requested formula's version ("" = any).
	Constraint string

	// Reinstall rebuilds the requested formula even at the same version.
	Reinstall bool

	// IgnoreInstalled rebuilds every dependency instead of reusing
	// installed ones.
	IgnoreInstalled bool

	// KeepOnFailure keeps the working directory of a failed build.
	KeepOnFailure bool

	// DryRun resolves the plan and stops.
	DryRun bool
}

// Install resolves name, fetches every planned archive and installs the plan
// in order. Resolution, integrity and cancellation errors abort the whole
// request. A fetch or build failure aborts that formula and every step that
// depends on it, while independent steps still install; the result then
// reports both and the returned error summarizes the failures.
func (e *Engine) Install(ctx context.Context, name string, opts InstallOptions) (*InstallResult, error) {
	runID := uuid.NewString()
	log := e.logger().With("run_id", runID, "formula", name)

	plan, err := e.Resolver.Resolve(ctx, name, opts.Constraint, resolve.Options{IgnoreInstalled: opts.IgnoreInstalled})
	if err != nil {
		return nil, err
	}
	result := &InstallResult{RunID: runID, Plan: plan}
	log.Info("resolved plan", "steps", len(plan.Steps), "satisfied", len(plan.Satisfied))
	if opts.DryRun {
		return result, nil
	}

	reinstall := func(s resolve.Step) bool {
		if s.Record.Name == plan.Root {
			return opts.Reinstall
		}
		return opts.IgnoreInstalled
	}

	var toFetch []formula.Record
	unchanged := make(map[string]bool)
	for _, s := range plan.Steps {
		if s.Current == s.Record.Version && !reinstall(s) {
			unchanged[s.Record.Name] = true
			continue
		}
		toFetch = append(toFetch, s.Record)
	}

	fetched, err := e.Fetcher.FetchPlan(ctx, toFetch, e.Parallelism)
	if err != nil {
		return result, err
	}
	defer fetched.Cleanup()

	failed := make(map[string]bool)
	for _, s := range plan.Steps {
		rec := s.Record

		if unchanged[rec.Name] {
			metrics.Installs.WithLabelValues("unchanged").Inc()
			result.Unchanged = append(result.Unchanged, FormulaAction{
				Name: rec.Name, Version: rec.Version, Previous: s.Current, Action: "unchanged",
			})
			continue
		}

		if err := ctx.Err(); err != nil {
			return result, err
		}

		if dep := failedDependency(rec, failed); dep != "" {
			failed[rec.Name] = true
			metrics.Installs.WithLabelValues("skipped").Inc()
			result.Skipped = append(result.Skipped, FormulaError{
				Formula: rec.Name,
				Err:     fmt.Errorf("dependency '%s' failed", dep),
			})
			log.Warn("skipping formula", "step", rec.Name, "failed_dependency", dep)
			continue
		}

		if ferr, ok := fetched.Failed[rec.Name]; ok {
			failed[rec.Name] = true
			metrics.Installs.WithLabelValues("failed").Inc()
			result.Failed = append(result.Failed, FormulaError{Formula: rec.Name, Err: ferr})
			continue
		}
		art := fetched.Artifacts[rec.Name]

		out, err := e.Executor.Install(ctx, rec, art, build.InstallOptions{
			Reinstall:     reinstall(s),
			KeepOnFailure: opts.KeepOnFailure,
			RunID:         runID,
		})
		if err != nil {
			if errs.KindOf(err) == errs.KindCanceled {
				return result, err
			}
			failed[rec.Name] = true
			fe := FormulaError{Formula: rec.Name, Err: err}
			if art != nil && !art.FromCache {
				fe.Artifact = art.Path
				delete(fetched.Artifacts, rec.Name)
			}
			result.Failed = append(result.Failed, fe)
			continue
		}

		_ = art.Remove()
		delete(fetched.Artifacts, rec.Name)
		if out.Unchanged {
			result.Unchanged = append(result.Unchanged, actionFor(s, out))
		} else {
			result.Installed = append(result.Installed, actionFor(s, out))
		}
	}

	if !result.OK() {
		return result, summarize(plan.Root, result)
	}
	log.Info("install complete", "installed", len(result.Installed), "unchanged", len(result.Unchanged))
	return result, nil
}

func actionFor(s resolve.Step, out *build.Outcome) FormulaAction {
	a := FormulaAction{
		Name:     out.Record.Name,
		Version:  out.Record.Version,
		Previous: s.Current,
		Prefix:   out.Record.Prefix,
		Paths:    len(out.Record.Paths),
	}
	switch {
	case out.Unchanged:
		a.Action = "unchanged"
	case s.Current == "":
		a.Action = "installed"
	case s.Current == s.Record.Version:
		a.Action = "reinstalled"
	default:
		a.Action = "upgraded"
	}
	return a
}

func failedDependency(rec formula.Record, failed map[string]bool) string {
	for _, d := range rec.Dependencies {
		if failed[d.Name] {
			return d.Name
		}
	}
	return ""
}

// summarize joins every per-formula error so errors.As still finds the
// typed causes.
func summarize(root string, r *InstallResult) error {
	all := make([]error, 0, len(r.Failed)+len(r.Skipped))
	for _, f := range r.Failed {
		all = append(all, f)
	}
	for _, s := range r.Skipped {
		all = append(all, s)
	}
	return fmt.Errorf("installing %s: %d failed, %d skipped: %w",
		root, len(r.Failed), len(r.Skipped), errors.Join(all...))
}

// Fetch resolves name and fetches and verifies every archive in its plan
// without installing anything. The caller owns the returned artifacts.
func (e *Engine) Fetch(ctx context.Context, name string, opts InstallOptions) (*fetch.PlanResult, error) {
	plan, err := e.Resolver.Resolve(ctx, name, opts.Constraint, resolve.Options{IgnoreInstalled: opts.IgnoreInstalled})
	if err != nil {
		return nil, err
	}
	return e.Fetcher.FetchPlan(ctx, plan.Records(), e.Parallelism)
}
