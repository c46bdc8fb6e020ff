// Package build unpacks a verified source archive, runs a formula's install
// recipe in an isolated environment and records the result in the ledger.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bianoble/formulary/internal/archive"
	"github.com/bianoble/formulary/internal/digest"
	"github.com/bianoble/formulary/internal/errs"
	"github.com/bianoble/formulary/internal/fetch"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/ledger"
	"github.com/bianoble/formulary/internal/metrics"
	"github.com/bianoble/formulary/internal/sandbox"
)

// ErrNotInstalled is returned by Uninstall for a formula with no record.
var ErrNotInstalled = errors.New("formula is not installed")

// Options configures an Executor.
type Options struct {
	// PrefixRoot holds versioned prefixes: <PrefixRoot>/<name>/<version>.
	PrefixRoot string

	// WorkRoot is the parent of per-install working directories
	// (default os.TempDir()).
	WorkRoot string

	// Timeout bounds the whole recipe (0 = no limit beyond ctx).
	Timeout time.Duration

	// KeepOnFailure keeps the working directory of a failed recipe.
	KeepOnFailure bool

	Env    EnvSpec
	Runner Runner
	Logger *slog.Logger

	// Now stamps new records (default time.Now).
	Now func() time.Time
}

// InstallOptions tunes a single install.
type InstallOptions struct {
	// Reinstall rebuilds even when the same version is already recorded.
	Reinstall bool

	// KeepOnFailure overrides Options.KeepOnFailure when true.
	KeepOnFailure bool

	// RunID tags the working directory and the record (generated if empty).
	RunID string
}

// Outcome is the result of a successful Install.
type Outcome struct {
	Record ledger.Record

	// Unchanged is set when the same version was already installed and
	// nothing was done.
	Unchanged bool

	// Removed lists paths of the previous install dropped by the upgrade.
	Removed []string
}

// Executor installs formulas into versioned prefixes.
type Executor struct {
	ledger ledger.Ledger
	opts   Options
	logger *slog.Logger
}

// NewExecutor creates an Executor writing to l.
func NewExecutor(l ledger.Ledger, opts Options) (*Executor, error) {
	if opts.PrefixRoot == "" {
		return nil, errors.New("prefix root is required")
	}
	abs, err := filepath.Abs(opts.PrefixRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving prefix root: %w", err)
	}
	opts.PrefixRoot = abs
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{ledger: l, opts: opts, logger: logger}, nil
}

// PrefixFor returns the install prefix of name at version.
func (e *Executor) PrefixFor(name, version string) string {
	return filepath.Join(e.opts.PrefixRoot, name, version)
}

// Install builds rec from art and records it. It holds the ledger's lock for
// rec.Name throughout, so concurrent installs of one formula run one at a
// time. On failure the ledger is untouched and a prefix created by this
// attempt is removed.
func (e *Executor) Install(ctx context.Context, rec formula.Record, art *fetch.Artifact, opts InstallOptions) (*Outcome, error) {
	if art == nil || !art.Verified {
		return nil, fmt.Errorf("%s: refusing to install from an unverified artifact", rec.Name)
	}

	release, err := e.ledger.Lock(ctx, rec.Name)
	if err != nil {
		return nil, err
	}
	defer release()

	prev, found, err := e.ledger.Get(rec.Name)
	if err != nil {
		return nil, err
	}
	if found && prev.Version == rec.Version && !opts.Reinstall {
		e.logger.Info("already installed", "formula", rec.Name, "version", rec.Version)
		metrics.Installs.WithLabelValues("unchanged").Inc()
		return &Outcome{Record: prev, Unchanged: true}, nil
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	keep := e.opts.KeepOnFailure || opts.KeepOnFailure

	started := time.Now()
	out, err := e.install(ctx, rec, art, runID, keep)
	outcome := "installed"
	if err != nil {
		outcome = "failed"
	}
	metrics.BuildDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
	metrics.Installs.WithLabelValues(outcome).Inc()
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) install(ctx context.Context, rec formula.Record, art *fetch.Artifact, runID string, keep bool) (*Outcome, error) {
	if e.opts.WorkRoot != "" {
		if err := os.MkdirAll(e.opts.WorkRoot, 0755); err != nil {
			return nil, fmt.Errorf("creating work root: %w", err)
		}
	}
	workDir, err := os.MkdirTemp(e.opts.WorkRoot, fmt.Sprintf("%s-%s-%s-", rec.Name, rec.Version, shortID(runID)))
	if err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}
	failed := true
	defer func() {
		if failed && keep {
			e.logger.Warn("keeping working directory of failed build", "formula", rec.Name, "dir", workDir)
			return
		}
		_ = os.RemoveAll(workDir)
	}()

	for _, d := range []string{"home", "tmp"} {
		if err := os.MkdirAll(filepath.Join(workDir, d), 0755); err != nil {
			return nil, err
		}
	}

	srcDir, err := archive.Extract(ctx, art.Path, filepath.Join(workDir, "src"))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &errs.BuildError{Formula: rec.Name, Step: -1, Command: "extract", Err: err, WorkDir: keptDir(keep, workDir)}
	}

	deps, err := e.dependencyVars(rec)
	if err != nil {
		return nil, err
	}

	prefix := e.PrefixFor(rec.Name, rec.Version)
	if err := os.MkdirAll(e.opts.PrefixRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating prefix root: %w", err)
	}
	_, statErr := os.Stat(prefix)
	created := os.IsNotExist(statErr)
	if err := sandbox.SafeMkdirAll(e.opts.PrefixRoot, filepath.Join(rec.Name, rec.Version), 0755); err != nil {
		return nil, fmt.Errorf("creating prefix: %w", err)
	}
	removePrefix := func() {
		if created {
			_ = os.RemoveAll(prefix)
			sandbox.PruneEmptyDirs(e.opts.PrefixRoot, filepath.Dir(prefix))
		}
	}

	vars := Vars{
		Name:      rec.Name,
		Version:   rec.Version,
		Prefix:    prefix,
		SourceDir: srcDir,
		WorkDir:   workDir,
		Dep:       deps,
	}

	rctx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	log := e.logger.With("formula", rec.Name, "version", rec.Version, "run_id", runID)
	var pins []string
	for _, d := range rec.RuntimeDependencies() {
		pins = append(pins, d.Name+"="+deps[d.Name].Version)
	}
	log.Info("building", "prefix", prefix, "runtime", pins)

	if err := e.runRecipe(rctx, rec, vars); err != nil {
		removePrefix()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(rctx.Err(), context.DeadlineExceeded):
			return nil, &errs.TimeoutError{Formula: rec.Name, Operation: "build", Timeout: e.opts.Timeout, Err: rctx.Err()}
		}
		var be *errs.BuildError
		if errors.As(err, &be) {
			be.WorkDir = keptDir(keep, workDir)
		}
		log.Error("build failed", "error", err)
		return nil, err
	}

	paths, digests, err := e.ownedPaths(prefix)
	if err != nil {
		removePrefix()
		return nil, fmt.Errorf("collecting installed paths: %w", err)
	}
	if len(paths) == 0 {
		removePrefix()
		return nil, &errs.BuildError{Formula: rec.Name, Step: -1, Command: "install", WorkDir: keptDir(keep, workDir),
			Err: fmt.Errorf("recipe installed nothing into %s", prefix)}
	}

	next := ledger.Record{
		Name:        rec.Name,
		Version:     rec.Version,
		Prefix:      prefix,
		Paths:       paths,
		Digests:     digests,
		Checksum:    rec.Checksum.String(),
		RunID:       runID,
		InstalledAt: e.opts.Now().UTC(),
	}

	var stale []string
	err = e.ledger.Update(rec.Name, func(prev *ledger.Record) (*ledger.Record, error) {
		stale = nil
		if prev != nil {
			stale = ledger.StalePaths(*prev, next)
		}
		out := next
		return &out, nil
	})
	if err != nil {
		removePrefix()
		return nil, err
	}

	// The new record no longer lists stale paths, so a failed removal only
	// leaves an unowned file behind.
	var removed []string
	for _, p := range stale {
		if err := e.removeOwned(p); err != nil {
			log.Warn("could not remove replaced file", "path", p, "error", err)
			continue
		}
		removed = append(removed, p)
	}

	failed = false
	log.Info("installed", "paths", len(paths), "replaced", len(removed))
	return &Outcome{Record: next, Removed: removed}, nil
}

// Uninstall removes every path owned by name and then its record, under the
// per-name lock.
func (e *Executor) Uninstall(ctx context.Context, name string) (*ledger.Record, error) {
	release, err := e.ledger.Lock(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	var removed *ledger.Record
	err = e.ledger.Update(name, func(prev *ledger.Record) (*ledger.Record, error) {
		if prev == nil {
			return nil, fmt.Errorf("%s: %w", name, ErrNotInstalled)
		}
		for _, p := range prev.Paths {
			if err := e.removeOwned(p); err != nil {
				return nil, err
			}
		}
		sandbox.PruneEmptyDirs(e.opts.PrefixRoot, prev.Prefix)
		cp := *prev
		removed = &cp
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("uninstalled", "formula", name, "version", removed.Version, "paths", len(removed.Paths))
	return removed, nil
}

func (e *Executor) removeOwned(rel string) error {
	if err := sandbox.SafeRemove(e.opts.PrefixRoot, rel); err != nil {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	sandbox.PruneEmptyDirs(e.opts.PrefixRoot, filepath.Dir(filepath.Join(e.opts.PrefixRoot, rel)))
	return nil
}

// dependencyVars reads the ledger record of each declared dependency. The
// engine installs dependencies first, so a missing one is an ordering bug or
// a concurrent uninstall.
func (e *Executor) dependencyVars(rec formula.Record) (map[string]DepVars, error) {
	deps := make(map[string]DepVars, len(rec.Dependencies))
	for _, d := range rec.Dependencies {
		dr, ok, err := e.ledger.Get(d.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s: dependency %s is not installed", rec.Name, d.Name)
		}
		deps[d.Name] = DepVars{Version: dr.Version, Prefix: dr.Prefix, Runtime: d.Runtime}
	}
	return deps, nil
}

func (e *Executor) runRecipe(ctx context.Context, rec formula.Record, vars Vars) error {
	switch rec.Recipe.Kind {
	case formula.RecipeCommand:
		return e.runSteps(ctx, rec, vars)
	case formula.RecipeCopy:
		return e.runCopy(ctx, rec, vars)
	}
	return fmt.Errorf("%s: unknown recipe kind %q", rec.Name, rec.Recipe.Kind)
}

func (e *Executor) runSteps(ctx context.Context, rec formula.Record, vars Vars) error {
	depNames := make([]string, len(rec.Dependencies))
	for i, d := range rec.Dependencies {
		depNames[i] = d.Name
	}
	env := Environment(e.opts.Env, vars, depNames)

	for i, step := range rec.Recipe.Steps {
		argv, err := ExpandAll(step, vars)
		if err != nil {
			return &errs.BuildError{Formula: rec.Name, Step: i, Command: strings.Join(step, " "), Err: err}
		}
		cmdline := strings.Join(argv, " ")
		e.logger.Debug("running step", "formula", rec.Name, "step", i+1, "command", cmdline)

		output, err := e.opts.Runner.Run(ctx, Command{Argv: argv, Dir: vars.SourceDir, Env: env})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			be := &errs.BuildError{Formula: rec.Name, Step: i, Command: cmdline, Output: string(output), Err: err}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				be.ExitCode = exitErr.ExitCode()
				be.Err = nil
			}
			return be
		}
	}
	return nil
}

func (e *Executor) runCopy(ctx context.Context, rec formula.Record, vars Vars) error {
	for i, entry := range rec.Recipe.Copy {
		if err := ctx.Err(); err != nil {
			return err
		}
		to, err := Expand(entry.To, vars)
		if err != nil {
			return &errs.BuildError{Formula: rec.Name, Step: i, Command: "copy " + entry.From, Err: err}
		}
		if filepath.IsAbs(to) {
			if to, err = filepath.Rel(vars.Prefix, to); err != nil {
				return &errs.BuildError{Formula: rec.Name, Step: i, Command: "copy " + entry.From, Err: err}
			}
		}
		if err := copyEntry(vars.SourceDir, vars.Prefix, entry.From, to); err != nil {
			return &errs.BuildError{Formula: rec.Name, Step: i, Command: "copy " + entry.From + " " + entry.To, Err: err}
		}
	}
	return nil
}

// copyEntry copies every match of pattern (relative to srcDir) into dir
// (relative to prefix). Matched directories are copied recursively.
func copyEntry(srcDir, prefix, pattern, dir string) error {
	matches, err := filepath.Glob(filepath.Join(srcDir, pattern))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no files match %q", pattern)
	}
	for _, m := range matches {
		if _, err := sandbox.ValidatePath(srcDir, mustRel(srcDir, m)); err != nil {
			return err
		}
		base := filepath.Base(m)
		err := filepath.WalkDir(m, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel := filepath.Join(dir, base, mustRel(m, p))
			return sandbox.SafeCopy(prefix, rel, p, info.Mode().Perm())
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func mustRel(base, p string) string {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return p
	}
	return rel
}

// ownedPaths lists every non-directory entry under prefix, relative to the
// prefix root, with the sha256 of each regular file.
func (e *Executor) ownedPaths(prefix string) ([]string, map[string]string, error) {
	var paths []string
	digests := make(map[string]string)
	err := filepath.WalkDir(prefix, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.opts.PrefixRoot, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		paths = append(paths, rel)
		if d.Type().IsRegular() {
			sum, err := digest.File(digest.SHA256, p)
			if err != nil {
				return err
			}
			digests[rel] = sum
		}
		return nil
	})
	return paths, digests, err
}

func keptDir(keep bool, dir string) string {
	if keep {
		return dir
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// PrefixRoot returns the absolute directory holding all prefixes.
func (e *Executor) PrefixRoot() string {
	return e.opts.PrefixRoot
}
