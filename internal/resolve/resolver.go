// Package resolve turns a requested formula into an ordered install plan:
// its dependency closure, dependencies first, minus whatever is already
// installed at an acceptable version.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bianoble/formulary/internal/errs"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/ledger"
	"github.com/bianoble/formulary/internal/metrics"
	"github.com/bianoble/formulary/internal/version"
)

// Installed is the read side of the ledger the resolver consults.
type Installed interface {
	Get(name string) (ledger.Record, bool, error)
	List() ([]ledger.Record, error)
}

// Options tunes a resolution.
type Options struct {
	// IgnoreInstalled plans every dependency even when an acceptable
	// version is already installed.
	IgnoreInstalled bool
}

// Step is one formula to install.
type Step struct {
	Record formula.Record

	// Current is the installed version, empty when not installed.
	Current string
}

// Action describes what installing the step does.
func (s Step) Action() string {
	switch {
	case s.Current == "":
		return "install"
	case s.Current == s.Record.Version:
		return "reinstall"
	}
	return "upgrade"
}

// Satisfied is a dependency skipped because its installed version already
// meets every constraint placed on it.
type Satisfied struct {
	Name    string
	Version string
}

// Plan is an install order. Steps are topologically sorted: every step comes
// after the steps it depends on, and the requested formula is last.
type Plan struct {
	Root      string
	Steps     []Step
	Satisfied []Satisfied
}

// Names returns the step names in order.
func (p *Plan) Names() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Record.Name
	}
	return out
}

// Records returns the step records in order.
func (p *Plan) Records() []formula.Record {
	out := make([]formula.Record, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Record
	}
	return out
}

// Resolver builds plans from a formula store and the installed set.
type Resolver struct {
	store     *formula.Store
	installed Installed
}

// New creates a Resolver. installed may be nil, in which case nothing counts
// as installed.
func New(store *formula.Store, installed Installed) *Resolver {
	return &Resolver{store: store, installed: installed}
}

// Resolve plans the installation of name. constraint restricts the version
// of the requested formula itself ("" accepts any).
func (r *Resolver) Resolve(ctx context.Context, name, constraint string, opts Options) (*Plan, error) {
	if _, err := version.Parse(constraint); err != nil {
		return nil, err
	}

	// A dependency skipped as installed may later be rejected by another
	// dependent's constraint. The walk then restarts with that dependency
	// always expanded, so it is planned before everything that needs it.
	expand := make(map[string]bool)
	var w *walker
	for {
		w = &walker{
			resolver:  r,
			opts:      opts,
			expand:    expand,
			state:     make(map[string]visitState),
			reqs:      make(map[string][]errs.Requirement),
			satisfied: make(map[string]ledger.Record),
		}
		err := w.visit(ctx, name, errs.Requirement{Constraint: constraint})
		var rs *restart
		if errors.As(err, &rs) {
			expand[rs.name] = true
			continue
		}
		if err != nil {
			metrics.ResolveFailures.WithLabelValues(string(errs.KindOf(err))).Inc()
			return nil, err
		}
		break
	}

	plan := &Plan{Root: name, Steps: w.order}
	for n, rec := range w.satisfied {
		plan.Satisfied = append(plan.Satisfied, Satisfied{Name: n, Version: rec.Version})
	}
	sort.Slice(plan.Satisfied, func(i, j int) bool { return plan.Satisfied[i].Name < plan.Satisfied[j].Name })
	return plan, nil
}

// restart aborts a walk whose short-circuit for name turned out wrong.
type restart struct {
	name string
}

func (r *restart) Error() string { return "re-resolving " + r.name }

type visitState int

const (
	unvisited visitState = iota
	inProgress
	done
	satisfied
)

type walker struct {
	resolver *Resolver
	opts     Options
	expand   map[string]bool

	state     map[string]visitState
	reqs      map[string][]errs.Requirement
	satisfied map[string]ledger.Record
	stack     []string
	order     []Step
}

func (w *walker) visit(ctx context.Context, name string, req errs.Requirement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.reqs[name] = append(w.reqs[name], req)

	switch w.state[name] {
	case inProgress:
		return &errs.CyclicDependencyError{Cycle: w.cycleTo(name)}

	case done:
		rec, err := w.resolver.store.Get(name)
		if err != nil {
			return err
		}
		return w.checkAvailable(rec)

	case satisfied:
		ok, err := satisfiesAll(w.satisfied[name].Version, w.reqs[name])
		if err != nil || ok {
			return err
		}
		return &restart{name: name}
	}

	rec, err := w.resolver.store.Get(name)
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) && nf.RequiredBy == "" {
			nf.RequiredBy = req.RequiredBy
		}
		return err
	}

	current, installed, err := w.installedVersion(name)
	if err != nil {
		return err
	}

	isRoot := len(w.stack) == 0
	if installed && !isRoot && !w.opts.IgnoreInstalled && !w.expand[name] {
		ok, err := satisfiesAll(current.Version, w.reqs[name])
		if err != nil {
			return err
		}
		if ok {
			w.state[name] = satisfied
			w.satisfied[name] = current
			return nil
		}
	}

	if err := w.checkAvailable(rec); err != nil {
		return err
	}

	w.state[name] = inProgress
	w.stack = append(w.stack, name)
	for _, dep := range rec.Dependencies {
		if err := w.visit(ctx, dep.Name, errs.Requirement{Constraint: dep.Constraint, RequiredBy: name}); err != nil {
			return err
		}
	}
	w.stack = w.stack[:len(w.stack)-1]
	w.state[name] = done

	step := Step{Record: rec}
	if installed {
		step.Current = current.Version
	}
	w.order = append(w.order, step)
	return nil
}

func (w *walker) installedVersion(name string) (ledger.Record, bool, error) {
	if w.resolver.installed == nil {
		return ledger.Record{}, false, nil
	}
	rec, ok, err := w.resolver.installed.Get(name)
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("reading installed state of %s: %w", name, err)
	}
	return rec, ok, nil
}

// checkAvailable verifies the store's version of rec against every
// requirement collected so far.
func (w *walker) checkAvailable(rec formula.Record) error {
	ok, err := satisfiesAll(rec.Version, w.reqs[rec.Name])
	if err != nil {
		return err
	}
	if !ok {
		return &errs.VersionConflictError{
			Name:         rec.Name,
			Available:    rec.Version,
			Requirements: append([]errs.Requirement(nil), w.reqs[rec.Name]...),
		}
	}
	return nil
}

// cycleTo returns the stack suffix starting at name, closed with name again.
func (w *walker) cycleTo(name string) []string {
	for i, n := range w.stack {
		if n == name {
			cycle := append([]string(nil), w.stack[i:]...)
			return append(cycle, name)
		}
	}
	return []string{name, name}
}

func satisfiesAll(v string, reqs []errs.Requirement) (bool, error) {
	for _, r := range reqs {
		c, err := version.Parse(r.Constraint)
		if err != nil {
			return false, err
		}
		if !c.Check(v) {
			return false, nil
		}
	}
	return true, nil
}

// Dependents returns the installed formulas whose store record declares a
// dependency on name, sorted. Installed formulas no longer in the store are
// not considered.
func (r *Resolver) Dependents(name string) ([]string, error) {
	if r.installed == nil {
		return nil, nil
	}
	recs, err := r.installed.List()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, inst := range recs {
		if inst.Name == name {
			continue
		}
		f, err := r.store.Get(inst.Name)
		if err != nil {
			continue
		}
		for _, d := range f.Dependencies {
			if d.Name == name {
				out = append(out, inst.Name)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
