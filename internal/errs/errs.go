// Package errs defines the error taxonomy shared by the resolver, fetcher,
// executor and engine. Every error carries the formula it concerns so callers
// can report partial failures per formula.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an error for reporting and exit codes.
type Kind string

const (
	KindNotFound  Kind = "not_found"
	KindCycle     Kind = "cyclic_dependency"
	KindConflict  Kind = "version_conflict"
	KindFetch     Kind = "fetch"
	KindIntegrity Kind = "integrity"
	KindBuild     Kind = "build"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
	KindOther     Kind = "other"
)

// NotFoundError reports an unknown formula name.
type NotFoundError struct {
	Name       string
	RequiredBy string // empty for the requested formula itself
}

func (e *NotFoundError) Error() string {
	if e.RequiredBy != "" {
		return fmt.Sprintf("formula '%s' not found (required by '%s')", e.Name, e.RequiredBy)
	}
	return fmt.Sprintf("formula '%s' not found", e.Name)
}

// CyclicDependencyError reports a dependency cycle. Cycle starts and ends
// with the same name.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

// Requirement is one version constraint placed on a formula by a dependent.
type Requirement struct {
	Constraint string
	RequiredBy string // empty for the top-level request
}

func (r Requirement) String() string {
	c := r.Constraint
	if c == "" {
		c = "*"
	}
	if r.RequiredBy == "" {
		return c + " (requested)"
	}
	return c + " (from " + r.RequiredBy + ")"
}

// VersionConflictError reports constraints the available version cannot
// satisfy together.
type VersionConflictError struct {
	Name         string
	Available    string
	Requirements []Requirement
}

func (e *VersionConflictError) Error() string {
	parts := make([]string, len(e.Requirements))
	for i, r := range e.Requirements {
		parts[i] = r.String()
	}
	return fmt.Sprintf("version conflict for '%s': available %s does not satisfy %s",
		e.Name, e.Available, strings.Join(parts, ", "))
}

// FetchError reports a transport failure. Retryable marks failures worth
// another attempt (connection errors, HTTP 429 and 5xx).
type FetchError struct {
	Formula   string
	URL       string
	Attempts  int
	Retryable bool
	Err       error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: fetching %s failed", e.Formula, e.URL)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	return msg + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntegrityError reports a checksum mismatch. It is never retried.
type IntegrityError struct {
	Formula   string
	Algorithm string
	Expected  string
	Actual    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: checksum mismatch: expected %s:%s, got %s:%s",
		e.Formula, e.Algorithm, e.Expected, e.Algorithm, e.Actual)
}

// BuildError reports a failed recipe step with its captured output.
type BuildError struct {
	Formula  string
	Step     int // zero-based recipe step; -1 outside the recipe
	Command  string
	ExitCode int
	Output   string
	WorkDir  string // set when the working directory was kept for diagnosis
	Err      error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s: build step %d (%s) failed", e.Formula, e.Step+1, e.Command)
	if e.Step < 0 {
		msg = fmt.Sprintf("%s: %s failed", e.Formula, e.Command)
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Formula   string
	Operation string // "fetch" or "build"
	Timeout   time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", e.Formula, e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// KindOf classifies err by walking its wrap chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		nf *NotFoundError
		cy *CyclicDependencyError
		vc *VersionConflictError
		ie *IntegrityError
		te *TimeoutError
		be *BuildError
		fe *FetchError
	)
	switch {
	case errors.As(err, &nf):
		return KindNotFound
	case errors.As(err, &cy):
		return KindCycle
	case errors.As(err, &vc):
		return KindConflict
	case errors.As(err, &ie):
		return KindIntegrity
	case errors.As(err, &te):
		return KindTimeout
	case errors.As(err, &be):
		return KindBuild
	case errors.As(err, &fe):
		return KindFetch
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return KindOther
}

// AbortsPlan reports whether err must stop the whole installation request
// rather than only the formula it concerns.
func AbortsPlan(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindCycle, KindConflict, KindIntegrity, KindCanceled:
		return true
	}
	return false
}
