package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/bianoble/formulary/internal/resolve"
)

// FormulaAction represents what an install did to a single formula.
type FormulaAction struct {
	Name     string
	Version  string
	Previous string // installed version before the action, if any
	Action   string // "installed", "upgraded", "reinstalled", "unchanged"
	Prefix   string
	Paths    int
}

// FormulaError represents an error associated with a specific formula.
type FormulaError struct {
	Formula string
	Err     error

	// Artifact is the retained source archive of a failed build.
	Artifact string
}

func (e FormulaError) Error() string {
	return e.Formula + ": " + e.Err.Error()
}

func (e FormulaError) Unwrap() error {
	return e.Err
}

// InstallResult holds the outcome of an install request. On partial failure
// it lists what succeeded alongside what failed or was skipped.
type InstallResult struct {
	RunID     string
	Plan      *resolve.Plan
	Installed []FormulaAction
	Unchanged []FormulaAction
	Failed    []FormulaError
	Skipped   []FormulaError // not attempted because a dependency failed
}

// OK reports whether every planned formula is installed.
func (r *InstallResult) OK() bool {
	return len(r.Failed) == 0 && len(r.Skipped) == 0
}

// UninstallResult holds the outcome of an uninstall.
type UninstallResult struct {
	Name    string
	Version string
	Removed int
}

// DependentsError reports an uninstall refused because installed formulas
// still depend on the target.
type DependentsError struct {
	Name       string
	Dependents []string
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("'%s' is required by installed %s (use --force to remove anyway)",
		e.Name, strings.Join(e.Dependents, ", "))
}

// DriftEntry names an owned path that is missing or no longer matches its
// recorded digest.
type DriftEntry struct {
	Formula string
	Path    string
}

// CheckResult holds the outcome of a check operation.
type CheckResult struct {
	Clean   bool
	Checked []string
	Missing []DriftEntry

	// Modified lists owned files whose content differs from the digest
	// recorded at install time.
	Modified []DriftEntry

	// Changed lists formulas whose store checksum differs from the one they
	// were installed from at the same version.
	Changed []string

	// NotInstalled lists requested names with no ledger record.
	NotInstalled []string
}

// FormulaStatus describes one installed formula against the store.
type FormulaStatus struct {
	Name        string
	Installed   string
	Available   string
	State       string // "up to date", "outdated", "orphaned"
	Prefix      string
	InstalledAt time.Time
}
