package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/bianoble/formulary/internal/digest"
)

// Check verifies that every path owned by the named installed formulas (all
// of them when names is empty) is still on disk with the content it was
// installed with. Returns Clean=true if nothing drifted.
func (e *Engine) Check(ctx context.Context, names []string) (*CheckResult, error) {
	result := &CheckResult{Clean: true}

	recs, err := e.Ledger.List()
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	root := e.Executor.PrefixRoot()

	for _, rec := range recs {
		if len(names) > 0 && !wanted[rec.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		delete(wanted, rec.Name)
		result.Checked = append(result.Checked, rec.Name)

		for _, p := range rec.Paths {
			full := filepath.Join(root, filepath.FromSlash(p))
			if _, err := os.Lstat(full); os.IsNotExist(err) {
				result.Missing = append(result.Missing, DriftEntry{Formula: rec.Name, Path: p})
				result.Clean = false
				continue
			}
			want, ok := rec.Digests[p]
			if !ok {
				continue
			}
			if got, err := digest.File(digest.SHA256, full); err != nil || got != want {
				result.Modified = append(result.Modified, DriftEntry{Formula: rec.Name, Path: p})
				result.Clean = false
			}
		}

		if f, err := e.Store.Get(rec.Name); err == nil && f.Version == rec.Version &&
			rec.Checksum != "" && f.Checksum.String() != rec.Checksum {
			result.Changed = append(result.Changed, rec.Name)
			result.Clean = false
		}
	}

	for n := range wanted {
		result.NotInstalled = append(result.NotInstalled, n)
		result.Clean = false
	}
	sort.Strings(result.NotInstalled)

	return result, nil
}
