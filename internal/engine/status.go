package engine

import (
	"context"

	"github.com/bianoble/formulary/internal/version"
)

// Status returns the state of every installed formula relative to the store.
func (e *Engine) Status(ctx context.Context) ([]FormulaStatus, error) {
	recs, err := e.Ledger.List()
	if err != nil {
		return nil, err
	}

	statuses := make([]FormulaStatus, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := FormulaStatus{
			Name:        rec.Name,
			Installed:   rec.Version,
			Prefix:      rec.Prefix,
			InstalledAt: rec.InstalledAt,
		}

		f, err := e.Store.Get(rec.Name)
		switch {
		case err != nil:
			s.State = "orphaned"
		case version.Compare(rec.Version, f.Version) < 0:
			s.Available = f.Version
			s.State = "outdated"
		default:
			s.Available = f.Version
			s.State = "up to date"
		}

		statuses = append(statuses, s)
	}

	return statuses, nil
}
