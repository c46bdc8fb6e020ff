package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/bianoble/formulary/internal/errs"
	"github.com/bianoble/formulary/internal/formula"
)

// PlanResult holds the per-formula outcome of fetching a plan.
type PlanResult struct {
	Artifacts map[string]*Artifact
	Failed    map[string]error
}

// Cleanup removes every artifact in the result.
func (r *PlanResult) Cleanup() {
	for _, a := range r.Artifacts {
		_ = a.Remove()
	}
}

// FetchPlan fetches records concurrently (at most parallelism at a time;
// 0 means unbounded). Transient failures are recorded per formula; integrity
// errors and cancellation abort the whole plan, cancel in-flight downloads
// and discard anything already fetched.
func (f *Fetcher) FetchPlan(ctx context.Context, records []formula.Record, parallelism int) (*PlanResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}

	arts := make([]*Artifact, len(records))
	fails := make([]error, len(records))
	for i, rec := range records {
		g.Go(func() error {
			art, err := f.Fetch(gctx, rec)
			if err != nil {
				if errs.AbortsPlan(err) {
					return err
				}
				fails[i] = err
				return nil
			}
			arts[i] = art
			return nil
		})
	}

	res := &PlanResult{
		Artifacts: make(map[string]*Artifact),
		Failed:    make(map[string]error),
	}
	waitErr := g.Wait()
	for i, rec := range records {
		if arts[i] != nil {
			res.Artifacts[rec.Name] = arts[i]
		}
		if fails[i] != nil {
			res.Failed[rec.Name] = fails[i]
		}
	}
	if waitErr != nil {
		res.Cleanup()
		return nil, waitErr
	}
	return res, nil
}
