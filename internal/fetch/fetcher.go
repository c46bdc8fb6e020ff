// Package fetch downloads formula source archives and verifies them against
// their declared checksums before anything else may use them.
package fetch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/bianoble/formulary/internal/cache"
	"github.com/bianoble/formulary/internal/digest"
	"github.com/bianoble/formulary/internal/errs"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/metrics"
	"github.com/bianoble/formulary/internal/sandbox"
)

// Artifact is a verified source archive on local disk.
type Artifact struct {
	Formula   string
	Path      string
	Checksum  formula.Checksum
	Verified  bool
	Size      int64
	FromCache bool

	dir string // scoped directory owned by this artifact
}

// Remove deletes the artifact's scoped directory. The cache object a
// FromCache artifact was copied from is left in place.
func (a *Artifact) Remove() error {
	if a == nil || a.dir == "" {
		return nil
	}
	return os.RemoveAll(a.dir)
}

// Options configures a Fetcher. Zero values pick the defaults noted per field.
type Options struct {
	// WorkDir is the parent of scoped download directories (default os.TempDir()).
	WorkDir string

	// Timeout bounds one Fetch across all attempts (0 = no limit beyond ctx).
	Timeout time.Duration

	// MaxAttempts bounds retries of transient failures (default 3).
	MaxAttempts int

	// InitialBackoff and MaxBackoff shape the exponential backoff
	// (defaults 500ms and 10s).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxSize rejects archives larger than this many bytes (0 = no limit).
	MaxSize int64

	// RateLimit caps download starts per second (0 = unlimited).
	RateLimit float64

	// Cache stores verified archives across runs (optional).
	Cache *cache.Cache

	Logger *slog.Logger
}

// Fetcher retrieves and verifies archives. Within one Fetcher, re-fetching an
// already verified artifact returns the memoized result, and concurrent
// requests for the same artifact share one download.
type Fetcher struct {
	registry *Registry
	opts     Options
	limiter  *rate.Limiter
	logger   *slog.Logger
	group    singleflight.Group

	mu   sync.Mutex
	done map[string]*Artifact
}

// New creates a Fetcher using the transports in reg.
func New(reg *Registry, opts Options) *Fetcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fetcher{
		registry: reg,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		done:     make(map[string]*Artifact),
	}
}

// Fetch downloads rec's source archive, verifies its checksum and returns the
// artifact. A mismatch yields *errs.IntegrityError and leaves no file behind.
func (f *Fetcher) Fetch(ctx context.Context, rec formula.Record) (*Artifact, error) {
	key := rec.Name + "@" + rec.Checksum.String()
	if art := f.memoized(key); art != nil {
		return art, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		if art := f.memoized(key); art != nil {
			return art, nil
		}
		art, err := f.fetch(ctx, rec)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.done[key] = art
		f.mu.Unlock()
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func (f *Fetcher) memoized(key string) *Artifact {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.done[key]
	if !ok {
		return nil
	}
	if _, err := os.Stat(art.Path); err != nil {
		// Consumed (removed after install); fetch again.
		delete(f.done, key)
		return nil
	}
	return art
}

func (f *Fetcher) fetch(ctx context.Context, rec formula.Record) (*Artifact, error) {
	if rec.Checksum.IsZero() {
		return nil, fmt.Errorf("%s: no checksum declared, refusing to fetch unverifiable source", rec.Name)
	}

	u, err := url.Parse(rec.SourceURL)
	if err != nil {
		return nil, &errs.FetchError{Formula: rec.Name, URL: rec.SourceURL, Err: fmt.Errorf("parsing url: %w", err)}
	}
	transport, err := f.registry.Get(u.Scheme)
	if err != nil {
		return nil, &errs.FetchError{Formula: rec.Name, URL: rec.SourceURL, Err: err}
	}

	if f.opts.Cache != nil {
		p, ok, err := f.opts.Cache.Lookup(rec.Checksum.Algorithm, rec.Checksum.Digest)
		if err != nil {
			f.logger.Warn("cache lookup failed", "formula", rec.Name, "error", err)
		} else if ok {
			art, err := f.fromCache(rec, u, p)
			if err == nil {
				metrics.FetchAttempts.WithLabelValues("cached").Inc()
				f.logger.Debug("using cached archive", "formula", rec.Name, "path", p)
				return art, nil
			}
			f.logger.Warn("reading cached archive failed", "formula", rec.Name, "error", err)
		}
	}

	tctx := ctx
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	b.MaxInterval = f.opts.MaxBackoff

	attempts := 0
	op := func() (*Artifact, error) {
		attempts++
		if err := f.limiter.Wait(tctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		art, err := f.download(tctx, rec, u, transport)
		if err == nil {
			return art, nil
		}
		if tctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		var ie *errs.IntegrityError
		if errors.As(err, &ie) {
			metrics.FetchAttempts.WithLabelValues("integrity").Inc()
			return nil, backoff.Permanent(err)
		}
		var fe *errs.FetchError
		if errors.As(err, &fe) && !fe.Retryable {
			metrics.FetchAttempts.WithLabelValues("error").Inc()
			return nil, backoff.Permanent(err)
		}
		metrics.FetchAttempts.WithLabelValues("retry").Inc()
		return nil, err
	}

	art, err := backoff.Retry(tctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Warn("fetch attempt failed, retrying",
				"formula", rec.Name, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, &errs.TimeoutError{Formula: rec.Name, Operation: "fetch", Timeout: f.opts.Timeout, Err: tctx.Err()}
		}
		var ie *errs.IntegrityError
		if errors.As(err, &ie) {
			return nil, ie
		}
		var fe *errs.FetchError
		if errors.As(err, &fe) {
			fe.Attempts = attempts
			return nil, fe
		}
		return nil, &errs.FetchError{Formula: rec.Name, URL: rec.SourceURL, Attempts: attempts, Err: err}
	}

	metrics.FetchAttempts.WithLabelValues("ok").Inc()
	f.logger.Info("fetched and verified archive",
		"formula", rec.Name, "bytes", art.Size, "checksum", rec.Checksum.String(), "attempts", attempts)

	if f.opts.Cache != nil {
		if err := f.opts.Cache.Put(rec.Checksum.Algorithm, rec.Checksum.Digest, art.Path); err != nil {
			f.logger.Warn("caching archive failed", "formula", rec.Name, "error", err)
		}
	}
	return art, nil
}

// download performs one attempt into a fresh scoped directory. On any error
// the directory is removed, so a partial or unverified file never survives.
func (f *Fetcher) download(ctx context.Context, rec formula.Record, u *url.URL, transport Transport) (*Artifact, error) {
	h, err := digest.New(rec.Checksum.Algorithm)
	if err != nil {
		return nil, &errs.FetchError{Formula: rec.Name, URL: rec.SourceURL, Err: err}
	}

	if f.opts.WorkDir != "" {
		if err := os.MkdirAll(f.opts.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("creating fetch directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(f.opts.WorkDir, "fetch-"+rec.Name+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating fetch directory: %w", err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(dir)
		}
	}()

	rc, err := transport.Open(ctx, u)
	if err != nil {
		return nil, &errs.FetchError{Formula: rec.Name, URL: rec.SourceURL, Retryable: retryable(err), Err: err}
	}
	defer rc.Close()

	dest := filepath.Join(dir, archiveName(rec, u))
	out, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dest, err)
	}

	var body io.Reader = rc
	if f.opts.MaxSize > 0 {
		body = io.LimitReader(rc, f.opts.MaxSize+1)
	}
	n, copyErr := io.Copy(io.MultiWriter(out, h), body)
	closeErr := out.Close()
	metrics.FetchBytes.Add(float64(n))

	if copyErr != nil {
		return nil, &errs.FetchError{Formula: rec.Name, URL: rec.SourceURL, Retryable: retryable(copyErr), Err: fmt.Errorf("reading response: %w", copyErr)}
	}
	if closeErr != nil {
		return nil, fmt.Errorf("writing %s: %w", dest, closeErr)
	}
	if f.opts.MaxSize > 0 && n > f.opts.MaxSize {
		return nil, &errs.FetchError{Formula: rec.Name, URL: rec.SourceURL, Err: fmt.Errorf("archive exceeds max size %d bytes", f.opts.MaxSize)}
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != rec.Checksum.Digest {
		return nil, &errs.IntegrityError{
			Formula:   rec.Name,
			Algorithm: rec.Checksum.Algorithm,
			Expected:  rec.Checksum.Digest,
			Actual:    actual,
		}
	}

	keep = true
	return &Artifact{
		Formula:  rec.Name,
		Path:     dest,
		Checksum: rec.Checksum,
		Verified: true,
		Size:     n,
		dir:      dir,
	}, nil
}

// fromCache copies a cache object into a scoped directory under the
// archive's own file name, which the extractor needs to detect the format.
func (f *Fetcher) fromCache(rec formula.Record, u *url.URL, object string) (*Artifact, error) {
	if f.opts.WorkDir != "" {
		if err := os.MkdirAll(f.opts.WorkDir, 0755); err != nil {
			return nil, fmt.Errorf("creating fetch directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(f.opts.WorkDir, "fetch-"+rec.Name+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating fetch directory: %w", err)
	}
	name := archiveName(rec, u)
	if err := sandbox.SafeCopy(dir, name, object, 0644); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	info, err := os.Stat(filepath.Join(dir, name))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return &Artifact{
		Formula:   rec.Name,
		Path:      filepath.Join(dir, name),
		Checksum:  rec.Checksum,
		Verified:  true,
		Size:      info.Size(),
		FromCache: true,
		dir:       dir,
	}, nil
}

// archiveName keeps the URL's file name, which carries the extension the
// extractor relies on.
func archiveName(rec formula.Record, u *url.URL) string {
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return rec.Name + "-" + rec.Version
	}
	return name
}
