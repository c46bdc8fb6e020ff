package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a blocked file lock is retried.
const lockRetryDelay = 50 * time.Millisecond

// Locker hands out per-name locks. Within a process a one-slot semaphore per
// name serializes goroutines; when dir is set a flock file per name extends
// the exclusion to other processes sharing the same ledger.
type Locker struct {
	dir string

	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewLocker creates a Locker. An empty dir disables cross-process locking.
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir, sems: make(map[string]chan struct{})}
}

func (l *Locker) sem(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[name]
	if !ok {
		s = make(chan struct{}, 1)
		l.sems[name] = s
	}
	return s
}

// Lock blocks until the lock for name is held or ctx is done.
func (l *Locker) Lock(ctx context.Context, name string) (func(), error) {
	s := l.sem(name)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if l.dir == "" {
		return sync.OnceFunc(func() { <-s }), nil
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		<-s
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(l.dir, lockFileName(name)))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		<-s
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("acquiring lock for %s: %w", name, err)
	}

	return sync.OnceFunc(func() {
		_ = fl.Unlock()
		<-s
	}), nil
}

func lockFileName(name string) string {
	return strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(name) + ".lock"
}
