// Package ledger persists what is installed: which formula, at which version,
// owning which paths. Every mutation is transactional, so a crash leaves
// either the previous record or the new one, never a mix.
package ledger

import (
	"context"
	"sort"
	"time"
)

// Record is one installation. At most one Record exists per formula name.
type Record struct {
	Name        string    `json:"name" yaml:"name"`
	Version     string    `json:"version" yaml:"version"`
	Prefix      string    `json:"prefix" yaml:"prefix"`
	Paths       []string  `json:"paths" yaml:"paths"`
	Checksum    string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	RunID       string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	InstalledAt time.Time `json:"installed_at" yaml:"installed_at"`

	// Digests maps each regular file in Paths to its sha256 at install time.
	Digests map[string]string `json:"digests,omitempty" yaml:"digests,omitempty"`
}

// PathSet returns the owned paths as a set.
func (r Record) PathSet() map[string]bool {
	set := make(map[string]bool, len(r.Paths))
	for _, p := range r.Paths {
		set[p] = true
	}
	return set
}

// StalePaths returns the paths prev owns that next does not, sorted.
func StalePaths(prev, next Record) []string {
	keep := next.PathSet()
	var stale []string
	for _, p := range prev.Paths {
		if !keep[p] {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	return stale
}

// UpdateFunc receives the current record (nil when absent) and returns the
// record to store, or nil to delete it. Returning an error aborts the
// update and leaves the ledger unchanged.
type UpdateFunc func(prev *Record) (*Record, error)

// Ledger is the durable installation store.
type Ledger interface {
	// Get returns the record for name and whether it exists.
	Get(name string) (Record, bool, error)

	// List returns every record sorted by name.
	List() ([]Record, error)

	// Record stores rec, replacing any previous record for rec.Name.
	Record(rec Record) error

	// Remove deletes the record for name. Removing a missing record is not
	// an error.
	Remove(name string) error

	// Update atomically reads, transforms and writes the record for name.
	Update(name string, fn UpdateFunc) error

	// Lock serializes installs of one formula name across goroutines and
	// processes. The returned function releases the lock.
	Lock(ctx context.Context, name string) (func(), error)

	Close() error
}

func normalize(rec *Record) {
	sort.Strings(rec.Paths)
	rec.Paths = compact(rec.Paths)
}

func compact(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, p := range sorted[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
