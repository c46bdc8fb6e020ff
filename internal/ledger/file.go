package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// File is the on-disk format of the YAML ledger.
type File struct {
	Installs []Record `yaml:"installs"`
	Version  int      `yaml:"version"`
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a ledger file for semantic correctness.
// Returns a list of validation error messages (empty if valid).
func Validate(f *File) []string {
	var errs []string

	if f.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version 1 is supported", f.Version))
	}

	names := make(map[string]bool)
	for i, rec := range f.Installs {
		prefix := fmt.Sprintf("install[%d]", i)
		if rec.Name != "" {
			prefix = fmt.Sprintf("install '%s'", rec.Name)
		}

		if rec.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
		} else if names[rec.Name] {
			errs = append(errs, fmt.Sprintf("%s: duplicate install record", prefix))
		} else {
			names[rec.Name] = true
		}

		if rec.Version == "" {
			errs = append(errs, fmt.Sprintf("%s: 'version' is required", prefix))
		}
		if rec.Prefix == "" {
			errs = append(errs, fmt.Sprintf("%s: 'prefix' is required", prefix))
		}
	}

	return errs
}

// LoadFile reads and validates a ledger file. A missing file is an empty
// ledger.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &File{Version: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", path, err)
	}

	if errs := Validate(&f); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &f, nil
}

// SaveFile writes a ledger file atomically using a temp file and rename.
func SaveFile(path string, f *File) error {
	sort.Slice(f.Installs, func(i, j int) bool { return f.Installs[i].Name < f.Installs[j].Name })

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp ledger %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp ledger to %s: %w", path, err)
	}

	return nil
}

// FileLedger keeps every record in a single YAML file. Each mutation holds an
// exclusive flock on "<path>.lock" for its whole read-modify-write cycle.
type FileLedger struct {
	path   string
	flock  *flock.Flock
	mu     sync.Mutex
	locker *Locker
}

// OpenFile opens a YAML ledger at path, validating any existing content.
func OpenFile(path string) (*FileLedger, error) {
	if _, err := LoadFile(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &FileLedger{
		path:   path,
		flock:  flock.New(path + ".lock"),
		locker: NewLocker(filepath.Join(filepath.Dir(path), "locks")),
	}, nil
}

func (l *FileLedger) Get(name string) (Record, bool, error) {
	f, err := LoadFile(l.path)
	if err != nil {
		return Record{}, false, err
	}
	for _, rec := range f.Installs {
		if rec.Name == name {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (l *FileLedger) List() ([]Record, error) {
	f, err := LoadFile(l.path)
	if err != nil {
		return nil, err
	}
	sort.Slice(f.Installs, func(i, j int) bool { return f.Installs[i].Name < f.Installs[j].Name })
	return f.Installs, nil
}

func (l *FileLedger) Record(rec Record) error {
	if rec.Name == "" {
		return errors.New("ledger record requires a name")
	}
	return l.Update(rec.Name, func(*Record) (*Record, error) { return &rec, nil })
}

func (l *FileLedger) Remove(name string) error {
	return l.Update(name, func(*Record) (*Record, error) { return nil, nil })
}

func (l *FileLedger) Update(name string, fn UpdateFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("locking ledger %s: %w", l.path, err)
	}
	defer func() { _ = l.flock.Unlock() }()

	f, err := LoadFile(l.path)
	if err != nil {
		return err
	}

	idx := -1
	var prev *Record
	for i := range f.Installs {
		if f.Installs[i].Name == name {
			idx = i
			cp := f.Installs[i]
			prev = &cp
			break
		}
	}

	next, err := fn(prev)
	if err != nil {
		return err
	}

	switch {
	case next == nil && idx < 0:
		return nil
	case next == nil:
		f.Installs = append(f.Installs[:idx], f.Installs[idx+1:]...)
	default:
		if next.Name != name {
			return fmt.Errorf("update for %s returned record named %s", name, next.Name)
		}
		normalize(next)
		if idx < 0 {
			f.Installs = append(f.Installs, *next)
		} else {
			f.Installs[idx] = *next
		}
	}

	return SaveFile(l.path, f)
}

func (l *FileLedger) Lock(ctx context.Context, name string) (func(), error) {
	return l.locker.Lock(ctx, name)
}

func (l *FileLedger) Close() error {
	return l.flock.Close()
}
