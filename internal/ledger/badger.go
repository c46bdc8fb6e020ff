package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
)

const (
	keyPrefix = "install/"

	// maxConflictRetries bounds retries of a transaction that lost an
	// optimistic-concurrency race.
	maxConflictRetries = 8
)

// BadgerConfig holds configuration for the BadgerDB-backed ledger.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the ledger in memory only. Useful for testing.
	InMemory bool

	// SyncWrites fsyncs every commit. Default for on-disk ledgers.
	SyncWrites bool

	// LockDir holds per-name lock files. Empty disables cross-process locks.
	LockDir string

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerLedger stores records as JSON values under "install/<name>" in a
// BadgerDB. Each mutation is a single serializable transaction.
type BadgerLedger struct {
	db     *badger.DB
	locker *Locker
}

// OpenBadger opens (creating if needed) a BadgerDB ledger.
func OpenBadger(cfg BadgerConfig) (*BadgerLedger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("ledger path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	lockDir := cfg.LockDir
	if lockDir == "" && !cfg.InMemory {
		lockDir = filepath.Join(cfg.Path, "locks")
	}
	return &BadgerLedger{db: db, locker: NewLocker(lockDir)}, nil
}

func recordKey(name string) []byte { return []byte(keyPrefix + name) }

func (l *BadgerLedger) Get(name string) (Record, bool, error) {
	var rec Record
	found := false
	err := l.db.View(func(txn *badger.Txn) error {
		r, ok, err := readRecord(txn, name)
		if err != nil || !ok {
			return err
		}
		rec, found = *r, true
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("reading ledger record %s: %w", name, err)
	}
	return rec, found, nil
}

func (l *BadgerLedger) List() ([]Record, error) {
	var out []Record
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	return out, nil
}

func (l *BadgerLedger) Record(rec Record) error {
	if rec.Name == "" {
		return errors.New("ledger record requires a name")
	}
	return l.Update(rec.Name, func(*Record) (*Record, error) { return &rec, nil })
}

func (l *BadgerLedger) Remove(name string) error {
	return l.Update(name, func(*Record) (*Record, error) { return nil, nil })
}

func (l *BadgerLedger) Update(name string, fn UpdateFunc) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = l.db.Update(func(txn *badger.Txn) error {
			prev, _, err := readRecord(txn, name)
			if err != nil {
				return err
			}
			next, err := fn(prev)
			if err != nil {
				return err
			}
			if next == nil {
				if prev == nil {
					return nil
				}
				return txn.Delete(recordKey(name))
			}
			if next.Name != name {
				return fmt.Errorf("update for %s returned record named %s", name, next.Name)
			}
			normalize(next)
			data, err := json.Marshal(next)
			if err != nil {
				return fmt.Errorf("encoding record: %w", err)
			}
			return txn.Set(recordKey(name), data)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("updating ledger record %s: %w", name, err)
	}
	return nil
}

func (l *BadgerLedger) Lock(ctx context.Context, name string) (func(), error) {
	return l.locker.Lock(ctx, name)
}

func (l *BadgerLedger) Close() error {
	return l.db.Close()
}

func readRecord(txn *badger.Txn, name string) (*Record, bool, error) {
	item, err := txn.Get(recordKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, false, fmt.Errorf("decoding record %s: %w", name, err)
	}
	return &rec, true, nil
}
