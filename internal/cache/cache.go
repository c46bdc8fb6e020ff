package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bianoble/formulary/internal/digest"
)

// Cache provides content-addressed archive storage.
// Archives are stored by algorithm and digest and verified on retrieval.
type Cache struct {
	dir string
}

// New creates a Cache at the given directory.
// The directory is created if it does not exist.
func New(dir string) (*Cache, error) {
	objDir := filepath.Join(dir, "objects")
	if err := os.MkdirAll(objDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", objDir, err)
	}
	return &Cache{dir: dir}, nil
}

// DefaultDir returns the default cache directory.
// Uses FORMULARY_CACHE_DIR, then XDG_CACHE_HOME, otherwise ~/.cache/formulary.
func DefaultDir() string {
	if d := os.Getenv("FORMULARY_CACHE_DIR"); d != "" {
		return d
	}
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "formulary")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		if runtime.GOOS == "windows" {
			return filepath.Join(os.TempDir(), "formulary-cache")
		}
		return filepath.Join("/tmp", "formulary-cache")
	}
	return filepath.Join(home, ".cache", "formulary")
}

// Lookup returns the path of a cached archive.
// Returns "", false if not cached.
// A cached entry whose content no longer matches its digest is removed and
// reported as a miss.
func (c *Cache) Lookup(algo, sum string) (string, bool, error) {
	path := c.objectPath(algo, sum)
	actual, err := digest.File(algo, path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache entry %s:%s: %w", algo, sum, err)
	}

	if actual != sum {
		// Self-healing: remove corrupt entry.
		_ = os.Remove(path)
		return "", false, nil
	}
	return path, true, nil
}

// Put stores the file at src under its digest.
// Verifies the content matches the digest before storing.
// No-op if already cached.
func (c *Cache) Put(algo, sum, src string) error {
	actual, err := digest.File(algo, src)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	if actual != sum {
		return fmt.Errorf("cache put: content digest %s does not match declared digest %s", actual, sum)
	}

	path := c.objectPath(algo, sum)

	// Objects are immutable once stored.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache subdirectory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	// Atomic write: temp file + rename.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return fmt.Errorf("writing cache temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming cache temp file: %w", err)
	}

	success = true
	return nil
}

// Has checks if a digest exists in the cache without verifying content.
func (c *Cache) Has(algo, sum string) bool {
	_, err := os.Stat(c.objectPath(algo, sum))
	return err == nil
}

// Size returns the total size of the cache in bytes.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Path returns the cache directory path.
func (c *Cache) Path() string {
	return c.dir
}

func (c *Cache) objectPath(algo, sum string) string {
	if len(sum) < 2 {
		return filepath.Join(c.dir, "objects", algo, sum)
	}
	return filepath.Join(c.dir, "objects", algo, sum[:2], sum)
}
