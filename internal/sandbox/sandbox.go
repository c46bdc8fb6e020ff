// Package sandbox confines filesystem writes and removals to a root
// directory. Archive extraction, copy recipes and owned-path removal all go
// through it so that no formula can touch files outside its prefix or
// working directory.
package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath checks if targetPath is safely within root.
// It resolves symlinks, normalizes paths, and verifies containment.
// Returns the resolved absolute path or an error.
func ValidatePath(root, targetPath string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", fmt.Errorf("resolving root symlinks: %w", err)
	}

	candidate := filepath.Clean(filepath.Join(realRoot, targetPath))

	// The path may not exist yet, so resolve as much as we can.
	resolved, err := resolveExistingPath(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving target path: %w", err)
	}

	if !Within(realRoot, resolved) {
		return "", fmt.Errorf("path '%s' resolves to '%s' which is outside the root '%s'", targetPath, resolved, realRoot)
	}

	return resolved, nil
}

// Within reports whether path equals root or lies beneath it. Both must be
// clean absolute paths.
func Within(root, path string) bool {
	// Trailing separator avoids matching "root2" for "root".
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// resolveExistingPath resolves symlinks for the longest existing prefix of the path,
// then appends the non-existing suffix.
func resolveExistingPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if dir == path {
		return path, nil
	}

	resolvedDir, err := resolveExistingPath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// SafeCopy atomically copies src to relPath within root, creating parent
// directories.
func SafeCopy(root, relPath, src string, perm os.FileMode) error {
	resolved, err := ValidatePath(root, relPath)
	if err != nil {
		return err
	}
	if _, err := ValidatePath(root, filepath.Dir(relPath)); err != nil {
		return fmt.Errorf("parent directory escapes sandbox: %w", err)
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	// Temp file in the same directory keeps the rename on one filesystem.
	tmp, err := os.CreateTemp(dir, ".formulary-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
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
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", resolved, err)
	}

	success = true
	return nil
}

// SafeRemove removes a file within the root. A missing file is not an error.
// Only the parent directory is resolved, so a symlink is removed itself
// rather than its target, wherever the target points.
func SafeRemove(root, relPath string) error {
	rel := filepath.Clean(relPath)
	base := filepath.Base(rel)
	if filepath.IsAbs(rel) || base == ".." || base == "." || base == string(filepath.Separator) {
		return fmt.Errorf("invalid path '%s'", relPath)
	}
	dir, err := ValidatePath(root, filepath.Dir(rel))
	if err != nil {
		return err
	}
	target := filepath.Join(dir, base)
	if _, err := os.Lstat(target); os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SafeMkdirAll creates directories within the sandbox.
func SafeMkdirAll(root, relPath string, perm os.FileMode) error {
	resolved, err := ValidatePath(root, relPath)
	if err != nil {
		return err
	}
	return os.MkdirAll(resolved, perm)
}

// PruneEmptyDirs removes dir and its ancestors while they are empty,
// stopping at root (which is never removed).
func PruneEmptyDirs(root, dir string) {
	root = filepath.Clean(root)
	dir = filepath.Clean(dir)
	for dir != root && Within(root, dir) {
		// os.Remove refuses non-empty directories.
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
