package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestValidatePathWithinRoot(t *testing.T) {
	root := t.TempDir()

	resolved, err := ValidatePath(root, "subdir/file.txt")
	if err != nil {
		t.Fatalf("ValidatePath: %v", err)
	}

	realRoot, _ := filepath.EvalSymlinks(root)
	expected := filepath.Join(realRoot, "subdir/file.txt")
	if resolved != expected {
		t.Errorf("got %q, want %q", resolved, expected)
	}
}

func TestValidatePathRejectsEscapes(t *testing.T) {
	root := t.TempDir()

	for _, p := range []string{"../escape.txt", "subdir/../../escape.txt", "a/b/../../../x"} {
		_, err := ValidatePath(root, p)
		if err == nil {
			t.Errorf("ValidatePath(%q): expected error", p)
			continue
		}
		if !strings.Contains(err.Error(), "outside the root") {
			t.Errorf("ValidatePath(%q): unexpected error: %v", p, err)
		}
	}
}

func TestValidatePathRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	root := t.TempDir()
	outsideDir := t.TempDir()

	// A directory symlink inside root pointing outside.
	if err := os.Symlink(outsideDir, filepath.Join(root, "escape-link")); err != nil {
		t.Fatal(err)
	}

	if _, err := ValidatePath(root, "escape-link/file.txt"); err == nil {
		t.Fatal("expected error for symlink escape")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		root, path string
		want       bool
	}{
		{"/opt/prefix", "/opt/prefix", true},
		{"/opt/prefix", "/opt/prefix/jq/1.7", true},
		{"/opt/prefix", "/opt/prefix2", false},
		{"/opt/prefix", "/opt", false},
	}
	for _, tt := range tests {
		if got := Within(tt.root, tt.path); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.root, tt.path, got, tt.want)
		}
	}
}

func TestSafeCopy(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "tool")
	if err := os.WriteFile(src, []byte("#!/bin/sh\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := SafeCopy(root, "bin/tool", src, 0755); err != nil {
		t.Fatalf("SafeCopy: %v", err)
	}

	dest := filepath.Join(root, "bin", "tool")
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "#!/bin/sh\n" {
		t.Errorf("content = %q", data)
	}
	if runtime.GOOS != "windows" {
		info, _ := os.Stat(dest)
		if info.Mode().Perm() != 0755 {
			t.Errorf("perm = %v, want 0755", info.Mode().Perm())
		}
	}

	// Overwrite leaves no temp files behind.
	if err := SafeCopy(root, "bin/tool", src, 0755); err != nil {
		t.Fatalf("SafeCopy overwrite: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "bin"))
	if len(entries) != 1 {
		t.Errorf("bin has %d entries, want 1", len(entries))
	}
}

func TestSafeCopyRejectsEscape(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := SafeCopy(root, "../outside", src, 0644); err == nil {
		t.Fatal("expected error copying outside root")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside")); !os.IsNotExist(err) {
		t.Error("file was written outside the root")
	}
}

func TestSafeRemove(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "share", "doc.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := SafeRemove(root, "share/doc.txt"); err != nil {
		t.Fatalf("SafeRemove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be removed")
	}

	if err := SafeRemove(root, "share/doc.txt"); err != nil {
		t.Errorf("removing a missing file: %v", err)
	}

	for _, p := range []string{"../x", "share/..", "/etc/passwd"} {
		if err := SafeRemove(root, p); err == nil {
			t.Errorf("SafeRemove(%q): expected error", p)
		}
	}
}

func TestSafeRemoveSymlinkNotTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not reliable on Windows")
	}

	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "python3")
	if err := os.WriteFile(outside, []byte("x"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bin", "real"), []byte("y"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("real", filepath.Join(root, "bin", "alias")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "bin", "python")); err != nil {
		t.Fatal(err)
	}

	if err := SafeRemove(root, "bin/alias"); err != nil {
		t.Fatalf("SafeRemove(alias): %v", err)
	}
	if _, err := os.Lstat(filepath.Join(root, "bin", "alias")); !os.IsNotExist(err) {
		t.Error("symlink should be removed")
	}
	if _, err := os.Stat(filepath.Join(root, "bin", "real")); err != nil {
		t.Error("symlink target inside root must survive")
	}

	if err := SafeRemove(root, "bin/python"); err != nil {
		t.Fatalf("SafeRemove(python): %v", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("symlink target outside root must survive")
	}
}

func TestSafeMkdirAllRejectsEscape(t *testing.T) {
	root := t.TempDir()
	if err := SafeMkdirAll(root, "a/b/c", 0755); err != nil {
		t.Fatalf("SafeMkdirAll: %v", err)
	}
	if err := SafeMkdirAll(root, "../sibling", 0755); err == nil {
		t.Fatal("expected error for escape")
	}
}

func TestPruneEmptyDirs(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "jq", "1.7", "share", "doc")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(root, "jq", "1.7", "bin")
	if err := os.MkdirAll(keep, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(keep, "jq"), []byte("x"), 0755); err != nil {
		t.Fatal(err)
	}

	PruneEmptyDirs(root, deep)

	if _, err := os.Stat(filepath.Join(root, "jq", "1.7", "share")); !os.IsNotExist(err) {
		t.Error("empty share directory should be pruned")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Error("non-empty sibling must survive")
	}

	// Pruning never removes the root itself.
	empty := t.TempDir()
	PruneEmptyDirs(empty, empty)
	if _, err := os.Stat(empty); err != nil {
		t.Error("root should never be removed")
	}
}
