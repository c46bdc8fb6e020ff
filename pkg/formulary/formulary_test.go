package formulary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bianoble/formulary/internal/digest"
)

var (
	_ Installer   = (*Client)(nil)
	_ Uninstaller = (*Client)(nil)
	_ Planner     = (*Client)(nil)
	_ Checker     = (*Client)(nil)
)

// writeSource writes a source file and returns its file:// URL and sha256.
func writeSource(t *testing.T, dir, name, content string) (string, string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	sum, err := digest.Bytes(digest.SHA256, []byte(content))
	if err != nil {
		t.Fatal(err)
	}
	return "file://" + path, sum
}

// setupProject writes a formula directory with a YAML and a TOML formula
// (hello depends on greeting) and a config pointing at it.
func setupProject(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	for _, d := range []string{"formulas", "src"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			t.Fatal(err)
		}
	}

	helloURL, helloSum := writeSource(t, filepath.Join(dir, "src"), "hello.txt", "hello\n")
	greetURL, greetSum := writeSource(t, filepath.Join(dir, "src"), "greeting.txt", "greetings\n")

	hello := fmt.Sprintf(`name: hello
version: 1.0.0
url: %s
checksum: sha256:%s
dependencies:
  - name: greeting
    version: ">=0.2"
recipe:
  kind: copy
  copy:
    - from: "*.txt"
      to: share/hello
`, helloURL, helloSum)

	greeting := fmt.Sprintf(`name = "greeting"
version = "0.3.1"
url = "%s"
checksum = "sha256:%s"

[recipe]
kind = "copy"

[[recipe.copy]]
from = "*.txt"
to = "share/greeting"
`, greetURL, greetSum)

	files := map[string]string{
		"formulas/hello.yaml":    hello,
		"formulas/greeting.toml": greeting,
		"formulary.yaml": fmt.Sprintf(`version: 1
formula_dirs: [./formulas]
prefix: ./prefix
cache_dir: ./cache
work_dir: ./work
ledger:
  backend: %s
`, backend),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestClient(t *testing.T, dir string, mutate func(*Options)) *Client {
	t.Helper()
	t.Setenv("FORMULARY_PREFIX", "")
	t.Setenv("FORMULARY_CACHE_DIR", "")
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	opts := Options{
		ConfigPath: filepath.Join(dir, "formulary.yaml"),
		NoInherit:  true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	client, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientLifecycle(t *testing.T) {
	for _, backend := range []string{"badger", "file"} {
		t.Run(backend, func(t *testing.T) {
			dir := setupProject(t, backend)
			client := newTestClient(t, dir, nil)
			ctx := context.Background()

			if got := len(client.Formulas()); got != 2 {
				t.Fatalf("Formulas() = %d, want 2", got)
			}

			plan, err := client.Plan(ctx, "hello", "", false)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if names := plan.Names(); len(names) != 2 || names[0] != "greeting" || names[1] != "hello" {
				t.Fatalf("plan = %v, want [greeting hello]", names)
			}

			result, err := client.Install(ctx, "hello", InstallOptions{})
			if err != nil {
				t.Fatalf("Install: %v", err)
			}
			if len(result.Installed) != 2 {
				t.Fatalf("installed %d formulas, want 2", len(result.Installed))
			}
			if _, err := os.Stat(filepath.Join(dir, "prefix", "hello", "1.0.0", "share", "hello", "hello.txt")); err != nil {
				t.Errorf("hello not installed: %v", err)
			}

			recs, err := client.List()
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(recs) != 2 || recs[0].Name != "greeting" || recs[0].Version != "0.3.1" {
				t.Errorf("List = %+v", recs)
			}

			check, err := client.Check(ctx, nil)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if !check.Clean {
				t.Errorf("Check not clean: %+v", check)
			}

			statuses, err := client.Status(ctx)
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			for _, s := range statuses {
				if s.State != "up to date" {
					t.Errorf("%s state = %q, want up to date", s.Name, s.State)
				}
			}

			_, err = client.Uninstall(ctx, "greeting", false)
			var de *DependentsError
			if !errors.As(err, &de) {
				t.Fatalf("Uninstall(greeting) error = %v, want *DependentsError", err)
			}

			if _, err := client.Uninstall(ctx, "hello", false); err != nil {
				t.Fatalf("Uninstall(hello): %v", err)
			}
			if _, err := client.Uninstall(ctx, "greeting", false); err != nil {
				t.Fatalf("Uninstall(greeting): %v", err)
			}
			if recs, _ := client.List(); len(recs) != 0 {
				t.Errorf("List after uninstall = %+v", recs)
			}
		})
	}
}

func TestClientPersistsAcrossReopen(t *testing.T) {
	dir := setupProject(t, "badger")
	ctx := context.Background()

	first, err := New(Options{ConfigPath: filepath.Join(dir, "formulary.yaml"), NoInherit: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := first.Install(ctx, "greeting", InstallOptions{}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newTestClient(t, dir, nil)
	result, err := second.Install(ctx, "greeting", InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if len(result.Installed) != 0 || len(result.Unchanged) != 1 {
		t.Errorf("second install = %+v, want unchanged", result)
	}
}

func TestClientCachesArchives(t *testing.T) {
	dir := setupProject(t, "file")
	client := newTestClient(t, dir, nil)
	ctx := context.Background()

	if _, err := client.Install(ctx, "greeting", InstallOptions{}); err != nil {
		t.Fatalf("Install: %v", err)
	}

	// The source is gone, so a reinstall must come from the cache.
	if err := os.Remove(filepath.Join(dir, "src", "greeting.txt")); err != nil {
		t.Fatal(err)
	}
	result, err := client.Install(ctx, "greeting", InstallOptions{Reinstall: true})
	if err != nil {
		t.Fatalf("reinstall from cache: %v", err)
	}
	if len(result.Installed) != 1 || result.Installed[0].Action != "reinstalled" {
		t.Errorf("result = %+v", result.Installed)
	}
}

func TestClientOptionOverrides(t *testing.T) {
	dir := setupProject(t, "badger")
	prefix := filepath.Join(dir, "elsewhere")
	client := newTestClient(t, dir, func(o *Options) {
		o.Prefix = prefix
		o.LedgerBackend = "file"
		o.LedgerPath = filepath.Join(dir, "state", "formulary.lock")
		o.NoCache = true
	})

	info, err := client.Info("test")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.PrefixRoot != prefix {
		t.Errorf("PrefixRoot = %q, want %q", info.PrefixRoot, prefix)
	}
	if info.LedgerBackend != "file" {
		t.Errorf("LedgerBackend = %q, want file", info.LedgerBackend)
	}
	if info.CacheDir != "" {
		t.Errorf("CacheDir = %q, want empty with NoCache", info.CacheDir)
	}
	if info.Formulas != 2 {
		t.Errorf("Formulas = %d, want 2", info.Formulas)
	}
	if len(info.ConfigChain) != 1 || !info.ConfigChain[0].Loaded {
		t.Errorf("ConfigChain = %+v", info.ConfigChain)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "formulary.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nledger:\n  backend: etcd\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{ConfigPath: path, NoInherit: true}); err == nil {
		t.Fatal("expected validation error")
	}
}
