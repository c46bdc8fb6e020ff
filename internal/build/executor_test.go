package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bianoble/formulary/internal/digest"
	"github.com/bianoble/formulary/internal/errs"
	"github.com/bianoble/formulary/internal/fetch"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/ledger"
)

type testEnv struct {
	exec     *Executor
	ledger   *ledger.BadgerLedger
	root     string
	workRoot string
	art      *fetch.Artifact
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	l, err := ledger.OpenBadger(ledger.BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	base := t.TempDir()
	opts := Options{
		PrefixRoot: filepath.Join(base, "prefix"),
		WorkRoot:   filepath.Join(base, "work"),
	}
	if mutate != nil {
		mutate(&opts)
	}
	ex, err := NewExecutor(l, opts)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	artDir := filepath.Join(base, "artifacts")
	if err := os.MkdirAll(artDir, 0755); err != nil {
		t.Fatal(err)
	}
	artPath := filepath.Join(artDir, "tool.sh")
	if err := os.WriteFile(artPath, []byte("#!/bin/sh\necho tool\n"), 0755); err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		exec:     ex,
		ledger:   l,
		root:     ex.opts.PrefixRoot,
		workRoot: opts.WorkRoot,
		art:      &fetch.Artifact{Formula: "tool", Path: artPath, Verified: true},
	}
}

func commandFormula(name, version string, steps ...[]string) formula.Record {
	return formula.Record{
		Name:      name,
		Version:   version,
		SourceURL: "file:///src/tool.sh",
		Checksum:  formula.Checksum{Algorithm: "sha256", Digest: strings.Repeat("0", 64)},
		Recipe:    formula.Recipe{Kind: formula.RecipeCommand, Steps: steps},
	}
}

func sh(script string) []string { return []string{"sh", "-c", script} }

var installTool = sh(`mkdir -p "$PREFIX/bin" && cp tool.sh "$PREFIX/bin/tool"`)

func workEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	return entries
}

func TestInstallCommandRecipe(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0", installTool)

	out, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{RunID: "run-1"})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if out.Unchanged {
		t.Error("first install reported unchanged")
	}
	if got := strings.Join(out.Record.Paths, ","); got != "tool/1.0/bin/tool" {
		t.Errorf("paths = %s", got)
	}
	if out.Record.Prefix != filepath.Join(env.root, "tool", "1.0") {
		t.Errorf("prefix = %s", out.Record.Prefix)
	}
	if out.Record.RunID != "run-1" {
		t.Errorf("run id = %s", out.Record.RunID)
	}
	want, _ := digest.Bytes(digest.SHA256, []byte("#!/bin/sh\necho tool\n"))
	if got := out.Record.Digests["tool/1.0/bin/tool"]; got != want {
		t.Errorf("digest = %q, want %q", got, want)
	}

	stored, ok, err := env.ledger.Get("tool")
	if err != nil || !ok {
		t.Fatalf("ledger Get: ok=%v err=%v", ok, err)
	}
	if stored.Version != "1.0" {
		t.Errorf("ledger version = %s", stored.Version)
	}
	if _, err := os.Stat(filepath.Join(env.root, "tool", "1.0", "bin", "tool")); err != nil {
		t.Errorf("installed file missing: %v", err)
	}
	if n := len(workEntries(t, env.workRoot)); n != 0 {
		t.Errorf("working directory not removed: %d entries left", n)
	}
}

func TestInstallRunsScriptFromSourceTree(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0", []string{"./tool.sh"}, installTool)

	out, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if got := strings.Join(out.Record.Paths, ","); got != "tool/1.0/bin/tool" {
		t.Errorf("paths = %s", got)
	}
}

func TestInstallExpandsTemplates(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "2.1",
		[]string{"mkdir", "-p", "{{.Prefix}}/share"},
		[]string{"sh", "-c", `echo "$1" > "$2"`, "sh", "{{.Name}}-{{.Version}}", "{{.Prefix}}/share/id"},
	)

	if _, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{}); err != nil {
		t.Fatalf("Install: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(env.root, "tool", "2.1", "share", "id"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "tool-2.1" {
		t.Errorf("id = %q", data)
	}
}

func TestInstallUnknownTemplateKeyFails(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0", []string{"echo", "{{.Dep.missing.Prefix}}"})

	_, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	var be *errs.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected *errs.BuildError, got %v", err)
	}
}

func TestInstallNonzeroExit(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0",
		sh(`mkdir -p "$PREFIX/bin" && touch "$PREFIX/bin/partial"`),
		sh(`echo compile error >&2; exit 3`),
	)

	_, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	var be *errs.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected *errs.BuildError, got %v", err)
	}
	if be.Step != 1 || be.ExitCode != 3 {
		t.Errorf("step=%d exit=%d, want step 1 exit 3", be.Step, be.ExitCode)
	}
	if !strings.Contains(be.Output, "compile error") {
		t.Errorf("output = %q", be.Output)
	}
	if be.WorkDir != "" {
		t.Errorf("work dir reported as kept: %s", be.WorkDir)
	}

	if _, ok, _ := env.ledger.Get("tool"); ok {
		t.Error("failed build must not be recorded")
	}
	if _, err := os.Stat(filepath.Join(env.root, "tool", "1.0")); !os.IsNotExist(err) {
		t.Error("prefix created by failed build should be removed")
	}
	if n := len(workEntries(t, env.workRoot)); n != 0 {
		t.Errorf("working directory not removed: %d entries left", n)
	}
}

func TestInstallKeepOnFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0", sh("exit 1"))

	_, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{KeepOnFailure: true})
	var be *errs.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected *errs.BuildError, got %v", err)
	}
	if be.WorkDir == "" {
		t.Fatal("kept work dir not reported")
	}
	if _, err := os.Stat(filepath.Join(be.WorkDir, "src", "tool.sh")); err != nil {
		t.Errorf("kept work dir lacks source: %v", err)
	}
	if n := len(workEntries(t, env.workRoot)); n != 1 {
		t.Errorf("work root entries = %d, want 1", n)
	}
}

func TestInstallEnvironmentIsolation(t *testing.T) {
	t.Setenv("FORMULARY_TEST_SECRET", "leak")
	t.Setenv("FORMULARY_TEST_PASS", "through")
	env := newTestEnv(t, func(o *Options) {
		o.Env.PassEnv = []string{"FORMULARY_TEST_PASS"}
	})
	rec := commandFormula("tool", "1.0", sh(`env > "$PREFIX/env.txt"`))

	out, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(out.Record.Prefix, "env.txt"))
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)

	if strings.Contains(got, "FORMULARY_TEST_SECRET") {
		t.Error("process environment leaked into recipe")
	}
	for _, want := range []string{
		"FORMULARY_TEST_PASS=through",
		"FORMULA_NAME=tool",
		"FORMULA_VERSION=1.0",
		"PREFIX=" + out.Record.Prefix,
		"PATH=" + DefaultBasePath,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("environment missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "HOME="+env.workRoot) {
		t.Errorf("HOME not inside work root:\n%s", got)
	}
}

func TestInstallDependencyEnvironment(t *testing.T) {
	env := newTestEnv(t, nil)

	pyPrefix := filepath.Join(env.root, "python", "2.7.18")
	if err := os.MkdirAll(filepath.Join(pyPrefix, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pyPrefix, "bin", "python"), []byte("#!/bin/sh\necho fake-python\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := env.ledger.Record(ledger.Record{Name: "python", Version: "2.7.18", Prefix: pyPrefix,
		Paths: []string{"python/2.7.18/bin/python"}}); err != nil {
		t.Fatal(err)
	}

	rec := commandFormula("asciinema", "1.2.0",
		sh(`python > "$PREFIX/out.txt" && echo "$PYTHON_ROOT $PYTHON_VERSION $FORMULA_RUNTIME" >> "$PREFIX/out.txt"`))
	rec.Dependencies = []formula.Dependency{{Name: "python", Constraint: "2.7", Runtime: true}}

	out, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(out.Record.Prefix, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}
	want := "fake-python\n" + pyPrefix + " 2.7.18 python=2.7.18\n"
	if string(data) != want {
		t.Errorf("out.txt = %q, want %q", data, want)
	}
}

func TestInstallMissingDependencyRecord(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("asciinema", "1.2.0", installTool)
	rec.Dependencies = []formula.Dependency{{Name: "python"}}

	if _, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{}); err == nil {
		t.Fatal("expected error for uninstalled dependency")
	}
}

func TestInstallSameVersionIsNoop(t *testing.T) {
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := first
	env := newTestEnv(t, func(o *Options) {
		o.Now = func() time.Time { return now }
	})
	rec := commandFormula("tool", "1.0", installTool)

	if _, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	now = first.Add(time.Hour)

	out, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if !out.Unchanged {
		t.Error("same-version install should be unchanged")
	}
	stored, _, _ := env.ledger.Get("tool")
	if !stored.InstalledAt.Equal(first) {
		t.Errorf("installed_at = %v, want %v", stored.InstalledAt, first)
	}

	out, err = env.exec.Install(context.Background(), rec, env.art, InstallOptions{Reinstall: true})
	if err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if out.Unchanged || !out.Record.InstalledAt.Equal(now) {
		t.Errorf("reinstall: unchanged=%v installed_at=%v", out.Unchanged, out.Record.InstalledAt)
	}
}

func TestInstallUpgradeRemovesStalePaths(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	v1 := commandFormula("tool", "1.0", installTool, sh(`mkdir -p "$PREFIX/share" && touch "$PREFIX/share/old"`))
	if _, err := env.exec.Install(ctx, v1, env.art, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	v2 := commandFormula("tool", "2.0", installTool)
	out, err := env.exec.Install(ctx, v2, env.art, InstallOptions{})
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if got := strings.Join(out.Removed, ","); got != "tool/1.0/bin/tool,tool/1.0/share/old" {
		t.Errorf("removed = %s", got)
	}
	if _, err := os.Stat(filepath.Join(env.root, "tool", "1.0")); !os.IsNotExist(err) {
		t.Error("old prefix should be pruned after upgrade")
	}
	if _, err := os.Stat(filepath.Join(env.root, "tool", "2.0", "bin", "tool")); err != nil {
		t.Errorf("new install missing: %v", err)
	}
}

// commitFailLedger runs the update function but never commits its result.
type commitFailLedger struct {
	ledger.Ledger
}

func (l commitFailLedger) Update(name string, fn ledger.UpdateFunc) error {
	prev, ok, err := l.Get(name)
	if err != nil {
		return err
	}
	var p *ledger.Record
	if ok {
		p = &prev
	}
	if _, err := fn(p); err != nil {
		return err
	}
	return errors.New("commit failed")
}

func TestUpgradeKeepsOldFilesWhenCommitFails(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.exec.Install(ctx, commandFormula("tool", "1.0", installTool), env.art, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	failing, err := NewExecutor(commitFailLedger{Ledger: env.ledger}, env.exec.opts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := failing.Install(ctx, commandFormula("tool", "2.0", installTool), env.art, InstallOptions{}); err == nil {
		t.Fatal("expected commit error")
	}

	if _, err := os.Stat(filepath.Join(env.root, "tool", "1.0", "bin", "tool")); err != nil {
		t.Errorf("file of the recorded version was removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.root, "tool", "2.0")); !os.IsNotExist(err) {
		t.Error("prefix of the uncommitted version should be removed")
	}
	stored, _, _ := env.ledger.Get("tool")
	if stored.Version != "1.0" {
		t.Errorf("ledger version = %s, want 1.0", stored.Version)
	}
}

func TestReinstallDropsFilesNoLongerInstalled(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	rec := commandFormula("tool", "1.0", installTool, sh(`touch "$PREFIX/extra"`))
	if _, err := env.exec.Install(ctx, rec, env.art, InstallOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(env.root, "tool", "1.0", "extra")); err != nil {
		t.Fatal(err)
	}

	rec = commandFormula("tool", "1.0", installTool)
	out, err := env.exec.Install(ctx, rec, env.art, InstallOptions{Reinstall: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(out.Record.Paths, ","); got != "tool/1.0/bin/tool" {
		t.Errorf("paths = %s", got)
	}
}

func TestInstallCopyRecipe(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := formula.Record{
		Name:    "tool",
		Version: "1.0",
		Recipe: formula.Recipe{
			Kind: formula.RecipeCopy,
			Copy: []formula.CopyEntry{{From: "*.sh", To: "bin"}},
		},
	}

	out, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if got := strings.Join(out.Record.Paths, ","); got != "tool/1.0/bin/tool.sh" {
		t.Errorf("paths = %s", got)
	}
	info, err := os.Stat(filepath.Join(env.root, "tool", "1.0", "bin", "tool.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("mode = %v, executable bit lost", info.Mode())
	}
}

func TestInstallCopyRecipeNoMatch(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := formula.Record{
		Name:    "tool",
		Version: "1.0",
		Recipe:  formula.Recipe{Kind: formula.RecipeCopy, Copy: []formula.CopyEntry{{From: "*.py", To: "bin"}}},
	}

	_, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	var be *errs.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected *errs.BuildError, got %v", err)
	}
}

func TestInstallEmptyResultFails(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0", []string{"true"})

	_, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	var be *errs.BuildError
	if !errors.As(err, &be) {
		t.Fatalf("expected *errs.BuildError, got %v", err)
	}
	if _, ok, _ := env.ledger.Get("tool"); ok {
		t.Error("empty install must not be recorded")
	}
}

func TestInstallTimeout(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Timeout = 100 * time.Millisecond })
	rec := commandFormula("tool", "1.0", []string{"sleep", "5"})

	_, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{})
	var te *errs.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected *errs.TimeoutError, got %v", err)
	}
	if te.Operation != "build" {
		t.Errorf("operation = %s", te.Operation)
	}
}

func TestInstallCanceled(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0", []string{"sleep", "5"})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := env.exec.Install(ctx, rec, env.art, InstallOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, ok, _ := env.ledger.Get("tool"); ok {
		t.Error("canceled build must not be recorded")
	}
}

func TestInstallRejectsUnverifiedArtifact(t *testing.T) {
	env := newTestEnv(t, nil)
	art := *env.art
	art.Verified = false

	if _, err := env.exec.Install(context.Background(), commandFormula("tool", "1.0", installTool), &art, InstallOptions{}); err == nil {
		t.Fatal("expected error for unverified artifact")
	}
}

func TestConcurrentInstallsDoNotInterleave(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := commandFormula("tool", "1.0",
		sh(`mkdir -p "$PREFIX/bin" && cp tool.sh "$PREFIX/bin/tool" && sleep 0.05 && touch "$PREFIX/bin/done"`))

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.exec.Install(context.Background(), rec, env.art, InstallOptions{Reinstall: true})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("Install: %v", err)
		}
	}

	stored, ok, err := env.ledger.Get("tool")
	if err != nil || !ok {
		t.Fatalf("ledger Get: ok=%v err=%v", ok, err)
	}
	if got := strings.Join(stored.Paths, ","); got != "tool/1.0/bin/done,tool/1.0/bin/tool" {
		t.Errorf("paths = %s", got)
	}
	for _, p := range stored.Paths {
		if _, err := os.Stat(filepath.Join(env.root, p)); err != nil {
			t.Errorf("recorded path %s missing: %v", p, err)
		}
	}
}

func TestUninstall(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.exec.Install(ctx, commandFormula("tool", "1.0", installTool), env.art, InstallOptions{}); err != nil {
		t.Fatal(err)
	}

	removed, err := env.exec.Uninstall(ctx, "tool")
	if err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if removed.Version != "1.0" {
		t.Errorf("removed version = %s", removed.Version)
	}
	if _, ok, _ := env.ledger.Get("tool"); ok {
		t.Error("record still present")
	}
	if _, err := os.Stat(filepath.Join(env.root, "tool")); !os.IsNotExist(err) {
		t.Error("prefix should be removed")
	}
	if _, err := os.Stat(env.root); err != nil {
		t.Error("prefix root must survive uninstall")
	}

	if _, err := env.exec.Uninstall(ctx, "tool"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("second Uninstall err = %v, want ErrNotInstalled", err)
	}
}
