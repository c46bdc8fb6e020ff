package config

import (
	"strings"
	"testing"
	"time"
)

func TestMergeScalarsOverlayWins(t *testing.T) {
	base := &Config{
		Version:  1,
		Prefix:   "/base/prefix",
		CacheDir: "/base/cache",
		Fetch:    Fetch{Timeout: time.Minute, Parallelism: 2},
	}
	overlay := &Config{
		Prefix: "/overlay/prefix",
		Fetch:  Fetch{Timeout: 3 * time.Minute},
	}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if merged.Version != 1 {
		t.Errorf("Version = %d, want 1", merged.Version)
	}
	if merged.Prefix != "/overlay/prefix" {
		t.Errorf("Prefix = %q, want overlay", merged.Prefix)
	}
	if merged.CacheDir != "/base/cache" {
		t.Errorf("CacheDir = %q, want base (overlay unset)", merged.CacheDir)
	}
	if merged.Fetch.Timeout != 3*time.Minute {
		t.Errorf("Fetch.Timeout = %v, want 3m", merged.Fetch.Timeout)
	}
	if merged.Fetch.Parallelism != 2 {
		t.Errorf("Fetch.Parallelism = %d, want 2", merged.Fetch.Parallelism)
	}
}

func TestMergeListsConcatenateDedup(t *testing.T) {
	base := &Config{Version: 1, FormulaDirs: []string{"/a", "/b"}, Build: Build{PassEnv: []string{"LANG"}}}
	overlay := &Config{Version: 1, FormulaDirs: []string{"/b", "/c"}, Build: Build{PassEnv: []string{"TZ", "LANG"}}}

	merged, err := Merge(base, overlay)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := strings.Join(merged.FormulaDirs, ","); got != "/a,/b,/c" {
		t.Errorf("FormulaDirs = %s, want /a,/b,/c", got)
	}
	if got := strings.Join(merged.Build.PassEnv, ","); got != "LANG,TZ" {
		t.Errorf("PassEnv = %s, want LANG,TZ", got)
	}
}

func TestMergeKeepOnFailure(t *testing.T) {
	merged, err := Merge(&Config{Build: Build{KeepOnFailure: true}}, &Config{})
	if err != nil {
		t.Fatal(err)
	}
	if !merged.Build.KeepOnFailure {
		t.Error("KeepOnFailure should survive an overlay that leaves it unset")
	}
}

func TestMergeVersionMismatch(t *testing.T) {
	_, err := Merge(&Config{Version: 1}, &Config{Version: 2})
	if err == nil {
		t.Fatal("expected version mismatch error")
	}
	if !strings.Contains(err.Error(), "version mismatch") {
		t.Errorf("error = %v", err)
	}
}

func TestMergeNil(t *testing.T) {
	c := &Config{Version: 1}
	if got, _ := Merge(nil, c); got != c {
		t.Error("Merge(nil, c) should return c")
	}
	if got, _ := Merge(c, nil); got != c {
		t.Error("Merge(c, nil) should return c")
	}
}

func TestMergeAll(t *testing.T) {
	if _, err := MergeAll(nil); err == nil {
		t.Error("MergeAll(nil) should fail")
	}

	merged, err := MergeAll([]*Config{
		{Version: 1, Prefix: "/one"},
		{WorkDir: "/work"},
		{Prefix: "/three"},
	})
	if err != nil {
		t.Fatalf("MergeAll: %v", err)
	}
	if merged.Prefix != "/three" || merged.WorkDir != "/work" || merged.Version != 1 {
		t.Errorf("merged = %+v", merged)
	}
}
