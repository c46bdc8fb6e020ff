package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFile(t *testing.T) {
	FetchAttempts.WithLabelValues("ok").Inc()
	Installs.WithLabelValues("installed").Inc()
	BuildDuration.WithLabelValues("ok").Observe(1.5)

	path := filepath.Join(t.TempDir(), "formulary.prom")
	if err := WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		`formulary_fetch_attempts_total{result="ok"}`,
		`formulary_installs_total{outcome="installed"}`,
		"formulary_build_duration_seconds_bucket",
		"formulary_fetch_bytes_total",
	} {
		if !strings.Contains(string(data), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestWriteFileBadPath(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "missing", "formulary.prom"))
	if err == nil || !strings.Contains(err.Error(), "writing metrics to") {
		t.Errorf("error = %v", err)
	}
}
