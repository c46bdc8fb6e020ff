// Package metrics holds the Prometheus collectors for the install pipeline.
// Collectors live on a package registry rather than the global default so
// that embedding programs do not inherit them; WriteFile dumps the registry
// for a node-exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the registry all formulary collectors are registered on.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// FetchAttempts counts download attempts by result
	// ("ok", "cached", "retry", "integrity", "error").
	FetchAttempts = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "formulary_fetch_attempts_total",
		Help: "Source archive download attempts by result",
	}, []string{"result"})

	// FetchBytes counts bytes downloaded.
	FetchBytes = factory.NewCounter(prometheus.CounterOpts{
		Name: "formulary_fetch_bytes_total",
		Help: "Bytes of source archives downloaded",
	})

	// BuildDuration tracks recipe execution time by outcome.
	BuildDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formulary_build_duration_seconds",
		Help:    "Recipe execution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
	}, []string{"outcome"})

	// Installs counts formula installs by outcome
	// ("installed", "unchanged", "failed", "skipped").
	Installs = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "formulary_installs_total",
		Help: "Formula installs by outcome",
	}, []string{"outcome"})

	// ResolveFailures counts failed resolutions by error kind.
	ResolveFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "formulary_resolve_failures_total",
		Help: "Failed dependency resolutions by error kind",
	}, []string{"kind"})
)

// WriteFile writes all collected metrics to path in the text exposition
// format.
func WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
