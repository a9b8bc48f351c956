package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	candidatesNormalized = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "normalizer",
		Name:      "candidates_total",
		Help:      "Number of metric and session candidates produced, labeled by provider.",
	}, []string{"provider", "kind"})

	normalizeWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "normalizer",
		Name:      "warnings_total",
		Help:      "Number of skipped candidates recorded as warnings, labeled by provider.",
	}, []string{"provider"})

	idTieBreaks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "reconciler",
		Name:      "id_tie_breaks_total",
		Help:      "Resolutions decided by the final candidate-id tie-break; a data-quality signal.",
	})
)

func init() {
	prometheus.MustRegister(candidatesNormalized, normalizeWarnings, idTieBreaks)
}

// RecordNormalized updates normalizer throughput counters for one event.
func RecordNormalized(provider string, result NormalizeResult) {
	if n := len(result.Metrics); n > 0 {
		candidatesNormalized.WithLabelValues(provider, "metric").Add(float64(n))
	}
	if n := len(result.Sessions); n > 0 {
		candidatesNormalized.WithLabelValues(provider, "session").Add(float64(n))
	}
	if n := len(result.Warnings); n > 0 {
		normalizeWarnings.WithLabelValues(provider).Add(float64(n))
	}
}

// RecordIDTieBreaks bumps the invariant-violation counter.
func RecordIDTieBreaks(n int) {
	if n > 0 {
		idTieBreaks.Add(float64(n))
	}
}
