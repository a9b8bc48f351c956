package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	keysReconciled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "scheduler",
		Name:      "keys_reconciled_total",
		Help:      "Number of (user, day) keys fully reconciled.",
	})

	keysFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "scheduler",
		Name:      "keys_failed_total",
		Help:      "Number of (user, day) keys that failed reconciliation and were released.",
	})

	keyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "scheduler",
		Name:      "key_duration_seconds",
		Help:      "Time spent reconciling a single (user, day) key.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(keysReconciled, keysFailed, keyDuration)
}

func recordKeyReconciled(d time.Duration) {
	keysReconciled.Inc()
	keyDuration.Observe(d.Seconds())
}

func recordKeyFailed() {
	keysFailed.Inc()
}
