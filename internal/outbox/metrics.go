package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Outbox rows published to Kafka and marked published.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Outbox rows whose delivery failed and were routed to the DLQ.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "healthsync",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Wall time per dispatch batch, claim through settle.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Rows parked in the dead-letter queue, by topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter)
}

// observeBatch records the time elapsed since start when it runs, so a
// deferred call covers the whole batch, publish and settle included.
func observeBatch(start time.Time) {
	batchDuration.Observe(time.Since(start).Seconds())
}
