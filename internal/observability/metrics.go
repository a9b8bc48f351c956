package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "events_total",
		Help:      "Raw provider events accepted into the event log, by provider.",
	}, []string{"provider"})
	ingestWatermark = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "last_event_received_timestamp_seconds",
		Help:      "Unix timestamp of the most recent raw event persisted.",
	})
	duplicateEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "ingest",
		Name:      "duplicate_events_total",
		Help:      "Raw events that matched an existing dedup key, by provider.",
	}, []string{"provider"})
	summariesComputed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "reconcile",
		Name:      "summaries_computed_total",
		Help:      "Daily summaries recomputed by the scheduler.",
	})
	summaryWatermark = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "reconcile",
		Name:      "last_summary_computed_timestamp_seconds",
		Help:      "Unix timestamp of the most recent summary recompute.",
	})
)

func init() {
	prometheus.MustRegister(eventsIngested, ingestWatermark, duplicateEvents, summariesComputed, summaryWatermark)
}

// RecordEventIngested updates ingest counters and the receipt watermark.
func RecordEventIngested(provider string, receivedAt time.Time) {
	eventsIngested.WithLabelValues(provider).Inc()
	if !receivedAt.IsZero() {
		ingestWatermark.Set(float64(receivedAt.Unix()))
	}
}

// RecordDuplicateEvent counts a dedup hit.
func RecordDuplicateEvent(provider string) {
	duplicateEvents.WithLabelValues(provider).Inc()
}

// RecordSummaryComputed updates the recompute counter and watermark.
func RecordSummaryComputed(ts time.Time) {
	summariesComputed.Inc()
	if !ts.IsZero() {
		summaryWatermark.Set(float64(ts.Unix()))
	}
}
