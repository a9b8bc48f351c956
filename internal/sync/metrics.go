package sync

import "github.com/prometheus/client_golang/prometheus"

var (
	pulledCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "pull",
		Name:      "events_ingested_total",
		Help:      "Number of pulled events accepted by the gateway, by provider.",
	}, []string{"provider"})

	pullErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "pull",
		Name:      "fetch_errors_total",
		Help:      "Number of failed pull passes, by provider.",
	}, []string{"provider"})

	pullAuthFailureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "pull",
		Name:      "auth_failures_total",
		Help:      "Number of connections marked expired after credential rejection, by provider.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(pulledCounter, pullErrorCounter, pullAuthFailureCounter)
}

func recordPulled(provider string, n int) {
	if n > 0 {
		pulledCounter.WithLabelValues(provider).Add(float64(n))
	}
}

func recordPullError(provider string) {
	pullErrorCounter.WithLabelValues(provider).Inc()
}

func recordPullAuthFailure(provider string) {
	pullAuthFailureCounter.WithLabelValues(provider).Inc()
}
