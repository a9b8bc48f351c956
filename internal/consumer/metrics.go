package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	handledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Messages handled and committed, by topic and event type.",
	}, []string{"topic", "event_type"})

	handlerErrTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Handler failures that left the offset uncommitted.",
	}, []string{"topic", "event_type"})

	decodeErrTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthsync",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Messages that failed wire-format decoding, by topic.",
	}, []string{"topic"})

	lastHandledAt = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthsync",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Kafka timestamp of the most recently committed message, per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(handledTotal, handlerErrTotal, decodeErrTotal, lastHandledAt)
}

func recordProcessed(msg Message) {
	handledTotal.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastHandledAt.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrTotal.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrTotal.WithLabelValues(topic).Inc()
}
