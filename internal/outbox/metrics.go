package outbox

import "github.com/prometheus/client_golang/prometheus"

const metricsSubsystem = "outbox"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: metricsSubsystem,
		Name:      "events_delivered_total",
		Help:      "Outbox events published to Kafka, by topic.",
	}, []string{"topic"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: metricsSubsystem,
		Name:      "events_failed_total",
		Help:      "Outbox events whose batch failed to publish, by topic.",
	}, []string{"topic"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: metricsSubsystem,
		Name:      "events_dlq_total",
		Help:      "Outbox events copied to outbox_dlq, by topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "personal_data",
		Subsystem: metricsSubsystem,
		Name:      "batch_duration_seconds",
		Help:      "Time from claiming an outbox batch to settling it.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, batchDuration)
}

func countByTopic(c *prometheus.CounterVec, messages []Message) {
	for _, msg := range messages {
		c.WithLabelValues(msg.Topic).Inc()
	}
}
