package ingest

import "github.com/prometheus/client_golang/prometheus"

var (
	recordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "ingest",
		Name:      "records_normalized_total",
		Help:      "Records produced by normalization, labeled by job.",
	}, []string{"job"})

	malformedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "ingest",
		Name:      "records_malformed_total",
		Help:      "Provider entries dropped because they could not be normalized, labeled by job.",
	}, []string{"job"})

	rowsWrittenCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "ingest",
		Name:      "rows_written_total",
		Help:      "Rows inserted or updated by ingest runs, labeled by job.",
	}, []string{"job"})

	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "personal_data",
		Subsystem: "ingest",
		Name:      "run_duration_seconds",
		Help:      "Wall time of complete ingest runs including provider pacing.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"job"})
)

func init() {
	prometheus.MustRegister(recordsCounter, malformedCounter, rowsWrittenCounter, runDuration)
}
