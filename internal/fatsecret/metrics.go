package fatsecret

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "fatsecret",
		Name:      "requests_total",
		Help:      "Signed provider calls, labeled by API method and classified result.",
	}, []string{"method", "result"})

	backoffCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "fatsecret",
		Name:      "backoffs_total",
		Help:      "Retry cooldowns taken, labeled by API method and reason.",
	}, []string{"method", "reason"})

	unitOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "fatsecret",
		Name:      "units_total",
		Help:      "Fetch units completed, labeled by API method and outcome.",
	}, []string{"method", "outcome"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "personal_data",
		Subsystem: "fatsecret",
		Name:      "request_duration_seconds",
		Help:      "Latency of provider calls including body read.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(requestsCounter, backoffCounter, unitOutcomeCounter, requestDuration)
}
