package enrich

import "github.com/prometheus/client_golang/prometheus"

var (
	completionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "enrich",
		Name:      "completions_total",
		Help:      "Completion calls, labeled by mode and result.",
	}, []string{"mode", "result"})

	estimatesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "personal_data",
		Subsystem: "enrich",
		Name:      "estimates_total",
		Help:      "Estimated values accepted or rejected, labeled by mode and result.",
	}, []string{"mode", "result"})
)

func init() {
	prometheus.MustRegister(completionCounter, estimatesCounter)
}
