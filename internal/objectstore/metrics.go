package objectstore

import "github.com/prometheus/client_golang/prometheus"

var photosCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "personal_data",
	Subsystem: "photos",
	Name:      "processed_total",
	Help:      "Journal photos processed by result.",
}, []string{"result"})

func init() {
	prometheus.MustRegister(photosCounter)
}
