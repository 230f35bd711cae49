// Package observability holds cross-cutting watermark gauges.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lastWriteGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "personal_data",
		Subsystem: "persistence",
		Name:      "last_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed batch, labeled by record type.",
	}, []string{"record_type"})
	lastRecordDateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "personal_data",
		Subsystem: "persistence",
		Name:      "latest_record_date_timestamp_seconds",
		Help:      "Unix timestamp of the newest record date written, labeled by record type.",
	}, []string{"record_type"})
)

func init() {
	prometheus.MustRegister(lastWriteGauge, lastRecordDateGauge)
}

// RecordBatchWritten updates the write watermark for recordType.
func RecordBatchWritten(recordType string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastWriteGauge.WithLabelValues(recordType).Set(float64(ts.Unix()))
}

// RecordLatestDate raises the newest-record watermark for recordType. Older dates are ignored.
func RecordLatestDate(recordType string, date time.Time) {
	if date.IsZero() {
		return
	}
	g := lastRecordDateGauge.WithLabelValues(recordType)
	v := float64(date.Unix())
	if current := readGauge(g); current >= v {
		return
	}
	g.Set(v)
}
