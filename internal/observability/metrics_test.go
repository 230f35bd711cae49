package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordLatestDateOnlyMovesForward(t *testing.T) {
	newer := time.Date(2025, time.May, 21, 0, 0, 0, 0, time.UTC)
	older := newer.AddDate(0, 0, -3)

	RecordLatestDate("weights_test", newer)
	RecordLatestDate("weights_test", older)

	require.Equal(t, float64(newer.Unix()), testutil.ToFloat64(lastRecordDateGauge.WithLabelValues("weights_test")))
}

func TestRecordBatchWrittenIgnoresZero(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	RecordBatchWritten("food_test", ts)
	RecordBatchWritten("food_test", time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastWriteGauge.WithLabelValues("food_test")))
}
