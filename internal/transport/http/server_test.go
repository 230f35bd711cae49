package httptransport

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	h := http.NotFoundHandler()
	srv := NewServer(ServerConfig{Address: ":9999", ReadTimeout: time.Second, IdleTimeout: time.Minute}, h)
	require.Equal(t, ":9999", srv.Addr)
	require.Equal(t, time.Second, srv.ReadTimeout)
	require.Equal(t, time.Minute, srv.IdleTimeout)
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	h := RequestLogger(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/runs", nil))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, buf.String(), "POST /v1/runs 409")
}

func TestServeMetricsDisabled(t *testing.T) {
	stop := ServeMetrics(context.Background(), "", log.New(&bytes.Buffer{}, "", 0))
	stop()
}
