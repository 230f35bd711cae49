package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/personaldata/internal/auth"
	"example.com/personaldata/internal/ingest"
)

type testWriter struct {
	t *testing.T
}

func (tw testWriter) Write(p []byte) (int, error) {
	tw.t.Log(string(p))
	return len(p), nil
}

type blockingRunner struct {
	requests chan ingest.RunRequest
	release  chan error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{requests: make(chan ingest.RunRequest, 4), release: make(chan error)}
}

func (b *blockingRunner) Run(ctx context.Context, req ingest.RunRequest) (ingest.RunSummary, error) {
	b.requests <- req
	select {
	case err := <-b.release:
		return ingest.RunSummary{RunID: "run-1", Request: req, RowsAffected: 7}, err
	case <-ctx.Done():
		return ingest.RunSummary{RunID: "run-1", Request: req}, ctx.Err()
	}
}

var fixedNow = time.Date(2025, time.May, 21, 9, 30, 0, 0, time.UTC)

func newTestHandler(t *testing.T, runner Runner) *Handler {
	return NewHandler(context.Background(), runner,
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func withScopes(req *http.Request, scopes ...string) *http.Request {
	claims := &auth.Claims{Subject: "operator", Scopes: map[string]struct{}{}, ExpiresAt: time.Now().Add(time.Hour)}
	for _, s := range scopes {
		claims.Scopes[s] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func postRun(h *Handler, body string, scopes ...string) *httptest.ResponseRecorder {
	req := withScopes(httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body)), scopes...)
	rr := httptest.NewRecorder()
	h.runs(rr, req)
	return rr
}

func getLatest(h *Handler, scopes ...string) *httptest.ResponseRecorder {
	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil), scopes...)
	rr := httptest.NewRecorder()
	h.latestRun(rr, req)
	return rr
}

func TestCreateRunRejectsSecondWhileBusy(t *testing.T) {
	runner := newBlockingRunner()
	h := newTestHandler(t, runner)

	rr := postRun(h, `{"job":"food","start":"2025-05-01","end":"2025-05-03","user_ids":[1]}`, auth.ScopeIngestRun)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	req := <-runner.requests
	require.Equal(t, "food", req.Job)
	require.Equal(t, time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), req.Start)
	require.Equal(t, []int64{1}, req.UserIDs)

	rr = postRun(h, `{"job":"weight"}`, auth.ScopeIngestRun)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = getLatest(h, auth.ScopeIngestRead)
	require.Equal(t, http.StatusOK, rr.Code)
	var running RunView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &running))
	require.Equal(t, StatusRunning, running.Status)
	require.Equal(t, "operator", running.RequestedBy)

	runner.release <- nil
	h.Wait()

	rr = getLatest(h, auth.ScopeIngestRead)
	var done RunView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &done))
	require.Equal(t, StatusSucceeded, done.Status)
	require.NotNil(t, done.Summary)
	require.EqualValues(t, 7, done.Summary.RowsAffected)

	rr = postRun(h, `{"job":"weight"}`, auth.ScopeIngestRun)
	require.Equal(t, http.StatusAccepted, rr.Code)
	req = <-runner.requests
	require.Equal(t, time.Date(2025, time.May, 20, 9, 30, 0, 0, time.UTC), req.Start)
	require.Equal(t, fixedNow, req.End)
	runner.release <- errors.New("storage unavailable")
	h.Wait()

	rr = getLatest(h, auth.ScopeIngestRun)
	var failed RunView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &failed))
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "storage unavailable", failed.Error)
}

func TestCreateRunValidation(t *testing.T) {
	h := newTestHandler(t, newBlockingRunner())

	cases := map[string]string{
		"unknown job": `{"job":"sleep"}`,
		"bad date":    `{"job":"food","start":"05/01/2025"}`,
		"reversed":    `{"job":"food","start":"2025-05-03","end":"2025-05-01"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := postRun(h, body, auth.ScopeIngestRun)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		})
	}

	rr := postRun(h, `{not json`, auth.ScopeIngestRun)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestScopesEnforced(t *testing.T) {
	h := newTestHandler(t, newBlockingRunner())

	rr := postRun(h, `{"job":"food"}`, auth.ScopeIngestRead)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = getLatest(h)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	h.latestRun(rr, httptest.NewRequest(http.MethodGet, "/v1/runs/latest", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLatestRunNotFound(t *testing.T) {
	h := newTestHandler(t, newBlockingRunner())
	rr := getLatest(h, auth.ScopeIngestRead)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutes(t *testing.T) {
	mux := http.NewServeMux()
	newTestHandler(t, newBlockingRunner()).RegisterRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, withScopes(httptest.NewRequest(http.MethodGet, "/v1/runs", nil), auth.ScopeIngestRun))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
