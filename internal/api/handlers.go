// Package api exposes HTTP handlers that trigger and report ingestion runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"example.com/personaldata/internal/auth"
	"example.com/personaldata/internal/ingest"
)

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, req ingest.RunRequest) (ingest.RunSummary, error)
}

// Handler serialises runs: at most one is in flight, later requests get 409 until it finishes.
type Handler struct {
	runner Runner
	// runs outlive the request that started them
	baseCtx context.Context
	logger  *log.Logger
	now     func() time.Time

	mu      sync.Mutex
	running *RunView
	latest  *RunView
	wg      sync.WaitGroup
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger overrides the handler logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the time source used for default date ranges.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler builds a Handler. Background runs are cancelled with baseCtx.
func NewHandler(baseCtx context.Context, runner Runner, opts ...Option) *Handler {
	h := &Handler{
		runner:  runner,
		baseCtx: baseCtx,
		logger:  log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/runs", h.runs)
	mux.HandleFunc("/v1/runs/latest", h.latestRun)
	mux.HandleFunc("/healthz", healthz)
}

// Wait blocks until the background run, if any, has returned.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) runs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeIngestRun) {
		writeError(w, http.StatusForbidden, "forbidden", "scope ingest:run required")
		return
	}

	var body CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	req, err := body.toRunRequest(h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	view, started := h.start(req, claims.Subject)
	if !started {
		writeJSON(w, http.StatusConflict, map[string]any{
			"type":    "run_in_progress",
			"detail":  "another run is in progress",
			"running": view,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// start launches req unless a run is already in flight, in which case it returns that run.
func (h *Handler) start(req ingest.RunRequest, requestedBy string) (RunView, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running != nil {
		return *h.running, false
	}

	view := &RunView{Status: StatusRunning, Request: req, RequestedBy: requestedBy, AcceptedAt: h.now().UTC()}
	h.running = view
	accepted := *view

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		summary, err := h.runner.Run(h.baseCtx, req)
		h.finish(view, summary, err)
	}()
	return accepted, true
}

func (h *Handler) finish(view *RunView, summary ingest.RunSummary, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	view.Summary = &summary
	view.Status = StatusSucceeded
	if err != nil {
		view.Status = StatusFailed
		view.Error = err.Error()
		h.logger.Printf("run %s (%s) failed: %v", summary.RunID, view.Request.Job, err)
	}
	h.latest = view
	h.running = nil
}

func (h *Handler) latestRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeIngestRead) && !claims.HasScope(auth.ScopeIngestRun) {
		writeError(w, http.StatusForbidden, "forbidden", "scope ingest:read required")
		return
	}

	h.mu.Lock()
	current := h.running
	if current == nil {
		current = h.latest
	}
	var view RunView
	if current != nil {
		view = *current
	}
	h.mu.Unlock()

	if current == nil {
		writeError(w, http.StatusNotFound, "not_found", "no run yet")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Run states reported by RunView.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// CreateRunRequest is the payload for POST /v1/runs. Dates are YYYY-MM-DD; both default
// to a yesterday-to-today window.
type CreateRunRequest struct {
	Job     string  `json:"job"`
	Start   string  `json:"start,omitempty"`
	End     string  `json:"end,omitempty"`
	UserIDs []int64 `json:"user_ids,omitempty"`
}

func (c CreateRunRequest) toRunRequest(now time.Time) (ingest.RunRequest, error) {
	today := now.UTC()
	req := ingest.RunRequest{
		Job:     c.Job,
		Start:   today.AddDate(0, 0, -1),
		End:     today,
		UserIDs: c.UserIDs,
	}
	if c.Start != "" {
		t, err := time.Parse(time.DateOnly, c.Start)
		if err != nil {
			return req, errors.New("start must be YYYY-MM-DD")
		}
		req.Start = t
	}
	if c.End != "" {
		t, err := time.Parse(time.DateOnly, c.End)
		if err != nil {
			return req, errors.New("end must be YYYY-MM-DD")
		}
		req.End = t
	}
	return req, nil
}

// RunView describes a run accepted through the API.
type RunView struct {
	Status      string             `json:"status"`
	Request     ingest.RunRequest  `json:"request"`
	RequestedBy string             `json:"requested_by"`
	AcceptedAt  time.Time          `json:"accepted_at"`
	Summary     *ingest.RunSummary `json:"summary,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
