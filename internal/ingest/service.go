package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/observability"
	"example.com/personaldata/internal/outbox"
	"example.com/personaldata/internal/persistence/postgres"
)

// ErrNoCredentials is returned when the credential source yields nobody to sweep.
var ErrNoCredentials = errors.New("no credentials to sweep")

// BatchWriter persists a batch atomically.
type BatchWriter interface {
	Write(ctx context.Context, table domain.TableSpec, batch domain.Batch, opts ...postgres.WriteOption) (int64, error)
}

// RunRequest selects a job, an inclusive date range and optionally a subset of users.
type RunRequest struct {
	Job     string    `json:"job"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	UserIDs []int64   `json:"user_ids,omitempty"`
}

// Validate checks the request before any provider call is made.
func (r RunRequest) Validate() error {
	if _, err := Lookup(r.Job); err != nil {
		return err
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("start and end are required")
	}
	if domain.TruncateDay(r.End).Before(domain.TruncateDay(r.Start)) {
		return fmt.Errorf("end %s is before start %s", r.End.Format(time.DateOnly), r.Start.Format(time.DateOnly))
	}
	return nil
}

// RunSummary is the result of one run.
type RunSummary struct {
	RunID        string     `json:"run_id"`
	Request      RunRequest `json:"request"`
	Report       Report     `json:"report"`
	RowsAffected int64      `json:"rows_affected"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
}

// Service coordinates credential lookup, the walk and the write for one job run.
type Service struct {
	walker      *Walker
	creds       domain.CredentialSource
	writer      BatchWriter
	eventsTopic string
	logger      *log.Logger
	now         func() time.Time
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithServiceLogger overrides the service logger.
func WithServiceLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventsTopic enables an ingest.completed outbox event on topic for every committed batch.
func WithEventsTopic(topic string) ServiceOption {
	return func(s *Service) {
		s.eventsTopic = topic
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires a Service.
func NewService(walker *Walker, creds domain.CredentialSource, writer BatchWriter, opts ...ServiceOption) *Service {
	s := &Service{
		walker: walker,
		creds:  creds,
		writer: writer,
		logger: log.New(log.Writer(), "[ingest] ", log.LstdFlags|log.Lshortfile),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes req end to end. The batch is written only after the walk completed, so a
// cancelled run commits nothing. Storage failures are returned as *domain.StorageError.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	summary := RunSummary{RunID: uuid.NewString(), Request: req, StartedAt: s.now().UTC()}
	if err := req.Validate(); err != nil {
		return summary, err
	}
	spec, _ := Lookup(req.Job)

	creds, err := s.creds.Credentials(ctx, req.UserIDs)
	if err != nil {
		return summary, fmt.Errorf("load credentials: %w", err)
	}
	if len(creds) == 0 {
		return summary, ErrNoCredentials
	}

	timer := time.Now()
	defer func() { runDuration.WithLabelValues(spec.Name).Observe(time.Since(timer).Seconds()) }()

	s.logger.Printf("run %s: %s from %s to %s for %d user(s)", summary.RunID, spec.Name,
		req.Start.Format(time.DateOnly), req.End.Format(time.DateOnly), len(creds))

	batch, report, err := s.walker.Walk(ctx, spec, creds, req.Start, req.End)
	summary.Report = report
	if err != nil {
		return summary, fmt.Errorf("walk %s: %w", spec.Name, err)
	}

	if len(batch) == 0 {
		s.logger.Printf("run %s: nothing to write (%d units, %d skipped, %d failed)", summary.RunID, report.Units, len(report.Skipped), len(report.Failed))
		summary.FinishedAt = s.now().UTC()
		return summary, nil
	}

	var opts []postgres.WriteOption
	if s.eventsTopic != "" {
		opts = append(opts, postgres.WithOutboxEvent(outbox.NewIngestCompletedEvent(s.eventsTopic, outbox.IngestCompleted{
			RunID:       summary.RunID,
			Job:         spec.Name,
			Table:       spec.Table.Name(),
			UserIDs:     userIDs(creds),
			Start:       domain.TruncateDay(req.Start),
			End:         domain.TruncateDay(req.End),
			Units:       report.Units,
			Records:     len(batch),
			Skipped:     len(report.Skipped),
			Failed:      len(report.Failed),
			CompletedAt: s.now().UTC(),
		})))
	}

	rows, err := s.writer.Write(ctx, spec.Table, batch, opts...)
	if err != nil {
		return summary, err
	}
	summary.RowsAffected = rows
	summary.FinishedAt = s.now().UTC()

	rowsWrittenCounter.WithLabelValues(spec.Name).Add(float64(rows))
	observability.RecordBatchWritten(spec.Table.Table, summary.FinishedAt)
	observability.RecordLatestDate(spec.Table.Table, latestDate(batch))

	s.logger.Printf("run %s: %d records, %d rows affected, %d skipped, %d failed, %d malformed",
		summary.RunID, len(batch), rows, len(report.Skipped), len(report.Failed), report.Malformed)
	return summary, nil
}

func userIDs(creds []domain.Credential) []int64 {
	ids := make([]int64, 0, len(creds))
	for _, c := range creds {
		ids = append(ids, c.UserID)
	}
	return ids
}

func latestDate(batch domain.Batch) time.Time {
	var latest time.Time
	for _, r := range batch {
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	return latest
}

// ParseUserIDs parses a comma-separated id list such as "1, 7,12". Empty input yields nil.
func ParseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
