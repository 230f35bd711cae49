package ingest

import (
	"context"
	"log"
	"time"

	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/fatsecret"
	"example.com/personaldata/internal/pacing"
)

// UnitFetcher retrieves a single unit with retries.
type UnitFetcher interface {
	Fetch(ctx context.Context, cred domain.Credential, unit domain.FetchUnit, method, payloadKey string) (fatsecret.Result, error)
}

// UnitIssue names a unit that produced no data because of an error.
type UnitIssue struct {
	UserID   int64  `json:"user_id"`
	Unit     string `json:"unit"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// Report summarises one walk.
type Report struct {
	Job       string                    `json:"job"`
	Users     int                       `json:"users"`
	Units     int                       `json:"units"`
	Outcomes  map[fatsecret.Outcome]int `json:"outcomes"`
	Skipped   []UnitIssue               `json:"skipped,omitempty"`
	Failed    []UnitIssue               `json:"failed,omitempty"`
	Records   int                       `json:"records"`
	Malformed int                       `json:"malformed"`
	Clipped   int                       `json:"clipped"`
	Backoffs  int                       `json:"backoffs"`
	// InvalidCredentials counts users skipped before any request because signing material was missing.
	InvalidCredentials int `json:"invalid_credentials,omitempty"`
}

func newReport(job string) Report {
	return Report{Job: job, Outcomes: map[fatsecret.Outcome]int{}}
}

// Walker sweeps a date range unit by unit, one user after another.
type Walker struct {
	fetcher   UnitFetcher
	userDelay time.Duration
	sleep     pacing.SleepFunc
	logger    *log.Logger
}

// WalkerOption customises a Walker.
type WalkerOption func(*Walker)

// WithWalkerLogger overrides the walker logger.
func WithWalkerLogger(logger *log.Logger) WalkerOption {
	return func(w *Walker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithUserDelay sets the pause between consecutive users.
func WithUserDelay(d time.Duration) WalkerOption {
	return func(w *Walker) {
		w.userDelay = d
	}
}

// WithWalkerSleep replaces the sleeper used between users.
func WithWalkerSleep(fn pacing.SleepFunc) WalkerOption {
	return func(w *Walker) {
		if fn != nil {
			w.sleep = fn
		}
	}
}

// NewWalker constructs a walker on top of fetcher.
func NewWalker(fetcher UnitFetcher, opts ...WalkerOption) *Walker {
	w := &Walker{
		fetcher:   fetcher,
		userDelay: time.Second,
		sleep:     pacing.Sleep,
		logger:    log.New(log.Writer(), "[walker] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Walk fetches every unit of spec between start and end inclusive for each credential and
// returns the normalized batch. Unit and record problems land in the report; only context
// cancellation aborts the walk, in which case the partial batch must not be written.
func (w *Walker) Walk(ctx context.Context, spec RecordSpec, creds []domain.Credential, start, end time.Time) (domain.Batch, Report, error) {
	report := newReport(spec.Name)
	var batch domain.Batch

	rangeStart, rangeEnd := domain.TruncateDay(start), domain.TruncateDay(end)

	for i, cred := range creds {
		if i > 0 && w.userDelay > 0 {
			if err := w.sleep(ctx, w.userDelay); err != nil {
				return batch, report, err
			}
		}
		if err := cred.Validate(); err != nil {
			w.logger.Printf("skipping user %d: %v", cred.UserID, err)
			report.InvalidCredentials++
			continue
		}
		report.Users++

		for _, unit := range domain.Units(spec.Granularity, cred.UserID, rangeStart, rangeEnd) {
			res, err := w.fetcher.Fetch(ctx, cred, unit, spec.Method, spec.PayloadKey)
			if err != nil {
				return batch, report, err
			}
			report.Units++
			report.Outcomes[res.Outcome]++
			report.Backoffs += len(res.Backoffs)

			switch res.Outcome {
			case fatsecret.OutcomeSkipped:
				report.Skipped = append(report.Skipped, issue(res))
				continue
			case fatsecret.OutcomeFailed:
				report.Failed = append(report.Failed, issue(res))
				continue
			case fatsecret.OutcomeEmpty:
				continue
			}

			records, errs := spec.Normalize(unit, res.Payload)
			for _, nerr := range errs {
				w.logger.Printf("%s %s: dropping entry: %v", spec.Name, unit, nerr)
			}
			report.Malformed += len(errs)
			malformedCounter.WithLabelValues(spec.Name).Add(float64(len(errs)))

			for _, rec := range records {
				if spec.ClipToRange && (rec.Date.Before(rangeStart) || rec.Date.After(rangeEnd)) {
					report.Clipped++
					continue
				}
				batch = append(batch, rec)
				report.Records++
			}
		}
	}
	recordsCounter.WithLabelValues(spec.Name).Add(float64(report.Records))
	return batch, report, nil
}

func issue(res fatsecret.Result) UnitIssue {
	reason := ""
	if res.Err != nil {
		reason = res.Err.Error()
	}
	return UnitIssue{UserID: res.Unit.UserID, Unit: res.Unit.Label(), Attempts: res.Attempts, Reason: reason}
}
