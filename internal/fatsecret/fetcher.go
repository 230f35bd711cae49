package fatsecret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/pacing"
)

// RetryPolicy bounds how a unit is retried and paced.
type RetryPolicy struct {
	MaxRetries        int
	RateLimitCooldown time.Duration
	TransportCooldown time.Duration
	UnitDelay         time.Duration
}

// DefaultRetryPolicy returns the provider-friendly pacing used in production.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		RateLimitCooldown: 30 * time.Second,
		TransportCooldown: 5 * time.Second,
		UnitDelay:         time.Second,
	}
}

// Outcome is the terminal state of one fetch unit.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeEmpty     Outcome = "empty"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result describes how a unit finished.
type Result struct {
	Unit     domain.FetchUnit
	Outcome  Outcome
	Payload  json.RawMessage
	Attempts int
	Backoffs []time.Duration
	// Err holds the last provider or transport error for skipped and failed units.
	Err error
}

// Caller performs a single signed call.
type Caller interface {
	Call(ctx context.Context, cred domain.Credential, params map[string]string, payloadKey string) (Envelope, error)
}

// Fetcher runs the retry loop for one unit at a time.
type Fetcher struct {
	caller Caller
	policy RetryPolicy
	sleep  pacing.SleepFunc
	logger *log.Logger
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLogger overrides the fetcher logger.
func WithLogger(logger *log.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithSleep replaces the sleeper, mostly for tests.
func WithSleep(fn pacing.SleepFunc) Option {
	return func(f *Fetcher) {
		if fn != nil {
			f.sleep = fn
		}
	}
}

// NewFetcher wires a fetcher around caller.
func NewFetcher(caller Caller, policy RetryPolicy, opts ...Option) *Fetcher {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	f := &Fetcher{
		caller: caller,
		policy: policy,
		sleep:  pacing.Sleep,
		logger: log.New(log.Writer(), "[fatsecret] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy returns the retry policy in effect.
func (f *Fetcher) Policy() RetryPolicy { return f.policy }

// Fetch retrieves unit with method, reading data from payloadKey. Rate limits and transport
// failures are retried up to MaxRetries times; a unit that exhausts its budget is reported as
// skipped and an API error marks it failed. The only error returned is context cancellation.
func (f *Fetcher) Fetch(ctx context.Context, cred domain.Credential, unit domain.FetchUnit, method, payloadKey string) (Result, error) {
	params := map[string]string{
		"method": method,
		"date":   strconv.FormatInt(unit.EpochDay(), 10),
	}
	res := Result{Unit: unit}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts++

		env, err := f.caller.Call(ctx, cred, params, payloadKey)
		var (
			cooldown time.Duration
			reason   string
		)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			requestsCounter.WithLabelValues(method, "transport_error").Inc()
			res.Err = err
			cooldown, reason = f.policy.TransportCooldown, "transport"
		case env.Kind == KindRateLimited:
			requestsCounter.WithLabelValues(method, env.Kind.String()).Inc()
			res.Err = fmt.Errorf("%w: %v", domain.ErrRateLimited, env.Err)
			cooldown, reason = f.policy.RateLimitCooldown, "rate_limit"
		case env.Kind == KindAPIError:
			requestsCounter.WithLabelValues(method, env.Kind.String()).Inc()
			res.Outcome, res.Err = OutcomeFailed, env.Err
			return f.finish(ctx, method, res)
		case env.Kind == KindEmpty:
			requestsCounter.WithLabelValues(method, env.Kind.String()).Inc()
			res.Outcome, res.Err = OutcomeEmpty, nil
			return f.finish(ctx, method, res)
		default:
			requestsCounter.WithLabelValues(method, env.Kind.String()).Inc()
			res.Outcome, res.Payload, res.Err = OutcomeSucceeded, env.Payload, nil
			return f.finish(ctx, method, res)
		}

		if res.Attempts > f.policy.MaxRetries {
			res.Outcome = OutcomeSkipped
			res.Err = fmt.Errorf("%w after %d attempts: %w", domain.ErrUnitSkipped, res.Attempts, res.Err)
			return f.finish(ctx, method, res)
		}

		f.logger.Printf("%s %s: %v; retrying in %s (attempt %d/%d)", method, unit, res.Err, cooldown, res.Attempts, f.policy.MaxRetries+1)
		backoffCounter.WithLabelValues(method, reason).Inc()
		res.Backoffs = append(res.Backoffs, cooldown)
		if err := f.sleep(ctx, cooldown); err != nil {
			return res, err
		}
	}
}

func (f *Fetcher) finish(ctx context.Context, method string, res Result) (Result, error) {
	unitOutcomeCounter.WithLabelValues(method, string(res.Outcome)).Inc()
	switch res.Outcome {
	case OutcomeSkipped:
		f.logger.Printf("skipping %s %s: %v", method, res.Unit, res.Err)
	case OutcomeFailed:
		var apiErr *domain.APIError
		if errors.As(res.Err, &apiErr) {
			f.logger.Printf("%s %s failed with provider error %d: %s", method, res.Unit, apiErr.Code, apiErr.Message)
		} else {
			f.logger.Printf("%s %s failed: %v", method, res.Unit, res.Err)
		}
	case OutcomeEmpty:
		f.logger.Printf("%s %s: no data", method, res.Unit)
	}
	if err := f.sleep(ctx, f.policy.UnitDelay); err != nil {
		return res, err
	}
	return res, nil
}
