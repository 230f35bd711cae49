// Package enrich estimates micronutrient amounts and daily goals with an AI completion
// backend and stores them through the upsert writer.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/outbox"
	"example.com/personaldata/internal/pacing"
	"example.com/personaldata/internal/persistence/postgres"
)

const (
	ModeNutrients = "nutrients"
	ModeGoals     = "goals"
)

// FoodLogReader loads stored food entries.
type FoodLogReader interface {
	FoodLog(ctx context.Context, userID int64, start, end time.Time) ([]domain.FoodLogEntry, error)
}

// ProfileReader loads demographic details.
type ProfileReader interface {
	UserProfile(ctx context.Context, userID int64) (domain.UserProfile, bool, error)
}

// BatchWriter persists a batch atomically.
type BatchWriter interface {
	Write(ctx context.Context, table domain.TableSpec, batch domain.Batch, opts ...postgres.WriteOption) (int64, error)
}

// Config tunes retries and pacing.
type Config struct {
	MaxRetries  int
	BaseDelay   time.Duration
	UserDelay   time.Duration
	EventsTopic string
}

// Result summarises one estimation pass.
type Result struct {
	RunID        string  `json:"run_id"`
	Mode         string  `json:"mode"`
	Users        int     `json:"users"`
	FailedUsers  []int64 `json:"failed_users,omitempty"`
	Records      int     `json:"records"`
	Malformed    int     `json:"malformed"`
	RowsAffected int64   `json:"rows_affected"`
}

// Estimator drives prompts, parses answers and writes the resulting rows.
type Estimator struct {
	completer  Completer
	catalog    *NutrientCatalog
	foodLog    FoodLogReader
	profiles   ProfileReader
	writer     BatchWriter
	cfg        Config
	newBackOff func() backoff.BackOff
	sleep      pacing.SleepFunc
	logger     *log.Logger
}

// Option customises an Estimator.
type Option func(*Estimator)

// WithLogger overrides the estimator logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Estimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBackOff replaces the retry schedule factory.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(e *Estimator) {
		if fn != nil {
			e.newBackOff = fn
		}
	}
}

// WithSleep replaces the sleeper used between users.
func WithSleep(fn pacing.SleepFunc) Option {
	return func(e *Estimator) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// NewEstimator wires an Estimator.
func NewEstimator(completer Completer, catalog *NutrientCatalog, foodLog FoodLogReader, profiles ProfileReader, writer BatchWriter, cfg Config, opts ...Option) *Estimator {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	e := &Estimator{
		completer: completer,
		catalog:   catalog,
		foodLog:   foodLog,
		profiles:  profiles,
		writer:    writer,
		cfg:       cfg,
		sleep:     pacing.Sleep,
		logger:    log.New(log.Writer(), "[enrich] ", log.LstdFlags|log.Lshortfile),
	}
	e.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = e.cfg.BaseDelay
		b.Multiplier = 2
		b.MaxElapsedTime = 0
		return b
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EstimateFoodNutrients estimates nutrient amounts for every stored food entry of userID
// between start and end inclusive.
func (e *Estimator) EstimateFoodNutrients(ctx context.Context, userID int64, start, end time.Time) (Result, error) {
	res := Result{RunID: uuid.NewString(), Mode: ModeNutrients, Users: 1}

	entries, err := e.foodLog.FoodLog(ctx, userID, start, end)
	if err != nil {
		return res, fmt.Errorf("load food log: %w", err)
	}
	if len(entries) == 0 {
		e.logger.Printf("user %d: no food entries between %s and %s", userID, start.Format(time.DateOnly), end.Format(time.DateOnly))
		return res, nil
	}
	nutrients, err := e.catalog.All(ctx)
	if err != nil {
		return res, fmt.Errorf("load nutrient catalog: %w", err)
	}

	text, err := e.complete(ctx, ModeNutrients, foodPrompt(nutrients, entries))
	if err != nil {
		return res, err
	}

	batch, bad, err := e.parseFoodEstimates(ctx, userID, text, entries)
	if err != nil {
		return res, err
	}
	res.Records, res.Malformed = len(batch), bad
	estimatesCounter.WithLabelValues(ModeNutrients, "accepted").Add(float64(len(batch)))
	estimatesCounter.WithLabelValues(ModeNutrients, "rejected").Add(float64(bad))

	res.RowsAffected, err = e.write(ctx, domain.FoodEntryNutrientsTable, batch, res, []int64{userID})
	return res, err
}

// EstimateDailyGoals estimates daily nutrient targets for each user on date. A user whose
// estimate fails is logged and left out; the rest are written together.
func (e *Estimator) EstimateDailyGoals(ctx context.Context, userIDs []int64, date time.Time) (Result, error) {
	res := Result{RunID: uuid.NewString(), Mode: ModeGoals}
	date = domain.TruncateDay(date)

	nutrients, err := e.catalog.All(ctx)
	if err != nil {
		return res, fmt.Errorf("load nutrient catalog: %w", err)
	}

	var batch domain.Batch
	for i, userID := range userIDs {
		if i > 0 && e.cfg.UserDelay > 0 {
			if err := e.sleep(ctx, e.cfg.UserDelay); err != nil {
				return res, err
			}
		}
		res.Users++

		records, bad, err := e.estimateUserGoals(ctx, nutrients, userID, date)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			e.logger.Printf("user %d: goal estimate failed: %v", userID, err)
			res.FailedUsers = append(res.FailedUsers, userID)
			continue
		}
		res.Malformed += bad
		batch = append(batch, records...)
	}
	res.Records = len(batch)
	estimatesCounter.WithLabelValues(ModeGoals, "accepted").Add(float64(len(batch)))
	estimatesCounter.WithLabelValues(ModeGoals, "rejected").Add(float64(res.Malformed))

	res.RowsAffected, err = e.write(ctx, domain.DailyNutrientGoalsTable, batch, res, userIDs)
	return res, err
}

func (e *Estimator) estimateUserGoals(ctx context.Context, nutrients []domain.Nutrient, userID int64, date time.Time) (domain.Batch, int, error) {
	profile, known, err := e.profiles.UserProfile(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	if !known {
		e.logger.Printf("user %d: no demographic details, using conservative estimates", userID)
	}
	text, err := e.complete(ctx, ModeGoals, goalsPrompt(nutrients, profile, known))
	if err != nil {
		return nil, 0, err
	}
	return e.parseGoals(ctx, userID, date, text)
}

func (e *Estimator) write(ctx context.Context, table domain.TableSpec, batch domain.Batch, res Result, userIDs []int64) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	var opts []postgres.WriteOption
	if e.cfg.EventsTopic != "" {
		opts = append(opts, postgres.WithOutboxEvent(outbox.NewEnrichCompletedEvent(e.cfg.EventsTopic, outbox.EnrichCompleted{
			RunID:       res.RunID,
			Mode:        res.Mode,
			Table:       table.Name(),
			UserIDs:     userIDs,
			Records:     len(batch),
			CompletedAt: time.Now().UTC(),
		})))
	}
	return e.writer.Write(ctx, table, batch, opts...)
}

// complete calls the backend, retrying rate limits with exponential backoff up to MaxRetries times.
func (e *Estimator) complete(ctx context.Context, mode, prompt string) (string, error) {
	var text string
	op := func() error {
		out, err := e.completer.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, ErrCompletionRateLimited) {
				completionCounter.WithLabelValues(mode, "rate_limited").Inc()
				e.logger.Printf("%s completion rate limited, backing off", mode)
				return err
			}
			completionCounter.WithLabelValues(mode, "error").Inc()
			return backoff.Permanent(err)
		}
		completionCounter.WithLabelValues(mode, "ok").Inc()
		text = out
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", fmt.Errorf("%s completion: %w", mode, err)
	}
	return text, nil
}

func (e *Estimator) parseFoodEstimates(ctx context.Context, userID int64, text string, entries []domain.FoodLogEntry) (domain.Batch, int, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, 0, domain.Malformed("estimates", err)
	}

	known := make(map[int64]domain.FoodLogEntry, len(entries))
	for _, en := range entries {
		known[en.FoodEntryID] = en
	}

	var (
		batch domain.Batch
		bad   int
	)
	for _, item := range items {
		rawID, ok := item["fatsecret_food_entry_id"]
		if !ok {
			e.logger.Printf("user %d: estimate without fatsecret_food_entry_id", userID)
			bad++
			continue
		}
		entryID, err := parseAmount(rawID)
		if err != nil || entryID != float64(int64(entryID)) {
			e.logger.Printf("user %d: bad food entry id %s", userID, rawID)
			bad++
			continue
		}
		entry, ok := known[int64(entryID)]
		if !ok {
			e.logger.Printf("user %d: estimate for unknown food entry %d", userID, int64(entryID))
			bad++
			continue
		}
		for code, raw := range item {
			if code == "fatsecret_food_entry_id" {
				continue
			}
			nutrientID, amount, err := e.resolve(ctx, code, raw)
			if err != nil {
				if !errors.Is(err, domain.ErrMalformedRecord) {
					return nil, 0, err
				}
				e.logger.Printf("user %d entry %d: %v", userID, entry.FoodEntryID, err)
				bad++
				continue
			}
			batch = append(batch, domain.Record{
				UserID: userID,
				Date:   entry.Date,
				Values: []any{entry.FoodEntryID, nutrientID, amount},
			})
		}
	}
	return batch, bad, nil
}

func (e *Estimator) parseGoals(ctx context.Context, userID int64, date time.Time, text string) (domain.Batch, int, error) {
	var goals map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &goals); err != nil {
		return nil, 0, domain.Malformed("goals", err)
	}

	var (
		batch domain.Batch
		bad   int
	)
	for key, raw := range goals {
		code, ok := strings.CutSuffix(key, goalSuffix)
		if !ok {
			continue
		}
		nutrientID, amount, err := e.resolve(ctx, code, raw)
		if err != nil {
			if !errors.Is(err, domain.ErrMalformedRecord) {
				return nil, 0, err
			}
			e.logger.Printf("user %d: %v", userID, err)
			bad++
			continue
		}
		batch = append(batch, domain.Record{
			UserID: userID,
			Date:   date,
			Values: []any{userID, date, nutrientID, amount},
		})
	}
	return batch, bad, nil
}

// resolve maps a nutrient code and raw amount to a catalog id and a non-negative value.
func (e *Estimator) resolve(ctx context.Context, code string, raw json.RawMessage) (int, float64, error) {
	n, ok, err := e.catalog.Lookup(ctx, code)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, domain.Malformed(code, errors.New("unknown nutrient code"))
	}
	amount, err := parseAmount(raw)
	if err != nil {
		return 0, 0, domain.Malformed(code, err)
	}
	if amount < 0 {
		return 0, 0, domain.Malformed(code, fmt.Errorf("negative amount %v", amount))
	}
	return n.ID, amount, nil
}

func parseAmount(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
