package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/personaldata/internal/config"
	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/enrich"
	"example.com/personaldata/internal/ingest"
	"example.com/personaldata/internal/outbox"
	"example.com/personaldata/internal/pacing"
	persistence "example.com/personaldata/internal/persistence/postgres"
	httptransport "example.com/personaldata/internal/transport/http"
)

const (
	exitFailure = 1
	exitStorage = 2
)

type options struct {
	mode    string
	start   time.Time
	end     time.Time
	userIDs []int64
}

func main() {
	cfg := config.Load()

	today := time.Now().UTC()
	mode := flag.String("mode", enrich.ModeNutrients, "nutrients: estimate per-entry micronutrients; goals: estimate daily targets")
	start := flag.String("start", today.AddDate(0, 0, -1).Format(time.DateOnly), "first day of the food log (YYYY-MM-DD)")
	end := flag.String("end", today.Format(time.DateOnly), "last day of the food log, and the goals date (YYYY-MM-DD)")
	users := flag.String("users", "", "comma-separated user ids; empty selects every user")
	flag.Parse()

	opts, err := parseOptions(*mode, *start, *end, *users)
	if err != nil {
		log.Printf("invalid arguments: %v", err)
		os.Exit(exitFailure)
	}
	if cfg.GeminiAPIKey == "" {
		log.Printf("GEMINI_API_KEY is required")
		os.Exit(exitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, opts))
}

func parseOptions(mode, start, end, users string) (options, error) {
	o := options{mode: mode}
	if mode != enrich.ModeNutrients && mode != enrich.ModeGoals {
		return o, fmt.Errorf("unknown mode %q", mode)
	}
	var err error
	if o.start, err = time.Parse(time.DateOnly, start); err != nil {
		return o, fmt.Errorf("start: %w", err)
	}
	if o.end, err = time.Parse(time.DateOnly, end); err != nil {
		return o, fmt.Errorf("end: %w", err)
	}
	if o.end.Before(o.start) {
		return o, errors.New("end is before start")
	}
	o.userIDs, err = ingest.ParseUserIDs(users)
	return o, err
}

func run(ctx context.Context, cfg config.Config, opts options) int {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Printf("failed to connect to postgres: %v", err)
		return exitStorage
	}
	defer pool.Close()

	stopMetrics := httptransport.ServeMetrics(ctx, cfg.MetricsAddress, log.Default())
	defer stopMetrics()

	repo := persistence.NewRepository(pool)
	userIDs, err := repo.UserIDs(ctx, opts.userIDs)
	if err != nil {
		log.Printf("load users: %v", err)
		return exitStorage
	}
	if len(userIDs) == 0 {
		log.Printf("no users to enrich")
		return 0
	}

	completer, err := enrich.NewGeminiCompleter(ctx, cfg.GeminiURL, cfg.GeminiModel, cfg.GeminiAPIKey, cfg.HTTPTimeout*4)
	if err != nil {
		log.Printf("%v", err)
		return exitFailure
	}
	estimator := enrich.NewEstimator(completer, enrich.NewNutrientCatalog(repo), repo, repo, persistence.NewWriter(pool), cfg.EnrichConfig())

	var results []enrich.Result
	switch opts.mode {
	case enrich.ModeGoals:
		res, err := estimator.EstimateDailyGoals(ctx, userIDs, opts.end)
		results = append(results, res)
		if err != nil {
			return failure(err)
		}
	default:
		for i, userID := range userIDs {
			if i > 0 {
				if err := pacing.Sleep(ctx, cfg.AIUserDelay); err != nil {
					return exitFailure
				}
			}
			res, err := estimator.EstimateFoodNutrients(ctx, userID, opts.start, opts.end)
			results = append(results, res)
			if err != nil {
				var storageErr *domain.StorageError
				if errors.As(err, &storageErr) || ctx.Err() != nil {
					return failure(err)
				}
				log.Printf("user %d: %v", userID, err)
			}
		}
	}

	if cfg.EventsEnabled() {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		if n, err := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize).Drain(ctx); err != nil {
			log.Printf("outbox drain: %v", err)
		} else {
			log.Printf("outbox: %d event(s) dispatched", n)
		}
	}

	out, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(out))
	return 0
}

func failure(err error) int {
	log.Printf("enrich failed: %v", err)
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return exitStorage
	}
	return exitFailure
}
