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
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/personaldata/internal/config"
	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/fatsecret"
	"example.com/personaldata/internal/ingest"
	"example.com/personaldata/internal/outbox"
	persistence "example.com/personaldata/internal/persistence/postgres"
	httptransport "example.com/personaldata/internal/transport/http"
)

const (
	exitFailure = 1
	exitStorage = 2
)

func main() {
	cfg := config.Load()

	today := time.Now().UTC()
	job := flag.String("job", ingest.JobFood, "job to run: "+strings.Join(ingest.Jobs(), ", "))
	start := flag.String("start", today.AddDate(0, 0, -1).Format(time.DateOnly), "first day (YYYY-MM-DD)")
	end := flag.String("end", today.Format(time.DateOnly), "last day (YYYY-MM-DD), inclusive")
	users := flag.String("users", "", "comma-separated user ids; empty sweeps every user")
	flag.Parse()

	req, err := buildRequest(*job, *start, *end, *users)
	if err != nil {
		log.Printf("invalid arguments: %v", err)
		os.Exit(exitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, req))
}

func run(ctx context.Context, cfg config.Config, req ingest.RunRequest) int {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Printf("failed to connect to postgres: %v", err)
		return exitStorage
	}
	defer pool.Close()

	stopMetrics := httptransport.ServeMetrics(ctx, cfg.MetricsAddress, log.Default())
	defer stopMetrics()

	creds, err := credentialSource(cfg, pool)
	if err != nil {
		log.Printf("credentials: %v", err)
		return exitFailure
	}

	client := fatsecret.NewClient(cfg.FatSecretURL, cfg.HTTPTimeout)
	fetcher := fatsecret.NewFetcher(client, cfg.RetryPolicy())
	walker := ingest.NewWalker(fetcher, ingest.WithUserDelay(cfg.UserDelay))
	service := ingest.NewService(walker, creds, persistence.NewWriter(pool), ingest.WithEventsTopic(cfg.EventsTopic()))

	summary, err := service.Run(ctx, req)
	if err != nil {
		log.Printf("ingest %s failed: %v", req.Job, err)
		var storageErr *domain.StorageError
		if errors.As(err, &storageErr) {
			return exitStorage
		}
		return exitFailure
	}

	if cfg.EventsEnabled() {
		drainOutbox(ctx, cfg, pool)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))
	return 0
}

func buildRequest(job, start, end, users string) (ingest.RunRequest, error) {
	req := ingest.RunRequest{Job: job}
	var err error
	if req.Start, err = time.Parse(time.DateOnly, start); err != nil {
		return req, fmt.Errorf("start: %w", err)
	}
	if req.End, err = time.Parse(time.DateOnly, end); err != nil {
		return req, fmt.Errorf("end: %w", err)
	}
	if req.UserIDs, err = ingest.ParseUserIDs(users); err != nil {
		return req, err
	}
	return req, req.Validate()
}

func credentialSource(cfg config.Config, pool *pgxpool.Pool) (domain.CredentialSource, error) {
	switch cfg.CredentialSource {
	case config.CredentialSourceDatabase:
		return persistence.NewCredentialStore(pool, cfg.ConsumerKey, cfg.ConsumerSecret), nil
	case config.CredentialSourceStatic:
		return domain.StaticCredentials{Credential: cfg.StaticCredential()}, nil
	default:
		return nil, fmt.Errorf("unknown CREDENTIAL_SOURCE %q", cfg.CredentialSource)
	}
}

// drainOutbox publishes this run's events; failures leave rows for the next drain.
func drainOutbox(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) {
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	dispatcher := outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	published, err := dispatcher.Drain(ctx)
	if err != nil {
		log.Printf("outbox drain: %v", err)
		return
	}
	log.Printf("outbox: %d event(s) dispatched", published)
}
