package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/personaldata/internal/api"
	"example.com/personaldata/internal/auth"
	"example.com/personaldata/internal/config"
	"example.com/personaldata/internal/domain"
	"example.com/personaldata/internal/fatsecret"
	"example.com/personaldata/internal/ingest"
	"example.com/personaldata/internal/outbox"
	persistence "example.com/personaldata/internal/persistence/postgres"
	httptransport "example.com/personaldata/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	var creds domain.CredentialSource = domain.StaticCredentials{Credential: cfg.StaticCredential()}
	if cfg.CredentialSource == config.CredentialSourceDatabase {
		creds = persistence.NewCredentialStore(pool, cfg.ConsumerKey, cfg.ConsumerSecret)
	}

	client := fatsecret.NewClient(cfg.FatSecretURL, cfg.HTTPTimeout)
	walker := ingest.NewWalker(fatsecret.NewFetcher(client, cfg.RetryPolicy()), ingest.WithUserDelay(cfg.UserDelay))
	service := ingest.NewService(walker, creds, persistence.NewWriter(pool), ingest.WithEventsTopic(cfg.EventsTopic()))

	var dispatcher *outbox.Dispatcher
	if cfg.EventsEnabled() {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		dispatcher = outbox.NewDispatcher(pool, producer, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	handler := api.NewHandler(ctx, service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.RequestLogger(log.Default(), authMiddleware.Wrap(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("personal-data api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	handler.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
