package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"example.com/personaldata/internal/config"
	"example.com/personaldata/internal/objectstore"
	httptransport "example.com/personaldata/internal/transport/http"
)

func main() {
	cfg := config.Load()

	manifest := flag.String("manifest", "", "JSON file listing photos as {\"id\", \"post_date\", \"url\"}")
	flag.Parse()
	if *manifest == "" {
		log.Fatal("-manifest is required")
	}

	refs, err := objectstore.LoadManifest(*manifest)
	if err != nil {
		log.Fatalf("load manifest: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopMetrics := httptransport.ServeMetrics(ctx, cfg.MetricsAddress, log.Default())
	defer stopMetrics()

	store, err := objectstore.NewMinioStore(cfg.MinioConfig())
	if err != nil {
		log.Fatalf("object store: %v", err)
	}

	uploader := objectstore.NewUploader(store, cfg.S3Prefix, cfg.PhotoDelay)
	report, err := uploader.Upload(ctx, refs)
	if err != nil {
		log.Printf("photo sync aborted: %v", err)
		stopMetrics()
		os.Exit(1)
	}
	if report.Err != nil {
		log.Printf("photo sync finished with failures: %v", report.Err)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}
