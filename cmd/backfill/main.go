// backfill re-projects every review from Postgres into the search index in
// bulk chunks. Run it after bootstrap on a fresh cluster, or any time the
// index may have drifted from the relational store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/reviewstack/search-pipeline/internal/indexing"
	"github.com/reviewstack/search-pipeline/internal/review"
	"github.com/reviewstack/search-pipeline/pkg/config"
	"github.com/reviewstack/search-pipeline/pkg/logger"
	"github.com/reviewstack/search-pipeline/pkg/opensearch"
	"github.com/reviewstack/search-pipeline/pkg/postgres"
	"github.com/reviewstack/search-pipeline/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	chunkSize := flag.Int("chunk-size", 0, "documents per bulk request (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, *chunkSize); err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, chunkSize int) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pgClient *postgres.Client
	err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
		var err error
		pgClient, err = postgres.New(cfg.Postgres)
		return err
	})
	if err != nil {
		return err
	}
	defer pgClient.Close()

	osClient, err := opensearch.New(cfg.OpenSearch)
	if err != nil {
		return err
	}
	err = resilience.Retry(ctx, "opensearch-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
		return osClient.Ping(ctx)
	})
	if err != nil {
		return err
	}

	if chunkSize <= 0 {
		chunkSize = cfg.Backfill.ChunkSize
	}

	report, err := indexing.RunReviewBackfill(ctx, review.NewRepository(pgClient), osClient, indexing.BackfillOptions{
		IndexName: cfg.OpenSearch.IndexAlias,
		ChunkSize: chunkSize,
		Refresh:   cfg.OpenSearch.Refresh,
	})
	if err != nil {
		return err
	}

	encoded, _ := json.Marshal(report)
	fmt.Println(string(encoded))
	// Partial item failures do not fail the run; the report's failed count
	// is the operator signal.
	if report.Failed > 0 {
		slog.Warn("backfill completed with item failures",
			"failed", report.Failed,
			"total", report.Total,
		)
	}
	return nil
}
