// bootstrap provisions the search infrastructure (index templates, concrete
// indices, write aliases) and, when the Postgres queue backend is selected,
// the queue schema. It is idempotent and safe to run on every deploy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reviewstack/search-pipeline/internal/indexing"
	"github.com/reviewstack/search-pipeline/internal/search"
	"github.com/reviewstack/search-pipeline/pkg/config"
	"github.com/reviewstack/search-pipeline/pkg/logger"
	"github.com/reviewstack/search-pipeline/pkg/opensearch"
	"github.com/reviewstack/search-pipeline/pkg/postgres"
	"github.com/reviewstack/search-pipeline/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall bootstrap timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, *timeout); err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	slog.Info("bootstrap complete")
}

func run(cfg *config.Config, timeout time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

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

	if err := search.EnsureInfrastructure(ctx, osClient); err != nil {
		return err
	}

	if cfg.Queue.Backend == config.QueueBackendPostgres {
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

		queue := indexing.NewPostgresQueue(pgClient, indexing.PostgresQueueOptions{})
		if err := queue.EnsureSchema(ctx); err != nil {
			return err
		}
		slog.Info("queue schema ensured")
	}
	return nil
}
