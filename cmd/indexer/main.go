// The indexer is the long-running pipeline process: it subscribes to change
// notifications, works the indexing queue, and serves metrics and health
// endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reviewstack/search-pipeline/internal/indexing"
	"github.com/reviewstack/search-pipeline/internal/review"
	"github.com/reviewstack/search-pipeline/pkg/config"
	"github.com/reviewstack/search-pipeline/pkg/health"
	"github.com/reviewstack/search-pipeline/pkg/kafka"
	"github.com/reviewstack/search-pipeline/pkg/logger"
	"github.com/reviewstack/search-pipeline/pkg/metrics"
	"github.com/reviewstack/search-pipeline/pkg/opensearch"
	"github.com/reviewstack/search-pipeline/pkg/postgres"
	"github.com/reviewstack/search-pipeline/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("indexer exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
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

	queue, closeQueue, err := buildQueue(ctx, cfg, pgClient)
	if err != nil {
		return err
	}
	defer closeQueue()

	prom := metrics.New()
	stats := indexing.NewStats(prom)
	repo := review.NewRepository(pgClient)
	handler := indexing.NewHandler(repo, osClient, indexing.HandlerOptions{
		IndexName: cfg.OpenSearch.IndexAlias,
		Refresh:   cfg.OpenSearch.Refresh,
	})
	worker := indexing.NewWorker(queue, handler, stats, indexing.WorkerOptions{
		BatchSize:    cfg.Worker.BatchSize,
		PollInterval: cfg.Worker.PollInterval,
	})
	subscriber := indexing.NewSubscriber(cfg.Postgres.DSN(), cfg.Queue.Channel, queue)
	pipeline := indexing.NewPipeline(queue, subscriber, worker, stats)

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := pgClient.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("opensearch", func(ctx context.Context) health.ComponentHealth {
		if err := osClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if reporter, ok := queue.(depthReporter); ok {
		checker.Register("queue", func(ctx context.Context) health.ComponentHealth {
			depth, err := reporter.Depth(ctx)
			if err != nil {
				return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
			}
			return health.ComponentHealth{
				Status:  health.StatusUp,
				Message: fmt.Sprintf("depth=%d", depth),
			}
		})
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/stats":         statsHandler(stats, queue),
			"/healthz/live":  checker.LiveHandler(),
			"/healthz/ready": checker.ReadyHandler(),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("metrics server shutdown", "error", err)
			}
		}()
	}

	if err := pipeline.Start(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, indexing.KafkaChangeHandler(queue))
		group.Go(func() error {
			return consumer.Start(groupCtx)
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				items, err := queue.DeadLetters(groupCtx)
				if err != nil {
					if groupCtx.Err() == nil {
						slog.Warn("dead-letter poll failed", "error", err)
					}
					continue
				}
				prom.QueueDeadLetters.Set(float64(len(items)))
			}
		}
	})

	<-ctx.Done()
	slog.Info("shutdown signal received")

	if err := pipeline.Stop(); err != nil {
		slog.Warn("pipeline stop", "error", err)
	}
	return group.Wait()
}

func buildQueue(ctx context.Context, cfg *config.Config, pgClient *postgres.Client) (indexing.Queue, func(), error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendPostgres:
		queue := indexing.NewPostgresQueue(pgClient, indexing.PostgresQueueOptions{
			DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
			Backoff:            indexing.ExponentialBackoff,
			ReclaimAfter:       cfg.Queue.ReclaimAfter,
		})
		if err := queue.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return queue, func() {}, nil
	case config.QueueBackendRedis:
		queue, err := indexing.NewRedisQueue(ctx, cfg.Redis, indexing.RedisQueueOptions{
			DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
			Backoff:            indexing.ExponentialBackoff,
			ReclaimAfter:       cfg.Queue.ReclaimAfter,
		})
		if err != nil {
			return nil, nil, err
		}
		return queue, func() {
			if err := queue.Close(); err != nil {
				slog.Warn("closing redis queue", "error", err)
			}
		}, nil
	case config.QueueBackendMemory:
		queue := indexing.NewMemoryQueue(indexing.MemoryQueueOptions{
			DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
			Backoff:            indexing.ExponentialBackoff,
		})
		return queue, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

type depthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

type statsResponse struct {
	indexing.StatsSnapshot
	QueueDepth  *int64 `json:"queueDepth,omitempty"`
	DeadLetters *int   `json:"deadLetters,omitempty"`
}

func statsHandler(stats *indexing.Stats, queue indexing.Queue) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := statsResponse{StatsSnapshot: stats.Snapshot()}
		if reporter, ok := queue.(depthReporter); ok {
			if depth, err := reporter.Depth(r.Context()); err == nil {
				response.QueueDepth = &depth
			}
		}
		if items, err := queue.DeadLetters(r.Context()); err == nil {
			count := len(items)
			response.DeadLetters = &count
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			slog.Warn("encoding stats snapshot", "error", err)
		}
	})
}
