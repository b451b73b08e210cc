// redrive inspects the dead-letter store and re-enqueues selected items as
// fresh jobs. Records stay in the store for audit; a redriven job starts
// with a clean retry budget under its original job id.
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
	"time"

	"github.com/reviewstack/search-pipeline/internal/indexing"
	"github.com/reviewstack/search-pipeline/internal/review"
	"github.com/reviewstack/search-pipeline/pkg/config"
	"github.com/reviewstack/search-pipeline/pkg/logger"
	"github.com/reviewstack/search-pipeline/pkg/postgres"
	"github.com/reviewstack/search-pipeline/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	list := flag.Bool("list", false, "list dead-letter items and exit")
	all := flag.Bool("all", false, "redrive every dead-letter item")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, *list, *all, flag.Args()); err != nil {
		slog.Error("redrive failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, list, all bool, ids []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, closeQueue, err := buildQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeQueue()

	items, err := queue.DeadLetters(ctx)
	if err != nil {
		return err
	}

	if list {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(items)
	}

	if !all && len(ids) == 0 {
		return fmt.Errorf("nothing to redrive: pass -all or dead-letter ids (or -list to inspect)")
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	redriven := 0
	var upsertedEntityIDs []string
	for _, item := range items {
		if !all && !wanted[item.ID] && !wanted[item.JobID] {
			continue
		}
		event := indexing.Event{
			ID:          item.JobID,
			EntityType:  item.EntityType,
			EntityID:    item.EntityID,
			Operation:   item.Operation,
			Cursor:      item.Cursor,
			AvailableAt: time.Now(),
			Metadata:    item.Metadata,
		}
		if err := queue.Enqueue(ctx, event); err != nil {
			return fmt.Errorf("re-enqueueing %s: %w", item.JobID, err)
		}
		redriven++
		if item.Operation == indexing.OperationUpsert && item.EntityType == indexing.EntityTypeReview {
			upsertedEntityIDs = append(upsertedEntityIDs, item.EntityID)
		}
		slog.Info("redriven", "job_id", item.JobID, "entity_id", item.EntityID)
	}

	if err := verifyEntities(ctx, cfg, upsertedEntityIDs); err != nil {
		slog.Warn("entity verification skipped", "error", err)
	}

	slog.Info("redrive complete", "redriven", redriven, "dead_letters", len(items))
	return nil
}

// verifyEntities warns about redriven UPSERT jobs whose reviews no longer
// exist; those jobs will resolve as deletes when the worker picks them up.
func verifyEntities(ctx context.Context, cfg *config.Config, entityIDs []string) error {
	if len(entityIDs) == 0 {
		return nil
	}

	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer pgClient.Close()

	reviews, err := review.NewRepository(pgClient).ListByIDs(ctx, entityIDs)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(reviews))
	for _, r := range reviews {
		present[r.ID] = true
	}
	for _, id := range entityIDs {
		if !present[id] {
			slog.Warn("redriven review no longer exists; job will remove its document", "entity_id", id)
		}
	}
	return nil
}

func buildQueue(ctx context.Context, cfg *config.Config) (indexing.Queue, func(), error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendPostgres:
		var pgClient *postgres.Client
		err := resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
			var err error
			pgClient, err = postgres.New(cfg.Postgres)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		queue := indexing.NewPostgresQueue(pgClient, indexing.PostgresQueueOptions{
			DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
			Backoff:            indexing.ExponentialBackoff,
			ReclaimAfter:       cfg.Queue.ReclaimAfter,
		})
		return queue, func() { pgClient.Close() }, nil
	case config.QueueBackendRedis:
		queue, err := indexing.NewRedisQueue(ctx, cfg.Redis, indexing.RedisQueueOptions{
			DefaultMaxAttempts: cfg.Queue.DefaultMaxAttempts,
			Backoff:            indexing.ExponentialBackoff,
			ReclaimAfter:       cfg.Queue.ReclaimAfter,
		})
		if err != nil {
			return nil, nil, err
		}
		return queue, func() { queue.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("queue backend %q has no durable dead-letter store", cfg.Queue.Backend)
	}
}
