package indexing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reviewstack/search-pipeline/pkg/logger"
)

// JobHandler is what the worker calls per reserved job.
type JobHandler interface {
	Handle(ctx context.Context, job Job) (Result, error)
}

// WorkerOptions configure a Worker.
type WorkerOptions struct {
	BatchSize    int
	PollInterval time.Duration
}

// Worker polls the queue, dispatches reserved jobs to the handler, and
// feeds outcomes back into the queue and the stats accumulator. Jobs in a
// batch are handled sequentially; ordering within one entity is best-effort
// and correctness comes from the handler's convergent semantics, not from
// strict ordering.
type Worker struct {
	queue        Queue
	handler      JobHandler
	stats        *Stats
	batchSize    int
	pollInterval time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a Worker. Zero option values fall back to a batch of 10
// and a 5s poll interval.
func NewWorker(queue Queue, handler JobHandler, stats *Stats, opts WorkerOptions) *Worker {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		queue:        queue,
		handler:      handler,
		stats:        stats,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		logger:       logger.WithComponent("indexing-worker"),
	}
}

// Start launches the polling loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx, w.done)

	w.logger.Info("worker started",
		"batch_size", w.batchSize,
		"poll_interval", w.pollInterval,
	)
}

// Stop halts polling and waits for the in-flight batch to finish. Calling
// Stop on a stopped worker is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil
	w.logger.Info("worker stopped")
}

func (w *Worker) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("poll cycle failed", "error", err)
		}

		if processed > 0 {
			// More work is likely waiting; poll again immediately.
			timer.Reset(0)
		} else {
			timer.Reset(w.pollInterval)
		}
	}
}

// RunOnce reserves and handles one batch, returning how many jobs were
// dispatched. It is the single-step form of the loop, used directly by
// tests and one-shot tools.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.queue.ReserveBatch(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			// The batch is already reserved; finish it so reservations
			// do not linger until reclaim.
			w.dispatch(context.WithoutCancel(ctx), job)
			continue
		}
		w.dispatch(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) dispatch(ctx context.Context, job Job) {
	w.stats.RecordProcessed(job.EntityType)

	result, err := w.handler.Handle(ctx, job)
	if err == nil {
		if completeErr := w.queue.Complete(ctx, job.ID); completeErr != nil {
			w.logger.Error("failed to complete job",
				"job_id", job.ID,
				"entity_id", job.EntityID,
				"error", completeErr,
			)
		}
		if result == ResultSkipped {
			w.stats.RecordSkipped(job.EntityType)
		} else {
			w.stats.RecordSuccess(job.EntityType)
		}
		return
	}

	resolution, failErr := w.queue.Fail(ctx, job, err)
	if failErr != nil {
		w.logger.Error("failed to record job failure",
			"job_id", job.ID,
			"entity_id", job.EntityID,
			"error", failErr,
		)
		w.stats.RecordRetry(job.EntityType, err)
		return
	}

	switch resolution {
	case ResolutionDeadLetter:
		w.stats.RecordDeadLetter(job.EntityType, err)
		w.logger.Error("job dead-lettered",
			"job_id", job.ID,
			"entity_id", job.EntityID,
			"attempts", job.Attempts,
			"error", err,
		)
	default:
		w.stats.RecordRetry(job.EntityType, err)
		w.logger.Warn("job failed; will retry",
			"job_id", job.ID,
			"entity_id", job.EntityID,
			"attempts", job.Attempts,
			"error", err,
		)
	}
}
