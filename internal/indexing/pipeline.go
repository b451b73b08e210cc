package indexing

import (
	"context"
	"log/slog"
	"sync"

	"github.com/reviewstack/search-pipeline/pkg/logger"
)

// ChangeSource feeds change events into the queue. The Postgres
// LISTEN/NOTIFY Subscriber is the usual implementation.
type ChangeSource interface {
	Start(ctx context.Context) error
	Stop() error
}

// Pipeline ties a change source, queue, and worker into one unit with
// ordered startup and shutdown. The source may be nil when events arrive by
// another path (Kafka consumer, direct enqueue).
type Pipeline struct {
	queue  Queue
	source ChangeSource
	worker *Worker
	stats  *Stats
	logger *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewPipeline assembles a Pipeline.
func NewPipeline(queue Queue, source ChangeSource, worker *Worker, stats *Stats) *Pipeline {
	return &Pipeline{
		queue:  queue,
		source: source,
		worker: worker,
		stats:  stats,
		logger: logger.WithComponent("indexing-pipeline"),
	}
}

// Start subscribes to changes and launches the worker. The subscription
// comes first so no notification is dropped in the gap. Calling Start on a
// running pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	if p.source != nil {
		if err := p.source.Start(ctx); err != nil {
			return err
		}
	}
	p.worker.Start(ctx)

	p.running = true
	p.logger.Info("pipeline started")
	return nil
}

// Stop halts the worker first so the in-flight batch drains, then closes
// the change source. Calling Stop on a stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}

	p.worker.Stop()
	var err error
	if p.source != nil {
		err = p.source.Stop()
	}

	p.running = false
	p.logger.Info("pipeline stopped")
	return err
}

// Stats exposes the pipeline's outcome accumulator.
func (p *Pipeline) Stats() *Stats {
	return p.stats
}

// Queue exposes the underlying queue for tooling (redrive, depth checks).
func (p *Pipeline) Queue() Queue {
	return p.queue
}
