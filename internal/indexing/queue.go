package indexing

import (
	"context"
	"time"
)

// Queue is the durable job queue contract. Two production backends exist
// (Postgres, Redis) plus an in-memory one for tests and single-node use; they
// are interchangeable and selected by configuration.
//
// Enqueue upserts by event id: re-enqueuing an existing live job replaces its
// payload, and only a strictly newer cursor resets the retry state, so
// duplicate or stale notifications cannot replenish an exhausted retry
// budget.
type Queue interface {
	Enqueue(ctx context.Context, event Event) error

	// ReserveBatch atomically claims up to limit due jobs, increments their
	// attempt counts, and returns them ordered by cursor ascending (ties
	// broken deterministically). Jobs already reserved are excluded. An
	// empty result is not an error.
	ReserveBatch(ctx context.Context, limit int) ([]Job, error)

	// Complete removes a finished job. Completing a job that no longer
	// exists is a no-op, which defends against concurrent completion and
	// dead-lettering races.
	Complete(ctx context.Context, jobID string) error

	// Fail records a failure: jobs with exhausted budgets move to the
	// dead-letter store, others are released with a backoff delay.
	Fail(ctx context.Context, job Job, jobErr error) (FailureResolution, error)

	// DeadLetters lists dead-lettered items, most recent first.
	DeadLetters(ctx context.Context) ([]DeadLetterItem, error)
}

// BackoffStrategy maps an attempt count to a retry delay. Implementations
// must be pure so retry schedules are deterministic and testable.
type BackoffStrategy func(attempt int) time.Duration

// ExponentialBackoff is the default strategy: 0 for attempt <= 0, otherwise
// 1000ms doubling per attempt (1s, 2s, 4s, ...).
func ExponentialBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Second << (attempt - 1)
}
