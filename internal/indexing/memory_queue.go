package indexing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryJob struct {
	Job
	processing bool
	createdAt  time.Time
}

// MemoryQueueOptions tunes the in-memory queue.
type MemoryQueueOptions struct {
	DefaultMaxAttempts int
	Backoff            BackoffStrategy
}

// MemoryQueue is a process-local Queue for tests and single-node operation.
type MemoryQueue struct {
	mu          sync.Mutex
	jobs        map[string]*memoryJob
	deadLetters []DeadLetterItem

	defaultMaxAttempts int
	backoff            BackoffStrategy
	now                func() time.Time
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue(opts MemoryQueueOptions) *MemoryQueue {
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff
	}
	return &MemoryQueue{
		jobs:               make(map[string]*memoryJob),
		defaultMaxAttempts: opts.DefaultMaxAttempts,
		backoff:            opts.Backoff,
		now:                time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, event Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing := q.jobs[event.ID]

	job := &memoryJob{
		Job: Job{
			Event: event,
		},
		createdAt: q.now(),
	}
	if job.MaxAttempts <= 0 {
		if existing != nil && existing.MaxAttempts > 0 {
			job.MaxAttempts = existing.MaxAttempts
		} else {
			job.MaxAttempts = q.defaultMaxAttempts
		}
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = q.now()
	}

	if existing != nil {
		job.createdAt = existing.createdAt
		job.processing = existing.processing
		job.Attempts = existing.Attempts
		job.LastError = existing.LastError
		if existing.Cursor != nil && event.Cursor != nil && event.Cursor.After(*existing.Cursor) {
			job.Attempts = 0
			job.LastError = ""
		}
	}

	q.jobs[job.ID] = job
	return nil
}

func (q *MemoryQueue) ReserveBatch(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	ready := make([]*memoryJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		if !job.processing && !job.AvailableAt.After(now) {
			ready = append(ready, job)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := orderingCursor(ready[i]), orderingCursor(ready[j])
		if a.Equal(b) {
			return ready[i].ID < ready[j].ID
		}
		return a.Before(b)
	})

	if len(ready) > limit {
		ready = ready[:limit]
	}

	reserved := make([]Job, 0, len(ready))
	for _, job := range ready {
		job.processing = true
		job.Attempts++
		reserved = append(reserved, job.Job)
	}
	return reserved, nil
}

// orderingCursor falls back to availability time for jobs without a cursor.
func orderingCursor(job *memoryJob) time.Time {
	if job.Cursor != nil {
		return *job.Cursor
	}
	return job.AvailableAt
}

func (q *MemoryQueue) Complete(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, jobID)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, job Job, jobErr error) (FailureResolution, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing := q.jobs[job.ID]
	if existing == nil {
		// Completed or dead-lettered concurrently; nothing left to record.
		return ResolutionDeadLetter, nil
	}

	existing.LastError = truncateError(jobErr.Error())

	if existing.Attempts >= existing.MaxAttempts {
		delete(q.jobs, job.ID)
		q.deadLetters = append(q.deadLetters, DeadLetterItem{
			ID:         uuid.NewString(),
			JobID:      existing.ID,
			EntityType: existing.EntityType,
			EntityID:   existing.EntityID,
			Operation:  existing.Operation,
			Cursor:     existing.Cursor,
			Metadata:   existing.Metadata,
			Attempts:   existing.Attempts,
			Error:      existing.LastError,
			FailedAt:   q.now(),
		})
		return ResolutionDeadLetter, nil
	}

	existing.AvailableAt = q.now().Add(q.backoff(existing.Attempts))
	existing.processing = false
	return ResolutionRetry, nil
}

func (q *MemoryQueue) DeadLetters(ctx context.Context) ([]DeadLetterItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]DeadLetterItem, len(q.deadLetters))
	for i, item := range q.deadLetters {
		items[len(q.deadLetters)-1-i] = item
	}
	return items, nil
}

// Depth reports the number of live jobs.
func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.jobs)), nil
}
