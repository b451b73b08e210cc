// Package indexing implements the change-data-capture pipeline that keeps the
// review search index converged with the relational system-of-record: a
// durable job queue with retry/dead-letter semantics, a change-notification
// subscriber, a polling worker, the per-job handler, chunked backfill, and an
// in-process metrics accumulator.
package indexing

import "time"

// EntityType identifies the kind of entity a job targets.
type EntityType string

// EntityTypeReview is the only entity type currently indexed.
const EntityTypeReview EntityType = "review"

// Operation is the intent carried by an indexing event.
type Operation string

const (
	OperationUpsert Operation = "UPSERT"
	OperationDelete Operation = "DELETE"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	return op == OperationUpsert || op == OperationDelete
}

// Result is the outcome of handling a single job.
type Result string

const (
	ResultIndexed Result = "indexed"
	ResultDeleted Result = "deleted"
	ResultSkipped Result = "skipped"
)

// FailureResolution is the queue's verdict after a job fails.
type FailureResolution string

const (
	ResolutionRetry      FailureResolution = "retry"
	ResolutionDeadLetter FailureResolution = "dead-letter"
)

// Event is the unit of intent to index or delete one entity. The id is
// supplied by the producer and is the queue's upsert/dedup key.
type Event struct {
	ID         string
	EntityType EntityType
	EntityID   string
	Operation  Operation
	// Cursor is the watermark of the entity state that produced this event.
	// Nil means no staleness assertion is possible and the handler always
	// indexes freshly fetched state.
	Cursor      *time.Time
	AvailableAt time.Time
	Metadata    map[string]any
	MaxAttempts int
}

// Job is an Event that lives in a queue, with its retry state.
type Job struct {
	Event
	Attempts  int
	LastError string
}

// DeadLetterItem is the terminal record of a job that exhausted its retry
// budget, preserved for offline inspection and replay.
type DeadLetterItem struct {
	ID         string
	JobID      string
	EntityType EntityType
	EntityID   string
	Operation  Operation
	Cursor     *time.Time
	Metadata   map[string]any
	Attempts   int
	Error      string
	FailedAt   time.Time
}

// maxStoredErrorLen bounds error messages persisted with jobs and
// dead letters.
const maxStoredErrorLen = 1000

func truncateError(message string) string {
	runes := []rune(message)
	if len(runes) <= maxStoredErrorLen {
		return message
	}
	return string(runes[:maxStoredErrorLen]) + "…"
}
