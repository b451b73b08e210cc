package indexing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/reviewstack/search-pipeline/pkg/logger"
	"github.com/reviewstack/search-pipeline/pkg/postgres"
)

// PostgresQueueOptions tunes the durable queue.
type PostgresQueueOptions struct {
	DefaultMaxAttempts int
	Backoff            BackoffStrategy
	// ReclaimAfter releases reservations held longer than this, so jobs
	// claimed by a crashed worker instance become eligible again.
	ReclaimAfter time.Duration
}

// PostgresQueue is the durable Queue backend. The jobs table is the single
// arbiter of job ownership: reservation claims rows in one statement using
// FOR UPDATE SKIP LOCKED so concurrent worker instances never dispatch the
// same job twice.
type PostgresQueue struct {
	client *postgres.Client
	logger *slog.Logger

	defaultMaxAttempts int
	backoff            BackoffStrategy
	reclaimAfter       time.Duration
}

// NewPostgresQueue creates a PostgresQueue on the given client.
func NewPostgresQueue(client *postgres.Client, opts PostgresQueueOptions) *PostgresQueue {
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff
	}
	if opts.ReclaimAfter <= 0 {
		opts.ReclaimAfter = 5 * time.Minute
	}
	return &PostgresQueue{
		client:             client,
		logger:             logger.WithComponent("postgres-queue"),
		defaultMaxAttempts: opts.DefaultMaxAttempts,
		backoff:            opts.Backoff,
		reclaimAfter:       opts.ReclaimAfter,
	}
}

// EnsureSchema creates the queue tables if they do not exist. Safe to run on
// every startup.
func (q *PostgresQueue) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS search_indexing_jobs (
			id           TEXT PRIMARY KEY,
			entity_type  TEXT NOT NULL,
			entity_id    TEXT NOT NULL,
			operation    TEXT NOT NULL,
			cursor       TIMESTAMPTZ,
			metadata     JSONB,
			attempts     INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			reserved_at  TIMESTAMPTZ,
			last_error   TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS search_indexing_jobs_ready_idx
			ON search_indexing_jobs (available_at)
			WHERE reserved_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS search_indexing_dead_letters (
			id          BIGSERIAL PRIMARY KEY,
			job_id      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			operation   TEXT NOT NULL,
			cursor      TIMESTAMPTZ,
			metadata    JSONB,
			attempts    INTEGER NOT NULL,
			error       TEXT NOT NULL,
			failed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := q.client.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring queue schema: %w", err)
		}
	}
	return nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, event Event) error {
	metadata, err := encodeMetadata(event.Metadata)
	if err != nil {
		return err
	}

	maxAttempts := event.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}
	availableAt := event.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now().UTC()
	}

	// Retry state survives the upsert unless the incoming cursor is strictly
	// newer than the stored one.
	_, err = q.client.DB.ExecContext(ctx, `
		INSERT INTO search_indexing_jobs
			(id, entity_type, entity_id, operation, cursor, metadata, available_at, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			entity_type  = EXCLUDED.entity_type,
			entity_id    = EXCLUDED.entity_id,
			operation    = EXCLUDED.operation,
			cursor       = EXCLUDED.cursor,
			metadata     = EXCLUDED.metadata,
			available_at = EXCLUDED.available_at,
			max_attempts = EXCLUDED.max_attempts,
			attempts     = CASE
				WHEN search_indexing_jobs.cursor IS NOT NULL
					AND EXCLUDED.cursor IS NOT NULL
					AND EXCLUDED.cursor > search_indexing_jobs.cursor
				THEN 0
				ELSE search_indexing_jobs.attempts
			END,
			last_error   = CASE
				WHEN search_indexing_jobs.cursor IS NOT NULL
					AND EXCLUDED.cursor IS NOT NULL
					AND EXCLUDED.cursor > search_indexing_jobs.cursor
				THEN NULL
				ELSE search_indexing_jobs.last_error
			END`,
		event.ID, string(event.EntityType), event.EntityID, string(event.Operation),
		nullableTime(event.Cursor), metadata, availableAt, maxAttempts,
	)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", event.ID, err)
	}
	return nil
}

func (q *PostgresQueue) ReserveBatch(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	reclaimCutoff := time.Now().UTC().Add(-q.reclaimAfter)
	rows, err := q.client.DB.QueryContext(ctx, `
		UPDATE search_indexing_jobs
		SET reserved_at = now(), attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM search_indexing_jobs
			WHERE available_at <= now()
			  AND (reserved_at IS NULL OR reserved_at < $2)
			ORDER BY COALESCE(cursor, available_at) ASC, created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, entity_type, entity_id, operation, cursor, metadata,
			attempts, max_attempts, available_at, last_error, created_at`,
		limit, reclaimCutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("reserving jobs: %w", err)
	}
	defer rows.Close()

	type reservedJob struct {
		Job
		createdAt time.Time
	}

	var reserved []reservedJob
	for rows.Next() {
		var (
			job       reservedJob
			cursor    sql.NullTime
			metadata  []byte
			lastError sql.NullString
		)
		if err := rows.Scan(
			&job.ID, &job.EntityType, &job.EntityID, &job.Operation,
			&cursor, &metadata, &job.Attempts, &job.MaxAttempts,
			&job.AvailableAt, &lastError, &job.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning reserved job: %w", err)
		}
		if cursor.Valid {
			t := cursor.Time
			job.Cursor = &t
		}
		if lastError.Valid {
			job.LastError = lastError.String
		}
		if job.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		reserved = append(reserved, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading reserved jobs: %w", err)
	}

	// RETURNING does not guarantee the subquery's order; restore cursor
	// ordering so staleness skips behave predictably within the batch.
	sort.Slice(reserved, func(i, j int) bool {
		a := reservationCursor(reserved[i].Job)
		b := reservationCursor(reserved[j].Job)
		if a.Equal(b) {
			if reserved[i].createdAt.Equal(reserved[j].createdAt) {
				return reserved[i].ID < reserved[j].ID
			}
			return reserved[i].createdAt.Before(reserved[j].createdAt)
		}
		return a.Before(b)
	})

	jobs := make([]Job, len(reserved))
	for i, job := range reserved {
		jobs[i] = job.Job
	}
	return jobs, nil
}

func reservationCursor(job Job) time.Time {
	if job.Cursor != nil {
		return *job.Cursor
	}
	return job.AvailableAt
}

func (q *PostgresQueue) Complete(ctx context.Context, jobID string) error {
	// Zero rows affected means the job was already completed or
	// dead-lettered; that is not an error.
	if _, err := q.client.DB.ExecContext(ctx,
		`DELETE FROM search_indexing_jobs WHERE id = $1`, jobID,
	); err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	return nil
}

// Fail decides retry vs dead-letter from the row's current state, not the
// worker's reservation snapshot: a newer-cursor enqueue may have reset the
// retry budget (and replaced the payload) while the job was in flight, and
// that refreshed job must survive the failure of its predecessor.
func (q *PostgresQueue) Fail(ctx context.Context, job Job, jobErr error) (FailureResolution, error) {
	message := truncateError(jobErr.Error())

	var resolution FailureResolution
	err := q.client.InTx(ctx, func(tx *sql.Tx) error {
		var (
			entityType  string
			entityID    string
			operation   string
			cursor      sql.NullTime
			metadata    []byte
			attempts    int
			maxAttempts int
		)
		err := tx.QueryRowContext(ctx, `
			SELECT entity_type, entity_id, operation, cursor, metadata, attempts, max_attempts
			FROM search_indexing_jobs
			WHERE id = $1
			FOR UPDATE`, job.ID,
		).Scan(&entityType, &entityID, &operation, &cursor, &metadata, &attempts, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			// Completed or dead-lettered concurrently; nothing left to record.
			resolution = ResolutionDeadLetter
			return nil
		}
		if err != nil {
			return fmt.Errorf("looking up job %s: %w", job.ID, err)
		}

		if attempts >= maxAttempts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO search_indexing_dead_letters
					(job_id, entity_type, entity_id, operation, cursor, metadata, attempts, error)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				job.ID, entityType, entityID, operation,
				cursor, metadata, attempts, message,
			); err != nil {
				return fmt.Errorf("recording dead letter for %s: %w", job.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM search_indexing_jobs WHERE id = $1`, job.ID,
			); err != nil {
				return fmt.Errorf("removing exhausted job %s: %w", job.ID, err)
			}
			resolution = ResolutionDeadLetter
			return nil
		}

		delay := q.backoff(attempts)
		if _, err := tx.ExecContext(ctx, `
			UPDATE search_indexing_jobs
			SET available_at = now() + $2 * interval '1 millisecond',
				last_error = $3,
				reserved_at = NULL
			WHERE id = $1`,
			job.ID, delay.Milliseconds(), message,
		); err != nil {
			return fmt.Errorf("scheduling retry for %s: %w", job.ID, err)
		}
		resolution = ResolutionRetry
		return nil
	})
	if err != nil {
		return "", err
	}
	return resolution, nil
}

func (q *PostgresQueue) DeadLetters(ctx context.Context) ([]DeadLetterItem, error) {
	rows, err := q.client.DB.QueryContext(ctx, `
		SELECT id, job_id, entity_type, entity_id, operation, cursor, metadata,
			attempts, error, failed_at
		FROM search_indexing_dead_letters
		ORDER BY failed_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var items []DeadLetterItem
	for rows.Next() {
		var (
			item     DeadLetterItem
			rowID    int64
			cursor   sql.NullTime
			metadata []byte
		)
		if err := rows.Scan(
			&rowID, &item.JobID, &item.EntityType, &item.EntityID, &item.Operation,
			&cursor, &metadata, &item.Attempts, &item.Error, &item.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		item.ID = fmt.Sprintf("%d", rowID)
		if cursor.Valid {
			t := cursor.Time
			item.Cursor = &t
		}
		if item.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading dead letters: %w", err)
	}
	return items, nil
}

// Depth reports the number of live jobs.
func (q *PostgresQueue) Depth(ctx context.Context) (int64, error) {
	var depth int64
	err := q.client.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM search_indexing_jobs`,
	).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return depth, nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding job metadata: %w", err)
	}
	return encoded, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("decoding job metadata: %w", err)
	}
	return metadata, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
