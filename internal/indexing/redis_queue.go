package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reviewstack/search-pipeline/pkg/config"
	"github.com/reviewstack/search-pipeline/pkg/logger"
)

// RedisQueue is a Redis-backed Queue: job payloads live in a hash, the ready
// set is a sorted set scored by availability time, and reservation runs as a
// Lua script so concurrent workers never claim the same job.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger

	payloadsKey    string
	readyKey       string
	inflightKey    string
	attemptsKey    string
	lastErrorsKey  string
	deadLettersKey string

	defaultMaxAttempts int
	backoff            BackoffStrategy
	reclaimAfter       time.Duration
}

// RedisQueueOptions tunes the Redis queue backend.
type RedisQueueOptions struct {
	DefaultMaxAttempts int
	Backoff            BackoffStrategy
	ReclaimAfter       time.Duration
}

// NewRedisQueue connects to Redis and verifies the connection with a PING.
func NewRedisQueue(ctx context.Context, cfg config.RedisConfig, opts RedisQueueOptions) (*RedisQueue, error) {
	if opts.DefaultMaxAttempts <= 0 {
		opts.DefaultMaxAttempts = 5
	}
	if opts.Backoff == nil {
		opts.Backoff = ExponentialBackoff
	}
	if opts.ReclaimAfter <= 0 {
		opts.ReclaimAfter = 5 * time.Minute
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "search_indexing"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisQueue{
		client:             client,
		logger:             logger.WithComponent("redis-queue"),
		payloadsKey:        prefix + ":payloads",
		readyKey:           prefix + ":ready",
		inflightKey:        prefix + ":inflight",
		attemptsKey:        prefix + ":attempts",
		lastErrorsKey:      prefix + ":last_errors",
		deadLettersKey:     prefix + ":dead_letters",
		defaultMaxAttempts: opts.DefaultMaxAttempts,
		backoff:            opts.Backoff,
		reclaimAfter:       opts.ReclaimAfter,
	}, nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// redisPayload is the stored shape of a job's immutable fields. Cursor and
// times are epoch milliseconds so the enqueue script can compare them.
type redisPayload struct {
	EntityType  EntityType     `json:"entityType"`
	EntityID    string         `json:"entityId"`
	Operation   Operation      `json:"operation"`
	Cursor      *int64         `json:"cursor,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	MaxAttempts int            `json:"maxAttempts"`
	AvailableAt int64          `json:"availableAt"`
}

// enqueueScript upserts the payload. A strictly newer cursor wipes the retry
// state; a job currently in flight keeps its reservation.
var enqueueScript = redis.NewScript(`
local id = ARGV[1]
local existing = redis.call('HGET', KEYS[1], id)
if existing then
	local old = cjson.decode(existing)
	local newCursor = tonumber(ARGV[4])
	if old.cursor and newCursor and newCursor > old.cursor then
		redis.call('HDEL', KEYS[4], id)
		redis.call('HDEL', KEYS[5], id)
	end
end
redis.call('HSET', KEYS[1], id, ARGV[2])
if not redis.call('ZSCORE', KEYS[3], id) then
	redis.call('ZADD', KEYS[2], ARGV[3], id)
end
return 1
`)

func (q *RedisQueue) Enqueue(ctx context.Context, event Event) error {
	maxAttempts := event.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.defaultMaxAttempts
	}
	availableAt := event.AvailableAt
	if availableAt.IsZero() {
		availableAt = time.Now().UTC()
	}

	payload := redisPayload{
		EntityType:  event.EntityType,
		EntityID:    event.EntityID,
		Operation:   event.Operation,
		Metadata:    event.Metadata,
		MaxAttempts: maxAttempts,
		AvailableAt: availableAt.UnixMilli(),
	}
	cursorArg := ""
	if event.Cursor != nil {
		ms := event.Cursor.UnixMilli()
		payload.Cursor = &ms
		cursorArg = fmt.Sprintf("%d", ms)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding job payload %s: %w", event.ID, err)
	}

	keys := []string{q.payloadsKey, q.readyKey, q.inflightKey, q.attemptsKey, q.lastErrorsKey}
	if err := enqueueScript.Run(ctx, q.client, keys,
		event.ID, string(encoded), availableAt.UnixMilli(), cursorArg,
	).Err(); err != nil {
		return fmt.Errorf("enqueueing job %s: %w", event.ID, err)
	}
	return nil
}

// reserveScript first reclaims stale reservations, then claims up to limit
// due jobs, bumping each attempt counter. Returns alternating id, attempts.
var reserveScript = redis.NewScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[3])
for _, id in ipairs(stale) do
	redis.call('ZREM', KEYS[2], id)
	redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ARGV[1], id)
	out[#out+1] = id
	out[#out+1] = redis.call('HINCRBY', KEYS[3], id, 1)
end
return out
`)

func (q *RedisQueue) ReserveBatch(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	keys := []string{q.readyKey, q.inflightKey, q.attemptsKey}
	raw, err := reserveScript.Run(ctx, q.client, keys,
		now.UnixMilli(), limit, now.Add(-q.reclaimAfter).UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("reserving jobs: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(raw)/2)
	attempts := make(map[string]int, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		id, ok := raw[i].(string)
		if !ok {
			continue
		}
		count, ok := raw[i+1].(int64)
		if !ok {
			continue
		}
		ids = append(ids, id)
		attempts[id] = int(count)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	payloads, err := q.client.HMGet(ctx, q.payloadsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading reserved payloads: %w", err)
	}
	lastErrors, err := q.client.HMGet(ctx, q.lastErrorsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading reserved errors: %w", err)
	}

	jobs := make([]Job, 0, len(ids))
	for i, id := range ids {
		encoded, ok := payloads[i].(string)
		if !ok {
			q.logger.Warn("reserved job has no payload", "job_id", id)
			continue
		}
		var payload redisPayload
		if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
			q.logger.Error("dropping undecodable job payload", "job_id", id, "error", err)
			continue
		}
		job := Job{
			Event: Event{
				ID:          id,
				EntityType:  payload.EntityType,
				EntityID:    payload.EntityID,
				Operation:   payload.Operation,
				Metadata:    payload.Metadata,
				AvailableAt: time.UnixMilli(payload.AvailableAt).UTC(),
				MaxAttempts: payload.MaxAttempts,
			},
			Attempts: attempts[id],
		}
		if payload.Cursor != nil {
			t := time.UnixMilli(*payload.Cursor).UTC()
			job.Cursor = &t
		}
		if msg, ok := lastErrors[i].(string); ok {
			job.LastError = msg
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		a, b := reservationCursor(jobs[i]), reservationCursor(jobs[j])
		if a.Equal(b) {
			return jobs[i].ID < jobs[j].ID
		}
		return a.Before(b)
	})
	return jobs, nil
}

func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.payloadsKey, jobID)
	pipe.ZRem(ctx, q.readyKey, jobID)
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.HDel(ctx, q.attemptsKey, jobID)
	pipe.HDel(ctx, q.lastErrorsKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("completing job %s: %w", jobID, err)
	}
	return nil
}

// failScript decides retry vs dead-letter from the stored attempt counter
// and payload, not the caller's reservation snapshot: a newer-cursor enqueue
// may have wiped the retry state while the job was in flight, and that
// refreshed job must be retried, not destroyed. Returns 0 when the job
// vanished, 1 for retry, 2 for dead-letter.
var failScript = redis.NewScript(`
local payload = redis.call('HGET', KEYS[1], ARGV[1])
if not payload then
	return 0
end
local attempts = tonumber(redis.call('HGET', KEYS[4], ARGV[1])) or 0
local max = tonumber(cjson.decode(payload).maxAttempts) or 0
if attempts >= max then
	redis.call('HDEL', KEYS[1], ARGV[1])
	redis.call('ZREM', KEYS[2], ARGV[1])
	redis.call('ZREM', KEYS[3], ARGV[1])
	redis.call('HDEL', KEYS[4], ARGV[1])
	redis.call('HDEL', KEYS[5], ARGV[1])
	redis.call('LPUSH', KEYS[6], ARGV[3])
	return 2
end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[5], ARGV[1], ARGV[4])
return 1
`)

func (q *RedisQueue) Fail(ctx context.Context, job Job, jobErr error) (FailureResolution, error) {
	message := truncateError(jobErr.Error())

	// Read the stored payload and attempt count to shape the dead-letter
	// record. The script re-checks both atomically before acting, so a
	// concurrent enqueue between this read and the script only means the
	// record goes unused.
	encoded, err := q.client.HGet(ctx, q.payloadsKey, job.ID).Result()
	if err == redis.Nil {
		return ResolutionDeadLetter, nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up job %s: %w", job.ID, err)
	}
	var payload redisPayload
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil {
		return "", fmt.Errorf("decoding job payload %s: %w", job.ID, err)
	}
	attempts, err := q.client.HGet(ctx, q.attemptsKey, job.ID).Int()
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("looking up attempts for %s: %w", job.ID, err)
	}

	item := DeadLetterItem{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		EntityType: payload.EntityType,
		EntityID:   payload.EntityID,
		Operation:  payload.Operation,
		Metadata:   payload.Metadata,
		Attempts:   attempts,
		Error:      message,
		FailedAt:   time.Now().UTC(),
	}
	if payload.Cursor != nil {
		t := time.UnixMilli(*payload.Cursor).UTC()
		item.Cursor = &t
	}
	deadLetter, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encoding dead letter for %s: %w", job.ID, err)
	}

	retryAt := time.Now().UTC().Add(q.backoff(attempts))
	keys := []string{
		q.payloadsKey, q.readyKey, q.inflightKey,
		q.attemptsKey, q.lastErrorsKey, q.deadLettersKey,
	}
	outcome, err := failScript.Run(ctx, q.client, keys,
		job.ID, retryAt.UnixMilli(), string(deadLetter), message,
	).Int()
	if err != nil {
		return "", fmt.Errorf("failing job %s: %w", job.ID, err)
	}
	if outcome == 1 {
		return ResolutionRetry, nil
	}
	return ResolutionDeadLetter, nil
}

func (q *RedisQueue) DeadLetters(ctx context.Context) ([]DeadLetterItem, error) {
	entries, err := q.client.LRange(ctx, q.deadLettersKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(entries))
	for _, entry := range entries {
		var item DeadLetterItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			q.logger.Error("skipping undecodable dead letter", "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Depth reports the number of live jobs.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.HLen(ctx, q.payloadsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return depth, nil
}
