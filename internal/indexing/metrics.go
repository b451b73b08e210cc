package indexing

import (
	"sync"
	"time"

	"github.com/reviewstack/search-pipeline/pkg/metrics"
)

// EntityCounts is the per-entity-type slice of a stats snapshot.
type EntityCounts struct {
	Processed    int64 `json:"processed"`
	Succeeded    int64 `json:"succeeded"`
	Skipped      int64 `json:"skipped"`
	Retried      int64 `json:"retried"`
	DeadLettered int64 `json:"deadLettered"`
}

// StatsSnapshot is a point-in-time copy of the accumulator, safe to
// serialize and hand out.
type StatsSnapshot struct {
	Processed    int64                       `json:"processed"`
	Succeeded    int64                       `json:"succeeded"`
	Skipped      int64                       `json:"skipped"`
	Retried      int64                       `json:"retried"`
	DeadLettered int64                       `json:"deadLettered"`
	Failed       int64                       `json:"failed"`
	PerEntity    map[EntityType]EntityCounts `json:"perEntity"`
	LastError    string                      `json:"lastError,omitempty"`
	LastUpdated  *time.Time                  `json:"lastUpdatedAt,omitempty"`
}

// Stats accumulates pipeline outcome counts in process. Counts are
// monotonic for the lifetime of the process; Failed is derived as
// Retried + DeadLettered. When a metrics registry is attached, every
// recording also increments the matching Prometheus counter so scrape
// output and the /stats endpoint never disagree.
type Stats struct {
	mu           sync.Mutex
	processed    int64
	succeeded    int64
	skipped      int64
	retried      int64
	deadLettered int64
	perEntity    map[EntityType]*EntityCounts
	lastError    string
	lastUpdated  time.Time

	prom *metrics.Metrics
}

// NewStats creates an accumulator. prom may be nil when Prometheus
// mirroring is not wanted (tests, one-shot tools).
func NewStats(prom *metrics.Metrics) *Stats {
	return &Stats{
		perEntity: make(map[EntityType]*EntityCounts),
		prom:      prom,
	}
}

func (s *Stats) entity(entityType EntityType) *EntityCounts {
	counts := s.perEntity[entityType]
	if counts == nil {
		counts = &EntityCounts{}
		s.perEntity[entityType] = counts
	}
	return counts
}

// RecordProcessed counts a job picked up for handling, before its outcome
// is known.
func (s *Stats) RecordProcessed(entityType EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.entity(entityType).Processed++
	s.lastUpdated = time.Now()
	if s.prom != nil {
		s.prom.IndexingJobsTotal.WithLabelValues(string(entityType), metrics.OutcomeProcessed).Inc()
	}
}

// RecordSuccess counts a job that wrote to the index (indexed or deleted).
func (s *Stats) RecordSuccess(entityType EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded++
	s.entity(entityType).Succeeded++
	s.lastUpdated = time.Now()
	if s.prom != nil {
		s.prom.IndexingJobsTotal.WithLabelValues(string(entityType), metrics.OutcomeSucceeded).Inc()
	}
}

// RecordSkipped counts a job that completed without touching the index.
func (s *Stats) RecordSkipped(entityType EntityType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
	s.entity(entityType).Skipped++
	s.lastUpdated = time.Now()
	if s.prom != nil {
		s.prom.IndexingJobsTotal.WithLabelValues(string(entityType), metrics.OutcomeSkipped).Inc()
	}
}

// RecordRetry counts a failed job that was rescheduled.
func (s *Stats) RecordRetry(entityType EntityType, jobErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried++
	s.entity(entityType).Retried++
	if jobErr != nil {
		s.lastError = jobErr.Error()
	}
	s.lastUpdated = time.Now()
	if s.prom != nil {
		s.prom.IndexingJobsTotal.WithLabelValues(string(entityType), metrics.OutcomeRetried).Inc()
	}
}

// RecordDeadLetter counts a failed job whose retry budget is exhausted.
func (s *Stats) RecordDeadLetter(entityType EntityType, jobErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLettered++
	s.entity(entityType).DeadLettered++
	if jobErr != nil {
		s.lastError = jobErr.Error()
	}
	s.lastUpdated = time.Now()
	if s.prom != nil {
		s.prom.IndexingJobsTotal.WithLabelValues(string(entityType), metrics.OutcomeDeadLettered).Inc()
	}
}

// Snapshot returns a copy of the current counts.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := StatsSnapshot{
		Processed:    s.processed,
		Succeeded:    s.succeeded,
		Skipped:      s.skipped,
		Retried:      s.retried,
		DeadLettered: s.deadLettered,
		Failed:       s.retried + s.deadLettered,
		PerEntity:    make(map[EntityType]EntityCounts, len(s.perEntity)),
		LastError:    s.lastError,
	}
	for entityType, counts := range s.perEntity {
		snapshot.PerEntity[entityType] = *counts
	}
	if !s.lastUpdated.IsZero() {
		updated := s.lastUpdated
		snapshot.LastUpdated = &updated
	}
	return snapshot
}
