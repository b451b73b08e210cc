package indexing

import (
	"errors"
	"testing"
)

func TestStatsSnapshot(t *testing.T) {
	stats := NewStats(nil)

	stats.RecordProcessed(EntityTypeReview)
	stats.RecordProcessed(EntityTypeReview)
	stats.RecordProcessed(EntityTypeReview)
	stats.RecordSuccess(EntityTypeReview)
	stats.RecordSkipped(EntityTypeReview)
	stats.RecordRetry(EntityTypeReview, errors.New("transient"))
	stats.RecordDeadLetter(EntityTypeReview, errors.New("permanent"))

	snapshot := stats.Snapshot()
	if snapshot.Processed != 3 {
		t.Errorf("processed = %d, want 3", snapshot.Processed)
	}
	if snapshot.Succeeded != 1 || snapshot.Skipped != 1 {
		t.Errorf("succeeded/skipped = %d/%d", snapshot.Succeeded, snapshot.Skipped)
	}
	if snapshot.Retried != 1 || snapshot.DeadLettered != 1 {
		t.Errorf("retried/deadLettered = %d/%d", snapshot.Retried, snapshot.DeadLettered)
	}
	if snapshot.Failed != 2 {
		t.Errorf("failed = %d, want retried + deadLettered", snapshot.Failed)
	}
	if snapshot.LastError != "permanent" {
		t.Errorf("lastError = %q", snapshot.LastError)
	}
	if snapshot.LastUpdated == nil {
		t.Error("lastUpdated not set")
	}

	perEntity := snapshot.PerEntity[EntityTypeReview]
	if perEntity.Processed != 3 || perEntity.Succeeded != 1 || perEntity.DeadLettered != 1 {
		t.Errorf("perEntity = %+v", perEntity)
	}
}

func TestStatsSnapshotIsCopy(t *testing.T) {
	stats := NewStats(nil)
	stats.RecordProcessed(EntityTypeReview)

	first := stats.Snapshot()
	stats.RecordProcessed(EntityTypeReview)

	if first.Processed != 1 {
		t.Errorf("earlier snapshot mutated: processed = %d", first.Processed)
	}
	if first.PerEntity[EntityTypeReview].Processed != 1 {
		t.Errorf("earlier per-entity snapshot mutated: %+v", first.PerEntity)
	}
}

func TestStatsEmptySnapshot(t *testing.T) {
	snapshot := NewStats(nil).Snapshot()
	if snapshot.Processed != 0 || snapshot.Failed != 0 {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.LastUpdated != nil {
		t.Error("lastUpdated set before any recording")
	}
	if len(snapshot.PerEntity) != 0 {
		t.Errorf("perEntity = %v", snapshot.PerEntity)
	}
}
