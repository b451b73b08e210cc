package indexing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/reviewstack/search-pipeline/internal/review"
	"github.com/reviewstack/search-pipeline/pkg/opensearch"
)

type fakeLister struct {
	reviews []*review.ForIndexing
	err     error
}

func (f *fakeLister) ListAll(ctx context.Context) ([]*review.ForIndexing, error) {
	return f.reviews, f.err
}

type fakeBulkIndexer struct {
	batches  [][]opensearch.BulkDocument
	failIDs  map[string]bool
	batchErr map[int]error
}

func (f *fakeBulkIndexer) BulkIndex(ctx context.Context, index string, docs []opensearch.BulkDocument, refresh string) (*opensearch.BulkResult, error) {
	batchNo := len(f.batches)
	f.batches = append(f.batches, docs)
	if err := f.batchErr[batchNo]; err != nil {
		return nil, err
	}

	result := &opensearch.BulkResult{}
	for _, doc := range docs {
		item := opensearch.BulkItem{ID: doc.ID}
		if f.failIDs[doc.ID] {
			item.Error = "mapper_parsing_exception"
			result.Errors = true
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func backfillReviews(n int) []*review.ForIndexing {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reviews := make([]*review.ForIndexing, n)
	for i := range reviews {
		reviews[i] = &review.ForIndexing{
			ID:        fmt.Sprintf("review-%03d", i),
			UserID:    "user-1",
			Title:     "title",
			Status:    "PUBLISHED",
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return reviews
}

func TestRunReviewBackfillChunksAndCounts(t *testing.T) {
	lister := &fakeLister{reviews: backfillReviews(7)}
	indexer := &fakeBulkIndexer{failIDs: map[string]bool{"review-004": true}}

	report, err := RunReviewBackfill(context.Background(), lister, indexer, BackfillOptions{
		IndexName: "reviews",
		ChunkSize: 3,
	})
	if err != nil {
		t.Fatalf("RunReviewBackfill: %v", err)
	}

	if report.Total != 7 || report.Indexed != 6 || report.Failed != 1 || report.Batches != 3 {
		t.Errorf("report = %+v", report)
	}
	if len(indexer.batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(indexer.batches))
	}
	if len(indexer.batches[0]) != 3 || len(indexer.batches[2]) != 1 {
		t.Errorf("batch sizes = %d/%d/%d",
			len(indexer.batches[0]), len(indexer.batches[1]), len(indexer.batches[2]))
	}
}

func TestRunReviewBackfillLogsEachFailedItem(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	lister := &fakeLister{reviews: backfillReviews(3)}
	indexer := &fakeBulkIndexer{failIDs: map[string]bool{"review-001": true}}

	report, err := RunReviewBackfill(context.Background(), lister, indexer, BackfillOptions{
		IndexName: "reviews",
		ChunkSize: 3,
	})
	if err != nil {
		t.Fatalf("RunReviewBackfill: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	logged := buf.String()
	if !strings.Contains(logged, "review-001") {
		t.Errorf("failed document id not logged:\n%s", logged)
	}
	if !strings.Contains(logged, "mapper_parsing_exception") {
		t.Errorf("failure reason not logged:\n%s", logged)
	}
}

func TestRunReviewBackfillContinuesAfterBatchError(t *testing.T) {
	lister := &fakeLister{reviews: backfillReviews(6)}
	indexer := &fakeBulkIndexer{batchErr: map[int]error{0: errors.New("bulk rejected")}}

	report, err := RunReviewBackfill(context.Background(), lister, indexer, BackfillOptions{
		IndexName: "reviews",
		ChunkSize: 3,
	})
	if err != nil {
		t.Fatalf("RunReviewBackfill: %v", err)
	}

	if report.Batches != 2 {
		t.Errorf("batches = %d, want the run to continue past the failed chunk", report.Batches)
	}
	if report.Failed != 3 || report.Indexed != 3 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunReviewBackfillEmpty(t *testing.T) {
	report, err := RunReviewBackfill(context.Background(), &fakeLister{}, &fakeBulkIndexer{}, BackfillOptions{
		IndexName: "reviews",
	})
	if err != nil {
		t.Fatalf("RunReviewBackfill: %v", err)
	}
	if report.Total != 0 || report.Batches != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestRunReviewBackfillListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("db down")}
	if _, err := RunReviewBackfill(context.Background(), lister, &fakeBulkIndexer{}, BackfillOptions{
		IndexName: "reviews",
	}); err == nil {
		t.Error("list error swallowed")
	}
}
