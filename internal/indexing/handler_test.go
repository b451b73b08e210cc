package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reviewstack/search-pipeline/internal/review"
	"github.com/reviewstack/search-pipeline/pkg/opensearch"
)

type fakeSource struct {
	reviews map[string]*review.ForIndexing
	err     error
}

func (f *fakeSource) GetByID(ctx context.Context, id string) (*review.ForIndexing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reviews[id], nil
}

type storeCall struct {
	op    string
	index string
	id    string
}

type fakeStore struct {
	calls     []storeCall
	indexErr  error
	deleteErr error
	lastDoc   any
}

func (f *fakeStore) IndexDocument(ctx context.Context, index, id string, doc any, refresh string) error {
	f.calls = append(f.calls, storeCall{op: "index", index: index, id: id})
	f.lastDoc = doc
	return f.indexErr
}

func (f *fakeStore) DeleteDocument(ctx context.Context, index, id string, refresh string) error {
	f.calls = append(f.calls, storeCall{op: "delete", index: index, id: id})
	return f.deleteErr
}

func testReview(id string, updatedAt time.Time) *review.ForIndexing {
	return &review.ForIndexing{
		ID:        id,
		UserID:    "user-1",
		Title:     "Great product",
		Content:   "Would buy again",
		Rating:    5,
		Status:    "PUBLISHED",
		CreatedAt: updatedAt.Add(-time.Hour),
		UpdatedAt: updatedAt,
		Author:    review.Author{ID: "user-1", DisplayName: "Sam", Email: "sam@example.com"},
	}
}

func upsertJob(entityID string, cursor *time.Time) Job {
	return Job{Event: Event{
		ID:         "job-" + entityID,
		EntityType: EntityTypeReview,
		EntityID:   entityID,
		Operation:  OperationUpsert,
		Cursor:     cursor,
	}}
}

func TestHandlerUpsertIndexesFreshState(t *testing.T) {
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{reviews: map[string]*review.ForIndexing{
		"review-1": testReview("review-1", updatedAt),
	}}
	store := &fakeStore{}
	h := NewHandler(source, store, HandlerOptions{IndexName: "reviews"})

	cursor := updatedAt
	result, err := h.Handle(context.Background(), upsertJob("review-1", &cursor))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result != ResultIndexed {
		t.Fatalf("result = %s, want indexed", result)
	}
	if len(store.calls) != 1 || store.calls[0].op != "index" || store.calls[0].index != "reviews" {
		t.Fatalf("calls = %+v", store.calls)
	}
	doc, ok := store.lastDoc.(review.Document)
	if !ok {
		t.Fatalf("indexed doc type %T", store.lastDoc)
	}
	if doc.ID != "review-1" || doc.AdBoostStatus != review.BoostStatusOrganic {
		t.Errorf("doc = %+v", doc)
	}
}

func TestHandlerUpsertSkipsStaleJob(t *testing.T) {
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{reviews: map[string]*review.ForIndexing{
		"review-1": testReview("review-1", updatedAt),
	}}
	store := &fakeStore{}
	h := NewHandler(source, store, HandlerOptions{IndexName: "reviews"})

	stale := updatedAt.Add(-time.Minute)
	result, err := h.Handle(context.Background(), upsertJob("review-1", &stale))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result != ResultSkipped {
		t.Fatalf("result = %s, want skipped", result)
	}
	if len(store.calls) != 0 {
		t.Errorf("stale job touched the index: %+v", store.calls)
	}
}

func TestHandlerUpsertNilCursorAlwaysIndexes(t *testing.T) {
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	source := &fakeSource{reviews: map[string]*review.ForIndexing{
		"review-1": testReview("review-1", updatedAt),
	}}
	store := &fakeStore{}
	h := NewHandler(source, store, HandlerOptions{IndexName: "reviews"})

	result, err := h.Handle(context.Background(), upsertJob("review-1", nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result != ResultIndexed {
		t.Fatalf("result = %s, want indexed", result)
	}
}

func TestHandlerUpsertMissingEntityDeletes(t *testing.T) {
	source := &fakeSource{reviews: map[string]*review.ForIndexing{}}
	store := &fakeStore{}
	h := NewHandler(source, store, HandlerOptions{IndexName: "reviews"})

	result, err := h.Handle(context.Background(), upsertJob("review-gone", nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result != ResultDeleted {
		t.Fatalf("result = %s, want deleted", result)
	}
	if len(store.calls) != 1 || store.calls[0].op != "delete" {
		t.Errorf("calls = %+v", store.calls)
	}
}

func TestHandlerUpsertMissingEntityWithDeleteDisabled(t *testing.T) {
	deleteOnMissing := false
	source := &fakeSource{reviews: map[string]*review.ForIndexing{}}
	store := &fakeStore{}
	h := NewHandler(source, store, HandlerOptions{
		IndexName:       "reviews",
		DeleteOnMissing: &deleteOnMissing,
	})

	result, err := h.Handle(context.Background(), upsertJob("review-gone", nil))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result != ResultSkipped {
		t.Fatalf("result = %s, want skipped", result)
	}
	if len(store.calls) != 0 {
		t.Errorf("calls = %+v, want none", store.calls)
	}
}

func TestHandlerDelete(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(&fakeSource{}, store, HandlerOptions{IndexName: "reviews"})

	job := Job{Event: Event{
		ID:         "job-1",
		EntityType: EntityTypeReview,
		EntityID:   "review-1",
		Operation:  OperationDelete,
	}}
	result, err := h.Handle(context.Background(), job)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result != ResultDeleted {
		t.Fatalf("result = %s, want deleted", result)
	}

	// A document that is already gone is a skip, not an error.
	store.deleteErr = &opensearch.APIError{StatusCode: 404, Reason: "not found"}
	result, err = h.Handle(context.Background(), job)
	if err != nil {
		t.Fatalf("Handle with 404: %v", err)
	}
	if result != ResultSkipped {
		t.Fatalf("result = %s, want skipped on 404", result)
	}
}

func TestHandlerPropagatesErrors(t *testing.T) {
	source := &fakeSource{err: errors.New("db down")}
	h := NewHandler(source, &fakeStore{}, HandlerOptions{IndexName: "reviews"})

	if _, err := h.Handle(context.Background(), upsertJob("review-1", nil)); err == nil {
		t.Error("fetch error swallowed")
	}

	updatedAt := time.Now()
	source = &fakeSource{reviews: map[string]*review.ForIndexing{
		"review-1": testReview("review-1", updatedAt),
	}}
	store := &fakeStore{indexErr: errors.New("cluster red")}
	h = NewHandler(source, store, HandlerOptions{IndexName: "reviews"})
	if _, err := h.Handle(context.Background(), upsertJob("review-1", nil)); err == nil {
		t.Error("index error swallowed")
	}
}

func TestHandlerRejectsUnknownOperation(t *testing.T) {
	h := NewHandler(&fakeSource{}, &fakeStore{}, HandlerOptions{IndexName: "reviews"})
	job := Job{Event: Event{ID: "job-1", EntityID: "review-1", Operation: Operation("PATCH")}}
	if _, err := h.Handle(context.Background(), job); err == nil {
		t.Error("unknown operation accepted")
	}
}
