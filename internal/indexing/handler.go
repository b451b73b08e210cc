package indexing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reviewstack/search-pipeline/internal/review"
	"github.com/reviewstack/search-pipeline/pkg/logger"
	"github.com/reviewstack/search-pipeline/pkg/opensearch"
)

// ReviewSource loads the authoritative review state. GetByID returns
// (nil, nil) when the review does not exist.
type ReviewSource interface {
	GetByID(ctx context.Context, id string) (*review.ForIndexing, error)
}

// DocumentStore writes documents to the search index.
type DocumentStore interface {
	IndexDocument(ctx context.Context, index, id string, doc any, refresh string) error
	DeleteDocument(ctx context.Context, index, id string, refresh string) error
}

// HandlerOptions configure a Handler.
type HandlerOptions struct {
	// IndexName is the write target, normally the write alias.
	IndexName string
	// Refresh is the refresh policy passed on every write ("", "false",
	// "true", "wait_for").
	Refresh string
	// DeleteOnMissing controls what an UPSERT does when the entity has
	// vanished from the relational store: delete the document (default)
	// or leave the index untouched.
	DeleteOnMissing *bool
}

// Handler processes one job at a time. It never trusts event payloads:
// UPSERT re-fetches the entity and rebuilds the full document, so replayed,
// duplicated, or reordered jobs all converge on the freshest committed
// state. The job cursor is only a staleness hint — when the fetched entity
// is newer than the cursor, the job is skipped because a later job (or the
// fetch-at-handle-time of the current one) already covers that state.
type Handler struct {
	source          ReviewSource
	store           DocumentStore
	index           string
	refresh         string
	deleteOnMissing bool
	logger          *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(source ReviewSource, store DocumentStore, opts HandlerOptions) *Handler {
	deleteOnMissing := true
	if opts.DeleteOnMissing != nil {
		deleteOnMissing = *opts.DeleteOnMissing
	}
	return &Handler{
		source:          source,
		store:           store,
		index:           opts.IndexName,
		refresh:         opts.Refresh,
		deleteOnMissing: deleteOnMissing,
		logger:          logger.WithComponent("indexing-handler"),
	}
}

// Handle executes one job and reports its outcome. A returned error means
// the job should be retried or dead-lettered by the queue.
func (h *Handler) Handle(ctx context.Context, job Job) (Result, error) {
	switch job.Operation {
	case OperationDelete:
		return h.handleDelete(ctx, job)
	case OperationUpsert:
		return h.handleUpsert(ctx, job)
	default:
		return "", fmt.Errorf("unknown operation %q for job %s", job.Operation, job.ID)
	}
}

func (h *Handler) handleDelete(ctx context.Context, job Job) (Result, error) {
	err := h.store.DeleteDocument(ctx, h.index, job.EntityID, h.refresh)
	if opensearch.IsNotFound(err) {
		// Already gone; deletes are idempotent.
		return ResultSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("deleting document %s: %w", job.EntityID, err)
	}
	return ResultDeleted, nil
}

func (h *Handler) handleUpsert(ctx context.Context, job Job) (Result, error) {
	entity, err := h.source.GetByID(ctx, job.EntityID)
	if err != nil {
		return "", fmt.Errorf("fetching review %s: %w", job.EntityID, err)
	}

	if entity == nil {
		if !h.deleteOnMissing {
			return ResultSkipped, nil
		}
		// The row was deleted between the event and now; remove any stale
		// document so the index does not outlive the source of truth.
		err := h.store.DeleteDocument(ctx, h.index, job.EntityID, h.refresh)
		if opensearch.IsNotFound(err) {
			return ResultSkipped, nil
		}
		if err != nil {
			return "", fmt.Errorf("deleting document for vanished review %s: %w", job.EntityID, err)
		}
		return ResultDeleted, nil
	}

	if job.Cursor != nil && entity.UpdatedAt.After(*job.Cursor) {
		h.logger.Debug("skipping stale job",
			"job_id", job.ID,
			"entity_id", job.EntityID,
			"cursor", job.Cursor,
			"entity_updated_at", entity.UpdatedAt,
		)
		return ResultSkipped, nil
	}

	doc := review.BuildDocument(entity)
	if err := h.store.IndexDocument(ctx, h.index, entity.ID, doc, h.refresh); err != nil {
		return "", fmt.Errorf("indexing document %s: %w", entity.ID, err)
	}
	return ResultIndexed, nil
}
