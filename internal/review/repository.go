package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/reviewstack/search-pipeline/pkg/postgres"
)

const listPageSize = 500

// Repository loads review projections from Postgres. Nothing is cached:
// every lookup reads the latest committed state, which is what makes
// concurrent and out-of-order indexing converge.
type Repository struct {
	client *postgres.Client
}

// NewRepository creates a Repository on the given client.
func NewRepository(client *postgres.Client) *Repository {
	return &Repository{client: client}
}

const reviewSelect = `
	SELECT r.id, r.user_id, COALESCE(r.category_tier_id, ''), r.title, r.content,
		r.rating, r.status, r.created_at, r.updated_at,
		u.id, u.display_name, u.email,
		ct.id, ct.name, ct.priority
	FROM reviews r
	JOIN users u ON u.id = r.user_id
	LEFT JOIN category_tiers ct ON ct.id = r.category_tier_id`

// GetByID fetches one review with its denormalized relations. Returns
// (nil, nil) when the review does not exist.
func (repo *Repository) GetByID(ctx context.Context, id string) (*ForIndexing, error) {
	row := repo.client.DB.QueryRowContext(ctx, reviewSelect+` WHERE r.id = $1`, id)
	review, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading review %s: %w", id, err)
	}

	if err := repo.attachRelations(ctx, []*ForIndexing{review}); err != nil {
		return nil, err
	}
	return review, nil
}

// ListAll returns every review ordered by updated_at ascending. Paging is
// internal (keyset on updated_at, id) so callers see one slice but the
// process never materializes a single unbounded result set.
func (repo *Repository) ListAll(ctx context.Context) ([]*ForIndexing, error) {
	var (
		all       []*ForIndexing
		lastSeen  time.Time
		lastID    string
		firstPage = true
	)

	for {
		query := reviewSelect + `
			WHERE (r.updated_at, r.id) > ($1, $2)
			ORDER BY r.updated_at ASC, r.id ASC
			LIMIT $3`
		if firstPage {
			query = reviewSelect + `
				ORDER BY r.updated_at ASC, r.id ASC
				LIMIT $3`
		}

		var (
			rows *sql.Rows
			err  error
		)
		if firstPage {
			rows, err = repo.client.DB.QueryContext(ctx, query, listPageSize)
		} else {
			rows, err = repo.client.DB.QueryContext(ctx, query, lastSeen, lastID, listPageSize)
		}
		if err != nil {
			return nil, fmt.Errorf("listing reviews: %w", err)
		}

		page, err := collectReviews(rows)
		if err != nil {
			return nil, err
		}
		if err := repo.attachRelations(ctx, page); err != nil {
			return nil, err
		}

		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
		last := page[len(page)-1]
		lastSeen, lastID = last.UpdatedAt, last.ID
		firstPage = false
	}
}

// ListByIDs fetches the given reviews, skipping ids that no longer exist.
func (repo *Repository) ListByIDs(ctx context.Context, ids []string) ([]*ForIndexing, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := repo.client.DB.QueryContext(ctx,
		reviewSelect+` WHERE r.id = ANY($1)`, pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("listing reviews by id: %w", err)
	}

	reviews, err := collectReviews(rows)
	if err != nil {
		return nil, err
	}
	if err := repo.attachRelations(ctx, reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*ForIndexing, error) {
	var (
		review       ForIndexing
		tierID       sql.NullString
		tierName     sql.NullString
		tierPriority sql.NullInt64
	)
	err := row.Scan(
		&review.ID, &review.UserID, &review.CategoryTierID, &review.Title,
		&review.Content, &review.Rating, &review.Status,
		&review.CreatedAt, &review.UpdatedAt,
		&review.Author.ID, &review.Author.DisplayName, &review.Author.Email,
		&tierID, &tierName, &tierPriority,
	)
	if err != nil {
		return nil, err
	}
	if tierID.Valid {
		review.CategoryTier = &CategoryTier{
			ID:       tierID.String,
			Name:     tierName.String,
			Priority: int(tierPriority.Int64),
		}
	}
	return &review, nil
}

func collectReviews(rows *sql.Rows) ([]*ForIndexing, error) {
	defer rows.Close()

	var reviews []*ForIndexing
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review: %w", err)
		}
		reviews = append(reviews, review)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading reviews: %w", err)
	}
	return reviews, nil
}

// attachRelations loads activity counts and boost purchases for a page of
// reviews with one query per relation.
func (repo *Repository) attachRelations(ctx context.Context, reviews []*ForIndexing) error {
	if len(reviews) == 0 {
		return nil
	}

	byID := make(map[string]*ForIndexing, len(reviews))
	ids := make([]string, 0, len(reviews))
	for _, review := range reviews {
		byID[review.ID] = review
		ids = append(ids, review.ID)
	}

	activityRows, err := repo.client.DB.QueryContext(ctx, `
		SELECT review_id, type, quantity
		FROM review_activity_metrics
		WHERE review_id = ANY($1)`, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("loading activity counts: %w", err)
	}
	defer activityRows.Close()
	for activityRows.Next() {
		var (
			reviewID string
			count    ActivityCount
		)
		if err := activityRows.Scan(&reviewID, &count.Type, &count.Quantity); err != nil {
			return fmt.Errorf("scanning activity count: %w", err)
		}
		if review := byID[reviewID]; review != nil {
			review.ActivityCounts = append(review.ActivityCounts, count)
		}
	}
	if err := activityRows.Err(); err != nil {
		return fmt.Errorf("reading activity counts: %w", err)
	}

	boostRows, err := repo.client.DB.QueryContext(ctx, `
		SELECT review_id, credits_purchased, credits_consumed
		FROM boost_purchases
		WHERE review_id = ANY($1)`, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("loading boost purchases: %w", err)
	}
	defer boostRows.Close()
	for boostRows.Next() {
		var (
			reviewID string
			boost    BoostPurchase
		)
		if err := boostRows.Scan(&reviewID, &boost.CreditsPurchased, &boost.CreditsConsumed); err != nil {
			return fmt.Errorf("scanning boost purchase: %w", err)
		}
		if review := byID[reviewID]; review != nil {
			review.BoostPurchases = append(review.BoostPurchases, boost)
		}
	}
	if err := boostRows.Err(); err != nil {
		return fmt.Errorf("reading boost purchases: %w", err)
	}
	return nil
}
