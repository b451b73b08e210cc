// Package review holds the read model the indexing pipeline projects into
// the search index: the denormalized review entity, its pure document
// builder, and the Postgres repository that loads it.
package review

import "time"

// Author is the denormalized review author.
type Author struct {
	ID          string
	DisplayName string
	Email       string
}

// CategoryTier is the denormalized category a review belongs to.
type CategoryTier struct {
	ID       string
	Name     string
	Priority int
}

// ActivityCount is one activity-metric record attached to a review.
type ActivityCount struct {
	Type     string
	Quantity int
}

// BoostPurchase is one ad-boost credit purchase attached to a review.
type BoostPurchase struct {
	CreditsPurchased int
	CreditsConsumed  int
}

// ForIndexing is the full projection of a review as the pipeline indexes it.
// It is owned by the relational store and read-only here; handlers always
// re-fetch it by id rather than trusting event payloads, so concurrent
// writers converge on the freshest committed state.
type ForIndexing struct {
	ID             string
	UserID         string
	CategoryTierID string
	Title          string
	Content        string
	Rating         int
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Author         Author
	CategoryTier   *CategoryTier
	ActivityCounts []ActivityCount
	BoostPurchases []BoostPurchase
}
