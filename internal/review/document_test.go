package review

import (
	"testing"
	"time"
)

func TestTierLevelForPriority(t *testing.T) {
	cases := []struct {
		priority int
		want     TierLevel
	}{
		{0, TierLower},
		{33, TierLower},
		{34, TierMedium},
		{66, TierMedium},
		{67, TierHigher},
		{100, TierHigher},
	}
	for _, tc := range cases {
		if got := TierLevelForPriority(tc.priority); got != tc.want {
			t.Errorf("TierLevelForPriority(%d) = %s, want %s", tc.priority, got, tc.want)
		}
	}
}

func TestBuildDocumentDerivedFields(t *testing.T) {
	createdAt := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entity := &ForIndexing{
		ID:             "review-1",
		UserID:         "user-1",
		CategoryTierID: "tier-1",
		Title:          "Great product",
		Content:        "Would buy again",
		Rating:         5,
		Status:         "PUBLISHED",
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
		Author:         Author{ID: "user-1", DisplayName: "Sam", Email: "sam@example.com"},
		CategoryTier:   &CategoryTier{ID: "tier-1", Name: "Electronics", Priority: 70},
		ActivityCounts: []ActivityCount{
			{Type: "view", Quantity: 10},
			{Type: "share", Quantity: 3},
		},
		BoostPurchases: []BoostPurchase{
			{CreditsPurchased: 12, CreditsConsumed: 4},
		},
	}

	doc := BuildDocument(entity)

	if doc.ActivityTotalQuantity != 13 {
		t.Errorf("activityTotalQuantity = %d, want 13", doc.ActivityTotalQuantity)
	}
	if doc.BoostCreditsPurchased != 12 || doc.BoostCreditsConsumed != 4 || doc.BoostCreditsRemaining != 8 {
		t.Errorf("boost credits = %d/%d/%d",
			doc.BoostCreditsPurchased, doc.BoostCreditsConsumed, doc.BoostCreditsRemaining)
	}
	if doc.AdBoostStatus != BoostStatusBoosted {
		t.Errorf("adBoostStatus = %s, want boosted", doc.AdBoostStatus)
	}
	if doc.CategoryTierLevel == nil || *doc.CategoryTierLevel != TierHigher {
		t.Errorf("categoryTierLevel = %v, want higher for priority 70", doc.CategoryTierLevel)
	}
	if doc.Category == nil || doc.Category.Name != "Electronics" {
		t.Errorf("category = %+v", doc.Category)
	}
	if doc.CreatedAt != "2026-02-01T08:30:00.000Z" || doc.UpdatedAt != "2026-03-01T12:00:00.000Z" {
		t.Errorf("timestamps = %s / %s", doc.CreatedAt, doc.UpdatedAt)
	}
	if doc.Author.DisplayName != "Sam" {
		t.Errorf("author = %+v", doc.Author)
	}
}

func TestBuildDocumentBoostEdgeCases(t *testing.T) {
	entity := &ForIndexing{ID: "review-1"}

	// No purchases at all.
	doc := BuildDocument(entity)
	if doc.AdBoostStatus != BoostStatusOrganic || doc.BoostCreditsRemaining != 0 {
		t.Errorf("no purchases: status=%s remaining=%d", doc.AdBoostStatus, doc.BoostCreditsRemaining)
	}

	// Fully consumed.
	entity.BoostPurchases = []BoostPurchase{{CreditsPurchased: 5, CreditsConsumed: 5}}
	doc = BuildDocument(entity)
	if doc.AdBoostStatus != BoostStatusOrganic {
		t.Errorf("fully consumed: status = %s, want organic", doc.AdBoostStatus)
	}

	// Over-consumed clamps to zero rather than going negative.
	entity.BoostPurchases = []BoostPurchase{{CreditsPurchased: 5, CreditsConsumed: 9}}
	doc = BuildDocument(entity)
	if doc.BoostCreditsRemaining != 0 || doc.AdBoostStatus != BoostStatusOrganic {
		t.Errorf("over-consumed: remaining=%d status=%s", doc.BoostCreditsRemaining, doc.AdBoostStatus)
	}
}

func TestBuildDocumentWithoutCategory(t *testing.T) {
	doc := BuildDocument(&ForIndexing{ID: "review-1"})
	if doc.CategoryTierID != nil || doc.CategoryTierLevel != nil || doc.Category != nil {
		t.Errorf("uncategorized review produced category fields: %+v", doc)
	}
}
