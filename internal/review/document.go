package review

// TierLevel buckets a category priority into a coarse ranking band.
type TierLevel string

const (
	TierLower  TierLevel = "lower"
	TierMedium TierLevel = "medium"
	TierHigher TierLevel = "higher"
)

// BoostStatus marks whether a review currently has ad-boost credits.
type BoostStatus string

const (
	BoostStatusBoosted BoostStatus = "boosted"
	BoostStatusOrganic BoostStatus = "organic"
)

// DocumentAuthor is the author sub-object of a search document.
type DocumentAuthor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// DocumentCategory is the category sub-object of a search document.
type DocumentCategory struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// Document is the shape written to the search engine.
type Document struct {
	ID                    string            `json:"id"`
	UserID                string            `json:"userId"`
	CategoryTierID        *string           `json:"categoryTierId"`
	CategoryTierLevel     *TierLevel        `json:"categoryTierLevel"`
	Title                 string            `json:"title"`
	Content               string            `json:"content"`
	Rating                int               `json:"rating"`
	Status                string            `json:"status"`
	CreatedAt             string            `json:"createdAt"`
	UpdatedAt             string            `json:"updatedAt"`
	Author                DocumentAuthor    `json:"author"`
	Category              *DocumentCategory `json:"category"`
	ActivityTotalQuantity int               `json:"activityTotalQuantity"`
	BoostCreditsPurchased int               `json:"boostCreditsPurchased"`
	BoostCreditsConsumed  int               `json:"boostCreditsConsumed"`
	BoostCreditsRemaining int               `json:"boostCreditsRemaining"`
	AdBoostStatus         BoostStatus       `json:"adBoostStatus"`
}

// TierLevelForPriority maps a category priority to its band: <=33 lower,
// <=66 medium, else higher.
func TierLevelForPriority(priority int) TierLevel {
	switch {
	case priority <= 33:
		return TierLower
	case priority <= 66:
		return TierMedium
	default:
		return TierHigher
	}
}

// BuildDocument projects a review into its search document. It is a pure,
// deterministic function of the projection; every derived field is
// recomputed from scratch so concurrent upserts converge.
func BuildDocument(r *ForIndexing) Document {
	activityTotal := 0
	for _, metric := range r.ActivityCounts {
		activityTotal += metric.Quantity
	}

	purchased, consumed := 0, 0
	for _, boost := range r.BoostPurchases {
		purchased += boost.CreditsPurchased
		consumed += boost.CreditsConsumed
	}
	remaining := purchased - consumed
	if remaining < 0 {
		remaining = 0
	}
	status := BoostStatusOrganic
	if remaining > 0 {
		status = BoostStatusBoosted
	}

	doc := Document{
		ID:                    r.ID,
		UserID:                r.UserID,
		Title:                 r.Title,
		Content:               r.Content,
		Rating:                r.Rating,
		Status:                r.Status,
		CreatedAt:             r.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:             r.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Author:                DocumentAuthor(r.Author),
		ActivityTotalQuantity: activityTotal,
		BoostCreditsPurchased: purchased,
		BoostCreditsConsumed:  consumed,
		BoostCreditsRemaining: remaining,
		AdBoostStatus:         status,
	}

	if r.CategoryTierID != "" {
		id := r.CategoryTierID
		doc.CategoryTierID = &id
	}
	if r.CategoryTier != nil {
		level := TierLevelForPriority(r.CategoryTier.Priority)
		doc.CategoryTierLevel = &level
		doc.Category = &DocumentCategory{
			ID:       r.CategoryTier.ID,
			Name:     r.CategoryTier.Name,
			Priority: r.CategoryTier.Priority,
		}
	}
	return doc
}
