// Package search owns the search-engine infrastructure: the index
// templates, concrete indices, and write aliases the pipeline writes
// through, plus the idempotent bootstrap that provisions them.
package search

// IndexDefinition declares one logical index: its template, the concrete
// index created on first bootstrap, and the write alias the pipeline
// addresses.
type IndexDefinition struct {
	TemplateName  string
	IndexPatterns []string
	Priority      int
	Alias         string
	IndexName     string
	Settings      map[string]any
	Mappings      map[string]any
}

// TemplateBody is the index-template payload for this definition.
func (d IndexDefinition) TemplateBody() map[string]any {
	return map[string]any{
		"index_patterns": d.IndexPatterns,
		"priority":       d.Priority,
		"template": map[string]any{
			"settings": d.Settings,
			"mappings": d.Mappings,
		},
	}
}

func analysisSettings() map[string]any {
	return map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 1,
		"analysis": map[string]any{
			"analyzer": map[string]any{
				"folded": map[string]any{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    []string{"lowercase", "asciifolding"},
				},
				"autocomplete": map[string]any{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    []string{"lowercase", "asciifolding", "edge_ngrams"},
				},
			},
			"filter": map[string]any{
				"edge_ngrams": map[string]any{
					"type":     "edge_ngram",
					"min_gram": 2,
					"max_gram": 20,
				},
			},
			"normalizer": map[string]any{
				"keyword_lowercase": map[string]any{
					"type":   "custom",
					"filter": []string{"lowercase"},
				},
			},
		},
	}
}

// ReviewIndex is the primary review search index.
var ReviewIndex = IndexDefinition{
	TemplateName:  "reviews-template-v1",
	IndexPatterns: []string{"reviews-*"},
	Priority:      200,
	Alias:         "reviews",
	IndexName:     "reviews-v1",
	Settings:      analysisSettings(),
	Mappings: map[string]any{
		"dynamic": "strict",
		"properties": map[string]any{
			"id":             map[string]any{"type": "keyword"},
			"userId":         map[string]any{"type": "keyword"},
			"categoryTierId": map[string]any{"type": "keyword"},
			"categoryTierLevel": map[string]any{
				"type":       "keyword",
				"normalizer": "keyword_lowercase",
			},
			"title": map[string]any{
				"type":     "text",
				"analyzer": "folded",
				"fields": map[string]any{
					"autocomplete": map[string]any{
						"type":            "text",
						"analyzer":        "autocomplete",
						"search_analyzer": "folded",
					},
					"raw": map[string]any{
						"type":       "keyword",
						"normalizer": "keyword_lowercase",
					},
				},
			},
			"content": map[string]any{
				"type":     "text",
				"analyzer": "folded",
			},
			"rating": map[string]any{"type": "integer"},
			"status": map[string]any{
				"type":       "keyword",
				"normalizer": "keyword_lowercase",
			},
			"createdAt": map[string]any{"type": "date"},
			"updatedAt": map[string]any{"type": "date"},
			"author": map[string]any{
				"properties": map[string]any{
					"id": map[string]any{"type": "keyword"},
					"displayName": map[string]any{
						"type":     "text",
						"analyzer": "folded",
						"fields": map[string]any{
							"raw": map[string]any{
								"type":       "keyword",
								"normalizer": "keyword_lowercase",
							},
						},
					},
					"email": map[string]any{"type": "keyword"},
				},
			},
			"category": map[string]any{
				"properties": map[string]any{
					"id": map[string]any{"type": "keyword"},
					"name": map[string]any{
						"type":       "keyword",
						"normalizer": "keyword_lowercase",
					},
					"priority": map[string]any{"type": "integer"},
				},
			},
			"activityTotalQuantity": map[string]any{"type": "integer"},
			"boostCreditsPurchased": map[string]any{"type": "integer"},
			"boostCreditsConsumed":  map[string]any{"type": "integer"},
			"boostCreditsRemaining": map[string]any{"type": "integer"},
			"adBoostStatus": map[string]any{
				"type":       "keyword",
				"normalizer": "keyword_lowercase",
			},
		},
	},
}

// ReviewActivityIndex holds per-review activity rollups for analytics
// queries that should not load the main review index.
var ReviewActivityIndex = IndexDefinition{
	TemplateName:  "review-activities-template-v1",
	IndexPatterns: []string{"review-activities-*"},
	Priority:      200,
	Alias:         "review-activities",
	IndexName:     "review-activities-v1",
	Settings:      analysisSettings(),
	Mappings: map[string]any{
		"dynamic": "strict",
		"properties": map[string]any{
			"id":       map[string]any{"type": "keyword"},
			"reviewId": map[string]any{"type": "keyword"},
			"type": map[string]any{
				"type":       "keyword",
				"normalizer": "keyword_lowercase",
			},
			"quantity":   map[string]any{"type": "integer"},
			"recordedAt": map[string]any{"type": "date"},
		},
	},
}

// AllIndices is every definition bootstrap provisions.
var AllIndices = []IndexDefinition{ReviewIndex, ReviewActivityIndex}
