// Package opensearch wraps the official OpenSearch client with the document
// and admin operations the indexing pipeline consumes: single-document
// index/delete, bulk indexing with per-item error reporting, index template
// application, and alias management.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/reviewstack/search-pipeline/pkg/config"
	"github.com/reviewstack/search-pipeline/pkg/logger"
)

// Client wraps an opensearch-go client.
type Client struct {
	os     *opensearch.Client
	logger *slog.Logger
}

// New creates a Client for the configured cluster.
func New(cfg config.OpenSearchConfig) (*Client, error) {
	osClient, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating opensearch client: %w", err)
	}
	return &Client{
		os:     osClient,
		logger: logger.WithComponent("opensearch"),
	}, nil
}

// Ping verifies the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	res, err := opensearchapi.PingRequest{}.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("pinging opensearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return asAPIError(res)
	}
	return nil
}

// IndexDocument upserts a single document.
func (c *Client) IndexDocument(ctx context.Context, index, id string, doc any, refresh string) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}

	res, err := opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    refresh,
	}.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("indexing document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return asAPIError(res)
	}
	return nil
}

// DeleteDocument deletes a single document. A missing document surfaces as an
// *APIError with status 404; callers decide whether that is benign.
func (c *Client) DeleteDocument(ctx context.Context, index, id string, refresh string) error {
	res, err := opensearchapi.DeleteRequest{
		Index:      index,
		DocumentID: id,
		Refresh:    refresh,
	}.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return asAPIError(res)
	}
	return nil
}

// BulkDocument is one document in a bulk index request.
type BulkDocument struct {
	ID   string
	Body any
}

// BulkItem is the per-document outcome of a bulk request. Error is empty on
// success.
type BulkItem struct {
	ID    string
	Error string
}

// BulkResult reports the outcome of one bulk request.
type BulkResult struct {
	Errors bool
	Items  []BulkItem
}

type bulkResponseItem struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

// BulkIndex issues one bulk request indexing every document into index.
func (c *Client) BulkIndex(ctx context.Context, index string, docs []BulkDocument, refresh string) (*BulkResult, error) {
	var payload bytes.Buffer
	encoder := json.NewEncoder(&payload)
	for _, doc := range docs {
		action := map[string]map[string]string{
			"index": {"_index": index, "_id": doc.ID},
		}
		if err := encoder.Encode(action); err != nil {
			return nil, fmt.Errorf("encoding bulk action for %s: %w", doc.ID, err)
		}
		if err := encoder.Encode(doc.Body); err != nil {
			return nil, fmt.Errorf("encoding bulk document %s: %w", doc.ID, err)
		}
	}

	res, err := opensearchapi.BulkRequest{
		Body:    bytes.NewReader(payload.Bytes()),
		Refresh: refresh,
	}.Do(ctx, c.os)
	if err != nil {
		return nil, fmt.Errorf("bulk indexing %d documents: %w", len(docs), err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, asAPIError(res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding bulk response: %w", err)
	}

	result := &BulkResult{Errors: parsed.Errors}
	for _, entry := range parsed.Items {
		for _, item := range entry {
			result.Items = append(result.Items, BulkItem{
				ID:    item.ID,
				Error: decodeItemError(item.Error),
			})
		}
	}
	return result, nil
}

// decodeItemError flattens a bulk item error, which OpenSearch reports either
// as a {type, reason} object or a bare string.
func decodeItemError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var detail errorDetail
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Reason != "" {
		return detail.Reason
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// PutIndexTemplate applies (create-or-update) an index template by name.
// Re-applying an identical body is a no-op on the cluster.
func (c *Client) PutIndexTemplate(ctx context.Context, name string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding index template %s: %w", name, err)
	}

	res, err := opensearchapi.IndicesPutIndexTemplateRequest{
		Name: name,
		Body: bytes.NewReader(encoded),
	}.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("putting index template %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return asAPIError(res)
	}
	return nil
}

// AliasExists reports whether the alias resolves to at least one index.
func (c *Client) AliasExists(ctx context.Context, alias string) (bool, error) {
	res, err := opensearchapi.IndicesExistsAliasRequest{
		Name: []string{alias},
	}.Do(ctx, c.os)
	if err != nil {
		return false, fmt.Errorf("checking alias %s: %w", alias, err)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, asAPIError(res)
	}
}

// CreateIndexWithWriteAlias creates a concrete index with the write alias
// attached inline, so a fresh cluster gets both in one atomic call.
func (c *Client) CreateIndexWithWriteAlias(ctx context.Context, index, alias string, settings, mappings map[string]any) error {
	body := map[string]any{
		"aliases": map[string]any{
			alias: map[string]any{"is_write_index": true},
		},
		"settings": settings,
		"mappings": mappings,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding index body for %s: %w", index, err)
	}

	res, err := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  bytes.NewReader(encoded),
	}.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("creating index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return asAPIError(res)
	}
	return nil
}

// AttachWriteAlias adds the alias to an existing index as its write index.
func (c *Client) AttachWriteAlias(ctx context.Context, index, alias string) error {
	body := map[string]any{
		"actions": []map[string]any{
			{
				"add": map[string]any{
					"index":          index,
					"alias":          alias,
					"is_write_index": true,
				},
			},
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding alias actions for %s: %w", alias, err)
	}

	res, err := opensearchapi.IndicesUpdateAliasesRequest{
		Body: bytes.NewReader(encoded),
	}.Do(ctx, c.os)
	if err != nil {
		return fmt.Errorf("attaching alias %s to %s: %w", alias, index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return asAPIError(res)
	}
	return nil
}
