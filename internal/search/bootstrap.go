package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reviewstack/search-pipeline/pkg/logger"
	"github.com/reviewstack/search-pipeline/pkg/opensearch"
)

// AdminStore is the slice of the search client that bootstrap needs.
type AdminStore interface {
	PutIndexTemplate(ctx context.Context, name string, body any) error
	AliasExists(ctx context.Context, alias string) (bool, error)
	CreateIndexWithWriteAlias(ctx context.Context, index, alias string, settings, mappings map[string]any) error
	AttachWriteAlias(ctx context.Context, index, alias string) error
}

// EnsureInfrastructure provisions every index definition: template first,
// then the concrete index with its write alias. It is idempotent and safe
// to run from multiple replicas at once — each step either succeeds,
// observes existing state, or loses a creation race and falls back to
// attaching the alias.
func EnsureInfrastructure(ctx context.Context, store AdminStore) error {
	log := logger.WithComponent("search-bootstrap")

	for _, def := range AllIndices {
		if err := ensureIndex(ctx, store, def, log); err != nil {
			return err
		}
	}
	return nil
}

func ensureIndex(ctx context.Context, store AdminStore, def IndexDefinition, log *slog.Logger) error {
	if err := store.PutIndexTemplate(ctx, def.TemplateName, def.TemplateBody()); err != nil {
		return fmt.Errorf("applying template %s: %w", def.TemplateName, err)
	}

	exists, err := store.AliasExists(ctx, def.Alias)
	if err != nil {
		return fmt.Errorf("checking alias %s: %w", def.Alias, err)
	}
	if exists {
		log.Info("alias already provisioned", "alias", def.Alias)
		return nil
	}

	err = store.CreateIndexWithWriteAlias(ctx, def.IndexName, def.Alias, def.Settings, def.Mappings)
	if err == nil {
		log.Info("created index with write alias",
			"index", def.IndexName,
			"alias", def.Alias,
		)
		return nil
	}
	if !opensearch.IsAlreadyExists(err) {
		return fmt.Errorf("creating index %s: %w", def.IndexName, err)
	}

	// Another replica created the index first; it may or may not have
	// attached the alias before failing, so attach it here and tolerate
	// the duplicate.
	log.Info("index exists; attaching write alias",
		"index", def.IndexName,
		"alias", def.Alias,
	)
	if err := store.AttachWriteAlias(ctx, def.IndexName, def.Alias); err != nil && !opensearch.IsAlreadyExists(err) {
		return fmt.Errorf("attaching alias %s to %s: %w", def.Alias, def.IndexName, err)
	}
	return nil
}
