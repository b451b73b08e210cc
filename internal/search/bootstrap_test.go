package search

import (
	"context"
	"errors"
	"testing"

	"github.com/reviewstack/search-pipeline/pkg/opensearch"
)

type fakeAdminStore struct {
	templates       map[string]any
	aliases         map[string]bool
	indices         map[string]bool
	createErr       error
	attachErr       error
	attachedAliases []string
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{
		templates: make(map[string]any),
		aliases:   make(map[string]bool),
		indices:   make(map[string]bool),
	}
}

func (f *fakeAdminStore) PutIndexTemplate(ctx context.Context, name string, body any) error {
	f.templates[name] = body
	return nil
}

func (f *fakeAdminStore) AliasExists(ctx context.Context, alias string) (bool, error) {
	return f.aliases[alias], nil
}

func (f *fakeAdminStore) CreateIndexWithWriteAlias(ctx context.Context, index, alias string, settings, mappings map[string]any) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.indices[index] {
		return &opensearch.APIError{StatusCode: 400, Type: "resource_already_exists_exception"}
	}
	f.indices[index] = true
	f.aliases[alias] = true
	return nil
}

func (f *fakeAdminStore) AttachWriteAlias(ctx context.Context, index, alias string) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attachedAliases = append(f.attachedAliases, alias)
	f.aliases[alias] = true
	return nil
}

func TestEnsureInfrastructureFreshCluster(t *testing.T) {
	store := newFakeAdminStore()

	if err := EnsureInfrastructure(context.Background(), store); err != nil {
		t.Fatalf("EnsureInfrastructure: %v", err)
	}

	for _, def := range AllIndices {
		if _, ok := store.templates[def.TemplateName]; !ok {
			t.Errorf("template %s not applied", def.TemplateName)
		}
		if !store.indices[def.IndexName] {
			t.Errorf("index %s not created", def.IndexName)
		}
		if !store.aliases[def.Alias] {
			t.Errorf("alias %s not provisioned", def.Alias)
		}
	}
	if len(store.attachedAliases) != 0 {
		t.Errorf("fresh cluster needed alias attach: %v", store.attachedAliases)
	}
}

func TestEnsureInfrastructureIsIdempotent(t *testing.T) {
	store := newFakeAdminStore()

	if err := EnsureInfrastructure(context.Background(), store); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := EnsureInfrastructure(context.Background(), store); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(store.attachedAliases) != 0 {
		t.Errorf("idempotent rerun attached aliases: %v", store.attachedAliases)
	}
}

func TestEnsureInfrastructureRecoversFromCreationRace(t *testing.T) {
	store := newFakeAdminStore()
	// The index exists (another replica created it) but the alias check ran
	// before that, so creation collides.
	for _, def := range AllIndices {
		store.indices[def.IndexName] = true
		store.aliases[def.Alias] = false
	}

	if err := EnsureInfrastructure(context.Background(), store); err != nil {
		t.Fatalf("EnsureInfrastructure: %v", err)
	}
	if len(store.attachedAliases) != len(AllIndices) {
		t.Errorf("attached %d aliases, want %d", len(store.attachedAliases), len(AllIndices))
	}
}

func TestEnsureInfrastructureToleratesDuplicateAliasAttach(t *testing.T) {
	store := newFakeAdminStore()
	for _, def := range AllIndices {
		store.indices[def.IndexName] = true
	}
	store.attachErr = &opensearch.APIError{StatusCode: 400, Type: "resource_already_exists_exception"}

	if err := EnsureInfrastructure(context.Background(), store); err != nil {
		t.Fatalf("duplicate alias attach not tolerated: %v", err)
	}
}

func TestEnsureInfrastructurePropagatesRealErrors(t *testing.T) {
	store := newFakeAdminStore()
	store.createErr = errors.New("cluster block")

	if err := EnsureInfrastructure(context.Background(), store); err == nil {
		t.Error("creation error swallowed")
	}
}

func TestIndexDefinitionsAreStrict(t *testing.T) {
	for _, def := range AllIndices {
		if def.Mappings["dynamic"] != "strict" {
			t.Errorf("%s mappings not strict", def.IndexName)
		}
		body := def.TemplateBody()
		if body["priority"] != def.Priority {
			t.Errorf("%s template priority = %v", def.TemplateName, body["priority"])
		}
	}
}
