package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Queue.Backend != QueueBackendPostgres {
		t.Errorf("queue backend = %q", cfg.Queue.Backend)
	}
	if cfg.Queue.Channel != "search_indexing_changes" {
		t.Errorf("queue channel = %q", cfg.Queue.Channel)
	}
	if cfg.Queue.DefaultMaxAttempts != 5 {
		t.Errorf("defaultMaxAttempts = %d", cfg.Queue.DefaultMaxAttempts)
	}
	if cfg.Queue.ReclaimAfter != 5*time.Minute {
		t.Errorf("reclaimAfter = %v", cfg.Queue.ReclaimAfter)
	}
	if cfg.Worker.BatchSize != 10 || cfg.Worker.PollInterval != 5*time.Second {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.Backfill.ChunkSize != 500 {
		t.Errorf("chunkSize = %d", cfg.Backfill.ChunkSize)
	}
	if cfg.OpenSearch.IndexAlias != "reviews" {
		t.Errorf("indexAlias = %q", cfg.OpenSearch.IndexAlias)
	}
}

func TestLoadFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
postgres:
  host: db.internal
  port: 5433
queue:
  backend: redis
worker:
  batchSize: 25
  pollInterval: 2s
opensearch:
  refresh: wait_for
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.Host != "db.internal" || cfg.Postgres.Port != 5433 {
		t.Errorf("postgres = %+v", cfg.Postgres)
	}
	if cfg.Queue.Backend != QueueBackendRedis {
		t.Errorf("backend = %q", cfg.Queue.Backend)
	}
	if cfg.Worker.BatchSize != 25 || cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("worker = %+v", cfg.Worker)
	}
	if cfg.OpenSearch.Refresh != "wait_for" {
		t.Errorf("refresh = %q", cfg.OpenSearch.Refresh)
	}
	// Untouched keys keep their defaults.
	if cfg.Postgres.Database != "reviewstack" {
		t.Errorf("database = %q", cfg.Postgres.Database)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  backend: sqs\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestLoadRejectsUnknownRefreshPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("opensearch:\n  refresh: always\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("unknown refresh policy accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RSP_POSTGRES_HOST", "env-host")
	t.Setenv("RSP_QUEUE_BACKEND", "memory")
	t.Setenv("RSP_WORKER_POLL_INTERVAL", "250ms")
	t.Setenv("RSP_OPENSEARCH_ADDRESSES", "http://os1:9200,http://os2:9200")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.Host != "env-host" {
		t.Errorf("host = %q", cfg.Postgres.Host)
	}
	if cfg.Queue.Backend != QueueBackendMemory {
		t.Errorf("backend = %q", cfg.Queue.Backend)
	}
	if cfg.Worker.PollInterval != 250*time.Millisecond {
		t.Errorf("pollInterval = %v", cfg.Worker.PollInterval)
	}
	if len(cfg.OpenSearch.Addresses) != 2 || cfg.OpenSearch.Addresses[1] != "http://os2:9200" {
		t.Errorf("addresses = %v", cfg.OpenSearch.Addresses)
	}
}

func TestDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "localhost", Port: 5432, User: "app", Password: "secret",
		Database: "reviews", SSLMode: "disable",
	}
	want := "host=localhost port=5432 user=app password=secret dbname=reviews sslmode=disable"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
