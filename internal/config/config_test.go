package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 3, cfg.Worker.MaxAttempts)
	require.Equal(t, 60*time.Second, cfg.Worker.RetryDelay)
	require.Equal(t, 2, cfg.Ingest.HealThreshold)
	require.Equal(t, 24*time.Hour, cfg.Ingest.FailureTTL)
	require.True(t, cfg.Ingest.EmptyIsFailure)
	require.Equal(t, 5, cfg.Healer.MaxIterations)
	require.Equal(t, 48*1024, cfg.Healer.MaxPageBytes)
	require.Equal(t, "ai_progress", cfg.Vector.Index)
	require.True(t, cfg.Discovery.OnePerSite)
	require.Equal(t, BackendMemory, cfg.StoreBackend())
	require.Equal(t, BackendMemory, cfg.KVBackend())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  dsn: postgres://synth@localhost/synth
redis:
  addr: localhost:6379
queue:
  backend: pubsub
  project_id: demo
  topic: tasks
  subscription: tasks-sub
worker:
  concurrency: 8
  retry_delay: 5s
ingest:
  heal_threshold: 3
  empty_is_failure: false
  interval: 30m
discovery:
  queries: ["ai lab blog"]
  one_per_site: false
vector:
  backend: opensearch
  addresses: ["https://search:9200"]
storage:
  backend: gcs
  gcs_bucket: snapshots
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, BackendPostgres, cfg.StoreBackend())
	require.Equal(t, BackendRedis, cfg.KVBackend())
	require.Equal(t, "tasks-sub", cfg.Queue.Subscription)
	require.Equal(t, 8, cfg.Worker.Concurrency)
	require.Equal(t, 5*time.Second, cfg.Worker.RetryDelay)
	require.Equal(t, 3, cfg.Ingest.HealThreshold)
	require.False(t, cfg.Ingest.EmptyIsFailure)
	require.Equal(t, 30*time.Minute, cfg.Ingest.Interval)
	require.Equal(t, []string{"ai lab blog"}, cfg.Discovery.Queries)
	require.False(t, cfg.Discovery.OnePerSite)
	require.Equal(t, []string{"https://search:9200"}, cfg.Vector.Addresses)
	require.Equal(t, "snapshots", cfg.Storage.GCSBucket)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"zero workers", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"bad queue", func(c *Config) { c.Queue.Backend = "kafka" }, "queue.backend"},
		{"pubsub without project", func(c *Config) { c.Queue.Backend = BackendPubSub }, "queue.project_id"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"bad vector", func(c *Config) { c.Vector.Backend = "faiss" }, "vector.backend"},
		{"zero threshold", func(c *Config) { c.Ingest.HealThreshold = 0 }, "ingest.heal_threshold"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
