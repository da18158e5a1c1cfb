package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	require.Equal(t, "workflow:tasks", cfg.Streams.Tasks)
	require.Equal(t, "workflow:completions", cfg.Streams.Completions)
	require.Equal(t, "workflow:dlq", cfg.Streams.DLQ)
	require.Equal(t, "g:orchestrator", cfg.Streams.OrchestratorGroup)
	require.Equal(t, "g:worker", cfg.Streams.WorkerGroup)
	require.Equal(t, int64(100000), cfg.Streams.MaxLen)

	require.Equal(t, 24*time.Hour, cfg.State.TerminalTTL)
	require.Equal(t, 30*time.Second, cfg.State.LockTTL)

	require.Equal(t, 10, cfg.Orchestrator.BatchSize)
	require.Equal(t, 2*time.Second, cfg.Orchestrator.BlockTime)
	require.Equal(t, 60*time.Second, cfg.Orchestrator.CompletionReclaimIdle)

	require.Equal(t, 10, cfg.Worker.Concurrency)
	require.Equal(t, 4, cfg.Worker.MaxRetries)
	require.Equal(t, time.Second, cfg.Worker.RetryBase)
	require.Equal(t, 30*time.Second, cfg.Worker.RetryCap)
	require.Equal(t, time.Second, cfg.Worker.RetryJitter)
	require.Equal(t, 60*time.Second, cfg.Worker.HandlerTimeout)
	require.Equal(t, uint32(5), cfg.Worker.CBThreshold)
	require.Equal(t, 30*time.Second, cfg.Worker.CBOpenTimeout)

	require.Equal(t, 5*time.Second, cfg.Reaper.CheckInterval)
	require.Equal(t, 25*time.Second, cfg.Reaper.MinIdle)
	require.Equal(t, 100, cfg.Reaper.BatchSize)
	require.Equal(t, 10, cfg.Reaper.MaxReclaims)

	require.False(t, cfg.RateLimit.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floworc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis:
  addr: redis.internal:6380
worker:
  max_retries: 2
  retry_base: 250ms
state:
  lock_ttl: 10s
`), 0o600))

	cfg, err := NewLoader(WithConfigFile(path)).Load()
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Worker.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.Worker.RetryBase)
	require.Equal(t, 10*time.Second, cfg.State.LockTTL)
	// Untouched keys keep their defaults.
	require.Equal(t, 30*time.Second, cfg.Worker.RetryCap)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := NewLoader(WithConfigFile("/does/not/exist.yaml")).Load()
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FLOWORC_WORKER_MAX_RETRIES", "7")
	t.Setenv("FLOWORC_REDIS_ADDR", "10.0.0.5:6379")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Worker.MaxRetries)
	require.Equal(t, "10.0.0.5:6379", cfg.Redis.Addr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floworc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state:\n  lock_ttl: 0s\n"), 0o600))

	_, err := NewLoader(WithConfigFile(path)).Load()
	require.Error(t, err)
}
