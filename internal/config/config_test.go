package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 10, cfg.Stock.DefaultMinimumLevel)
	assert.Equal(t, 500, cfg.Stock.DefaultMaximumLevel)
	assert.Equal(t, 1000, cfg.Stock.AutoCreateMaximum)
	assert.Equal(t, time.Minute, cfg.Reservation.SweepInterval)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: sqlite
sqlite:
  path: /tmp/inv.db
retry:
  max_attempts: 8
  initial_delay: 50ms
reservation:
  sweep_interval: 30s
kafka:
  brokers: [a:9092]
`), 0o600))

	t.Setenv("RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/tmp/inv.db", cfg.SQLite.Path)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.Reservation.SweepInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STORAGE_DRIVER=mysql\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("STORAGE_DRIVER") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Storage.Driver)
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("STORAGE_DRIVER", "postgres")
	_, err := Load("")
	assert.Error(t, err)

	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("RETRY_MAX_ATTEMPTS", "many")
	_, err = Load("")
	assert.Error(t, err)

	_, err = Load("does-not-exist.yaml")
	assert.Error(t, err)
}
