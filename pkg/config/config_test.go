package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into a fresh directory so no stray ./configs file is picked up
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("publisher")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, "publisher", cfg.Redis.Namespace)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "publisher", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.Publisher.RejectTerminalRepublish)
	assert.Equal(t, 3, cfg.Publisher.Sink.RetryAttempts)
	assert.Equal(t, 1024, cfg.Publisher.Sink.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Publisher.Sink.Timeout)
}

func TestLoad_File(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "configs"), 0o755))
	yaml := `
server:
  port: 9090
database:
  driver: sqlite
  path: /tmp/ledger.db
redis:
  enabled: true
  cache_ttl: 30s
publisher:
  reject_terminal_republish: true
  sink:
    breaker_min_requests: 10
    timeout: 250ms
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "publisher.yaml"), []byte(yaml), 0o644))

	cfg, err := Load("publisher")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.True(t, cfg.Publisher.RejectTerminalRepublish)
	assert.Equal(t, uint32(10), cfg.Publisher.Sink.BreakerMinRequests)
	assert.Equal(t, 250*time.Millisecond, cfg.Publisher.Sink.Timeout)
	assert.Equal(t, uint32(3), cfg.Publisher.Sink.BreakerMaxRequests)
}

func TestLoad_Env(t *testing.T) {
	chdir(t)
	t.Setenv("EXECLEDGER_SERVER_PORT", "7070")
	t.Setenv("EXECLEDGER_DATABASE_HOST", "db.internal")
	t.Setenv("EXECLEDGER_KAFKA_ENABLED", "true")
	t.Setenv("EXECLEDGER_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load("publisher")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_InvalidDriver(t *testing.T) {
	chdir(t)
	t.Setenv("EXECLEDGER_DATABASE_DRIVER", "oracle")

	_, err := Load("publisher")
	assert.Error(t, err)
}

func TestConverters(t *testing.T) {
	sink := SinkConfig{
		BreakerMaxRequests:  2,
		BreakerTimeout:      time.Second,
		BreakerFailureRatio: 0.25,
		BreakerMinRequests:  4,
		RetryAttempts:       5,
		RetryInitialDelay:   time.Millisecond,
		RetryMaxDelay:       time.Second,
	}
	breaker := sink.ToBreakerConfig("datahub")
	assert.Equal(t, "datahub", breaker.Name)
	assert.Equal(t, uint32(2), breaker.MaxRequests)
	assert.Equal(t, 0.25, breaker.FailureRatio)

	retry := sink.ToRetryConfig()
	assert.Equal(t, 5, retry.MaxAttempts)
	assert.Equal(t, time.Millisecond, retry.InitialDelay)

	opts := RedisConfig{Namespace: "ledger"}.ToCacheOptions()
	assert.Equal(t, "ledger", opts.Namespace)
	assert.Equal(t, 5*time.Minute, opts.DefaultTTL)

	db := DatabaseConfig{Driver: "sqlite", Path: "x.db"}.ToDatabaseConfig()
	assert.Equal(t, "sqlite", db.Driver)
	assert.Equal(t, "x.db", db.Path)
}
