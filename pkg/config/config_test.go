package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.Equal(t, time.Hour, cfg.Cache.TTL())
	assert.True(t, cfg.Cache.SingleFlight)
	assert.Equal(t, 0.4, cfg.Scoring.FreshnessWeight)
	assert.Equal(t, 0.3, cfg.Scoring.PopularityWeight)
	assert.Equal(t, 10, cfg.Scoring.MaxResults)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
environment: production
cache:
  ttlSeconds: 120
retry:
  maxRetries: 5
  initialDelay: 200ms
  maxDelay: 5s
  factor: 3
breaker:
  failureThreshold: 3
  successThreshold: 1
  resetTimeout: 30s
sources:
  primary: feeds
  feeds:
    urls:
      - https://example.com/rss
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("FA_CACHE_TTL_SECONDS", "60")
	t.Setenv("FA_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FA_SERVER_CORS_ORIGINS", "https://app.example.com, ,https://admin.example.com")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 60, cfg.Cache.TTLSeconds)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 3.0, cfg.Retry.Factor)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "feeds", cfg.Sources.Primary)
	assert.Equal(t, []string{"https://example.com/rss"}, cfg.Sources.Feeds.URLs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
}

func TestValidate_RejectsBadPolicies(t *testing.T) {
	cfg := Default()
	cfg.Retry.Factor = 0.5
	cfg.Retry.MaxDelay = time.Millisecond
	cfg.Scoring.FreshnessWeight = 0.8
	cfg.Scoring.PopularityWeight = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry.factor")
	assert.Contains(t, err.Error(), "retry.maxDelay")
	assert.Contains(t, err.Error(), "scoring weights")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}
