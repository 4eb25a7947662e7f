package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./claim_enricher.db", cfg.DatabasePath)
	assert.Equal(t, 10*time.Second, cfg.EnrichDeadline)
	assert.Equal(t, 16, cfg.WorkerPoolSize)
	assert.Equal(t, int64(300), cfg.CacheTTLSeconds)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENRICH_DEADLINE", "2s")
	t.Setenv("WORKER_POOL_SIZE", "4")
	t.Setenv("CACHE_TTL_SECONDS", "0")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.EnrichDeadline)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, int64(0), cfg.CacheTTLSeconds)
	require.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_POOL_SIZE", "not-a-number")
	t.Setenv("ENRICH_DEADLINE", "soon")

	cfg := Load()

	assert.Equal(t, 16, cfg.WorkerPoolSize)
	assert.Equal(t, 10*time.Second, cfg.EnrichDeadline)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Port = "http" }, "PORT"},
		{"port out of range", func(c *Config) { c.Port = "70000" }, "PORT"},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, "DATABASE_PATH"},
		{"zero deadline", func(c *Config) { c.EnrichDeadline = 0 }, "ENRICH_DEADLINE"},
		{"zero pool", func(c *Config) { c.WorkerPoolSize = 0 }, "WORKER_POOL_SIZE"},
		{"negative ttl", func(c *Config) { c.CacheTTLSeconds = -1 }, "CACHE_TTL_SECONDS"},
		{"zero fetch timeout", func(c *Config) { c.FetchTimeout = 0 }, "FETCH_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
