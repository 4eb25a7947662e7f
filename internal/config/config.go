// Package config provides configuration management for the claim enricher
// service. It loads values from environment variables with sensible defaults
// and validates them before the service starts.
//
// Environment Variables:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - DATABASE_PATH: SQLite database file path (default: ./claim_enricher.db)
//   - ENRICH_DEADLINE: Shared deadline for one enrichment call (default: 10s)
//   - WORKER_POOL_SIZE: Endpoint workers shared across all calls (default: 16)
//   - CACHE_TTL_SECONDS: Default claim cache TTL, 0 disables (default: 300)
//   - FETCH_TIMEOUT: HTTP timeout for one source request (default: 10s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the claim enricher service
type Config struct {
	Port            string        // Server port number
	LogLevel        string        // Logging level (debug, info, warn, error)
	DatabasePath    string        // Path to SQLite database file
	EnrichDeadline  time.Duration // Aggregation deadline per enrichment call
	WorkerPoolSize  int           // Size of the shared endpoint worker pool
	CacheTTLSeconds int64         // Default cache TTL in seconds
	FetchTimeout    time.Duration // HTTP client timeout per source request
}

// Load creates a Config with values from environment variables. Call
// Validate() on the result before use.
func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabasePath:    getEnv("DATABASE_PATH", "./claim_enricher.db"),
		EnrichDeadline:  getDurationEnv("ENRICH_DEADLINE", 10*time.Second),
		WorkerPoolSize:  getIntEnv("WORKER_POOL_SIZE", 16),
		CacheTTLSeconds: int64(getIntEnv("CACHE_TTL_SECONDS", 300)),
		FetchTimeout:    getDurationEnv("FETCH_TIMEOUT", 10*time.Second),
	}
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH must not be empty")
	}
	if c.EnrichDeadline <= 0 {
		return fmt.Errorf("ENRICH_DEADLINE must be positive")
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1")
	}
	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must not be negative")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable or returns a default
// when unset or unparsable
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable (e.g. "10s",
// "2m") or returns a default when unset or unparsable
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
