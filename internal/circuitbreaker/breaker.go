// Package circuitbreaker wraps Sony's gobreaker for guarding outbound calls
package circuitbreaker

import (
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"claim-enricher/internal/common/errors"
	"claim-enricher/internal/common/logging"
)

// Config holds the configuration for a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before transitioning to half-open
	Timeout time.Duration
	// MaxConcurrentRequests is the maximum number of requests allowed in half-open state
	MaxConcurrentRequests int
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Predefined configurations for the two kinds of outbound calls we make
var (
	// HTTPConfig is for claim source endpoints that should fail fast
	HTTPConfig = Config{
		MaxFailures:           3,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 2,
	}

	// OAuthConfig is for token endpoint requests which are critical but retried
	OAuthConfig = Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
)

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed means the circuit is closed and allowing requests through
	StateClosed State = iota
	// StateOpen means the circuit is open and rejecting requests
	StateOpen
	// StateHalfOpen means the circuit is testing if the service has recovered
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats returns statistics about the circuit breaker
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
}

// Breaker wraps Sony's gobreaker with our error taxonomy and logging
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// New creates a circuit breaker with the given name and configuration
func New(name string, config Config, logger logging.Logger) *Breaker {
	if err := config.Validate(); err != nil {
		if logger != nil {
			logger.Warn("Invalid circuit breaker config, using defaults",
				logging.String("name", name),
				logging.String("error", err.Error()),
			)
		}
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Client-side errors do not indicate an unhealthy endpoint
			if appErr, ok := err.(*errors.AppError); ok {
				switch appErr.Type {
				case errors.ErrTypeValidation, errors.ErrTypeNotFound:
					return true
				}
			}
			return false
		},
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs the given function within the circuit breaker
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' is open", b.name), err)
	}
	if err == gobreaker.ErrTooManyRequests {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker '%s' has too many requests", b.name), err)
	}

	return err
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// IsOpen returns true if the circuit breaker is open
func (b *Breaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// Stats returns current statistics
func (b *Breaker) Stats() Stats {
	counts := b.breaker.Counts()
	return Stats{
		Name:      b.name,
		State:     b.State().String(),
		Failures:  int(counts.TotalFailures),
		Successes: int(counts.TotalSuccesses),
	}
}
