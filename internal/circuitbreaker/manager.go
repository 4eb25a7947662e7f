package circuitbreaker

import (
	"sync"

	"claim-enricher/internal/common/logging"
)

// Manager maintains one circuit breaker per name (typically one per endpoint host)
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
	logger   logging.Logger
}

// NewManager creates a manager that builds breakers with the given configuration
func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the circuit breaker for name, creating it on first use
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[name]; ok {
		return b
	}
	b = New(name, m.config, m.logger)
	m.breakers[name] = b
	return b
}

// Stats returns statistics for all managed breakers
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make([]Stats, 0, len(m.breakers))
	for _, b := range m.breakers {
		stats = append(stats, b.Stats())
	}
	return stats
}
