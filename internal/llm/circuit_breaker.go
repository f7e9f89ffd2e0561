package llm

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the breaker position for one provider.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen rejects calls while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrCircuitSaturated rejects calls beyond the half-open probe budget.
var ErrCircuitSaturated = errors.New("circuit breaker half-open probe limit reached")

// CircuitBreakerConfig tunes one provider's breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// SuccessThreshold is the consecutive-success count that closes a
	// half-open circuit.
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenMaxRequests caps in-flight probes while half-open.
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig returns the defaults used for every
// registered provider.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker short-circuits a flapping backend before its HTTP call
// is made. The registry wraps every adapter with one; a rejected call is
// treated as a provider-unavailable failure for failover purposes.
type CircuitBreaker struct {
	mu       sync.Mutex
	provider string
	config   CircuitBreakerConfig

	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenRequests     int
	lastFailure          time.Time
	lastStateChange      time.Time

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
}

// NewCircuitBreaker returns a closed breaker for one provider.
func NewCircuitBreaker(provider string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{
		provider:        provider,
		config:          config,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed, transitioning an expired open
// circuit to half-open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case CircuitOpen:
		if time.Since(cb.lastFailure) > cb.config.OpenTimeout {
			cb.transitionTo(CircuitHalfOpen)
			cb.halfOpenRequests = 1
			return nil
		}
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitSaturated
		}
		cb.halfOpenRequests++
		return nil
	}

	return nil
}

// RecordSuccess counts a completed call, closing a half-open circuit once
// enough probes succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.consecutiveSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == CircuitHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure counts a failed call. A half-open circuit reopens on any
// failure; a closed one opens at the failure threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.consecutiveFailures++
	cb.consecutiveSuccesses = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transitionTo switches state and resets the counters the new state
// depends on. Caller holds the lock.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	cb.state = newState
	cb.lastStateChange = time.Now()

	switch newState {
	case CircuitClosed:
		cb.consecutiveFailures = 0
	case CircuitHalfOpen:
		cb.halfOpenRequests = 0
		cb.consecutiveSuccesses = 0
	}
}

// CircuitBreakerStats is a point-in-time view of one breaker.
type CircuitBreakerStats struct {
	Provider             string       `json:"provider"`
	State                CircuitState `json:"state"`
	TotalRequests        int64        `json:"total_requests"`
	TotalSuccesses       int64        `json:"total_successes"`
	TotalFailures        int64        `json:"total_failures"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	LastFailure          time.Time    `json:"last_failure,omitempty"`
	LastStateChange      time.Time    `json:"last_state_change"`
}

// Stats returns the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Provider:             cb.provider,
		State:                cb.state,
		TotalRequests:        cb.totalRequests,
		TotalSuccesses:       cb.totalSuccesses,
		TotalFailures:        cb.totalFailures,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailure:          cb.lastFailure,
		LastStateChange:      cb.lastStateChange,
	}
}

// CircuitBreakerManager holds one breaker per provider.
type CircuitBreakerManager struct {
	mu       sync.Mutex
	config   CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerManager builds a manager applying the same config to
// every provider.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	if config.FailureThreshold <= 0 {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreakerManager{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the provider's breaker, creating it on first use.
func (m *CircuitBreakerManager) Get(provider string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(provider, m.config)
		m.breakers[provider] = cb
	}
	return cb
}

// Stats returns every breaker's counters keyed by provider.
func (m *CircuitBreakerManager) Stats() map[string]CircuitBreakerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]CircuitBreakerStats, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.Stats()
	}
	return out
}
