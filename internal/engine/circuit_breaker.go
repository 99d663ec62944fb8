package engine

import (
	"sync"
	"time"

	"github.com/ThomasRohde/strands-cli-sub000/pkg/schema"
)

// CircuitState represents the state of an agent's circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting invocations
	CircuitHalfOpen                     // Probing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-agent circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed invocations
	// (after retries) that opens the circuit. Zero disables the breaker.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe invocations allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probes              int
}

// BreakerRegistry keeps one circuit per agent id. It outlives single runs
// when the Runner is shared, so a provider outage stops hammering the API
// across sessions.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakerRegistry creates a registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow reports whether agentID may be invoked. It returns a CIRCUIT_OPEN
// error while the circuit is open or its probe budget is spent.
func (r *BreakerRegistry) Allow(agentID string) error {
	if r.config.FailureThreshold <= 0 {
		return nil
	}
	b := r.get(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		elapsed := r.now().Sub(b.openedAt)
		if elapsed < r.config.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit open for agent %q after %d consecutive failures", agentID, b.consecutiveFailures).
				WithDetails(map[string]any{
					"agent_id":             agentID,
					"consecutive_failures": b.consecutiveFailures,
					"cooldown_remaining":   (r.config.Cooldown - elapsed).String(),
				})
		}
		b.state = CircuitHalfOpen
		b.probes = 1
		return nil
	case CircuitHalfOpen:
		if b.probes >= r.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit half-open for agent %q: probe in flight", agentID)
		}
		b.probes++
	}
	return nil
}

// Success closes the circuit for agentID.
func (r *BreakerRegistry) Success(agentID string) {
	if r.config.FailureThreshold <= 0 {
		return
	}
	b := r.get(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.probes = 0
	b.state = CircuitClosed
}

// Failure records a failed invocation and returns the resulting state.
func (r *BreakerRegistry) Failure(agentID string) CircuitState {
	if r.config.FailureThreshold <= 0 {
		return CircuitClosed
	}
	b := r.get(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.state == CircuitHalfOpen || b.consecutiveFailures >= r.config.FailureThreshold {
		b.state = CircuitOpen
		b.openedAt = r.now()
	}
	return b.state
}

// State returns the circuit state for agentID.
func (r *BreakerRegistry) State(agentID string) CircuitState {
	b := r.get(agentID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && r.now().Sub(b.openedAt) >= r.config.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

func (r *BreakerRegistry) get(agentID string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[agentID]
	if !ok {
		b = &breaker{state: CircuitClosed}
		r.breakers[agentID] = b
	}
	return b
}
