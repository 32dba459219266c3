// Package circuit implements a per-endpoint circuit breaker used to stop
// hammering a chain RPC node or the exchange API that is persistently
// failing. A chain whose breaker is open is skipped for the cycle.
package circuit

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Endpoint calls suspended
	StateHalfOpen BreakerState = "half_open" // Testing recovery
)

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	Enabled      bool          `json:"enabled"`
	FailureLimit int           `json:"failure_limit"` // Consecutive failures before the breaker opens
	Cooldown     time.Duration `json:"cooldown"`      // Open duration before a half-open probe
}

// DefaultBreakerConfig returns safe defaults
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Enabled:      true,
		FailureLimit: 5,
		Cooldown:     time.Minute,
	}
}

// Breaker tracks consecutive failures for one named endpoint
type Breaker struct {
	name                string
	config              *BreakerConfig
	state               BreakerState
	consecutiveFailures int
	lastTripTime        time.Time
	tripReason          string
	mu                  sync.Mutex
	onTrip              func(name, reason string)
	onReset             func(name string)
}

// NewBreaker creates a breaker for one endpoint
func NewBreaker(name string, config *BreakerConfig) *Breaker {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// OnTrip sets the callback invoked when the breaker opens
func (b *Breaker) OnTrip(handler func(name, reason string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTrip = handler
}

// OnReset sets the callback invoked when the breaker closes again
func (b *Breaker) OnReset(handler func(name string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onReset = handler
}

// Allow reports whether a call to the endpoint may proceed.
// After the cooldown the breaker moves to half-open and admits one probe.
func (b *Breaker) Allow() bool {
	if !b.config.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.lastTripTime) >= b.config.Cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes the breaker
func (b *Breaker) RecordSuccess() {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	wasOpen := b.state != StateClosed
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.tripReason = ""
	onReset := b.onReset
	b.mu.Unlock()

	if wasOpen && onReset != nil {
		onReset(b.name)
	}
}

// RecordFailure counts a failure; a half-open probe failure reopens
// immediately regardless of the limit.
func (b *Breaker) RecordFailure(reason string) {
	if !b.config.Enabled {
		return
	}

	b.mu.Lock()
	b.consecutiveFailures++
	shouldTrip := b.state == StateHalfOpen || b.consecutiveFailures >= b.config.FailureLimit
	var onTrip func(name, reason string)
	if shouldTrip && b.state != StateOpen {
		b.state = StateOpen
		b.lastTripTime = time.Now()
		b.tripReason = reason
		onTrip = b.onTrip
	} else if shouldTrip {
		b.lastTripTime = time.Now()
	}
	b.mu.Unlock()

	if onTrip != nil {
		onTrip(b.name, reason)
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// TripReason returns the reason recorded when the breaker last opened
func (b *Breaker) TripReason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripReason
}

// Registry holds one breaker per endpoint name
type Registry struct {
	mu       sync.Mutex
	config   *BreakerConfig
	breakers map[string]*Breaker
	onTrip   func(name, reason string)
	onReset  func(name string)
}

// NewRegistry creates a breaker registry sharing one config
func NewRegistry(config *BreakerConfig) *Registry {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// OnTrip sets the trip callback applied to every breaker
func (r *Registry) OnTrip(handler func(name, reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTrip = handler
	for _, b := range r.breakers {
		b.OnTrip(handler)
	}
}

// OnReset sets the reset callback applied to every breaker
func (r *Registry) OnReset(handler func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReset = handler
	for _, b := range r.breakers {
		b.OnReset(handler)
	}
}

// Get returns the breaker for an endpoint, creating it on first use
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.config)
		if r.onTrip != nil {
			b.OnTrip(r.onTrip)
		}
		if r.onReset != nil {
			b.OnReset(r.onReset)
		}
		r.breakers[name] = b
	}
	return b
}

// States returns a snapshot of all breaker states keyed by endpoint name
func (r *Registry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
