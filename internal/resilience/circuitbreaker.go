// Package resilience provides the high-availability core of the gateway:
// per-provider circuit breakers, retry with exponential backoff, local rate
// limiting, and the orchestration that ties them together around upstream
// calls.
package resilience

import (
	"math"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/pkg/errors"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed CircuitState = iota
	// StateOpen rejects all requests until the open timeout elapses.
	StateOpen
	// StateHalfOpen lets probe requests through to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig contains circuit breaker settings for one provider.
type BreakerConfig struct {
	Enabled bool
	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit.
	FailureThreshold int
	// OpenTimeout is the base duration the circuit stays open before
	// allowing a probe.
	OpenTimeout time.Duration
	// SuccessThreshold is the number of consecutive probe successes in the
	// half-open state required to close the circuit.
	SuccessThreshold int
	// FailureStatusCodes are the HTTP statuses counted as breaker failures.
	FailureStatusCodes []int
	// BackoffMultiplier grows the open timeout on repeated opens without a
	// full recovery. 1.0 (or less) disables growth.
	BackoffMultiplier float64
	// MaxOpenTimeout caps the adaptive open timeout.
	MaxOpenTimeout time.Duration
}

// DefaultBreakerConfig returns the stock circuit breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:            true,
		FailureThreshold:   5,
		OpenTimeout:        30 * time.Second,
		SuccessThreshold:   2,
		FailureStatusCodes: []int{500, 502, 503, 504},
		BackoffMultiplier:  2.0,
		MaxOpenTimeout:     5 * time.Minute,
	}
}

// IsFailureStatus reports whether the HTTP status counts as a breaker failure.
func (c BreakerConfig) IsFailureStatus(code int) bool {
	for _, fc := range c.FailureStatusCodes {
		if fc == code {
			return true
		}
	}
	return false
}

// OpenTimeoutFor computes the adaptive open timeout after the circuit has
// already opened k times without a full recovery:
//
//	timeout = min(OpenTimeout * BackoffMultiplier^k, MaxOpenTimeout)
func (c BreakerConfig) OpenTimeoutFor(k int) time.Duration {
	if k <= 0 || c.BackoffMultiplier <= 1.0 {
		return c.OpenTimeout
	}
	scaled := float64(c.OpenTimeout) * math.Pow(c.BackoffMultiplier, float64(k))
	if c.MaxOpenTimeout > 0 && scaled > float64(c.MaxOpenTimeout) {
		return c.MaxOpenTimeout
	}
	return time.Duration(scaled)
}

// StateChange describes one breaker transition, delivered to the registered
// callback and from there to the event bus.
type StateChange struct {
	Provider     string       `json:"provider"`
	Timestamp    time.Time    `json:"timestamp"`
	Previous     CircuitState `json:"previous_state"`
	New          CircuitState `json:"new_state"`
	FailureCount int          `json:"failure_count"`
	SuccessCount int          `json:"success_count"`
}

// CircuitBreaker tracks the health of a single provider. All state is guarded
// by one mutex; breaker operations never block, so the critical sections are
// a few dozen nanoseconds.
//
// A nil *CircuitBreaker is valid and means "breaker disabled": every method
// is a no-op that always admits the request.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu sync.Mutex
	// state machine fields below are guarded by mu.
	state CircuitState
	// counter means consecutive failures in the closed state and consecutive
	// probe successes in the half-open state. Zero in the open state.
	counter          int
	openedAt         time.Time
	currentTimeout   time.Duration
	consecutiveOpens int

	onStateChange func(StateChange)
}

// NewCircuitBreaker creates a closed breaker for the named provider.
// Returns nil when the config is disabled, which callers treat as a no-op
// breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}
	return &CircuitBreaker{
		name:           name,
		cfg:            cfg,
		state:          StateClosed,
		currentTimeout: cfg.OpenTimeout,
	}
}

// OnStateChange registers a callback invoked (on its own goroutine) after
// every state transition.
func (cb *CircuitBreaker) OnStateChange(fn func(StateChange)) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Name returns the provider this breaker guards.
func (cb *CircuitBreaker) Name() string {
	if cb == nil {
		return ""
	}
	return cb.name
}

// Config returns the breaker's configuration. The zero value is returned for
// a nil (disabled) breaker.
func (cb *CircuitBreaker) Config() BreakerConfig {
	if cb == nil {
		return BreakerConfig{}
	}
	return cb.cfg
}

// Check admits or rejects a request before any network attempt. It returns
// nil when the request may proceed and a *errors.BreakerOpenError carrying
// the remaining wait when the circuit is open. When the open timeout has
// elapsed the circuit transitions to half-open and the request proceeds as a
// probe.
func (cb *CircuitBreaker) Check() error {
	if cb == nil {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	elapsed := time.Since(cb.openedAt)
	if elapsed >= cb.currentTimeout {
		cb.transitionTo(StateHalfOpen)
		cb.counter = 0
		return nil
	}

	metrics.CircuitBreakerRejections.WithLabelValues(cb.name).Inc()
	return &errors.BreakerOpenError{
		Provider:   cb.name,
		RetryAfter: cb.currentTimeout - elapsed,
	}
}

// RecordSuccess records a successful upstream call.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.counter = 0
		metrics.CircuitBreakerFailures.WithLabelValues(cb.name).Set(0)

	case StateHalfOpen:
		cb.counter++
		if cb.counter >= cb.cfg.SuccessThreshold {
			// Full recovery: the adaptive timeout resets to base.
			cb.transitionTo(StateClosed)
			cb.counter = 0
			cb.consecutiveOpens = 0
			cb.currentTimeout = cb.cfg.OpenTimeout
			metrics.CircuitBreakerFailures.WithLabelValues(cb.name).Set(0)
			metrics.CircuitBreakerConsecutiveOpens.WithLabelValues(cb.name).Set(0)
		}
	}
}

// RecordFailure records a failed upstream call. In the closed state the
// failure counter advances toward FailureThreshold; in the half-open state a
// single failure reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.counter++
		metrics.CircuitBreakerFailures.WithLabelValues(cb.name).Set(float64(cb.counter))
		if cb.counter >= cb.cfg.FailureThreshold {
			cb.open()
		}

	case StateHalfOpen:
		cb.open()
	}
}

// open transitions to the open state with the adaptive timeout. Caller holds mu.
func (cb *CircuitBreaker) open() {
	cb.currentTimeout = cb.cfg.OpenTimeoutFor(cb.consecutiveOpens)
	cb.consecutiveOpens++
	cb.openedAt = time.Now()
	cb.transitionTo(StateOpen)
	cb.counter = 0
	metrics.CircuitBreakerConsecutiveOpens.WithLabelValues(cb.name).Set(float64(cb.consecutiveOpens))
}

// State returns the observed state without mutating anything: an open circuit
// whose timeout has elapsed is reported half-open, but the actual transition
// only happens in Check.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.currentTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// FailureCount returns the consecutive failure count in the closed state.
// In other states it returns 0.
func (cb *CircuitBreaker) FailureCount() int {
	if cb == nil {
		return 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateClosed {
		return 0
	}
	return cb.counter
}

// ConsecutiveOpens returns how many times the circuit has opened since the
// last full recovery.
func (cb *CircuitBreaker) ConsecutiveOpens() int {
	if cb == nil {
		return 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveOpens
}

// CurrentTimeout returns the open timeout currently in effect.
func (cb *CircuitBreaker) CurrentTimeout() time.Duration {
	if cb == nil {
		return 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentTimeout
}

// transitionTo switches state, updates metrics, and notifies the callback.
// Caller holds mu.
func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}
	oldState := cb.state
	cb.state = newState

	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(metrics.StateValue(newState.String()))
	metrics.CircuitBreakerTransitions.WithLabelValues(cb.name, oldState.String(), newState.String()).Inc()

	if cb.onStateChange != nil {
		sc := StateChange{
			Provider:  cb.name,
			Timestamp: time.Now(),
			Previous:  oldState,
			New:       newState,
		}
		// Callers reset the counter only after transitioning, so cb.counter
		// still holds the value that caused this transition: consecutive
		// failures when leaving closed, consecutive probe successes when
		// leaving half-open. A half-open circuit reopens on a single strike.
		switch {
		case newState == StateOpen && oldState == StateClosed:
			sc.FailureCount = cb.counter
		case newState == StateOpen && oldState == StateHalfOpen:
			sc.FailureCount = 1
			sc.SuccessCount = cb.counter
		case newState == StateClosed:
			sc.SuccessCount = cb.counter
		}
		// Never invoke user callbacks under the breaker mutex.
		go cb.onStateChange(sc)
	}
}
