package resilience

import (
	"sort"
	"sync"
)

// Registry holds the circuit breakers shared by every request path touching a
// provider. It is injected wherever breakers are needed so that the client,
// the health prober, and the admin API all observe the same instances.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	// onStateChange is attached to every breaker the registry creates.
	onStateChange func(StateChange)
}

// NewRegistry creates an empty registry. onStateChange may be nil.
func NewRegistry(onStateChange func(StateChange)) *Registry {
	return &Registry{
		breakers:      make(map[string]*CircuitBreaker),
		onStateChange: onStateChange,
	}
}

// GetOrCreate returns the breaker for name, creating it on first use.
// Returns nil when cfg is disabled; callers treat a nil breaker as a no-op.
// Creation uses double-checked locking so the common path is a read lock.
func (r *Registry) GetOrCreate(name string, cfg BreakerConfig) *CircuitBreaker {
	if !cfg.Enabled {
		return nil
	}

	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another goroutine may have created it between the locks.
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(name, cfg)
	if cb != nil && r.onStateChange != nil {
		cb.OnStateChange(r.onStateChange)
	}
	r.breakers[name] = cb
	return cb
}

// Get returns the breaker for name, or nil when none exists.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// Register installs a pre-built breaker. Used at startup to create breakers
// eagerly from config. Entries are created once and never replaced, so a
// re-register for an existing provider keeps the live breaker and its state.
func (r *Registry) Register(name string, cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.breakers[name]; ok {
		return
	}
	if cb != nil && r.onStateChange != nil {
		cb.OnStateChange(r.onStateChange)
	}
	r.breakers[name] = cb
}

// BreakerStatus is a point-in-time snapshot of one breaker for the admin API
// and the Redis status mirror.
type BreakerStatus struct {
	Provider     string `json:"provider"`
	State        string `json:"state"`
	FailureCount int    `json:"failure_count"`
}

// Status returns a snapshot of every registered breaker, sorted by provider
// name. Each breaker is read under its own lock; the snapshot as a whole is
// not atomic across breakers, which is fine for monitoring.
func (r *Registry) Status() []BreakerStatus {
	r.mu.RLock()
	statuses := make([]BreakerStatus, 0, len(r.breakers))
	for name, cb := range r.breakers {
		if cb == nil {
			continue
		}
		statuses = append(statuses, BreakerStatus{
			Provider:     name,
			State:        cb.State().String(),
			FailureCount: cb.FailureCount(),
		})
	}
	r.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Provider < statuses[j].Provider
	})
	return statuses
}
