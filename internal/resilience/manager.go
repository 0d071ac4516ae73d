package resilience

import (
	"log/slog"
	"sync"
)

// ProviderPolicy bundles the resilience settings of one provider.
type ProviderPolicy struct {
	Breaker   BreakerConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
}

// Manager owns the breaker registry and the per-provider rate limiters, and
// hands out the right pieces to callers. One Manager is shared by the client,
// the health prober, and the admin surface.
type Manager struct {
	registry *Registry
	logger   *slog.Logger

	mu       sync.RWMutex
	policies map[string]ProviderPolicy
	limiters map[string]*RateLimiter
}

// NewManager creates a manager. onStateChange (may be nil) is attached to
// every breaker the registry creates.
func NewManager(logger *slog.Logger, onStateChange func(StateChange)) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: NewRegistry(onStateChange),
		logger:   logger,
		policies: make(map[string]ProviderPolicy),
		limiters: make(map[string]*RateLimiter),
	}
}

// Configure installs the policy for a provider, eagerly creating its breaker
// and rate limiter. Called per provider at startup and again on config
// reload; an existing breaker keeps its state so a reload does not reset an
// open circuit.
func (m *Manager) Configure(provider string, policy ProviderPolicy) {
	m.mu.Lock()
	m.policies[provider] = policy
	m.limiters[provider] = NewRateLimiter(provider, policy.RateLimit)
	m.mu.Unlock()

	m.registry.GetOrCreate(provider, policy.Breaker)
}

// Breaker returns the circuit breaker for a provider. Nil (a no-op breaker)
// when circuit breaking is disabled or the provider is unknown.
func (m *Manager) Breaker(provider string) *CircuitBreaker {
	m.mu.RLock()
	policy, ok := m.policies[provider]
	m.mu.RUnlock()
	if !ok {
		return m.registry.Get(provider)
	}
	return m.registry.GetOrCreate(provider, policy.Breaker)
}

// RetryPolicy returns the retry settings for a provider, defaulting when the
// provider has no explicit policy.
func (m *Manager) RetryPolicy(provider string) RetryConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if policy, ok := m.policies[provider]; ok {
		return policy.Retry
	}
	return DefaultRetryConfig()
}

// Admit runs the local admission checks for a provider: the rate limiter
// first, then the circuit breaker. Both reject without consuming a network
// attempt.
func (m *Manager) Admit(provider string) error {
	m.mu.RLock()
	rl := m.limiters[provider]
	m.mu.RUnlock()

	if err := rl.Allow(); err != nil {
		m.logger.Warn("request rate limited locally", "provider", provider)
		return err
	}
	return m.Breaker(provider).Check()
}

// Limiter returns the rate limiter for a provider, nil when rate limiting is
// disabled or the provider is unknown.
func (m *Manager) Limiter(provider string) *RateLimiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[provider]
}

// Registry exposes the shared breaker registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Status snapshots every breaker for the admin API and the status mirror.
func (m *Manager) Status() []BreakerStatus {
	return m.registry.Status()
}
