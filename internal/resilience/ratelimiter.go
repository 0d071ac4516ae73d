package resilience

import (
	"golang.org/x/time/rate"

	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/pkg/errors"
)

// RateLimitConfig contains the local token bucket settings for one provider.
type RateLimitConfig struct {
	Enabled bool
	// RequestsPerSecond is the sustained admission rate.
	RequestsPerSecond float64
	// Burst is the bucket capacity.
	Burst int
}

// RateLimiter is a per-provider token bucket checked next to the circuit
// breaker, before any network attempt. A nil *RateLimiter admits everything.
type RateLimiter struct {
	name    string
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter for the named provider. Returns nil when
// the config is disabled or the rate is not positive.
func NewRateLimiter(name string, cfg RateLimitConfig) *RateLimiter {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Allow consumes one token if available. It never blocks; a throttled
// request should fall through to the next target, not queue.
func (rl *RateLimiter) Allow() error {
	if rl == nil {
		return nil
	}
	if rl.limiter.Allow() {
		return nil
	}
	metrics.RateLimitRejections.WithLabelValues(rl.name).Inc()
	return &errors.RateLimitedError{Provider: rl.name}
}

// Tokens reports the currently available tokens, for diagnostics.
func (rl *RateLimiter) Tokens() float64 {
	if rl == nil {
		return 0
	}
	return rl.limiter.Tokens()
}
