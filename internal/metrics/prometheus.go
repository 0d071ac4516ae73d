// Package metrics provides Prometheus metrics for the gateway's resilience
// core: circuit breaker state, retries, fallback depth, and upstream traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modelrelay"

// LatencyBuckets defines histogram buckets for upstream latency (seconds).
// LLM completions routinely run tens of seconds, so the tail is long.
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0,
	7.5, 10.0, 15.0, 20.0, 30.0, 60.0, 120.0, 300.0,
}

// Circuit breaker metrics.
var (
	// CircuitBreakerState exposes the current state per provider:
	// 0=closed, 1=open, 2=half-open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per provider (0=closed, 1=open, 2=half_open)",
		},
		[]string{"provider"},
	)

	// CircuitBreakerFailures exposes the current failure counter per provider.
	CircuitBreakerFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_failures",
			Help:      "Current circuit breaker failure count per provider",
		},
		[]string{"provider"},
	)

	// CircuitBreakerConsecutiveOpens exposes how many times in a row the
	// breaker has opened without a full recovery, which drives the adaptive
	// open timeout.
	CircuitBreakerConsecutiveOpens = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_consecutive_opens",
			Help:      "Consecutive opens without recovery per provider",
		},
		[]string{"provider"},
	)

	// CircuitBreakerTransitions counts state transitions.
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"provider", "from", "to"},
	)

	// CircuitBreakerRejections counts requests rejected by an open breaker.
	CircuitBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Requests rejected by an open circuit breaker",
		},
		[]string{"provider"},
	)
)

// Retry and fallback metrics.
var (
	// RetryAttempts counts retry attempts beyond the first try.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Retry attempts beyond the initial attempt",
		},
		[]string{"provider", "operation"},
	)

	// RetryExhausted counts operations that failed after all attempts.
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_exhausted_total",
			Help:      "Operations that exhausted all retry attempts",
		},
		[]string{"provider", "operation"},
	)

	// FallbackDepth observes how far down the fallback chain a request
	// traveled before succeeding or giving up. Depth 0 is the primary.
	FallbackDepth = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_depth",
			Help:      "Fallback chain depth at which a request resolved (0 = primary)",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
		},
		[]string{"outcome"},
	)
)

// Upstream traffic metrics.
var (
	// UpstreamRequests counts attempts against upstream providers.
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream requests by provider, model and status code",
		},
		[]string{"provider", "model", "status_code"},
	)

	// UpstreamLatency tracks upstream call latency.
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Upstream call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// RateLimitRejections counts requests rejected by the local per-provider
	// token bucket before reaching the network.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the local per-provider rate limiter",
		},
		[]string{"provider"},
	)

	// EventsDropped counts events dropped by the bus because subscribers
	// could not keep up.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped due to a full event bus buffer",
		},
	)
)

// StateValue maps a breaker state name to its gauge value.
func StateValue(state string) float64 {
	switch state {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}
