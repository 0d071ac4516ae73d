package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mrerrors "github.com/modelrelay/modelrelay/pkg/errors"
)

func fastRetryConfig() RetryConfig {
	cfg := testRetryConfig()
	cfg.MaxRetries = 1
	return cfg
}

func TestOrchestratorSuccessRecordsSuccess(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())
	cb.RecordFailure()
	cb.RecordFailure()

	resp, err := WithBreakerAndRetry(context.Background(), cb, fastRetryConfig(), nil, "openai", OpChat,
		func(context.Context) (*http.Response, error) {
			return httpResp(200), nil
		})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 0, cb.FailureCount())
}

func TestOrchestratorFailureStatusRecordsFailure(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	resp, err := WithBreakerAndRetry(context.Background(), cb, fastRetryConfig(), nil, "openai", OpChat,
		func(context.Context) (*http.Response, error) {
			return httpResp(503), nil
		})
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	// One failure recorded for the whole orchestrated call, not per attempt.
	assert.Equal(t, 1, cb.FailureCount())
}

func TestOrchestratorNonFailureStatusNotCounted(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	// 429 is retried but the provider is up: it must not trip the breaker.
	resp, err := WithBreakerAndRetry(context.Background(), cb, fastRetryConfig(), nil, "openai", OpChat,
		func(context.Context) (*http.Response, error) {
			return httpResp(429), nil
		})
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, 0, cb.FailureCount())
}

func TestOrchestratorTransportErrorRecordsFailure(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	_, err := WithBreakerAndRetry(context.Background(), cb, fastRetryConfig(), nil, "openai", OpChat,
		func(context.Context) (*http.Response, error) {
			return nil, errors.New("connection reset")
		})
	require.Error(t, err)
	assert.Equal(t, 1, cb.FailureCount())
}

func TestOrchestratorOpenBreakerShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	calls := 0
	_, err := WithBreakerAndRetry(context.Background(), cb, fastRetryConfig(), nil, "openai", OpChat,
		func(context.Context) (*http.Response, error) {
			calls++
			return httpResp(200), nil
		})

	var boe *mrerrors.BreakerOpenError
	require.ErrorAs(t, err, &boe)
	assert.Equal(t, 0, calls)
}

func TestOrchestratorNilBreaker(t *testing.T) {
	resp, err := WithBreakerAndRetry(context.Background(), nil, fastRetryConfig(), nil, "openai", OpChat,
		func(context.Context) (*http.Response, error) {
			return httpResp(200), nil
		})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}

// Sustained upstream failure: each orchestrated call exhausts its retries and
// counts one breaker failure; at the threshold the breaker opens and rejects
// the next call without touching the network.
func TestOrchestratorSustainedFailureOpensBreaker(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())
	rcfg := fastRetryConfig()

	attempts := 0
	failing := func(context.Context) (*http.Response, error) {
		attempts++
		return httpResp(500), nil
	}

	for i := 0; i < 3; i++ {
		resp, err := WithBreakerAndRetry(context.Background(), cb, rcfg, nil, "openai", OpChat, failing)
		require.NoError(t, err)
		assert.Equal(t, 500, resp.StatusCode)
	}
	assert.Equal(t, 6, attempts) // 3 calls x (1 try + 1 retry)
	assert.Equal(t, StateOpen, cb.State())

	_, err := WithBreakerAndRetry(context.Background(), cb, rcfg, nil, "openai", OpChat, failing)
	var boe *mrerrors.BreakerOpenError
	require.ErrorAs(t, err, &boe)
	assert.Equal(t, 6, attempts)
}

// Recovery: after the open timeout the first orchestrated call probes the
// upstream; enough successful probes close the circuit fully.
func TestOrchestratorRecoveryClosesBreaker(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())
	rcfg := fastRetryConfig()

	for i := 0; i < 3; i++ {
		_, _ = WithBreakerAndRetry(context.Background(), cb, rcfg, nil, "openai", OpChat,
			func(context.Context) (*http.Response, error) {
				return httpResp(502), nil
			})
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(60 * time.Millisecond)

	healthy := func(context.Context) (*http.Response, error) {
		return httpResp(200), nil
	}
	for i := 0; i < 2; i++ {
		resp, err := WithBreakerAndRetry(context.Background(), cb, rcfg, nil, "openai", OpChat, healthy)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveOpens())
}

func TestOrchestratorGenericPredicates(t *testing.T) {
	cb := NewCircuitBreaker("redis", testBreakerConfig())
	transient := errors.New("timeout")

	calls := 0
	val, err := WithBreakerAndRetryFunc(context.Background(), cb, fastRetryConfig(), nil, "redis", OpReadOnly,
		func(err error) bool { return errors.Is(err, transient) },
		func(_ string, err error) bool { return err != nil },
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", transient
			}
			return "pong", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "pong", val)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, cb.FailureCount())
}
