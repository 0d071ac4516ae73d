package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMErrorError(t *testing.T) {
	err := NewRateLimitError("openai", "gpt-4o", "quota exceeded")
	assert.Contains(t, err.Error(), "rate_limit_error")
	assert.Contains(t, err.Error(), "provider=openai")
	assert.Contains(t, err.Error(), "code=429")
}

func TestHTTPStatusCode(t *testing.T) {
	err := NewServiceUnavailableError("anthropic", "claude-sonnet", "overloaded")
	assert.Equal(t, http.StatusServiceUnavailable, err.HTTPStatusCode())

	zero := &LLMError{Message: "no status recorded"}
	assert.Equal(t, http.StatusInternalServerError, zero.HTTPStatusCode())
}

func TestRetryableFlags(t *testing.T) {
	assert.False(t, NewAuthenticationError("p", "m", "bad key").Retryable)
	assert.False(t, NewRateLimitError("p", "m", "slow down").Retryable)
	assert.False(t, NewInvalidRequestError("p", "m", "bad body").Retryable)
	assert.False(t, NewNotFoundError("p", "m", "no model").Retryable)
	assert.True(t, NewTimeoutError("p", "m", "deadline").Retryable)
	assert.True(t, NewServiceUnavailableError("p", "m", "down").Retryable)
}

func TestUpstreamErrorRetryable(t *testing.T) {
	assert.True(t, NewUpstreamError("p", "m", 502, "bad gateway").Retryable)
	assert.True(t, NewUpstreamError("p", "m", 500, "boom").Retryable)
	assert.False(t, NewUpstreamError("p", "m", 409, "conflict").Retryable)
}

func TestBreakerOpenError(t *testing.T) {
	var err error = &BreakerOpenError{Provider: "openai", RetryAfter: 42 * time.Second}

	var boe *BreakerOpenError
	require.ErrorAs(t, err, &boe)
	assert.Equal(t, "openai", boe.Provider)
	assert.Contains(t, err.Error(), `provider "openai"`)
	assert.Contains(t, err.Error(), "42s")
}

func TestBreakerOpenErrorWrapped(t *testing.T) {
	inner := &BreakerOpenError{Provider: "anthropic", RetryAfter: time.Second}
	wrapped := fmt.Errorf("dispatch failed: %w", inner)

	var boe *BreakerOpenError
	require.ErrorAs(t, wrapped, &boe)
	assert.Equal(t, "anthropic", boe.Provider)
}

func TestInternalError(t *testing.T) {
	err := NewInternalError("nil breaker for provider %q", "openai")
	assert.Contains(t, err.Error(), "internal error:")
	assert.Contains(t, err.Error(), `"openai"`)
}

func TestRateLimitedError(t *testing.T) {
	var err error = &RateLimitedError{Provider: "groq"}

	var rle *RateLimitedError
	require.ErrorAs(t, err, &rle)
	assert.Contains(t, err.Error(), `"groq"`)
}
