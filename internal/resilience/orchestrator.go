package resilience

import (
	"context"
	"log/slog"
	"net/http"
)

// WithBreakerAndRetry runs one upstream operation through the full resilience
// path: the breaker admits or rejects up front, the retry loop drives the
// attempts, and the final outcome is recorded back into the breaker. The
// result is returned unchanged.
//
// Failure accounting: transport errors are always breaker failures; HTTP
// responses count as failures only when their status is in the breaker's
// FailureStatusCodes. A 429, for example, is typically retried but does not
// trip the breaker, because the provider is up and merely throttling.
//
// A nil breaker disables circuit breaking and runs the retry loop alone.
func WithBreakerAndRetry(ctx context.Context, cb *CircuitBreaker, rcfg RetryConfig, logger *slog.Logger, provider string, op Operation, attempt AttemptFunc) (*http.Response, error) {
	if err := cb.Check(); err != nil {
		return nil, err
	}

	resp, err := WithRetry(ctx, rcfg, logger, provider, op, attempt)

	switch {
	case err != nil:
		cb.RecordFailure()
	case cb.Config().IsFailureStatus(resp.StatusCode):
		cb.RecordFailure()
	default:
		cb.RecordSuccess()
	}
	return resp, err
}

// WithBreakerAndRetryFunc is the generic counterpart for operations that do
// not produce an *http.Response. isRetryable decides which errors get another
// attempt; isFailure decides which outcomes count against the breaker. A nil
// isFailure treats every error as a failure and every success as a success.
func WithBreakerAndRetryFunc[T any](ctx context.Context, cb *CircuitBreaker, rcfg RetryConfig, logger *slog.Logger, provider string, op Operation, isRetryable func(error) bool, isFailure func(T, error) bool, attempt func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.Check(); err != nil {
		var zero T
		return zero, err
	}

	result, err := WithRetryFunc(ctx, rcfg, logger, provider, op, isRetryable, attempt)

	failed := err != nil
	if isFailure != nil {
		failed = isFailure(result, err)
	}
	if failed {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return result, err
}
