// Package fallback decides where a request goes when its primary provider
// cannot serve it: classifying errors as worth another target or not, and
// resolving the ordered chain of (provider, model) targets to try.
package fallback

import (
	"context"
	"errors"
	"net"

	mrerrors "github.com/modelrelay/modelrelay/pkg/errors"
)

// Decision says whether an error is worth trying another target for.
type Decision int

const (
	// DecisionNoRetry means another target would fail the same way (or the
	// request already succeeded).
	DecisionNoRetry Decision = iota
	// DecisionRetry means the failure is specific to this target and the
	// next one in the chain may succeed.
	DecisionRetry
)

func (d Decision) String() string {
	if d == DecisionRetry {
		return "retry"
	}
	return "no_retry"
}

// ClassifyStatus classifies an HTTP status code. Server-side failures (5xx)
// are target-specific and worth another try; client errors (4xx, including
// 429) indicate a problem with the request or the account that the next
// target will reproduce.
func ClassifyStatus(code int) Decision {
	if code >= 500 && code < 600 {
		return DecisionRetry
	}
	return DecisionNoRetry
}

// Classify classifies an error from an upstream attempt.
//
//   - nil: success, nothing to retry.
//   - BreakerOpenError / RateLimitedError: local rejections that consumed no
//     network attempt; the next target is untouched.
//   - InternalError: a gateway bug; no target can fix it (see IsFatal).
//   - LLMError: by its retryable flag, which encodes the status family.
//   - timeouts and transport errors: target-specific, try the next one.
func Classify(err error) Decision {
	if err == nil {
		return DecisionNoRetry
	}

	var internalErr *mrerrors.InternalError
	if errors.As(err, &internalErr) {
		return DecisionNoRetry
	}

	var breakerErr *mrerrors.BreakerOpenError
	if errors.As(err, &breakerErr) {
		return DecisionRetry
	}

	var rateLimitedErr *mrerrors.RateLimitedError
	if errors.As(err, &rateLimitedErr) {
		return DecisionRetry
	}

	var llmErr *mrerrors.LLMError
	if errors.As(err, &llmErr) {
		if llmErr.Retryable {
			return DecisionRetry
		}
		return ClassifyStatus(llmErr.StatusCode)
	}

	// The caller gave up; trying another target would waste its tokens.
	if errors.Is(err, context.Canceled) {
		return DecisionNoRetry
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DecisionRetry
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return DecisionRetry
	}

	// Unrecognized errors are treated as transport-level failures.
	return DecisionRetry
}

// IsFatal reports whether the error must abort the fallback walk entirely.
// Internal errors are bugs: burning fallback targets on them only masks the
// problem.
func IsFatal(err error) bool {
	var internalErr *mrerrors.InternalError
	return errors.As(err, &internalErr)
}
