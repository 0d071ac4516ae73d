package resilience

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/internal/metrics"
)

// Operation identifies the kind of upstream call for per-operation retry
// overrides and metric labels.
type Operation string

const (
	// OpChat is an interactive chat completion. Conservative retries; the
	// user is waiting.
	OpChat Operation = "chat_completion"
	// OpEmbedding is an embedding call. Idempotent and cheap, so more
	// aggressive retries are safe.
	OpEmbedding Operation = "embedding"
	// OpReadOnly is a side-effect-free call such as a model listing.
	OpReadOnly Operation = "read_only"
)

// Per-operation default retry ceilings applied when no explicit override is
// configured.
const (
	defaultEmbeddingMaxRetries = 5
	defaultReadOnlyMaxRetries  = 5
)

// RetryConfig contains retry settings for one provider.
type RetryConfig struct {
	Enabled bool
	// MaxRetries is the number of retries after the initial attempt, so the
	// total attempt count is MaxRetries+1.
	MaxRetries int
	// InitialDelay is the backoff before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay per retry.
	BackoffMultiplier float64
	// Jitter is the fraction of the delay used as a symmetric random
	// perturbation, e.g. 0.1 means ±10%.
	Jitter float64
	// RetryableStatusCodes are the HTTP statuses worth retrying.
	RetryableStatusCodes []int

	// EmbeddingMaxRetries and ReadOnlyMaxRetries override MaxRetries for
	// those operations. Nil applies the package defaults.
	EmbeddingMaxRetries *int
	ReadOnlyMaxRetries  *int
}

// DefaultRetryConfig returns the stock retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:              true,
		MaxRetries:           3,
		InitialDelay:         100 * time.Millisecond,
		MaxDelay:             10 * time.Second,
		BackoffMultiplier:    2.0,
		Jitter:               0.1,
		RetryableStatusCodes: []int{429, 500, 502, 503, 504},
	}
}

// ShouldRetryStatus reports whether the HTTP status is worth retrying.
func (c RetryConfig) ShouldRetryStatus(code int) bool {
	for _, rc := range c.RetryableStatusCodes {
		if rc == code {
			return true
		}
	}
	return false
}

// DelayFor computes the backoff before retry number attempt (0-based):
//
//	delay = min(InitialDelay * BackoffMultiplier^attempt, MaxDelay) ± jitter
//
// The result is never negative.
func (c RetryConfig) DelayFor(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		delay += delay * c.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// ForOperation returns the config adjusted for the given operation.
// Embeddings and read-only calls are idempotent, so they get a higher retry
// ceiling unless explicitly configured otherwise.
func (c RetryConfig) ForOperation(op Operation) RetryConfig {
	switch op {
	case OpEmbedding:
		c.MaxRetries = valueOr(c.EmbeddingMaxRetries, defaultEmbeddingMaxRetries)
	case OpReadOnly:
		c.MaxRetries = valueOr(c.ReadOnlyMaxRetries, defaultReadOnlyMaxRetries)
	}
	return c
}

func valueOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

// AttemptFunc performs one upstream HTTP attempt.
type AttemptFunc func(ctx context.Context) (*http.Response, error)

// WithRetry runs attempt with exponential backoff. Transport errors and
// retryable status codes are retried up to cfg.MaxRetries times; everything
// else returns immediately. A disabled config runs exactly one attempt. The
// final response or error is returned unchanged so callers see exactly what
// the upstream produced.
func WithRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, provider string, op Operation, attempt AttemptFunc) (*http.Response, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return attempt(ctx)
	}

	maxAttempts := cfg.MaxRetries + 1
	var (
		resp *http.Response
		err  error
	)
	for i := 0; i < maxAttempts; i++ {
		resp, err = attempt(ctx)

		retryable := err != nil || cfg.ShouldRetryStatus(resp.StatusCode)
		if !retryable {
			return resp, nil
		}
		if i == maxAttempts-1 {
			break
		}

		// The response body must be consumed before the retry replaces it,
		// otherwise the connection cannot be reused.
		if err == nil && resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		delay := cfg.DelayFor(i)
		logger.Warn("retrying upstream request",
			"provider", provider,
			"operation", string(op),
			"attempt", i+1,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", errString(err),
			"status", statusOf(resp),
		)
		metrics.RetryAttempts.WithLabelValues(provider, string(op)).Inc()

		if serr := sleepCtx(ctx, delay); serr != nil {
			return nil, serr
		}
	}

	metrics.RetryExhausted.WithLabelValues(provider, string(op)).Inc()
	logger.Error("retries exhausted",
		"provider", provider,
		"operation", string(op),
		"attempts", maxAttempts,
		"error", errString(err),
		"status", statusOf(resp),
	)
	return resp, err
}

// WithRetryFunc is the generic counterpart of WithRetry for operations that
// do not produce an *http.Response. isRetryable decides which errors are
// worth another attempt.
func WithRetryFunc[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, provider string, op Operation, isRetryable func(error) bool, attempt func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return attempt(ctx)
	}

	maxAttempts := cfg.MaxRetries + 1
	var (
		result T
		err    error
	)
	for i := 0; i < maxAttempts; i++ {
		result, err = attempt(ctx)
		if err == nil || !isRetryable(err) {
			return result, err
		}
		if i == maxAttempts-1 {
			break
		}

		delay := cfg.DelayFor(i)
		logger.Warn("retrying operation",
			"provider", provider,
			"operation", string(op),
			"attempt", i+1,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err,
		)
		metrics.RetryAttempts.WithLabelValues(provider, string(op)).Inc()

		if serr := sleepCtx(ctx, delay); serr != nil {
			var zero T
			return zero, serr
		}
	}

	metrics.RetryExhausted.WithLabelValues(provider, string(op)).Inc()
	return result, err
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
