package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/pkg/errors"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:            true,
		FailureThreshold:   3,
		OpenTimeout:        50 * time.Millisecond,
		SuccessThreshold:   2,
		FailureStatusCodes: []int{500, 502, 503, 504},
		BackoffMultiplier:  2.0,
		MaxOpenTimeout:     200 * time.Millisecond,
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.FailureCount())
	assert.NoError(t, cb.Check())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Check()
	var boe *errors.BreakerOpenError
	require.ErrorAs(t, err, &boe)
	assert.Equal(t, "openai", boe.Provider)
	assert.Greater(t, boe.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, boe.RetryAfter, 50*time.Millisecond)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.FailureCount())

	// A fresh run of failures needs the full threshold again.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenProbeAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Error(t, cb.Check())

	time.Sleep(60 * time.Millisecond)

	// The elapsed timeout admits a probe and transitions to half-open.
	assert.NoError(t, cb.Check())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreakerHalfOpenSingleFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Check())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Error(t, cb.Check())
}

func TestBreakerRecoveryClosesAndResets(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Check())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.ConsecutiveOpens())
	assert.Equal(t, 50*time.Millisecond, cb.CurrentTimeout())
}

func TestBreakerAdaptiveTimeoutGrowsAndCaps(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	trip := func() {
		for cb.State() != StateOpen {
			cb.RecordFailure()
		}
	}

	trip()
	assert.Equal(t, 50*time.Millisecond, cb.CurrentTimeout())
	assert.Equal(t, 1, cb.ConsecutiveOpens())

	// Probe fails: second open doubles the timeout.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Check())
	cb.RecordFailure()
	assert.Equal(t, 100*time.Millisecond, cb.CurrentTimeout())
	assert.Equal(t, 2, cb.ConsecutiveOpens())

	// Third open: 50ms * 2^2 = 200ms, exactly at the cap.
	time.Sleep(110 * time.Millisecond)
	require.NoError(t, cb.Check())
	cb.RecordFailure()
	assert.Equal(t, 200*time.Millisecond, cb.CurrentTimeout())

	// Fourth open: 400ms capped to 200ms.
	time.Sleep(210 * time.Millisecond)
	require.NoError(t, cb.Check())
	cb.RecordFailure()
	assert.Equal(t, 200*time.Millisecond, cb.CurrentTimeout())
}

func TestBreakerMultiplierOneDisablesGrowth(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.BackoffMultiplier = 1.0
	assert.Equal(t, cfg.OpenTimeout, cfg.OpenTimeoutFor(0))
	assert.Equal(t, cfg.OpenTimeout, cfg.OpenTimeoutFor(5))
}

func TestBreakerStateIsPassiveObservation(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	// State reports half_open but must not perform the transition itself:
	// the breaker still counts this open when the next failure arrives via
	// Check's probe path.
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 1, cb.ConsecutiveOpens())

	require.NoError(t, cb.Check())
	cb.RecordFailure()
	assert.Equal(t, 2, cb.ConsecutiveOpens())
}

func TestDisabledBreakerIsNoOp(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.Enabled = false
	cb := NewCircuitBreaker("openai", cfg)
	require.Nil(t, cb)

	// All methods must be safe and permissive on the nil breaker.
	assert.NoError(t, cb.Check())
	cb.RecordFailure()
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	changes := make(chan StateChange, 8)
	cb.OnStateChange(func(sc StateChange) { changes <- sc })

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	select {
	case sc := <-changes:
		assert.Equal(t, "openai", sc.Provider)
		assert.Equal(t, StateClosed, sc.Previous)
		assert.Equal(t, StateOpen, sc.New)
		assert.False(t, sc.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no state change delivered")
	}
}

func TestBreakerStateChangeCarriesCounters(t *testing.T) {
	cb := NewCircuitBreaker("openai", testBreakerConfig())

	changes := make(chan StateChange, 8)
	cb.OnStateChange(func(sc StateChange) { changes <- sc })

	next := func() StateChange {
		t.Helper()
		select {
		case sc := <-changes:
			return sc
		case <-time.After(time.Second):
			t.Fatal("no state change delivered")
			return StateChange{}
		}
	}

	// Closed -> Open carries the consecutive failures that tripped the
	// threshold, not a configured constant.
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	sc := next()
	assert.Equal(t, StateOpen, sc.New)
	assert.Equal(t, 3, sc.FailureCount)
	assert.Equal(t, 0, sc.SuccessCount)

	// Open -> HalfOpen is a timer transition, no counters involved.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, cb.Check())
	sc = next()
	assert.Equal(t, StateHalfOpen, sc.New)
	assert.Equal(t, 0, sc.FailureCount)
	assert.Equal(t, 0, sc.SuccessCount)

	// HalfOpen -> Open: a single strike reopens, with the probe successes
	// accumulated so far alongside it.
	cb.RecordSuccess()
	cb.RecordFailure()
	sc = next()
	assert.Equal(t, StateOpen, sc.New)
	assert.Equal(t, 1, sc.FailureCount)
	assert.Equal(t, 1, sc.SuccessCount)

	// Recovery: HalfOpen -> Closed carries the probe success count.
	time.Sleep(120 * time.Millisecond)
	require.NoError(t, cb.Check())
	next()
	cb.RecordSuccess()
	cb.RecordSuccess()
	sc = next()
	assert.Equal(t, StateClosed, sc.New)
	assert.Equal(t, 0, sc.FailureCount)
	assert.Equal(t, 2, sc.SuccessCount)
}

func TestBreakerConcurrentFailuresSingleTransition(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.FailureThreshold = 50
	cfg.OpenTimeout = time.Minute
	cb := NewCircuitBreaker("openai", cfg)

	changes := make(chan StateChange, 64)
	cb.OnStateChange(func(sc StateChange) { changes <- sc })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.RecordFailure()
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 1, cb.ConsecutiveOpens())

	// Exactly one Closed->Open transition despite the race to the threshold.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, changes, 1)
}

func TestOpenTimeoutFor(t *testing.T) {
	cfg := BreakerConfig{
		OpenTimeout:       10 * time.Second,
		BackoffMultiplier: 2.0,
		MaxOpenTimeout:    120 * time.Second,
	}
	assert.Equal(t, 10*time.Second, cfg.OpenTimeoutFor(0))
	assert.Equal(t, 20*time.Second, cfg.OpenTimeoutFor(1))
	assert.Equal(t, 40*time.Second, cfg.OpenTimeoutFor(2))
	assert.Equal(t, 120*time.Second, cfg.OpenTimeoutFor(4))
	assert.Equal(t, 120*time.Second, cfg.OpenTimeoutFor(10))
}

func TestIsFailureStatus(t *testing.T) {
	cfg := testBreakerConfig()
	assert.True(t, cfg.IsFailureStatus(500))
	assert.True(t, cfg.IsFailureStatus(503))
	assert.False(t, cfg.IsFailureStatus(429))
	assert.False(t, cfg.IsFailureStatus(200))
}
