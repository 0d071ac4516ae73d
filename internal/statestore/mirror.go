package statestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelrelay/modelrelay/internal/resilience"
)

// Mirror periodically snapshots breaker status into a Store. Failures are
// logged and retried on the next tick; the mirror never affects traffic.
type Mirror struct {
	store    Store
	source   func() []resilience.BreakerStatus
	logger   *slog.Logger
	interval time.Duration
}

// NewMirror creates a mirror. source is typically Manager.Status.
func NewMirror(store Store, source func() []resilience.BreakerStatus, logger *slog.Logger, interval time.Duration) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Mirror{
		store:    store,
		source:   source,
		logger:   logger,
		interval: interval,
	}
}

// Run mirrors snapshots until ctx is done. It writes once immediately so the
// store is populated right after startup.
func (m *Mirror) Run(ctx context.Context) {
	m.write(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.write(ctx)
		}
	}
}

func (m *Mirror) write(ctx context.Context) {
	if err := m.store.WriteStatuses(ctx, m.source()); err != nil && ctx.Err() == nil {
		m.logger.Warn("failed to mirror breaker status", "error", err)
	}
}
