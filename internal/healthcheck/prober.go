// Package healthcheck proactively probes upstream providers so a recovered
// upstream closes its circuit without waiting for user traffic to arrive as
// probes.
package healthcheck

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/modelrelay/modelrelay/internal/events"
	"github.com/modelrelay/modelrelay/internal/resilience"
	"github.com/modelrelay/modelrelay/pkg/provider"
)

const (
	defaultProbeInterval = time.Minute
	defaultProbeTimeout  = 10 * time.Second
)

// Config controls the prober behavior.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}

// Prober periodically issues a lightweight request per provider and records
// the outcome into that provider's circuit breaker. Probe results flow
// through the same RecordSuccess/RecordFailure path as real traffic, so an
// open breaker can recover even on an idle gateway.
type Prober struct {
	cfg       Config
	providers []provider.Provider
	manager   *resilience.Manager
	bus       *events.Bus
	logger    *slog.Logger
	client    *http.Client
	started   atomic.Bool

	// unhealthy tracks the last observed probe outcome per provider so the
	// bus only sees edges, not every tick.
	unhealthy map[string]bool
}

// NewProber creates a prober for the given providers. bus may be nil.
func NewProber(cfg Config, providers []provider.Provider, manager *resilience.Manager, bus *events.Bus, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		cfg:       cfg,
		providers: providers,
		manager:   manager,
		bus:       bus,
		logger:    logger,
		client:    &http.Client{Timeout: cfg.Timeout},
		unhealthy: make(map[string]bool),
	}
}

// Start begins the probe loop until ctx is canceled. Safe to call more than
// once; only the first call starts the loop.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.probeAll(ctx)
	for {
		select {
		case <-ticker.C:
			p.probeAll(ctx)
		case <-ctx.Done():
			p.logger.Info("health prober stopped")
			return
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, prov := range p.providers {
		if ctx.Err() != nil {
			return
		}
		p.probeOne(ctx, prov)
	}
}

func (p *Prober) probeOne(ctx context.Context, prov provider.Provider) {
	name := prov.Name()
	cb := p.manager.Breaker(name)

	// Admission check first: while the circuit is open and its timeout has
	// not elapsed, probing is pointless. Once the timeout elapses, Check
	// moves the breaker to half-open and this probe becomes the recovery
	// probe, so RecordSuccess below counts toward closing the circuit.
	if err := cb.Check(); err != nil {
		p.logger.Debug("skipping probe, circuit open", "provider", name, "error", err)
		return
	}

	err := p.probe(ctx, prov)
	if err != nil {
		cb.RecordFailure()
		p.logger.Warn("health probe failed", "provider", name, "error", err)
		if !p.unhealthy[name] {
			p.unhealthy[name] = true
			p.publish(events.EventProviderUnhealthy, name, err)
		}
		return
	}

	cb.RecordSuccess()
	if p.unhealthy[name] {
		p.unhealthy[name] = false
		p.logger.Info("health probe recovered", "provider", name)
		p.publish(events.EventProviderRecovered, name, nil)
	}
}

func (p *Prober) probe(ctx context.Context, prov provider.Provider) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	httpReq, err := prov.HealthRequest(probeCtx)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(body) == 0 {
			return errors.New("health probe failed")
		}
		return prov.MapError(resp.StatusCode, body)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *Prober) publish(typ events.EventType, providerName string, err error) {
	if p.bus == nil {
		return
	}
	var data map[string]any
	if err != nil {
		data = map[string]any{"error": err.Error()}
	}
	p.bus.Publish(events.New(typ, providerName, data))
}
