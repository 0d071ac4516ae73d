package modelrelay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/events"
	"github.com/modelrelay/modelrelay/internal/fallback"
	"github.com/modelrelay/modelrelay/internal/metrics"
	"github.com/modelrelay/modelrelay/internal/observability"
	"github.com/modelrelay/modelrelay/internal/resilience"
	"github.com/modelrelay/modelrelay/pkg/provider"
	"github.com/modelrelay/modelrelay/pkg/types"
	"github.com/modelrelay/modelrelay/providers/anthropic"
	"github.com/modelrelay/modelrelay/providers/openailike"
)

// maxErrorBodyBytes bounds how much of an upstream error body is read.
const maxErrorBodyBytes = 64 << 10

// factories maps the provider "type" config field to its adapter constructor.
var factories = map[string]provider.Factory{
	"openai":      openailike.Factory,
	"openai_like": openailike.Factory,
	"anthropic":   anthropic.Factory,
}

// Client relays chat completions to upstream providers through circuit
// breakers, retries and fallback chains. It is safe for concurrent use.
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	tracer     trace.Tracer
	bus        *events.Bus
	manager    *resilience.Manager
	resolver   *fallback.Resolver

	mu              sync.RWMutex
	providers       map[string]provider.Provider
	order           []string
	timeouts        map[string]time.Duration
	defaultProvider string
}

// New assembles a client from options. At least one provider is required.
func New(opts ...Option) (*Client, error) {
	cc := defaultClientConfig()
	for _, opt := range opts {
		opt(cc)
	}

	cfg := cc.Config
	if cfg == nil {
		cfg = &config.Config{Providers: cc.Providers}
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("modelrelay: at least one provider is required")
	}

	logger := cc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cc.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	tracer := cc.Tracer
	if tracer == nil {
		tracer = otel.Tracer(observability.TracerName)
	}

	c := &Client{
		logger:     logger,
		httpClient: httpClient,
		tracer:     tracer,
		bus:        cc.Bus,
		resolver:   fallback.NewResolver(logger),
	}
	c.manager = resilience.NewManager(logger, c.onBreakerChange)

	if err := c.Apply(cfg); err != nil {
		return nil, err
	}

	if cc.DefaultProvider != "" {
		c.mu.Lock()
		if _, ok := c.providers[cc.DefaultProvider]; !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("modelrelay: default provider %q is not configured", cc.DefaultProvider)
		}
		c.defaultProvider = cc.DefaultProvider
		c.mu.Unlock()
	}
	return c, nil
}

// Apply installs a configuration, rebuilding provider adapters and resilience
// policies. Called by New and again on config hot reload; breakers keep their
// state across a reload.
func (c *Client) Apply(cfg *config.Config) error {
	providers := make(map[string]provider.Provider, len(cfg.Providers))
	timeouts := make(map[string]time.Duration, len(cfg.Providers))
	order := make([]string, 0, len(cfg.Providers))

	for i := range cfg.Providers {
		pcfg := &cfg.Providers[i]
		factory, ok := factories[pcfg.Type]
		if !ok {
			return fmt.Errorf("modelrelay: provider %s: unknown type %q", pcfg.Name, pcfg.Type)
		}
		prov, err := factory(provider.Config{
			Name:    pcfg.Name,
			APIKey:  pcfg.APIKey,
			BaseURL: pcfg.BaseURL,
			Timeout: pcfg.Timeout(),
			Headers: pcfg.Headers,
		})
		if err != nil {
			return fmt.Errorf("modelrelay: provider %s: %w", pcfg.Name, err)
		}
		providers[pcfg.Name] = prov
		timeouts[pcfg.Name] = pcfg.Timeout()
		order = append(order, pcfg.Name)

		c.manager.Configure(pcfg.Name, pcfg.ResiliencePolicy())
	}

	c.resolver.SetPolicies(cfg.FallbackPolicies())

	c.mu.Lock()
	c.providers = providers
	c.timeouts = timeouts
	c.order = order
	if _, ok := providers[c.defaultProvider]; !ok {
		c.defaultProvider = order[0]
	}
	c.mu.Unlock()
	return nil
}

// ChatCompletion relays one chat completion request. The primary target is
// taken from a "provider/" model prefix when present, the default provider
// otherwise; on retryable failures the configured fallback chain is walked in
// order. The returned response's Provider field names the upstream that
// actually served it.
func (c *Client) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if req == nil || req.Model == "" {
		return nil, fmt.Errorf("modelrelay: request model is required")
	}

	primary, model := c.resolvePrimary(req.Model)
	targets := append([]fallback.Target{{Provider: primary, Model: model}}, c.resolver.Chain(primary, model)...)

	var lastErr error
	attempted := make([]string, 0, len(targets))

	for depth, target := range targets {
		prov, timeout, ok := c.provider(target.Provider)
		if !ok {
			// Resolver policies and the provider set come from the same
			// config, so this only happens mid-reload.
			c.logger.Warn("skipping unknown fallback target", "provider", target.Provider)
			continue
		}

		if depth > 0 {
			c.logger.Info("falling back",
				"from", targets[depth-1].Provider,
				"provider", target.Provider,
				"model", target.Model,
				"depth", depth,
				"error", errString(lastErr),
			)
			c.publishFallback(target, depth, lastErr)
		}

		resp, err := c.attempt(ctx, prov, timeout, target, req, depth)
		if err == nil {
			metrics.FallbackDepth.WithLabelValues("success").Observe(float64(depth))
			return resp, nil
		}
		lastErr = err
		attempted = append(attempted, target.Provider+"/"+target.Model)

		if fallback.IsFatal(err) || ctx.Err() != nil {
			break
		}
		if fallback.Classify(err) == fallback.DecisionNoRetry {
			break
		}
	}

	if lastErr == nil {
		return nil, fmt.Errorf("modelrelay: no usable target for %s/%s", primary, model)
	}
	metrics.FallbackDepth.WithLabelValues("failure").Observe(float64(len(attempted) - 1))
	if len(attempted) > 1 {
		return nil, fmt.Errorf("all targets failed (attempted %s): %w", strings.Join(attempted, ", "), lastErr)
	}
	return nil, lastErr
}

// attempt runs one target through the full resilience path.
func (c *Client) attempt(ctx context.Context, prov provider.Provider, timeout time.Duration, target fallback.Target, req *types.ChatRequest, depth int) (*types.ChatResponse, error) {
	if err := c.manager.Limiter(target.Provider).Allow(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartUpstreamSpan(ctx, c.tracer, target.Provider, target.Model, depth)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	targetReq := *req
	targetReq.Model = target.Model

	rcfg := c.manager.RetryPolicy(target.Provider).ForOperation(resilience.OpChat)
	resp, err := resilience.WithBreakerAndRetry(ctx, c.manager.Breaker(target.Provider), rcfg, c.logger, target.Provider, resilience.OpChat,
		func(ctx context.Context) (*http.Response, error) {
			return c.do(ctx, prov, target, &targetReq)
		})
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		mapped := prov.MapError(resp.StatusCode, body)
		observability.RecordSpanError(span, mapped)
		return nil, mapped
	}

	out, err := prov.ParseResponse(resp)
	if err != nil {
		observability.RecordSpanError(span, err)
		return nil, fmt.Errorf("parse %s response: %w", target.Provider, err)
	}
	return out, nil
}

// do performs a single upstream HTTP attempt and records traffic metrics.
func (c *Client) do(ctx context.Context, prov provider.Provider, target fallback.Target, req *types.ChatRequest) (*http.Response, error) {
	httpReq, err := prov.BuildRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", target.Provider, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.UpstreamLatency.WithLabelValues(target.Provider, target.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(target.Provider, target.Model, "transport_error").Inc()
		return nil, err
	}
	metrics.UpstreamRequests.WithLabelValues(target.Provider, target.Model, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// resolvePrimary splits an optional "provider/" prefix off the model. The
// prefix only routes when it names a configured provider, so model names
// containing slashes still pass through untouched.
func (c *Client) resolvePrimary(model string) (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if idx := strings.IndexByte(model, '/'); idx > 0 {
		if _, ok := c.providers[model[:idx]]; ok {
			return model[:idx], model[idx+1:]
		}
	}
	return c.defaultProvider, model
}

func (c *Client) provider(name string) (provider.Provider, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prov, ok := c.providers[name]
	return prov, c.timeouts[name], ok
}

// Providers returns the configured provider adapters in config order.
func (c *Client) Providers() []provider.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]provider.Provider, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.providers[name])
	}
	return out
}

// Manager exposes the resilience manager for the health prober and the admin
// surface.
func (c *Client) Manager() *resilience.Manager {
	return c.manager
}

// Status snapshots every circuit breaker.
func (c *Client) Status() []resilience.BreakerStatus {
	return c.manager.Status()
}

func (c *Client) onBreakerChange(sc resilience.StateChange) {
	c.logger.Info("circuit breaker state change",
		"provider", sc.Provider,
		"from", sc.Previous.String(),
		"to", sc.New.String(),
	)
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.New(events.EventBreakerStateChange, sc.Provider, map[string]any{
		"from":          sc.Previous.String(),
		"to":            sc.New.String(),
		"failure_count": sc.FailureCount,
		"success_count": sc.SuccessCount,
	}))
}

func (c *Client) publishFallback(target fallback.Target, depth int, cause error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.New(events.EventFallbackActivated, target.Provider, map[string]any{
		"model": target.Model,
		"depth": depth,
		"cause": errString(cause),
	}))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
