// Package config provides configuration loading with hot-reload support.
// Files are YAML with ${VAR} environment expansion; reloads swap the config
// atomically so in-flight requests keep the snapshot they started with.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelrelay/modelrelay/internal/fallback"
	"github.com/modelrelay/modelrelay/internal/resilience"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Redis       RedisConfig       `yaml:"redis"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Events      EventsConfig      `yaml:"events"`
}

// ServerConfig contains HTTP server settings. Durations are plain integer
// seconds in YAML.
type ServerConfig struct {
	Port             int `yaml:"port"`
	ReadTimeoutSecs  int `yaml:"read_timeout_secs"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs"`
	IdleTimeoutSecs  int `yaml:"idle_timeout_secs"`
}

// ProviderConfig defines one upstream provider, including its resilience
// policy and fallback configuration.
type ProviderConfig struct {
	Name        string            `yaml:"name"`
	Type        string            `yaml:"type"` // "openai", "anthropic"
	APIKey      string            `yaml:"api_key"`
	BaseURL     string            `yaml:"base_url"`
	TimeoutSecs int               `yaml:"timeout_secs"`
	Headers     map[string]string `yaml:"headers"`

	Retry          *RetryConfig          `yaml:"retry"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      *RateLimitConfig      `yaml:"rate_limit"`

	// FallbackProviders are provider-level fallbacks tried in order, each
	// carrying the original model.
	FallbackProviders []string `yaml:"fallback_providers"`
	// ModelFallbacks maps a model to its ordered substitutes, tried before
	// any provider-level fallback.
	ModelFallbacks map[string][]ModelFallbackEntry `yaml:"model_fallbacks"`
}

// ModelFallbackEntry is one model-level fallback. Provider empty means the
// same provider.
type ModelFallbackEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// RetryConfig holds per-provider retry settings. All fields are optional;
// nil falls back to the defaults.
type RetryConfig struct {
	Enabled              *bool    `yaml:"enabled"`
	MaxRetries           *int     `yaml:"max_retries"`
	InitialDelayMs       *int     `yaml:"initial_delay_ms"`
	MaxDelayMs           *int     `yaml:"max_delay_ms"`
	BackoffMultiplier    *float64 `yaml:"backoff_multiplier"`
	Jitter               *float64 `yaml:"jitter"`
	RetryableStatusCodes []int    `yaml:"retryable_status_codes"`
	EmbeddingMaxRetries  *int     `yaml:"embedding_max_retries"`
	ReadOnlyMaxRetries   *int     `yaml:"read_only_max_retries"`
}

// CircuitBreakerConfig holds per-provider circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled            *bool    `yaml:"enabled"`
	FailureThreshold   *int     `yaml:"failure_threshold"`
	OpenTimeoutSecs    *int     `yaml:"open_timeout_secs"`
	SuccessThreshold   *int     `yaml:"success_threshold"`
	FailureStatusCodes []int    `yaml:"failure_status_codes"`
	BackoffMultiplier  *float64 `yaml:"backoff_multiplier"`
	MaxOpenTimeoutSecs *int     `yaml:"max_open_timeout_secs"`
}

// RateLimitConfig holds the local per-provider token bucket settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// RedisConfig configures the optional breaker status mirror.
type RedisConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Addr             string `yaml:"addr"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	MirrorIntervalMs int    `yaml:"mirror_interval_ms"`
}

// HealthCheckConfig configures the background provider prober.
type HealthCheckConfig struct {
	Enabled      bool `yaml:"enabled"`
	IntervalSecs int  `yaml:"interval_secs"`
	TimeoutSecs  int  `yaml:"timeout_secs"`
}

// EventsConfig configures the internal event bus.
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			ReadTimeoutSecs:  30,
			WriteTimeoutSecs: 120,
			IdleTimeoutSecs:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "modelrelay",
			SampleRate:  1.0,
			Insecure:    true,
		},
		Redis: RedisConfig{
			Enabled:          false,
			Addr:             "localhost:6379",
			MirrorIntervalMs: 5000,
		},
		HealthCheck: HealthCheckConfig{
			Enabled:      false,
			IntervalSecs: 60,
			TimeoutSecs:  10,
		},
		Events: EventsConfig{
			BufferSize: 1000,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file. Environment
// variables in the form ${VAR} are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes config bytes on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for hard errors. Soft issues such as
// fallbacks referring to unknown providers are reported by Warnings instead,
// because a half-typo'd fallback should not take the gateway down.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Type == "" {
			return fmt.Errorf("provider %s: type is required", p.Name)
		}
		if cb := p.CircuitBreaker; cb != nil {
			if cb.FailureThreshold != nil && *cb.FailureThreshold < 1 {
				return fmt.Errorf("provider %s: failure_threshold must be >= 1", p.Name)
			}
			if cb.SuccessThreshold != nil && *cb.SuccessThreshold < 1 {
				return fmt.Errorf("provider %s: success_threshold must be >= 1", p.Name)
			}
		}
		if r := p.Retry; r != nil {
			if r.MaxRetries != nil && *r.MaxRetries < 0 {
				return fmt.Errorf("provider %s: max_retries must be >= 0", p.Name)
			}
			if r.Jitter != nil && (*r.Jitter < 0 || *r.Jitter > 1) {
				return fmt.Errorf("provider %s: jitter must be between 0 and 1", p.Name)
			}
		}
	}
	return nil
}

// Warnings reports soft configuration issues worth logging at startup.
func (c *Config) Warnings() []string {
	known := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		known[p.Name] = true
	}

	var warnings []string
	for _, p := range c.Providers {
		for _, fp := range p.FallbackProviders {
			if !known[fp] {
				warnings = append(warnings,
					fmt.Sprintf("provider %s: fallback provider %q is not configured", p.Name, fp))
			}
		}
		for model, entries := range p.ModelFallbacks {
			for _, e := range entries {
				if e.Provider != "" && !known[e.Provider] {
					warnings = append(warnings,
						fmt.Sprintf("provider %s: model fallback for %q refers to unknown provider %q", p.Name, model, e.Provider))
				}
			}
		}
	}
	return warnings
}

// Provider returns the named provider config, nil when absent.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// Timeout returns the provider's request timeout.
func (p *ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(p.TimeoutSecs) * time.Second
}

// ResiliencePolicy converts the provider's YAML blocks into the resilience
// package's native types, applying defaults for unset fields.
func (p *ProviderConfig) ResiliencePolicy() resilience.ProviderPolicy {
	return resilience.ProviderPolicy{
		Breaker:   p.breakerConfig(),
		Retry:     p.retryConfig(),
		RateLimit: p.rateLimitConfig(),
	}
}

func (p *ProviderConfig) breakerConfig() resilience.BreakerConfig {
	out := resilience.DefaultBreakerConfig()
	cb := p.CircuitBreaker
	if cb == nil {
		return out
	}
	if cb.Enabled != nil {
		out.Enabled = *cb.Enabled
	}
	if cb.FailureThreshold != nil {
		out.FailureThreshold = *cb.FailureThreshold
	}
	if cb.OpenTimeoutSecs != nil {
		out.OpenTimeout = time.Duration(*cb.OpenTimeoutSecs) * time.Second
	}
	if cb.SuccessThreshold != nil {
		out.SuccessThreshold = *cb.SuccessThreshold
	}
	if len(cb.FailureStatusCodes) > 0 {
		out.FailureStatusCodes = cb.FailureStatusCodes
	}
	if cb.BackoffMultiplier != nil {
		out.BackoffMultiplier = *cb.BackoffMultiplier
	}
	if cb.MaxOpenTimeoutSecs != nil {
		out.MaxOpenTimeout = time.Duration(*cb.MaxOpenTimeoutSecs) * time.Second
	}
	return out
}

func (p *ProviderConfig) retryConfig() resilience.RetryConfig {
	out := resilience.DefaultRetryConfig()
	r := p.Retry
	if r == nil {
		return out
	}
	if r.Enabled != nil {
		out.Enabled = *r.Enabled
	}
	if r.MaxRetries != nil {
		out.MaxRetries = *r.MaxRetries
	}
	if r.InitialDelayMs != nil {
		out.InitialDelay = time.Duration(*r.InitialDelayMs) * time.Millisecond
	}
	if r.MaxDelayMs != nil {
		out.MaxDelay = time.Duration(*r.MaxDelayMs) * time.Millisecond
	}
	if r.BackoffMultiplier != nil {
		out.BackoffMultiplier = *r.BackoffMultiplier
	}
	if r.Jitter != nil {
		out.Jitter = *r.Jitter
	}
	if len(r.RetryableStatusCodes) > 0 {
		out.RetryableStatusCodes = r.RetryableStatusCodes
	}
	out.EmbeddingMaxRetries = r.EmbeddingMaxRetries
	out.ReadOnlyMaxRetries = r.ReadOnlyMaxRetries
	return out
}

func (p *ProviderConfig) rateLimitConfig() resilience.RateLimitConfig {
	if p.RateLimit == nil {
		return resilience.RateLimitConfig{}
	}
	return resilience.RateLimitConfig{
		Enabled:           p.RateLimit.Enabled,
		RequestsPerSecond: p.RateLimit.RequestsPerSecond,
		Burst:             p.RateLimit.Burst,
	}
}

// FallbackPolicies converts every provider's fallback configuration into the
// resolver's policy map.
func (c *Config) FallbackPolicies() map[string]fallback.Policy {
	policies := make(map[string]fallback.Policy, len(c.Providers))
	for _, p := range c.Providers {
		policy := fallback.Policy{Providers: p.FallbackProviders}
		if len(p.ModelFallbacks) > 0 {
			policy.ModelFallbacks = make(map[string][]fallback.ModelFallback, len(p.ModelFallbacks))
			for model, entries := range p.ModelFallbacks {
				mfs := make([]fallback.ModelFallback, 0, len(entries))
				for _, e := range entries {
					mfs = append(mfs, fallback.ModelFallback{Provider: e.Provider, Model: e.Model})
				}
				policy.ModelFallbacks[model] = mfs
			}
		}
		policies[p.Name] = policy
	}
	return policies
}

// MirrorInterval returns the Redis mirror period.
func (r RedisConfig) MirrorInterval() time.Duration {
	if r.MirrorIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(r.MirrorIntervalMs) * time.Millisecond
}

// Interval returns the probe period.
func (h HealthCheckConfig) Interval() time.Duration {
	if h.IntervalSecs <= 0 {
		return time.Minute
	}
	return time.Duration(h.IntervalSecs) * time.Second
}

// ProbeTimeout returns the per-probe timeout.
func (h HealthCheckConfig) ProbeTimeout() time.Duration {
	if h.TimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(h.TimeoutSecs) * time.Second
}
