package modelrelay

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/events"
)

// ClientConfig holds everything New needs to assemble a Client. Use the
// Option functions rather than constructing it directly.
type ClientConfig struct {
	// Config is a full gateway configuration. When set, its provider list is
	// used and any providers added with WithProvider are ignored.
	Config *config.Config

	// Providers is the upstream list for library users who do not carry a
	// config file.
	Providers []config.ProviderConfig

	// DefaultProvider receives requests whose model carries no
	// "provider/" prefix. Defaults to the first configured provider.
	DefaultProvider string

	Logger     *slog.Logger
	HTTPClient *http.Client
	Tracer     trace.Tracer

	// Bus receives breaker transitions and fallback activations. Nil disables
	// event publishing.
	Bus *events.Bus
}

// Option configures the client.
type Option func(*ClientConfig)

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{}
}

// WithConfig supplies a full gateway configuration.
func WithConfig(cfg *config.Config) Option {
	return func(cc *ClientConfig) {
		cc.Config = cfg
	}
}

// WithProvider adds one upstream provider.
func WithProvider(p config.ProviderConfig) Option {
	return func(cc *ClientConfig) {
		cc.Providers = append(cc.Providers, p)
	}
}

// WithDefaultProvider sets the provider used when the request model does not
// name one.
func WithDefaultProvider(name string) Option {
	return func(cc *ClientConfig) {
		cc.DefaultProvider = name
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cc *ClientConfig) {
		cc.Logger = logger
	}
}

// WithHTTPClient sets the HTTP client used for upstream calls. Per-provider
// timeouts are applied per request, so the client itself usually carries none.
func WithHTTPClient(hc *http.Client) Option {
	return func(cc *ClientConfig) {
		cc.HTTPClient = hc
	}
}

// WithTracer sets the OpenTelemetry tracer for upstream spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(cc *ClientConfig) {
		cc.Tracer = tracer
	}
}

// WithEventBus attaches an event bus for breaker and fallback notifications.
func WithEventBus(bus *events.Bus) Option {
	return func(cc *ClientConfig) {
		cc.Bus = bus
	}
}
