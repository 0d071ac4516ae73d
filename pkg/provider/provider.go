// Package provider defines the adapter interface upstream LLM providers
// implement. Adapters only translate: building provider-specific HTTP
// requests and normalizing responses. Transport, retries, and circuit
// breaking live in the caller so every adapter gets them uniformly.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/modelrelay/modelrelay/pkg/types"
)

// Provider is the interface all upstream adapters implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// BuildRequest transforms a unified ChatRequest into a provider-specific
	// HTTP request: endpoint, headers, auth, and body serialization.
	BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error)

	// ParseResponse transforms a provider response into the unified
	// ChatResponse. It is only called for 2xx responses.
	ParseResponse(resp *http.Response) (*types.ChatResponse, error)

	// MapError converts a non-2xx provider response into a standardized
	// error carrying the upstream status code.
	MapError(statusCode int, body []byte) error

	// HealthRequest builds a lightweight request (typically a model listing)
	// used by the background prober. It must not consume tokens.
	HealthRequest(ctx context.Context) (*http.Request, error)
}

// Config carries the per-provider settings an adapter needs.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Headers map[string]string
}

// Factory creates a provider instance from configuration.
type Factory func(cfg Config) (Provider, error)
