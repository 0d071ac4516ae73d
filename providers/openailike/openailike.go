// Package openailike implements the adapter for OpenAI and the many
// providers that speak its chat completion format. Because the gateway's
// unified types already mirror that format, translation is mostly
// passthrough plus auth headers.
package openailike

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/provider"
	"github.com/modelrelay/modelrelay/pkg/types"
)

// DefaultBaseURL is the OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// Provider implements an OpenAI-compatible adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
}

// New creates an adapter from config. The provider keeps the name from
// config so several OpenAI-compatible upstreams can coexist.
func New(cfg provider.Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("openailike: provider name is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		headers: cfg.Headers,
	}, nil
}

// Factory adapts New to the provider.Factory signature.
func Factory(cfg provider.Config) (provider.Provider, error) {
	return New(cfg)
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// BuildRequest serializes the unified request for /chat/completions.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ParseResponse decodes a 2xx chat completion response.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out types.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	out.Provider = p.name
	return &out, nil
}

// openaiErrorBody matches the error envelope OpenAI-compatible APIs return.
type openaiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// MapError converts a non-2xx response into a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed openaiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewAuthenticationError(p.name, "", message)
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(p.name, "", message)
	case http.StatusBadRequest:
		return errors.NewInvalidRequestError(p.name, "", message)
	case http.StatusNotFound:
		return errors.NewNotFoundError(p.name, "", message)
	case http.StatusRequestTimeout:
		return errors.NewTimeoutError(p.name, "", message)
	case http.StatusServiceUnavailable:
		return errors.NewServiceUnavailableError(p.name, "", message)
	default:
		return errors.NewUpstreamError(p.name, "", statusCode, message)
	}
}

// HealthRequest probes GET /models, the cheapest authenticated endpoint.
func (p *Provider) HealthRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	return req, nil
}
