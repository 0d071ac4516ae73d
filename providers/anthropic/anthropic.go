// Package anthropic implements the adapter for Anthropic's Messages API,
// translating between the gateway's OpenAI-shaped types and Anthropic's
// request and response formats.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/provider"
	"github.com/modelrelay/modelrelay/pkg/types"
)

const (
	// DefaultBaseURL is the Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"
	// apiVersion is the Messages API version header value.
	apiVersion = "2023-06-01"
	// defaultMaxTokens applies when the request does not set max_tokens,
	// which the Messages API requires.
	defaultMaxTokens = 4096
)

// Provider implements the Anthropic adapter.
type Provider struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
}

// New creates an adapter from config.
func New(cfg provider.Config) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("anthropic: provider name is required")
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

type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequest translates the unified request into a Messages API call.
// System messages become the top-level system field; the API rejects them in
// the messages array.
func (p *Provider) BuildRequest(ctx context.Context, req *types.ChatRequest) (*http.Request, error) {
	out := anthropicRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}

	var systemParts []string
	for _, msg := range req.Messages {
		text, err := textContent(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("message content: %w", err)
		}
		if msg.Role == "system" {
			systemParts = append(systemParts, text)
			continue
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: msg.Role, Content: text})
	}
	out.System = strings.Join(systemParts, "\n\n")

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// textContent extracts plain text from a raw content value, accepting both a
// bare string and an array of {"type":"text"} parts.
func textContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", err
	}
	var texts []string
	for _, part := range parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ParseResponse normalizes a Messages API response into the unified format.
func (p *Provider) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &types.ChatResponse{
		ID:      parsed.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   parsed.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.TextMessage("assistant", text.String()),
			FinishReason: mapStopReason(parsed.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		Provider: p.name,
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// MapError converts a non-2xx response into a standardized error.
func (p *Provider) MapError(statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	var parsed anthropicErrorBody
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
	case 529: // Anthropic's overloaded status
		return errors.NewServiceUnavailableError(p.name, "", message)
	case http.StatusServiceUnavailable:
		return errors.NewServiceUnavailableError(p.name, "", message)
	default:
		return errors.NewUpstreamError(p.name, "", statusCode, message)
	}
}

// HealthRequest probes GET /v1/models.
func (p *Provider) HealthRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	return req, nil
}
