// Package api provides the gateway's HTTP handlers: the OpenAI-compatible
// completion endpoint plus the health and admin surfaces.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/modelrelay/modelrelay/internal/resilience"
	mrerrors "github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/types"
)

// maxRequestBodyBytes bounds the accepted request body size.
const maxRequestBodyBytes = 10 << 20

// Relay is the completion surface the handler fronts.
type Relay interface {
	ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
}

// StatusSource snapshots the circuit breaker states for the admin endpoint.
type StatusSource func() []resilience.BreakerStatus

// Handler serves the gateway HTTP API.
type Handler struct {
	relay     Relay
	status    StatusSource
	providers []string
	logger    *slog.Logger
}

// NewHandler creates an API handler. providers is the configured provider
// name list served by /v1/models.
func NewHandler(relay Relay, status StatusSource, providers []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relay:     relay,
		status:    status,
		providers: providers,
		logger:    logger,
	}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		h.writeError(w, mrerrors.NewInvalidRequestError("", "", "failed to read request body"))
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, mrerrors.NewInvalidRequestError("", "", "invalid JSON: "+err.Error()))
		return
	}
	if req.Model == "" {
		h.writeError(w, mrerrors.NewInvalidRequestError("", "", "model is required"))
		return
	}
	if len(req.Messages) == 0 {
		h.writeError(w, mrerrors.NewInvalidRequestError("", req.Model, "messages is required"))
		return
	}

	resp, err := h.relay.ChatCompletion(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if resp.Provider != "" {
		w.Header().Set("X-Served-By", resp.Provider)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ListModels handles GET /v1/models. The gateway does not track per-provider
// model catalogs, so the configured providers are listed as model owners.
func (h *Handler) ListModels(w http.ResponseWriter, _ *http.Request) {
	type model struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	data := make([]model, 0, len(h.providers))
	for _, name := range h.providers {
		data = append(data, model{
			ID:      name,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "modelrelay",
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

// CircuitBreakers handles GET /admin/circuit-breakers.
func (h *Handler) CircuitBreakers(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"breakers": h.status(),
	})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response", "error", err)
	}
}

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error body.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	detail := ErrorDetail{Message: err.Error(), Type: "internal_error"}

	var llmErr *mrerrors.LLMError
	var breakerErr *mrerrors.BreakerOpenError
	var rateLimitedErr *mrerrors.RateLimitedError
	switch {
	case errors.As(err, &llmErr):
		status = llmErr.HTTPStatusCode()
		detail = ErrorDetail{Message: llmErr.Message, Type: llmErr.Type}
	case errors.As(err, &breakerErr):
		status = http.StatusServiceUnavailable
		detail = ErrorDetail{Message: breakerErr.Error(), Type: mrerrors.TypeServiceUnavailable}
		w.Header().Set("Retry-After", retryAfterSeconds(breakerErr.RetryAfter))
	case errors.As(err, &rateLimitedErr):
		status = http.StatusTooManyRequests
		detail = ErrorDetail{Message: rateLimitedErr.Error(), Type: mrerrors.TypeRateLimit}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		detail = ErrorDetail{Message: "upstream request timed out", Type: mrerrors.TypeTimeout}
	}

	if status >= 500 {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, ErrorResponse{Error: detail})
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
