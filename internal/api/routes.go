package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelrelay/modelrelay/internal/observability"
)

// RouterConfig controls optional route surfaces.
type RouterConfig struct {
	MetricsEnabled bool
	MetricsPath    string
}

// NewRouter assembles the gateway mux with request ID and access log
// middleware applied to every route.
func (h *Handler) NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("GET /v1/models", h.ListModels)
	mux.HandleFunc("GET /admin/circuit-breakers", h.CircuitBreakers)
	mux.HandleFunc("GET /healthz", h.Health)

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.Handler())
	}

	var handler http.Handler = mux
	handler = h.accessLog(handler)
	handler = observability.RequestIDMiddleware(handler)
	return handler
}
