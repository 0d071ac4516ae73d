package fallback

import (
	"log/slog"
	"sync"
)

// Target is one (provider, model) pair in a fallback chain.
type Target struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ModelFallback is one configured model-level fallback entry. An empty
// Provider means the same provider the request started on.
type ModelFallback struct {
	Provider string
	Model    string
}

// Policy holds the fallback configuration of one provider.
type Policy struct {
	// Providers are tried in order after the model-level entries, each
	// carrying the original model.
	Providers []string
	// ModelFallbacks maps a model name to its ordered substitutes.
	ModelFallbacks map[string][]ModelFallback
}

// Resolver builds fallback chains from per-provider policies. It is pure
// data: resolving a chain performs no I/O and touches no breaker state, so
// the chain can be computed once per request up front.
type Resolver struct {
	logger *slog.Logger

	mu       sync.RWMutex
	policies map[string]Policy
}

// NewResolver creates a resolver with no policies.
func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:   logger,
		policies: make(map[string]Policy),
	}
}

// SetPolicies replaces all policies atomically. Called at startup and on
// config reload. The map keys are the set of known providers; fallback
// entries referring to providers outside this set are skipped at resolve
// time.
func (r *Resolver) SetPolicies(policies map[string]Policy) {
	copied := make(map[string]Policy, len(policies))
	for name, p := range policies {
		copied[name] = p
	}
	r.mu.Lock()
	r.policies = copied
	r.mu.Unlock()
}

// Chain returns the ordered fallback targets for a request that started on
// (primary, model). The primary itself is not included. Model-level
// fallbacks come first: they express "this model is degraded, use that one
// instead", which is more precise than switching providers. Provider-level
// fallbacks follow, carrying the original model. An empty chain means the
// request has nowhere else to go.
func (r *Resolver) Chain(primary, model string) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, ok := r.policies[primary]
	if !ok {
		return nil
	}

	var chain []Target
	for _, mf := range policy.ModelFallbacks[model] {
		target := Target{Provider: mf.Provider, Model: mf.Model}
		if target.Provider == "" {
			target.Provider = primary
		}
		if target.Provider != primary {
			if _, known := r.policies[target.Provider]; !known {
				r.logger.Warn("skipping model fallback to unknown provider",
					"primary", primary,
					"model", model,
					"fallback_provider", target.Provider,
					"fallback_model", target.Model,
				)
				continue
			}
		}
		chain = append(chain, target)
	}

	for _, p := range policy.Providers {
		if _, known := r.policies[p]; !known {
			r.logger.Warn("skipping fallback to unknown provider",
				"primary", primary,
				"fallback_provider", p,
			)
			continue
		}
		chain = append(chain, Target{Provider: p, Model: model})
	}
	return chain
}
