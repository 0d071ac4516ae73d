// Package events provides an asynchronous in-process event bus for resilience
// notifications: circuit breaker transitions, fallback activations, provider
// health changes. Publishing never blocks the request path; when subscribers
// fall behind, events are dropped and counted.
package events

import (
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	// EventBreakerStateChange is a circuit breaker transition.
	EventBreakerStateChange EventType = "breaker_state_change"
	// EventFallbackActivated means a request left its primary target.
	EventFallbackActivated EventType = "fallback_activated"
	// EventProviderUnhealthy is a failed background health probe.
	EventProviderUnhealthy EventType = "provider_unhealthy"
	// EventProviderRecovered is a successful probe after failures.
	EventProviderRecovered EventType = "provider_recovered"
	// EventConfigReloaded is a successful config hot reload.
	EventConfigReloaded EventType = "config_reloaded"
)

// Event is one bus message.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Provider  string         `json:"provider,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// New builds an event stamped with the current time.
func New(typ EventType, provider string, data map[string]any) Event {
	return Event{
		Type:      typ,
		Timestamp: time.Now(),
		Provider:  provider,
		Data:      data,
	}
}
