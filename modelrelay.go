// Package modelrelay is a resilient relay for LLM chat completion APIs.
//
// A Client fronts one or more upstream providers (OpenAI-compatible services,
// Anthropic) behind a single OpenAI-shaped request type. Every upstream call
// runs through a per-provider circuit breaker and retry loop, and when a
// provider cannot serve a request the client walks a configured fallback
// chain of (provider, model) targets until one succeeds.
//
// Library usage:
//
//	client, err := modelrelay.New(
//		modelrelay.WithProvider(config.ProviderConfig{
//			Name:   "openai",
//			Type:   "openai",
//			APIKey: os.Getenv("OPENAI_API_KEY"),
//		}),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	resp, err := client.ChatCompletion(ctx, &modelrelay.ChatRequest{
//		Model:    "gpt-4o",
//		Messages: []modelrelay.ChatMessage{modelrelay.TextMessage("user", "hi")},
//	})
//
// The cmd/server binary wraps the same client in an HTTP gateway with config
// hot reload, health probing, Prometheus metrics and an admin surface.
package modelrelay

import (
	"github.com/modelrelay/modelrelay/pkg/types"
)

// Version is the library version.
const Version = "1.0.0"

// Re-exported request/response types, so library users only import the root
// package.
type (
	ChatRequest   = types.ChatRequest
	ChatMessage   = types.ChatMessage
	ChatResponse  = types.ChatResponse
	Choice        = types.Choice
	Usage         = types.Usage
	StreamChunk   = types.StreamChunk
	StreamChoice  = types.StreamChoice
	StreamDelta   = types.StreamDelta
	Tool          = types.Tool
	ToolCall      = types.ToolCall
	StreamOptions = types.StreamOptions

	EmbeddingRequest  = types.EmbeddingRequest
	EmbeddingResponse = types.EmbeddingResponse
)

// TextMessage builds a ChatMessage with plain string content.
func TextMessage(role, text string) ChatMessage {
	return types.TextMessage(role, text)
}
