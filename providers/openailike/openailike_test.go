package openailike

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mrerrors "github.com/modelrelay/modelrelay/pkg/errors"
	"github.com/modelrelay/modelrelay/pkg/provider"
	"github.com/modelrelay/modelrelay/pkg/types"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(provider.Config{
		Name:    "openai",
		APIKey:  "sk-test",
		BaseURL: "https://example.test/v1/",
		Headers: map[string]string{"X-Org": "acme"},
	})
	require.NoError(t, err)
	return p
}

func TestNewRequiresName(t *testing.T) {
	_, err := New(provider.Config{})
	assert.Error(t, err)
}

func TestBuildRequest(t *testing.T) {
	p := newTestProvider(t)

	req := &types.ChatRequest{
		Model:    "gpt-4o",
		Messages: []types.ChatMessage{types.TextMessage("user", "hi")},
	}
	httpReq, err := p.BuildRequest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, httpReq.Method)
	assert.Equal(t, "https://example.test/v1/chat/completions", httpReq.URL.String())
	assert.Equal(t, "Bearer sk-test", httpReq.Header.Get("Authorization"))
	assert.Equal(t, "application/json", httpReq.Header.Get("Content-Type"))
	assert.Equal(t, "acme", httpReq.Header.Get("X-Org"))

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Contains(t, decoded, "model")
	assert.Contains(t, decoded, "messages")
}

func TestParseResponse(t *testing.T) {
	p := newTestProvider(t)

	raw := `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1726000000,
		"model": "gpt-4o",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "\"hello\""}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`
	resp := &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(raw))}

	out, err := p.ParseResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, "chatcmpl-1", out.ID)
	assert.Equal(t, "openai", out.Provider)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)
	assert.Equal(t, 15, out.Usage.TotalTokens)
}

func TestMapError(t *testing.T) {
	p := newTestProvider(t)

	body := []byte(`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`)
	err := p.MapError(401, body)

	var llmErr *mrerrors.LLMError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, 401, llmErr.StatusCode)
	assert.Equal(t, "Incorrect API key provided", llmErr.Message)
	assert.Equal(t, "openai", llmErr.Provider)
	assert.False(t, llmErr.Retryable)
}

func TestMapErrorStatuses(t *testing.T) {
	p := newTestProvider(t)
	cases := []struct {
		status    int
		errType   string
		retryable bool
	}{
		{401, mrerrors.TypeAuthentication, false},
		{429, mrerrors.TypeRateLimit, false},
		{400, mrerrors.TypeInvalidRequest, false},
		{404, mrerrors.TypeNotFound, false},
		{503, mrerrors.TypeServiceUnavailable, true},
		{502, mrerrors.TypeUpstreamError, true},
		{500, mrerrors.TypeUpstreamError, true},
	}
	for _, tc := range cases {
		var llmErr *mrerrors.LLMError
		require.ErrorAs(t, p.MapError(tc.status, []byte("oops")), &llmErr)
		assert.Equal(t, tc.errType, llmErr.Type, "status %d", tc.status)
		assert.Equal(t, tc.retryable, llmErr.Retryable, "status %d", tc.status)
	}
}

func TestMapErrorUnparseableBody(t *testing.T) {
	p := newTestProvider(t)
	var llmErr *mrerrors.LLMError
	require.ErrorAs(t, p.MapError(500, []byte("<html>gateway error</html>")), &llmErr)
	assert.Contains(t, llmErr.Message, "gateway error")
}

func TestHealthRequest(t *testing.T) {
	p := newTestProvider(t)

	req, err := p.HealthRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://example.test/v1/models", req.URL.String())
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
}
