package types

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestExtraPassthrough(t *testing.T) {
	raw := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}],"top_k":40,"repetition_penalty":1.1}`)

	var req ChatRequest
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "gpt-4o", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Extra, "top_k")
	assert.Contains(t, req.Extra, "repetition_penalty")

	out, err := json.Marshal(req)
	require.NoError(t, err)

	var roundTrip map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &roundTrip))
	assert.Contains(t, roundTrip, "top_k")
	assert.Contains(t, roundTrip, "model")
}

func TestChatRequestExtraNeverOverridesKnownFields(t *testing.T) {
	req := ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{TextMessage("user", "hello")},
		Extra:    map[string]json.RawMessage{"model": json.RawMessage(`"injected"`)},
	}

	out, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded struct {
		Model string `json:"model"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "gpt-4o-mini", decoded.Model)
}

func TestChatRequestNoExtra(t *testing.T) {
	var req ChatRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","messages":[]}`), &req))
	assert.Nil(t, req.Extra)
}

func TestTextMessage(t *testing.T) {
	msg := TextMessage("system", "be terse")
	assert.Equal(t, "system", msg.Role)

	var text string
	require.NoError(t, json.Unmarshal(msg.Content, &text))
	assert.Equal(t, "be terse", text)
}

func TestEmbeddingInputTexts(t *testing.T) {
	single := EmbeddingRequest{Input: json.RawMessage(`"one text"`)}
	texts, err := single.InputTexts()
	require.NoError(t, err)
	assert.Equal(t, []string{"one text"}, texts)

	many := EmbeddingRequest{Input: json.RawMessage(`["a","b"]`)}
	texts, err = many.InputTexts()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts)

	bad := EmbeddingRequest{Input: json.RawMessage(`42`)}
	_, err = bad.InputTexts()
	assert.Error(t, err)
}
