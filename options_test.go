package modelrelay

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/config"
)

func TestWithProviderAccumulates(t *testing.T) {
	cc := defaultClientConfig()
	WithProvider(config.ProviderConfig{Name: "a", Type: "openai"})(cc)
	WithProvider(config.ProviderConfig{Name: "b", Type: "anthropic"})(cc)
	require.Len(t, cc.Providers, 2)
	assert.Equal(t, "a", cc.Providers[0].Name)
	assert.Equal(t, "b", cc.Providers[1].Name)
}

func TestWithConfigTakesPrecedenceOverProviders(t *testing.T) {
	up := newChatUpstream(t, nil)
	cfg := &config.Config{Providers: []config.ProviderConfig{
		testProviderConfig("from-config", up.srv.URL),
	}}
	client, err := New(
		WithConfig(cfg),
		WithProvider(testProviderConfig("ignored", up.srv.URL)),
	)
	require.NoError(t, err)

	providers := client.Providers()
	require.Len(t, providers, 1)
	assert.Equal(t, "from-config", providers[0].Name())
}

func TestWithDefaultProviderMustExist(t *testing.T) {
	up := newChatUpstream(t, nil)
	_, err := New(
		WithProvider(testProviderConfig("primary", up.srv.URL)),
		WithDefaultProvider("nope"),
	)
	assert.Error(t, err)
}

func TestDefaultProviderIsFirstConfigured(t *testing.T) {
	a := newChatUpstream(t, nil)
	b := newChatUpstream(t, nil)
	client, err := New(
		WithProvider(testProviderConfig("a", a.srv.URL)),
		WithProvider(testProviderConfig("b", b.srv.URL)),
		WithLogger(slog.Default()),
	)
	require.NoError(t, err)

	primary, model := client.resolvePrimary("gpt-4o")
	assert.Equal(t, "a", primary)
	assert.Equal(t, "gpt-4o", model)
}
