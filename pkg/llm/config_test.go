package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromReader(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-test")

	doc := `
default: openai
max_retries: 3
providers:
  openai:
    type: openai
    api_key: ${TEST_LLM_KEY}
    timeout: 90s
  anthropic:
    type: anthropic
    api_key: other
`
	cfg, err := LoadConfigFromReader(strings.NewReader(doc))
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Default)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	require.Equal(t, "90s", cfg.Providers["openai"].TimeoutRaw)
	require.Equal(t, defaultTimeout, cfg.Providers["anthropic"].Timeout)
}

func TestLoadConfigRejectsUnknownDefault(t *testing.T) {
	doc := `
default: missing
providers:
  openai:
    type: openai
`
	_, err := LoadConfigFromReader(strings.NewReader(doc))
	require.Error(t, err)
}

func TestLoadConfigRequiresProviderType(t *testing.T) {
	doc := `
providers:
  broken:
    api_key: x
`
	_, err := LoadConfigFromReader(strings.NewReader(doc))
	require.Error(t, err)
}

func TestRetriesPrefersProviderOverride(t *testing.T) {
	two := 2
	cfg := &Config{MaxRetries: 5}
	require.Equal(t, 5, cfg.Retries(&ProviderConfig{}))
	require.Equal(t, 2, cfg.Retries(&ProviderConfig{MaxRetries: &two}))
}
