package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type staticProvider struct{ name string }

func (s *staticProvider) Name() string { return s.name }

func (s *staticProvider) Invoke(context.Context, *ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{}, nil
}

func (s *staticProvider) Stream(context.Context, *ChatRequest) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent)
	close(ch)
	return ch, nil
}

func TestParseModelID(t *testing.T) {
	cases := []struct {
		in, provider, name string
	}{
		{"openai/gpt-4o", "openai", "gpt-4o"},
		{"anthropic/claude-sonnet-4-20250514", "anthropic", "claude-sonnet-4-20250514"},
		{"gemini/models/extra", "gemini", "models/extra"},
		{"gpt-4o", "", "gpt-4o"},
	}
	for _, tc := range cases {
		provider, name := ParseModelID(tc.in)
		require.Equal(t, tc.provider, provider, tc.in)
		require.Equal(t, tc.name, name, tc.in)
	}
}

func TestRouterResolve(t *testing.T) {
	providers := map[string]Provider{
		"openai": &staticProvider{name: "openai"},
		"gemini": &staticProvider{name: "gemini"},
	}
	router, err := NewRouter(providers, "openai")
	require.NoError(t, err)

	p, bare, err := router.Resolve("gemini/gemini-2.5-flash")
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name())
	require.Equal(t, "gemini-2.5-flash", bare)

	p, bare, err = router.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())
	require.Equal(t, "gpt-4o-mini", bare)

	_, _, err = router.Resolve("mistral/large")
	require.Error(t, err)

	_, _, err = router.Resolve("")
	require.Error(t, err)
}

func TestRouterRequiresKnownDefault(t *testing.T) {
	_, err := NewRouter(map[string]Provider{"openai": &staticProvider{}}, "missing")
	require.Error(t, err)

	_, err = NewRouter(nil, "")
	require.Error(t, err)
}
