package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToolChoiceDecoding(t *testing.T) {
	var req ChatRequest
	err := json.Unmarshal([]byte(`{"model":"x","tool_choice":"auto"}`), &req)
	require.NoError(t, err)
	require.Equal(t, ToolChoiceAuto, req.ToolChoice.Mode)

	err = json.Unmarshal([]byte(`{"model":"x","tool_choice":{"type":"function","function":{"name":"lookup"}}}`), &req)
	require.NoError(t, err)
	require.Equal(t, ToolChoiceFunction, req.ToolChoice.Mode)
	require.Equal(t, "lookup", req.ToolChoice.Name)

	err = json.Unmarshal([]byte(`{"model":"x","tool_choice":"required"}`), &req)
	require.Error(t, err)
}

func TestHasPlugin(t *testing.T) {
	req := ChatRequest{Plugins: []string{"Tool_Catalog", "other"}}
	require.True(t, req.HasPlugin("tool_catalog"))
	require.False(t, req.HasPlugin("missing"))
}

func TestUsageAddKeepsTotalConsistent(t *testing.T) {
	var u Usage
	u.Add(Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6})
	u.Add(Usage{PromptTokens: 10, CompletionTokens: 4, TotalTokens: 14})
	require.Equal(t, 15, u.PromptTokens)
	require.Equal(t, 5, u.CompletionTokens)
	require.Equal(t, 20, u.TotalTokens)
}

func TestClassifyStatus(t *testing.T) {
	require.Equal(t, ErrKindAuthentication, ClassifyStatus(401))
	require.Equal(t, ErrKindAuthentication, ClassifyStatus(403))
	require.Equal(t, ErrKindRateLimit, ClassifyStatus(429))
	require.Equal(t, ErrKindUnavailable, ClassifyStatus(503))
	require.Equal(t, ErrKindInvalidRequest, ClassifyStatus(400))
}
