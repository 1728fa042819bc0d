package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"paygate-api/pkg/llm"
)

func testProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := New("anthropic", &llm.ProviderConfig{
		APIKey:  "sk-ant-test",
		BaseURL: server.URL,
		Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	return p
}

func TestInvoke(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		require.Equal(t, defaultVersion, r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "claude-sonnet-4", body["model"])
		require.Equal(t, "be brief", body["system"])
		require.EqualValues(t, defaultMaxTokens, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1",
			"model": "claude-sonnet-4",
			"content": [{"type":"text","text":"4"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens":5,"output_tokens":1}
		}`)
	})

	resp, err := p.Invoke(context.Background(), &llm.ChatRequest{
		Model: "anthropic/claude-sonnet-4",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be brief"},
			{Role: llm.RoleUser, Content: "2+2?"},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	require.Equal(t, "4", resp.Choices[0].Message.Content)
	require.Equal(t, llm.FinishStop, resp.Choices[0].FinishReason)
	require.Equal(t, llm.Usage{PromptTokens: 5, CompletionTokens: 1, TotalTokens: 6}, resp.Usage)
}

func TestInvokeToolUse(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_2",
			"model": "claude-sonnet-4",
			"content": [
				{"type":"text","text":"Looking that up."},
				{"type":"tool_use","id":"toolu_1","name":"search__lookup","input":{"q":"go"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens":20,"output_tokens":9}
		}`)
	})

	resp, err := p.Invoke(context.Background(), &llm.ChatRequest{
		Model:    "anthropic/claude-sonnet-4",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "find go"}},
		Tools: []llm.Tool{{Type: "function", Function: llm.ToolFunction{
			Name: "search__lookup",
		}}},
	})
	require.NoError(t, err)
	require.Equal(t, llm.FinishToolCalls, resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	call := resp.Choices[0].Message.ToolCalls[0]
	require.Equal(t, "toolu_1", call.ID)
	require.Equal(t, "search__lookup", call.Function.Name)
	require.JSONEq(t, `{"q":"go"}`, call.Function.Arguments)
}

func anthropicSSE(events ...string) string {
	out := ""
	for _, ev := range events {
		out += "data: " + ev + "\n\n"
	}
	return out
}

func TestStreamAssemblesToolInput(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, anthropicSSE(
			`{"type":"message_start","message":{"id":"msg_3","usage":{"input_tokens":20,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_2","name":"search__lookup"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"go\"}"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":9}}`,
			`{"type":"message_stop"}`,
		))
	})

	events, err := p.Stream(context.Background(), &llm.ChatRequest{
		Model:    "anthropic/claude-sonnet-4",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "find go"}},
	})
	require.NoError(t, err)

	var calls []llm.ToolCall
	var terminal *llm.ChatChunk
	for ev := range events {
		require.NoError(t, ev.Err)
		for _, choice := range ev.Chunk.Choices {
			calls = append(calls, choice.Delta.ToolCalls...)
			if choice.FinishReason != "" {
				terminal = ev.Chunk
			}
		}
	}
	require.Len(t, calls, 1)
	require.Equal(t, "toolu_2", calls[0].ID)
	require.JSONEq(t, `{"q":"go"}`, calls[0].Function.Arguments)

	require.NotNil(t, terminal)
	require.Equal(t, llm.FinishToolCalls, terminal.Choices[0].FinishReason)
	require.NotNil(t, terminal.Usage)
	require.Equal(t, llm.Usage{PromptTokens: 20, CompletionTokens: 9, TotalTokens: 29}, *terminal.Usage)
}

func TestStreamText(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, anthropicSSE(
			`{"type":"message_start","message":{"id":"msg_4","usage":{"input_tokens":3,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"he"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"llo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		))
	})

	events, err := p.Stream(context.Background(), &llm.ChatRequest{
		Model:    "anthropic/claude-sonnet-4",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var content string
	var terminal *llm.ChatChunk
	for ev := range events {
		require.NoError(t, ev.Err)
		for _, choice := range ev.Chunk.Choices {
			content += choice.Delta.Content
			if choice.FinishReason != "" {
				terminal = ev.Chunk
			}
		}
	}
	require.Equal(t, "hello", content)
	require.NotNil(t, terminal)
	require.Equal(t, llm.FinishStop, terminal.Choices[0].FinishReason)
	require.Equal(t, 5, terminal.Usage.TotalTokens)
}

func TestStreamMidStreamError(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, anthropicSSE(
			`{"type":"message_start","message":{"id":"msg_5","usage":{"input_tokens":3,"output_tokens":0}}}`,
			`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
		))
	})

	events, err := p.Stream(context.Background(), &llm.ChatRequest{
		Model:    "anthropic/claude-sonnet-4",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var streamErr error
	for ev := range events {
		if ev.Err != nil {
			streamErr = ev.Err
		}
	}
	require.Error(t, streamErr)
	require.Equal(t, llm.ErrKindUnavailable, llm.KindOf(streamErr))
}

func TestCheckStatusAuthentication(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	})

	_, err := p.Invoke(context.Background(), &llm.ChatRequest{
		Model:    "anthropic/claude-sonnet-4",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	require.Equal(t, llm.ErrKindAuthentication, llm.KindOf(err))
}

func TestBuildBodyFoldsToolResults(t *testing.T) {
	p := testProvider(t, func(w http.ResponseWriter, r *http.Request) {})

	body, err := p.buildBody(&llm.ChatRequest{
		Model: "anthropic/claude-sonnet-4",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "weather in two cities"},
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
				{ID: "a", Type: "function", Function: llm.FunctionCall{Name: "wx__now", Arguments: `{"city":"x"}`}},
				{ID: "b", Type: "function", Function: llm.FunctionCall{Name: "wx__now", Arguments: `{"city":"y"}`}},
			}},
			{Role: llm.RoleTool, ToolCallID: "a", Content: "sunny"},
			{Role: llm.RoleTool, ToolCallID: "b", Content: "rain"},
		},
	}, false)
	require.NoError(t, err)

	msgs := body["messages"].([]map[string]any)
	require.Len(t, msgs, 3)
	require.Equal(t, "user", msgs[2]["role"])
	blocks := msgs[2]["content"].([]map[string]any)
	require.Len(t, blocks, 2)
	require.Equal(t, "tool_result", blocks[0]["type"])
	require.Equal(t, "a", blocks[0]["tool_use_id"])
	require.Equal(t, "b", blocks[1]["tool_use_id"])
}
