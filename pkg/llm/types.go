package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles accepted on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Uniform finish reasons. Every adapter maps its backend's terminal signal
// onto one of these.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// ChatRequest describes a provider-neutral completion invocation.
type ChatRequest struct {
	Model       string      `json:"model"`
	Messages    []Message   `json:"messages"`
	Temperature *float64    `json:"temperature,omitempty"`
	MaxTokens   *int        `json:"max_tokens,omitempty"`
	TopP        *float64    `json:"top_p,omitempty"`
	TopK        *int        `json:"top_k,omitempty"`
	Stop        []string    `json:"stop,omitempty"`
	Tools       []Tool      `json:"tools,omitempty"`
	ToolChoice  *ToolChoice `json:"tool_choice,omitempty"`
	Plugins     []string    `json:"plugins,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

// HasPlugin reports whether the request enabled a named plugin.
func (r *ChatRequest) HasPlugin(name string) bool {
	for _, p := range r.Plugins {
		if strings.EqualFold(strings.TrimSpace(p), name) {
			return true
		}
	}
	return false
}

// Message is one turn of the conversation. Content may be empty for
// assistant turns that only carry tool calls. Parts carries image content
// alongside (or instead of) plain text.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ContentPart is a single content segment of a multi-part message.
type ContentPart struct {
	Type     string    `json:"type"` // "text" | "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references image content either by URL or as an inline data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// Tool declares a callable function offered to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the function-calling schema of a tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceFunction = "function"
)

// ToolChoice expresses the caller's tool-selection intent. On the wire it is
// either a bare string ("auto"/"none") or an object forcing one function.
type ToolChoice struct {
	Mode string `json:"-"`
	Name string `json:"-"`
}

func (t *ToolChoice) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		switch mode {
		case ToolChoiceAuto, ToolChoiceNone:
			t.Mode = mode
			return nil
		default:
			return fmt.Errorf("llm: unsupported tool_choice %q", mode)
		}
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("llm: decode tool_choice: %w", err)
	}
	if obj.Function.Name == "" {
		return fmt.Errorf("llm: tool_choice object requires function.name")
	}
	t.Mode = ToolChoiceFunction
	t.Name = obj.Function.Name
	return nil
}

func (t ToolChoice) MarshalJSON() ([]byte, error) {
	switch t.Mode {
	case ToolChoiceAuto, ToolChoiceNone, "":
		mode := t.Mode
		if mode == "" {
			mode = ToolChoiceAuto
		}
		return json.Marshal(mode)
	case ToolChoiceFunction:
		return json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": t.Name},
		})
	default:
		return nil, fmt.Errorf("llm: unsupported tool_choice mode %q", t.Mode)
	}
}

// ToolCall is one function invocation requested by the model. Arguments is
// the complete JSON-encoded argument object; adapters never emit partial
// fragments here.
type ToolCall struct {
	Index    int          `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the called function name and its JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the uniform non-streaming result.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is a single completion alternative.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ToolCalls returns the tool calls of the first choice, if any.
func (r *ChatResponse) ToolCalls() []ToolCall {
	if r == nil || len(r.Choices) == 0 {
		return nil
	}
	return r.Choices[0].Message.ToolCalls
}

// ChatChunk is one incremental streaming event. The terminal chunk of a
// round carries a finish reason; usage appears only on the terminal chunk of
// the whole exchange.
type ChatChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice carries the delta of a streaming choice.
type ChunkChoice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta is the incremental update inside a chunk. Role appears once per
// round; content is appended; tool-call deltas carry complete argument JSON.
type Delta struct {
	Role      string     `json:"role,omitempty"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage summarises token accounting for one or more provider calls.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage sample, keeping TotalTokens consistent.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// StreamEvent is one element of a provider stream: either a chunk or a
// terminal error. The channel is closed after the last event.
type StreamEvent struct {
	Chunk *ChatChunk
	Err   error
}
