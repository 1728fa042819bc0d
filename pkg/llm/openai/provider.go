package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	oa "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"paygate-api/pkg/llm"
)

const (
	providerType   = "openai"
	defaultBaseURL = "https://api.openai.com/v1"
)

func init() {
	llm.RegisterProvider(providerType, func(name string, cfg *llm.ProviderConfig) (llm.Provider, error) {
		return New(name, cfg)
	})
}

// Provider adapts OpenAI-compatible chat-completions backends to the
// uniform contract. Requests are posted as raw JSON so tool declarations and
// stream options stay under our control; responses decode through the SDK's
// wire types.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      *llm.RetryHandler
	logger     llm.Logger
}

// Option customises the provider.
type Option func(*Provider)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		if c != nil {
			p.httpClient = c
		}
	}
}

// WithLogger attaches a custom logger.
func WithLogger(l llm.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New constructs an OpenAI provider adapter.
func New(name string, cfg *llm.ProviderConfig, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("openai: config is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	retries := 0
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	p := &Provider{
		name:       name,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      llm.NewRetryHandler(llm.RetryConfig{MaxRetries: retries}),
		logger:     llm.NewLogger("info"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

// Invoke performs a single synchronous completion call.
func (p *Provider) Invoke(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, err
	}

	var completion oa.ChatCompletion
	err = p.retry.Do(ctx, func() error {
		resp, callErr := p.post(ctx, body)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()
		if perr := p.checkStatus(resp); perr != nil {
			io.Copy(io.Discard, resp.Body)
			return perr
		}
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("openai: read response: %w", readErr)
		}
		if err := json.Unmarshal(data, &completion); err != nil {
			return fmt.Errorf("openai: decode completion: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.convertCompletion(&completion), nil
}

// Stream initiates a streaming completion. Partial tool-call argument
// fragments are buffered per index and flushed as one complete delta when the
// round terminates, so downstream consumers never see invalid JSON arguments.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	body, err := p.buildBody(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if perr := p.checkStatus(resp); perr != nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, perr
	}

	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		stream := ssestream.NewStream[oa.ChatCompletionChunk](ssestream.NewDecoder(resp), nil)
		defer stream.Close()

		// The backend delivers the finish chunk and the usage chunk
		// separately; the terminal chunk we emit carries both.
		var terminal *llm.ChatChunk
		acc := newToolCallAccumulator()
		for stream.Next() {
			chunk := stream.Current()
			delta, flush, finish := p.convertChunk(&chunk, acc)
			if flush != nil {
				out <- llm.StreamEvent{Chunk: flush}
			}
			if finish != nil {
				if terminal != nil && terminal.Usage != nil {
					finish.Usage = terminal.Usage
				}
				terminal = finish
				continue
			}
			if delta != nil {
				if len(delta.Choices) == 0 && delta.Usage != nil {
					// Trailing usage-only chunk: fold into the terminal.
					if terminal != nil {
						terminal.Usage = delta.Usage
					} else {
						terminal = delta
					}
					continue
				}
				out <- llm.StreamEvent{Chunk: delta}
			}
		}
		if err := stream.Err(); err != nil {
			p.logger.Error(ctx, fmt.Errorf("openai stream failed: %w", err), llm.Fields{"provider": p.name})
			out <- llm.StreamEvent{Err: llm.NewProviderError(p.name, llm.ErrKindUnavailable, 0, err.Error())}
			return
		}
		if terminal != nil {
			out <- llm.StreamEvent{Chunk: terminal}
		}
	}()
	return out, nil
}

func (p *Provider) post(ctx context.Context, body map[string]any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.NewProviderError(p.name, llm.ErrKindUnavailable, 0, err.Error())
	}
	return resp, nil
}

func (p *Provider) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := extractErrorMessage(data)
	perr := llm.NewProviderError(p.name, llm.ClassifyStatus(resp.StatusCode), resp.StatusCode, msg)
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			perr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return perr
}

func extractErrorMessage(data []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) (map[string]any, error) {
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		item := map[string]any{"role": m.Role}
		switch m.Role {
		case llm.RoleTool:
			item["content"] = m.Content
			item["tool_call_id"] = m.ToolCallID
		case llm.RoleAssistant:
			if m.Content != "" {
				item["content"] = m.Content
			} else {
				item["content"] = nil
			}
			if len(m.ToolCalls) > 0 {
				calls := make([]map[string]any, 0, len(m.ToolCalls))
				for _, tc := range m.ToolCalls {
					calls = append(calls, map[string]any{
						"id":   tc.ID,
						"type": "function",
						"function": map[string]any{
							"name":      tc.Function.Name,
							"arguments": tc.Function.Arguments,
						},
					})
				}
				item["tool_calls"] = calls
			}
		default:
			if len(m.Parts) > 0 {
				parts := make([]map[string]any, 0, len(m.Parts))
				if m.Content != "" {
					parts = append(parts, map[string]any{"type": "text", "text": m.Content})
				}
				for _, part := range m.Parts {
					switch part.Type {
					case "text":
						parts = append(parts, map[string]any{"type": "text", "text": part.Text})
					case "image_url":
						if part.ImageURL == nil {
							return nil, llm.NewProviderError(p.name, llm.ErrKindInvalidRequest, 0, "image_url part requires image_url")
						}
						parts = append(parts, map[string]any{
							"type":      "image_url",
							"image_url": map[string]any{"url": part.ImageURL.URL},
						})
					default:
						return nil, llm.NewProviderError(p.name, llm.ErrKindInvalidRequest, 0, fmt.Sprintf("unsupported content part %q", part.Type))
					}
				}
				item["content"] = parts
			} else {
				item["content"] = m.Content
			}
		}
		msgs = append(msgs, item)
	}

	_, model := llm.ParseModelID(req.Model)
	body := map[string]any{
		"model":    model,
		"messages": msgs,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		body["stop"] = req.Stop
	}
	if len(req.Tools) > 0 && (req.ToolChoice == nil || req.ToolChoice.Mode != llm.ToolChoiceNone) {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Function.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Function.Name,
					"description": t.Function.Description,
					"parameters":  params,
				},
			})
		}
		body["tools"] = tools
		if req.ToolChoice != nil {
			switch req.ToolChoice.Mode {
			case llm.ToolChoiceAuto, "":
				body["tool_choice"] = "auto"
			case llm.ToolChoiceFunction:
				body["tool_choice"] = map[string]any{
					"type":     "function",
					"function": map[string]any{"name": req.ToolChoice.Name},
				}
			}
		}
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	return body, nil
}

func (p *Provider) convertCompletion(resp *oa.ChatCompletion) *llm.ChatResponse {
	result := &llm.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, choice := range resp.Choices {
		msg := llm.Message{
			Role:    llm.RoleAssistant,
			Content: choice.Message.Content,
		}
		for _, call := range choice.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   call.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
				},
			})
		}
		result.Choices = append(result.Choices, llm.Choice{
			Index:        int(choice.Index),
			Message:      msg,
			FinishReason: mapFinishReason(choice.FinishReason, len(msg.ToolCalls) > 0),
		})
	}
	return result
}

// convertChunk translates one upstream chunk into, in order: a content
// delta, a flush chunk carrying completed tool calls, and the round's finish
// chunk. At most one of delta/finish is non-nil per call.
func (p *Provider) convertChunk(chunk *oa.ChatCompletionChunk, acc *toolCallAccumulator) (delta, flush, finish *llm.ChatChunk) {
	out := &llm.ChatChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: chunk.Created,
		Model:   chunk.Model,
	}
	if chunk.Usage.TotalTokens > 0 {
		out.Usage = &llm.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}

	isFinish := false
	for _, choice := range chunk.Choices {
		for _, call := range choice.Delta.ToolCalls {
			acc.add(int(call.Index), call.ID, call.Function.Name, call.Function.Arguments)
		}
		cc := llm.ChunkChoice{
			Index: int(choice.Index),
			Delta: llm.Delta{
				Role:    choice.Delta.Role,
				Content: choice.Delta.Content,
			},
		}
		if choice.FinishReason != "" {
			isFinish = true
			completed := acc.flush()
			if len(completed) > 0 {
				flush = &llm.ChatChunk{
					ID:      chunk.ID,
					Object:  "chat.completion.chunk",
					Created: chunk.Created,
					Model:   chunk.Model,
					Choices: []llm.ChunkChoice{{
						Index: int(choice.Index),
						Delta: llm.Delta{ToolCalls: completed},
					}},
				}
			}
			cc.FinishReason = mapFinishReason(choice.FinishReason, len(completed) > 0)
		}
		out.Choices = append(out.Choices, cc)
	}
	if len(out.Choices) == 0 && out.Usage == nil {
		return nil, flush, nil
	}
	if isFinish {
		return nil, flush, out
	}
	return out, flush, nil
}

func mapFinishReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	case "content_filter":
		return llm.FinishContentFilter
	default:
		if hasToolCalls {
			return llm.FinishToolCalls
		}
		return llm.FinishStop
	}
}

// toolCallAccumulator buffers streamed tool-call fragments keyed by index
// until the round closes.
type toolCallAccumulator struct {
	order []int
	calls map[int]*llm.ToolCall
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*llm.ToolCall)}
}

func (a *toolCallAccumulator) add(index int, id, name, argFragment string) {
	call, ok := a.calls[index]
	if !ok {
		call = &llm.ToolCall{Index: index, Type: "function"}
		a.calls[index] = call
		a.order = append(a.order, index)
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Function.Name = name
	}
	call.Function.Arguments += argFragment
}

func (a *toolCallAccumulator) flush() []llm.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		call := a.calls[idx]
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		out = append(out, *call)
	}
	a.order = nil
	a.calls = make(map[int]*llm.ToolCall)
	return out
}
