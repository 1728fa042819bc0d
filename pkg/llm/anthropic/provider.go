package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paygate-api/pkg/llm"
)

const (
	providerType   = "anthropic"
	defaultBaseURL = "https://api.anthropic.com"
	defaultVersion = "2023-06-01"

	// Anthropic requires max_tokens; applied when the caller leaves it unset.
	defaultMaxTokens = 4096
)

func init() {
	llm.RegisterProvider(providerType, func(name string, cfg *llm.ProviderConfig) (llm.Provider, error) {
		return New(name, cfg)
	})
}

// Provider adapts the Anthropic Messages API to the uniform contract.
type Provider struct {
	name       string
	baseURL    string
	apiKey     string
	version    string
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

// New constructs an Anthropic provider adapter.
func New(name string, cfg *llm.ProviderConfig, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("anthropic: config is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}
	retries := 0
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	p := &Provider{
		name:       name,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		version:    version,
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

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke performs a single synchronous Messages call.
func (p *Provider) Invoke(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildBody(req, false)
	if err != nil {
		return nil, err
	}

	var parsed messagesResponse
	err = p.retry.Do(ctx, func() error {
		resp, callErr := p.post(ctx, body)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()
		if perr := p.checkStatus(resp); perr != nil {
			return perr
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("anthropic: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	msg := llm.Message{Role: llm.RoleAssistant}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: llm.FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	usage := llm.Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	return &llm.ChatResponse{
		ID:      parsed.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []llm.Choice{{
			Message:      msg,
			FinishReason: mapStopReason(parsed.StopReason),
		}},
		Usage: usage,
	}, nil
}

// Stream performs a streaming Messages call. Tool-use input fragments arrive
// as partial JSON keyed by block index; they are buffered until the block
// stops and then emitted as one complete tool-call delta.
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
		resp.Body.Close()
		return nil, perr
	}

	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := p.consumeStream(resp.Body, req.Model, out); err != nil {
			p.logger.Error(ctx, fmt.Errorf("anthropic stream failed: %w", err), llm.Fields{"provider": p.name})
			out <- llm.StreamEvent{Err: llm.NewProviderError(p.name, llm.ErrKindUnavailable, 0, err.Error())}
		}
	}()
	return out, nil
}

type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message struct {
		ID    string `json:"id"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`

	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`

	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type toolBlock struct {
	id   string
	name string
	args strings.Builder
}

func (p *Provider) consumeStream(r io.Reader, model string, out chan<- llm.StreamEvent) error {
	var (
		msgID        string
		created      = time.Now().Unix()
		inputTokens  int
		outputTokens int
		stopReason   string
		sentRole     bool
		sawToolCalls bool
		toolBlocks   = map[int]*toolBlock{}
	)

	emit := func(choice llm.ChunkChoice, usage *llm.Usage) {
		out <- llm.StreamEvent{Chunk: &llm.ChatChunk{
			ID:      msgID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []llm.ChunkChoice{choice},
			Usage:   usage,
		}}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			msgID = ev.Message.ID
			inputTokens = ev.Message.Usage.InputTokens
			outputTokens = ev.Message.Usage.OutputTokens
			if !sentRole {
				emit(llm.ChunkChoice{Delta: llm.Delta{Role: llm.RoleAssistant}}, nil)
				sentRole = true
			}
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				toolBlocks[ev.Index] = &toolBlock{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					emit(llm.ChunkChoice{Delta: llm.Delta{Content: ev.Delta.Text}}, nil)
				}
			case "input_json_delta":
				if block, ok := toolBlocks[ev.Index]; ok {
					block.args.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if block, ok := toolBlocks[ev.Index]; ok {
				delete(toolBlocks, ev.Index)
				args := block.args.String()
				if args == "" {
					args = "{}"
				}
				sawToolCalls = true
				emit(llm.ChunkChoice{Delta: llm.Delta{ToolCalls: []llm.ToolCall{{
					Index:    ev.Index,
					ID:       block.id,
					Type:     "function",
					Function: llm.FunctionCall{Name: block.name, Arguments: args},
				}}}}, nil)
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
			if ev.Usage.OutputTokens > 0 {
				outputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			reason := mapStopReason(stopReason)
			if sawToolCalls && reason == llm.FinishStop {
				reason = llm.FinishToolCalls
			}
			emit(llm.ChunkChoice{FinishReason: reason}, &llm.Usage{
				PromptTokens:     inputTokens,
				CompletionTokens: outputTokens,
				TotalTokens:      inputTokens + outputTokens,
			})
			return nil
		case "error":
			return fmt.Errorf("%s: %s", ev.Error.Type, ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without message_stop")
}

func (p *Provider) post(ctx context.Context, body map[string]any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)
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
	var wrapper struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Error.Message != "" {
		msg = wrapper.Error.Message
	}
	perr := llm.NewProviderError(p.name, llm.ClassifyStatus(resp.StatusCode), resp.StatusCode, msg)
	if ra := resp.Header.Get("retry-after"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			perr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return perr
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) (map[string]any, error) {
	var system string
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			// System turns travel via the top-level system field.
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case llm.RoleTool:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}
			// Fold consecutive tool results into one user turn.
			if n := len(msgs); n > 0 && msgs[n-1]["role"] == "user" {
				if blocks, ok := msgs[n-1]["content"].([]map[string]any); ok && len(blocks) > 0 && blocks[0]["type"] == "tool_result" {
					msgs[n-1]["content"] = append(blocks, block)
					continue
				}
			}
			msgs = append(msgs, map[string]any{
				"role":    "user",
				"content": []map[string]any{block},
			})
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				msgs = append(msgs, map[string]any{"role": "assistant", "content": m.Content})
				continue
			}
			blocks := make([]map[string]any, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Function.Name,
					"input": input,
				})
			}
			msgs = append(msgs, map[string]any{"role": "assistant", "content": blocks})
		default:
			content, err := userContent(m)
			if err != nil {
				return nil, llm.NewProviderError(p.name, llm.ErrKindInvalidRequest, 0, err.Error())
			}
			msgs = append(msgs, map[string]any{"role": "user", "content": content})
		}
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	_, model := llm.ParseModelID(req.Model)
	body := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages":   msgs,
	}
	if system != "" {
		body["system"] = system
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		body["top_p"] = *req.TopP
	}
	if req.TopK != nil {
		body["top_k"] = *req.TopK
	}
	if len(req.Stop) > 0 {
		body["stop_sequences"] = req.Stop
	}
	if len(req.Tools) > 0 && (req.ToolChoice == nil || req.ToolChoice.Mode != llm.ToolChoiceNone) {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			schema := t.Function.Parameters
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools = append(tools, map[string]any{
				"name":         t.Function.Name,
				"description":  t.Function.Description,
				"input_schema": schema,
			})
		}
		body["tools"] = tools
		if req.ToolChoice != nil && req.ToolChoice.Mode == llm.ToolChoiceFunction {
			body["tool_choice"] = map[string]any{"type": "tool", "name": req.ToolChoice.Name}
		} else {
			body["tool_choice"] = map[string]any{"type": "auto"}
		}
	}
	if stream {
		body["stream"] = true
	}
	return body, nil
}

func userContent(m llm.Message) (any, error) {
	if len(m.Parts) == 0 {
		return m.Content, nil
	}
	blocks := make([]map[string]any, 0, len(m.Parts)+1)
	if m.Content != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
	}
	for _, part := range m.Parts {
		switch part.Type {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": part.Text})
		case "image_url":
			if part.ImageURL == nil {
				return nil, fmt.Errorf("image_url part requires image_url")
			}
			blocks = append(blocks, imageBlock(part.ImageURL.URL))
		default:
			return nil, fmt.Errorf("unsupported content part %q", part.Type)
		}
	}
	return blocks, nil
}

func imageBlock(url string) map[string]any {
	// Inline data URIs become base64 source blocks; anything else is fetched
	// by the backend from the URL.
	if strings.HasPrefix(url, "data:") {
		mediaType := "image/png"
		payload := url
		if idx := strings.Index(url, ";base64,"); idx > 0 {
			mediaType = strings.TrimPrefix(url[:idx], "data:")
			payload = url[idx+len(";base64,"):]
		}
		return map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": mediaType,
				"data":       payload,
			},
		}
	}
	return map[string]any{
		"type":   "image",
		"source": map[string]any{"type": "url", "url": url},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCalls
	case "refusal":
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}
