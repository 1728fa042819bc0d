package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"paygate-api/pkg/llm"
)

const (
	providerType   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

func init() {
	llm.RegisterProvider(providerType, func(name string, cfg *llm.ProviderConfig) (llm.Provider, error) {
		return New(name, cfg)
	})
}

// Provider adapts the Gemini generateContent API to the uniform contract.
// Gemini does not assign tool-call ids, so the adapter synthesizes them and
// recovers the function name for tool results by scanning the transcript.
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

// New constructs a Gemini provider adapter.
func New(name string, cfg *llm.ProviderConfig, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gemini: config is required")
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

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type part struct {
	Text         string `json:"text,omitempty"`
	FunctionCall *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall,omitempty"`
}

// Invoke performs a single synchronous generateContent call.
func (p *Provider) Invoke(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body, err := p.buildBody(req)
	if err != nil {
		return nil, err
	}
	_, model := llm.ParseModelID(req.Model)
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)

	var parsed generateResponse
	err = p.retry.Do(ctx, func() error {
		resp, callErr := p.post(ctx, url, body)
		if callErr != nil {
			return callErr
		}
		defer resp.Body.Close()
		if perr := p.checkStatus(resp); perr != nil {
			return perr
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("gemini: decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p.convert(&parsed, req.Model), nil
}

// Stream performs a streaming generateContent call over SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	body, err := p.buildBody(req)
	if err != nil {
		return nil, err
	}
	_, model := llm.ParseModelID(req.Model)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)

	resp, err := p.post(ctx, url, body)
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

		id := "chatcmpl-" + uuid.NewString()
		created := time.Now().Unix()
		sentRole := false
		finishReason := ""
		var usage llm.Usage
		var toolCalls []llm.ToolCall

		emit := func(choice llm.ChunkChoice, u *llm.Usage) {
			out <- llm.StreamEvent{Chunk: &llm.ChatChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []llm.ChunkChoice{choice},
				Usage:   u,
			}}
		}

		scanner := bufio.NewScanner(resp.Body)
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
			var ev generateResponse
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}
			if !sentRole {
				emit(llm.ChunkChoice{Delta: llm.Delta{Role: llm.RoleAssistant}}, nil)
				sentRole = true
			}
			if ev.UsageMetadata != nil {
				usage = llm.Usage{
					PromptTokens:     ev.UsageMetadata.PromptTokenCount,
					CompletionTokens: ev.UsageMetadata.CandidatesTokenCount,
					TotalTokens:      ev.UsageMetadata.TotalTokenCount,
				}
			}
			for _, cand := range ev.Candidates {
				for _, pt := range cand.Content.Parts {
					if pt.Text != "" {
						emit(llm.ChunkChoice{Delta: llm.Delta{Content: pt.Text}}, nil)
					}
					if pt.FunctionCall != nil {
						args, _ := json.Marshal(pt.FunctionCall.Args)
						call := llm.ToolCall{
							Index:    len(toolCalls),
							ID:       "call_" + uuid.NewString(),
							Type:     "function",
							Function: llm.FunctionCall{Name: pt.FunctionCall.Name, Arguments: string(args)},
						}
						toolCalls = append(toolCalls, call)
						emit(llm.ChunkChoice{Delta: llm.Delta{ToolCalls: []llm.ToolCall{call}}}, nil)
					}
				}
				if cand.FinishReason != "" {
					finishReason = cand.FinishReason
				}
			}
		}
		if err := scanner.Err(); err != nil {
			p.logger.Error(ctx, fmt.Errorf("gemini stream failed: %w", err), llm.Fields{"provider": p.name})
			out <- llm.StreamEvent{Err: llm.NewProviderError(p.name, llm.ErrKindUnavailable, 0, err.Error())}
			return
		}
		emit(llm.ChunkChoice{FinishReason: mapFinishReason(finishReason, len(toolCalls) > 0)}, &usage)
	}()
	return out, nil
}

func (p *Provider) post(ctx context.Context, url string, body map[string]any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)
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
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Error.Message != "" {
		msg = wrapper.Error.Message
	}
	return llm.NewProviderError(p.name, llm.ClassifyStatus(resp.StatusCode), resp.StatusCode, msg)
}

func (p *Provider) buildBody(req *llm.ChatRequest) (map[string]any, error) {
	// Tool results need the original function name; Gemini keys responses by
	// name rather than call id.
	callNames := map[string]string{}
	for _, m := range req.Messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Function.Name
		}
	}

	var systemParts []map[string]any
	contents := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, map[string]any{"text": m.Content})
		case llm.RoleAssistant:
			parts := make([]map[string]any, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				parts = append(parts, map[string]any{"text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]any{}
				}
				parts = append(parts, map[string]any{
					"functionCall": map[string]any{"name": tc.Function.Name, "args": args},
				})
			}
			contents = append(contents, map[string]any{"role": "model", "parts": parts})
		case llm.RoleTool:
			name := callNames[m.ToolCallID]
			if name == "" {
				return nil, llm.NewProviderError(p.name, llm.ErrKindInvalidRequest, 0,
					fmt.Sprintf("tool result %q does not match any tool call", m.ToolCallID))
			}
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{{
					"functionResponse": map[string]any{
						"name":     name,
						"response": map[string]any{"result": m.Content},
					},
				}},
			})
		default:
			parts, err := userParts(m)
			if err != nil {
				return nil, llm.NewProviderError(p.name, llm.ErrKindInvalidRequest, 0, err.Error())
			}
			contents = append(contents, map[string]any{"role": "user", "parts": parts})
		}
	}

	body := map[string]any{"contents": contents}
	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{"parts": systemParts}
	}

	genCfg := map[string]any{}
	if req.Temperature != nil {
		genCfg["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		genCfg["maxOutputTokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		genCfg["topP"] = *req.TopP
	}
	if req.TopK != nil {
		genCfg["topK"] = *req.TopK
	}
	if len(req.Stop) > 0 {
		genCfg["stopSequences"] = req.Stop
	}
	if len(genCfg) > 0 {
		body["generationConfig"] = genCfg
	}

	if len(req.Tools) > 0 && (req.ToolChoice == nil || req.ToolChoice.Mode != llm.ToolChoiceNone) {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			params := t.Function.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			decls = append(decls, map[string]any{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  params,
			})
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
		if req.ToolChoice != nil && req.ToolChoice.Mode == llm.ToolChoiceFunction {
			body["toolConfig"] = map[string]any{
				"functionCallingConfig": map[string]any{
					"mode":                 "ANY",
					"allowedFunctionNames": []string{req.ToolChoice.Name},
				},
			}
		}
	}
	return body, nil
}

func userParts(m llm.Message) ([]map[string]any, error) {
	parts := make([]map[string]any, 0, len(m.Parts)+1)
	if m.Content != "" {
		parts = append(parts, map[string]any{"text": m.Content})
	}
	for _, pt := range m.Parts {
		switch pt.Type {
		case "text":
			parts = append(parts, map[string]any{"text": pt.Text})
		case "image_url":
			if pt.ImageURL == nil {
				return nil, fmt.Errorf("image_url part requires image_url")
			}
			url := pt.ImageURL.URL
			if strings.HasPrefix(url, "data:") {
				mediaType := "image/png"
				payload := url
				if idx := strings.Index(url, ";base64,"); idx > 0 {
					mediaType = strings.TrimPrefix(url[:idx], "data:")
					payload = url[idx+len(";base64,"):]
				}
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": mediaType, "data": payload},
				})
			} else {
				parts = append(parts, map[string]any{
					"fileData": map[string]any{"fileUri": url},
				})
			}
		default:
			return nil, fmt.Errorf("unsupported content part %q", pt.Type)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}
	return parts, nil
}

func (p *Provider) convert(resp *generateResponse, model string) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	for i, cand := range resp.Candidates {
		msg := llm.Message{Role: llm.RoleAssistant}
		for _, pt := range cand.Content.Parts {
			if pt.Text != "" {
				msg.Content += pt.Text
			}
			if pt.FunctionCall != nil {
				args, _ := json.Marshal(pt.FunctionCall.Args)
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:       "call_" + uuid.NewString(),
					Type:     "function",
					Function: llm.FunctionCall{Name: pt.FunctionCall.Name, Arguments: string(args)},
				})
			}
		}
		out.Choices = append(out.Choices, llm.Choice{
			Index:        i,
			Message:      msg,
			FinishReason: mapFinishReason(cand.FinishReason, len(msg.ToolCalls) > 0),
		})
	}
	return out
}

func mapFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return llm.FinishToolCalls
	}
	switch reason {
	case "STOP", "":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishLength
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}
