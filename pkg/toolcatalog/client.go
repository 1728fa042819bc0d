package toolcatalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// ToolInfo is a tool declaration as reported by a tool server.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// CallResult is the outcome of a tool invocation. Content segments of type
// "text" carry the textual payload; other segments are serialized opaquely.
type CallResult struct {
	Content []ResultSegment `json:"content"`
	IsError bool            `json:"isError"`
}

// ResultSegment is one element of a tool result.
type ResultSegment struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data string `json:"data,omitempty"`
}

// Text concatenates text-typed segments; non-text segments are serialized
// as compact JSON so nothing is silently dropped.
func (r *CallResult) Text() string {
	var buf bytes.Buffer
	for _, seg := range r.Content {
		if seg.Type == "text" {
			buf.WriteString(seg.Text)
			continue
		}
		raw, err := json.Marshal(seg)
		if err != nil {
			continue
		}
		buf.Write(raw)
	}
	return buf.String()
}

// Client speaks JSON-RPC 2.0 to one tool server over a persistent HTTP
// connection. It holds no request-scoped state; concurrent calls are safe.
type Client struct {
	name       string
	url        string
	headers    map[string]string
	httpClient *http.Client
	seq        atomic.Int64
}

// NewClient constructs a tool-server client.
func NewClient(name string, cfg *ServerConfig) *Client {
	return &Client{
		name:       name,
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ListTools enumerates the server's callable tools.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("toolcatalog: %s: decode tools/list: %w", c.name, err)
	}
	return result.Tools, nil
}

// CallTool invokes a tool by its server-local name with JSON arguments.
func (c *Client) CallTool(ctx context.Context, tool string, arguments json.RawMessage) (*CallResult, error) {
	params := map[string]any{"name": tool}
	if len(arguments) > 0 {
		params["arguments"] = arguments
	}
	raw, err := c.call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var result CallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("toolcatalog: %s: decode tools/call: %w", c.name, err)
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: %s: encode %s: %w", c.name, method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: %s: build request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("toolcatalog: %s: %s: %w", c.name, method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("toolcatalog: %s: %s returned http %d", c.name, method, resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("toolcatalog: %s: decode %s response: %w", c.name, method, err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("toolcatalog: %s: %s failed (%d): %s", c.name, method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
