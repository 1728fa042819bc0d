package toolcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"paygate-api/pkg/llm"
)

// NameSeparator joins the owning server name and the tool's own name; the
// prefix is the sole signal the orchestrator uses to recognise a call as
// internal.
const NameSeparator = "__"

// Bridge exposes tools from one or more external tool servers as ordinary
// completion-time tool declarations. It is built once at startup and shared
// across requests.
type Bridge struct {
	clients map[string]*Client
	tools   []llm.Tool
	logger  llm.Logger
}

// NewBridge connects to every configured server and enumerates its tools.
// Individual connection failures are logged and skipped so one unreachable
// server cannot abort the rest.
func NewBridge(ctx context.Context, cfg *Config, logger llm.Logger) *Bridge {
	if logger == nil {
		logger = llm.NopLogger{}
	}
	b := &Bridge{
		clients: make(map[string]*Client),
		logger:  logger,
	}
	for name, sc := range cfg.Servers {
		client := NewClient(name, sc)
		tools, err := client.ListTools(ctx)
		if err != nil {
			logger.Error(ctx, fmt.Errorf("toolcatalog: connect %s: %w", name, err), llm.Fields{"server": name})
			continue
		}
		b.clients[name] = client
		allowed := allowSet(sc.Allow)
		for _, info := range tools {
			if allowed != nil && !allowed[info.Name] {
				continue
			}
			schema := info.InputSchema
			if schema == nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			b.tools = append(b.tools, llm.Tool{
				Type: "function",
				Function: llm.ToolFunction{
					Name:        name + NameSeparator + info.Name,
					Description: info.Description,
					Parameters:  schema,
				},
			})
		}
		logger.Info(ctx, "toolcatalog: server connected", llm.Fields{"server": name, "tools": len(tools)})
	}
	return b
}

func allowSet(allow []string) map[string]bool {
	if len(allow) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allow))
	for _, name := range allow {
		set[name] = true
	}
	return set
}

// Declarations returns the prefixed tool declarations for merging into a
// completion request.
func (b *Bridge) Declarations() []llm.Tool {
	out := make([]llm.Tool, len(b.tools))
	copy(out, b.tools)
	return out
}

// IsInternal reports whether a tool name belongs to a connected server,
// judged solely by its prefix.
func (b *Bridge) IsInternal(name string) bool {
	server, _, ok := splitName(name)
	if !ok {
		return false
	}
	_, connected := b.clients[server]
	return connected
}

// Execute forwards a prefixed tool call to its owning server and returns the
// textual result.
func (b *Bridge) Execute(ctx context.Context, name string, arguments string) (string, error) {
	server, tool, ok := splitName(name)
	if !ok {
		return "", fmt.Errorf("toolcatalog: %q is not a catalog tool", name)
	}
	client, connected := b.clients[server]
	if !connected {
		return "", fmt.Errorf("toolcatalog: server %q is not connected", server)
	}
	var args json.RawMessage
	if strings.TrimSpace(arguments) != "" {
		args = json.RawMessage(arguments)
	}
	result, err := client.CallTool(ctx, tool, args)
	if err != nil {
		return "", err
	}
	text := result.Text()
	if result.IsError {
		return "", fmt.Errorf("toolcatalog: %s failed: %s", name, text)
	}
	return text, nil
}

func splitName(name string) (server, tool string, ok bool) {
	parts := strings.SplitN(name, NameSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
