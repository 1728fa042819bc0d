package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"paygate-api/pkg/llm"
)

const (
	// PluginToolCatalog is the request plugin flag that merges the external
	// tool catalog into the completion.
	PluginToolCatalog = "tool_catalog"

	// DefaultMaxToolRounds bounds the agentic loop against a model that
	// calls tools indefinitely.
	DefaultMaxToolRounds = 10
)

// Catalog is the orchestrator's view of the tool catalog bridge.
type Catalog interface {
	Declarations() []llm.Tool
	IsInternal(name string) bool
	Execute(ctx context.Context, name string, arguments string) (string, error)
}

// Caller is the resolved identity attached to a granted request, used for
// usage attribution and system-prompt substitution.
type Caller struct {
	UserID string
	Wallet string
}

// Orchestrator builds provider-neutral parameters, drives the bounded
// tool-execution loop against the selected adapter, and accumulates usage
// across every provider call in the exchange.
type Orchestrator struct {
	router       *llm.Router
	catalog      Catalog
	maxRounds    int
	systemPrompt string
	logger       llm.Logger
}

// Option customises the orchestrator.
type Option func(*Orchestrator)

// WithCatalog attaches the tool catalog bridge.
func WithCatalog(c Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithMaxToolRounds overrides the agentic loop bound.
func WithMaxToolRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithSystemPrompt injects a system message when the tool catalog plugin is
// enabled. The {{wallet}} and {{user}} placeholders are substituted from the
// caller identity.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) { o.systemPrompt = prompt }
}

// WithLogger attaches a custom logger.
func WithLogger(l llm.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New constructs an orchestrator over the provider routing table.
func New(router *llm.Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:    router,
		maxRounds: DefaultMaxToolRounds,
		logger:    llm.NewLogger("info"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Complete runs the non-streaming path: provider calls interleaved with tool
// rounds until the model stops calling internal tools, the batch contains an
// external call, or the round bound is hit.
func (o *Orchestrator) Complete(ctx context.Context, req *llm.ChatRequest, caller Caller) (*llm.ChatResponse, error) {
	provider, _, err := o.router.Resolve(req.Model)
	if err != nil {
		return nil, llm.NewProviderError("router", llm.ErrKindInvalidRequest, 0, err.Error())
	}
	working := o.dispatch(req, caller)

	var total llm.Usage
	for round := 0; ; round++ {
		resp, err := provider.Invoke(ctx, working)
		if err != nil {
			return nil, err
		}
		total.Add(resp.Usage)

		calls := resp.ToolCalls()
		if !o.shouldRunTools(calls) || round+1 >= o.maxRounds {
			resp.Usage = total
			return resp, nil
		}

		o.logger.Debug(ctx, "tool round", llm.Fields{"round": round, "calls": len(calls)})
		toolMsgs := o.executeToolRound(ctx, calls)
		working.Messages = append(working.Messages, assistantTurn(resp))
		working.Messages = append(working.Messages, toolMsgs...)
	}
}

// Stream runs the streaming path. Chunks from every round are forwarded in
// order as one continuous stream; the terminal chunk of the final round
// carries the aggregate usage.
func (o *Orchestrator) Stream(ctx context.Context, req *llm.ChatRequest, caller Caller) (<-chan llm.StreamEvent, error) {
	provider, _, err := o.router.Resolve(req.Model)
	if err != nil {
		return nil, llm.NewProviderError("router", llm.ErrKindInvalidRequest, 0, err.Error())
	}
	working := o.dispatch(req, caller)

	out := make(chan llm.StreamEvent)
	go func() {
		defer close(out)
		var total llm.Usage
		for round := 0; ; round++ {
			events, err := provider.Stream(ctx, working)
			if err != nil {
				out <- llm.StreamEvent{Err: err}
				return
			}

			var (
				content  strings.Builder
				calls    []llm.ToolCall
				terminal *llm.ChatChunk
			)
			for ev := range events {
				if ev.Err != nil {
					out <- ev
					return
				}
				chunk := ev.Chunk
				for _, choice := range chunk.Choices {
					content.WriteString(choice.Delta.Content)
					calls = append(calls, choice.Delta.ToolCalls...)
				}
				if chunk.Usage != nil {
					total.Add(*chunk.Usage)
				}
				if finishOf(chunk) != "" {
					// Hold the round's terminal chunk until we know
					// whether the loop continues.
					terminal = chunk
					continue
				}
				chunk.Usage = nil
				out <- ev
			}
			if terminal == nil {
				return
			}

			if !o.shouldRunTools(calls) || round+1 >= o.maxRounds {
				usage := total
				terminal.Usage = &usage
				out <- llm.StreamEvent{Chunk: terminal}
				return
			}
			terminal.Usage = nil
			out <- llm.StreamEvent{Chunk: terminal}

			toolMsgs := o.executeToolRound(ctx, calls)
			working.Messages = append(working.Messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   content.String(),
				ToolCalls: calls,
			})
			working.Messages = append(working.Messages, toolMsgs...)
		}
	}()
	return out, nil
}

// dispatch builds the working request: cloned transcript, catalog tool
// declarations merged in when the plugin is enabled, and the configured
// system message injected with identity placeholders substituted.
func (o *Orchestrator) dispatch(req *llm.ChatRequest, caller Caller) *llm.ChatRequest {
	working := *req
	working.Messages = make([]llm.Message, 0, len(req.Messages)+1)

	useCatalog := o.catalog != nil && req.HasPlugin(PluginToolCatalog)
	if useCatalog && o.systemPrompt != "" {
		prompt := strings.NewReplacer(
			"{{wallet}}", caller.Wallet,
			"{{user}}", caller.UserID,
		).Replace(o.systemPrompt)
		working.Messages = append(working.Messages, llm.Message{Role: llm.RoleSystem, Content: prompt})
	}
	working.Messages = append(working.Messages, req.Messages...)

	if useCatalog {
		working.Tools = append(append([]llm.Tool{}, req.Tools...), o.catalog.Declarations()...)
	}
	return &working
}

// shouldRunTools implements the ToolRound transition: at least one internal
// call and no external ones. A mixed batch halts the loop so the caller
// receives every call unexecuted.
func (o *Orchestrator) shouldRunTools(calls []llm.ToolCall) bool {
	if o.catalog == nil || len(calls) == 0 {
		return false
	}
	hasInternal := false
	for _, call := range calls {
		if !o.catalog.IsInternal(call.Function.Name) {
			return false
		}
		hasInternal = true
	}
	return hasInternal
}

// executeToolRound runs every call concurrently and converts individual
// failures into error-shaped textual results so the model can react to them.
func (o *Orchestrator) executeToolRound(ctx context.Context, calls []llm.ToolCall) []llm.Message {
	results := make([]llm.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			text, err := o.catalog.Execute(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				o.logger.Error(ctx, fmt.Errorf("tool %s: %w", call.Function.Name, err), llm.Fields{"tool": call.Function.Name})
				text = fmt.Sprintf("tool execution failed: %v", err)
			}
			results[i] = llm.Message{
				Role:       llm.RoleTool,
				Content:    text,
				ToolCallID: call.ID,
			}
		}(i, call)
	}
	wg.Wait()
	return results
}

// assistantTurn folds a provider response back into the transcript,
// preserving opaque turn metadata for conversation continuity.
func assistantTurn(resp *llm.ChatResponse) llm.Message {
	if len(resp.Choices) == 0 {
		return llm.Message{Role: llm.RoleAssistant}
	}
	msg := resp.Choices[0].Message
	msg.Role = llm.RoleAssistant
	return msg
}

func finishOf(chunk *llm.ChatChunk) string {
	for _, choice := range chunk.Choices {
		if choice.FinishReason != "" {
			return choice.FinishReason
		}
	}
	return ""
}
