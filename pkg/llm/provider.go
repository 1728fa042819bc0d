package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

const modelSeparator = "/"

// Provider is the uniform contract every upstream completion backend
// implements. Invoke performs one synchronous call; Stream returns an
// ordered event channel that is closed after the terminal event.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// ProviderBuilder constructs a Provider from configuration.
type ProviderBuilder func(name string, cfg *ProviderConfig) (Provider, error)

var (
	providerRegistry   = make(map[string]ProviderBuilder)
	providerRegistryMu sync.RWMutex
)

// RegisterProvider associates a builder with a provider type. Adapters
// self-register from init so the set of backends is fixed at build time.
func RegisterProvider(typeName string, builder ProviderBuilder) {
	providerRegistryMu.Lock()
	defer providerRegistryMu.Unlock()
	providerRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupProviderBuilder(typeName string) (ProviderBuilder, bool) {
	providerRegistryMu.RLock()
	defer providerRegistryMu.RUnlock()
	builder, ok := providerRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// ParseModelID splits a qualified model string into provider and model name.
// "openai/gpt-4o" -> ("openai", "gpt-4o"); unqualified names return an empty
// provider.
func ParseModelID(model string) (provider, name string) {
	parts := strings.SplitN(model, modelSeparator, 2)
	if len(parts) != 2 {
		return "", model
	}
	return parts[0], parts[1]
}

// Router is the static routing table from model identifiers to registered
// providers.
type Router struct {
	providers   map[string]Provider
	defaultName string
}

// NewRouter builds a router over the constructed provider set.
func NewRouter(providers map[string]Provider, defaultName string) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("llm: no providers configured")
	}
	if defaultName != "" {
		if _, ok := providers[defaultName]; !ok {
			return nil, fmt.Errorf("llm: default provider %q not configured", defaultName)
		}
	}
	return &Router{providers: providers, defaultName: defaultName}, nil
}

// Resolve maps a model identifier to exactly one provider and the bare model
// name to pass upstream.
func (r *Router) Resolve(model string) (Provider, string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, "", fmt.Errorf("llm: model is required")
	}
	prefix, bare := ParseModelID(model)
	if prefix == "" {
		if r.defaultName == "" {
			return nil, "", fmt.Errorf("llm: model %q does not name a provider and no default is configured", model)
		}
		return r.providers[r.defaultName], bare, nil
	}
	p, ok := r.providers[prefix]
	if !ok {
		return nil, "", fmt.Errorf("llm: unknown provider %q for model %q", prefix, model)
	}
	return p, bare, nil
}

// Providers returns the registered provider names in no particular order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
