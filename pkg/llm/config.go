package llm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
	defaultLogLevel   = "info"
)

// Config captures configuration for one or more completion providers.
type Config struct {
	Default    string                     `yaml:"default"`
	LogLevel   string                     `yaml:"log_level"`
	MaxRetries int                        `yaml:"max_retries"`
	Providers  map[string]*ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes how to construct one provider adapter.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Version is the backend API version header where the backend wants one.
	Version string `yaml:"version,omitempty"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
	MaxRetries *int          `yaml:"max_retries,omitempty"`
}

// LoadConfig reads provider configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open llm config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read llm config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal llm config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.Providers == nil {
		c.Providers = make(map[string]*ProviderConfig)
	}
	for name, pc := range c.Providers {
		if pc == nil {
			pc = &ProviderConfig{}
			c.Providers[name] = pc
		}
		pc.APIKey = os.ExpandEnv(pc.APIKey)
		pc.BaseURL = os.ExpandEnv(pc.BaseURL)
		if pc.TimeoutRaw == "" {
			pc.Timeout = defaultTimeout
			continue
		}
		d, err := time.ParseDuration(pc.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("llm config: provider %s: parse timeout %q: %w", name, pc.TimeoutRaw, err)
		}
		pc.Timeout = d
	}
	return nil
}

// Validate checks the provider set for completeness.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("llm config: at least one provider is required")
	}
	for name, pc := range c.Providers {
		if strings.TrimSpace(pc.Type) == "" {
			return fmt.Errorf("llm config: provider %s: type is required", name)
		}
		if pc.Timeout <= 0 {
			return fmt.Errorf("llm config: provider %s: timeout must be positive", name)
		}
	}
	if c.Default != "" {
		if _, ok := c.Providers[c.Default]; !ok {
			return fmt.Errorf("llm config: default provider %q is not defined", c.Default)
		}
	}
	return nil
}

// BuildProviders constructs all configured adapters via the registry.
func (c *Config) BuildProviders() (map[string]Provider, error) {
	out := make(map[string]Provider, len(c.Providers))
	for name, pc := range c.Providers {
		builder, ok := lookupProviderBuilder(pc.Type)
		if !ok {
			return nil, fmt.Errorf("llm: unsupported provider type %q", pc.Type)
		}
		if pc.MaxRetries == nil {
			retries := c.Retries(pc)
			pc.MaxRetries = &retries
		}
		p, err := builder(name, pc)
		if err != nil {
			return nil, fmt.Errorf("llm: build provider %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// Retries returns the effective retry count for a provider.
func (c *Config) Retries(pc *ProviderConfig) int {
	if pc != nil && pc.MaxRetries != nil {
		return *pc.MaxRetries
	}
	return c.MaxRetries
}
