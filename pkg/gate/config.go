package gate

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the gate section of the application configuration.
type Config struct {
	// SessionSecret signs and verifies bearer session tokens. Supports
	// ${ENV} expansion so the secret stays out of the config file.
	SessionSecret string `yaml:"session_secret"`

	Pricing PricingConfig `yaml:"pricing"`
}

// LoadConfig reads a gate configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gate: open config: %w", err)
	}
	defer f.Close()
	return LoadConfigFromReader(f)
}

// LoadConfigFromReader parses a gate configuration document.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gate: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("gate: parse config: %w", err)
	}
	cfg.SessionSecret = strings.TrimSpace(os.ExpandEnv(cfg.SessionSecret))
	cfg.Pricing.Asset = os.ExpandEnv(cfg.Pricing.Asset)
	cfg.Pricing.PayTo = os.ExpandEnv(cfg.Pricing.PayTo)

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("gate: session_secret is required")
	}
	if err := cfg.Pricing.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
