package payment

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the payment section of the application configuration.
type Config struct {
	// FacilitatorURL is the base URL of the settlement service.
	FacilitatorURL string `yaml:"facilitator_url"`

	// SessionKey is the hex-encoded delegated signing key, usually
	// referenced as ${PAYGATE_SESSION_KEY}. Empty disables auto-payment.
	SessionKey string `yaml:"session_key"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// LoadConfig reads a payment configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("payment: open config: %w", err)
	}
	defer f.Close()
	return LoadConfigFromReader(f)
}

// LoadConfigFromReader parses a payment configuration document.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("payment: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("payment: parse config: %w", err)
	}
	cfg.FacilitatorURL = strings.TrimSpace(os.ExpandEnv(cfg.FacilitatorURL))
	cfg.SessionKey = strings.TrimSpace(os.ExpandEnv(cfg.SessionKey))

	cfg.Timeout = defaultFacilitatorTimeout
	if cfg.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.TimeoutRaw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("payment: invalid timeout %q", cfg.TimeoutRaw)
		}
		cfg.Timeout = d
	}
	return &cfg, nil
}

// BuildFacilitator constructs the settlement client, or nil when no
// facilitator is configured.
func (c *Config) BuildFacilitator() (*Facilitator, error) {
	if c == nil || c.FacilitatorURL == "" {
		return nil, nil
	}
	return NewFacilitator(c.FacilitatorURL, WithHTTPClient(&http.Client{Timeout: c.Timeout}))
}

// BuildAutoPayer assembles the auto-payment dependency from the loaded
// config. A missing facilitator URL or session key yields a payer that
// fails settlement with ErrNoSigner, which the gate absorbs.
func (c *Config) BuildAutoPayer() (*AutoPayer, error) {
	facilitator, err := c.BuildFacilitator()
	if err != nil {
		return nil, err
	}
	if facilitator == nil {
		return NewAutoPayer(nil, nil), nil
	}
	var signer *SessionSigner
	if c.SessionKey != "" {
		signer, err = NewSessionSigner(c.SessionKey)
		if err != nil {
			return nil, err
		}
	}
	return NewAutoPayer(signer, facilitator), nil
}
