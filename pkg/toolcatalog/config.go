package toolcatalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultCallTimeout = 60 * time.Second

// Config captures the set of external tool servers the bridge connects to.
type Config struct {
	Servers map[string]*ServerConfig `yaml:"servers"`
}

// ServerConfig describes one tool server endpoint. Allow, when non-empty,
// restricts the exported tools to the listed names.
type ServerConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Allow   []string          `yaml:"allow,omitempty"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// LoadConfig reads tool-server configuration from disk.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tools config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tools config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal tools config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Servers == nil {
		c.Servers = make(map[string]*ServerConfig)
	}
	for name, sc := range c.Servers {
		if sc == nil {
			return fmt.Errorf("tools config: server %s: empty definition", name)
		}
		if strings.Contains(name, NameSeparator) {
			return fmt.Errorf("tools config: server name %q may not contain %q", name, NameSeparator)
		}
		sc.URL = os.ExpandEnv(sc.URL)
		if strings.TrimSpace(sc.URL) == "" {
			return errors.New("tools config: server url is required")
		}
		for k, v := range sc.Headers {
			sc.Headers[k] = os.ExpandEnv(v)
		}
		if sc.TimeoutRaw == "" {
			sc.Timeout = defaultCallTimeout
			continue
		}
		d, err := time.ParseDuration(sc.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("tools config: server %s: parse timeout %q: %w", name, sc.TimeoutRaw, err)
		}
		sc.Timeout = d
	}
	return nil
}
