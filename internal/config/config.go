package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAutoCloseAfter = 2 * time.Hour
	defaultSessionTTL     = 8 * time.Hour
)

// Config models controltower.yml.
type Config struct {
	Tickets struct {
		// AutoCloseAfter is the dwell time a Resolved ticket waits before
		// the query-time sweep closes it. Duration string, default "2h".
		AutoCloseAfter string `yaml:"auto_close_after"`
	} `yaml:"tickets"`
	Sessions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"sessions"`
	Server struct {
		Listen    string `yaml:"listen"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Data struct {
		WorkbookDir string `yaml:"workbook_dir"`
	} `yaml:"data"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// TicketAutoCloseAfter returns the parsed auto-close dwell time.
func (c *Config) TicketAutoCloseAfter() time.Duration {
	if d, err := time.ParseDuration(c.Tickets.AutoCloseAfter); err == nil && d > 0 {
		return d
	}
	return defaultAutoCloseAfter
}

// SessionTTL returns the parsed session lifetime.
func (c *Config) SessionTTL() time.Duration {
	if d, err := time.ParseDuration(c.Sessions.TTL); err == nil && d > 0 {
		return d
	}
	return defaultSessionTTL
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run ct config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tickets.AutoCloseAfter != "" {
		d, err := time.ParseDuration(c.Tickets.AutoCloseAfter)
		if err != nil {
			return fmt.Errorf("tickets.auto_close_after: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("tickets.auto_close_after must be positive")
		}
	}
	if c.Sessions.TTL != "" {
		d, err := time.ParseDuration(c.Sessions.TTL)
		if err != nil {
			return fmt.Errorf("sessions.ttl: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("sessions.ttl must be positive")
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "controltower.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `tickets:
  auto_close_after: 2h

sessions:
  ttl: 8h

server:
  listen: ":8080"
  base_path: /v1
  jwt_secret: ""

data:
  workbook_dir: ""
`
