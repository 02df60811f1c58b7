package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config models constellation.yml (or constellation.toml).
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" toml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" toml:"base_path" json:"base_path"`
		// Shutdown grace period in seconds.
		ShutdownSeconds int   `yaml:"shutdown_seconds" toml:"shutdown_seconds" json:"shutdown_seconds"`
		MaxBodyBytes    int64 `yaml:"max_body_bytes" toml:"max_body_bytes" json:"max_body_bytes"`
	} `yaml:"server" toml:"server" json:"server"`
	Storage struct {
		Workspace string `yaml:"workspace" toml:"workspace" json:"workspace"`
		Path      string `yaml:"path" toml:"path" json:"path,omitempty"`
	} `yaml:"storage" toml:"storage" json:"storage"`
	Auth struct {
		JWTSecret     string `yaml:"jwt_secret" toml:"jwt_secret" json:"-"`
		TokenTTLHours int    `yaml:"token_ttl_hours" toml:"token_ttl_hours" json:"token_ttl_hours"`
	} `yaml:"auth" toml:"auth" json:"auth"`
	Log struct {
		Level  string `yaml:"level" toml:"level" json:"level"`
		Format string `yaml:"format" toml:"format" json:"format"`
	} `yaml:"log" toml:"log" json:"log"`
	Presence PresenceConfig `yaml:"presence" toml:"presence" json:"presence"`
	Redis    struct {
		URL string `yaml:"url" toml:"url" json:"url,omitempty"`
	} `yaml:"redis" toml:"redis" json:"redis"`
	LLM      LLMConfig       `yaml:"llm" toml:"llm" json:"llm"`
	Webhooks []WebhookConfig `yaml:"webhooks" toml:"webhooks" json:"webhooks,omitempty"`
}

type PresenceConfig struct {
	// Backend is "sql" or "redis".
	Backend              string `yaml:"backend" toml:"backend" json:"backend"`
	WindowSeconds        int    `yaml:"window_seconds" toml:"window_seconds" json:"window_seconds"`
	PruneIntervalSeconds int    `yaml:"prune_interval_seconds" toml:"prune_interval_seconds" json:"prune_interval_seconds"`
}

// Window is the freshness window for active users.
func (p PresenceConfig) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

func (p PresenceConfig) PruneInterval() time.Duration {
	return time.Duration(p.PruneIntervalSeconds) * time.Second
}

type LLMConfig struct {
	// Provider is "openai", "ollama" or "none".
	Provider       string   `yaml:"provider" toml:"provider" json:"provider"`
	Model          string   `yaml:"model" toml:"model" json:"model"`
	BaseURL        string   `yaml:"base_url" toml:"base_url" json:"base_url,omitempty"`
	APIKey         string   `yaml:"api_key" toml:"api_key" json:"-"`
	MaxTokens      int      `yaml:"max_tokens" toml:"max_tokens" json:"max_tokens,omitempty"`
	Temperature    *float32 `yaml:"temperature" toml:"temperature" json:"temperature,omitempty"`
	Instructions   string   `yaml:"instructions" toml:"instructions" json:"instructions"`
	RecentMessages int      `yaml:"recent_messages" toml:"recent_messages" json:"recent_messages"`
	TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" toml:"url" json:"url"`
	Events         []string `yaml:"events" toml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" toml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" toml:"enabled" json:"enabled,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Presence.Backend {
	case "sql":
	case "redis":
		if strings.TrimSpace(c.Redis.URL) == "" {
			return fmt.Errorf("config.redis.url is required for presence backend redis")
		}
	default:
		return fmt.Errorf("config.presence.backend must be sql or redis, got %q", c.Presence.Backend)
	}
	if c.Presence.WindowSeconds <= 0 {
		return fmt.Errorf("config.presence.window_seconds must be positive")
	}
	if c.Presence.PruneIntervalSeconds < 0 {
		return fmt.Errorf("config.presence.prune_interval_seconds must not be negative")
	}
	switch c.LLM.Provider {
	case "none":
	case "openai", "ollama":
		if c.LLM.Model == "" {
			return fmt.Errorf("config.llm.model is required for provider %s", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("config.llm.provider must be openai, ollama or none, got %q", c.LLM.Provider)
	}
	if c.LLM.RecentMessages <= 0 {
		return fmt.Errorf("config.llm.recent_messages must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the YAML config path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "constellation.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// LoadOptional returns the defaults when the workspace has no config file.
func LoadOptional(workspace string) (*Config, error) {
	for _, path := range []string{Path(workspace), filepath.Join(workspace, "constellation.toml")} {
		if _, err := os.Stat(path); err == nil {
			return FromFile(path)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return Default(), nil
}

// FromYAML parses YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromTOML parses TOML over the defaults and validates the result.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads a config file, choosing the format by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  shutdown_seconds: 5
  max_body_bytes: 4194304

storage:
  workspace: .

auth:
  token_ttl_hours: 24

log:
  level: info
  format: console

presence:
  backend: sql
  window_seconds: 30
  prune_interval_seconds: 60

llm:
  provider: none
  model: ""
  recent_messages: 20
  timeout_seconds: 60
  instructions: >-
    You are an assistant that helps create and manage tasks, which consists of
    coordinating other agents. You can search, create, and merge agents.
    Be willing to undo mistakes and get better. When in doubt, merge agents.
    When passing IDs, you MUST pass a real ID verbatim.
    If you don't have an ID, search for one first.
`
