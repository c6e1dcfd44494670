// Package config handles mcp-chat configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in mcp_servers entries.
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable_http"
)

// Defaults applied by Load and Default.
const (
	DefaultProbeTimeout  = 1 * time.Second
	DefaultInitTimeout   = 5 * time.Second
	DefaultMaxIterations = 10
	DefaultSystemPrompt  = "You are a helpful assistant. Use the available tools when they help answer the question."
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/mcp-chat/config.yaml, /etc/mcp-chat/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcp-chat", "config.yaml"))
	}

	paths = append(paths, "/etc/mcp-chat/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mcp-chat configuration.
type Config struct {
	Servers   map[string]ServerConfig `yaml:"mcp_servers"`
	Session   SessionConfig           `yaml:"session"`
	Models    ModelsConfig            `yaml:"models"`
	Anthropic AnthropicConfig         `yaml:"anthropic"`
	OpenAI    OpenAIConfig            `yaml:"openai"`
	Ollama    OllamaConfig            `yaml:"ollama"`
	Agent     AgentConfig             `yaml:"agent"`
	Store     StoreConfig             `yaml:"store"`
	Logging   LoggingConfig           `yaml:"logging"`
}

// ServerConfig describes one MCP server. Either Command (stdio) or URL
// (sse, streamable_http) must be set; Transport is inferred from which
// one is present when omitted.
type ServerConfig struct {
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
}

// SessionConfig bounds connection establishment.
type SessionConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	InitTimeout  time.Duration `yaml:"init_timeout"`
}

// ModelsConfig maps user-facing model names to providers.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig is one selectable model. Model is the provider's own
// identifier and defaults to Name.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // anthropic, openai, ollama
	Model    string `yaml:"model"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// OpenAIConfig defines OpenAI (or compatible) API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// Configured reports whether an API key is present.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// OllamaConfig defines the Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	SystemPrompt  string `yaml:"system_prompt"`
	MaxIterations int    `yaml:"max_iterations"`
}

// StoreConfig selects the conversation persistence backend.
// Driver is "sqlite3" (cgo), "sqlite" (pure Go) or "memory".
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables rotated file logging when Path is set.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with no servers and a local Ollama model.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Default: "qwen3:4b",
			Available: []ModelConfig{
				{Name: "qwen3:4b", Provider: "ollama"},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Servers == nil {
		c.Servers = map[string]ServerConfig{}
	}
	for name, s := range c.Servers {
		if s.Transport == "" {
			switch {
			case s.Command != "":
				s.Transport = TransportStdio
			case s.URL != "":
				s.Transport = TransportSSE
			}
		}
		if s.Transport == "http" {
			s.Transport = TransportStreamableHTTP
		}
		c.Servers[name] = s
	}

	if c.Session.ProbeTimeout <= 0 {
		c.Session.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Session.InitTimeout <= 0 {
		c.Session.InitTimeout = DefaultInitTimeout
	}

	for i := range c.Models.Available {
		m := &c.Models.Available[i]
		if m.Provider == "" {
			m.Provider = "ollama"
		}
		if m.Model == "" {
			m.Model = m.Name
		}
	}
	if c.Models.Default == "" && len(c.Models.Available) > 0 {
		c.Models.Default = c.Models.Available[0].Name
	}

	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}

	if c.Agent.SystemPrompt == "" {
		c.Agent.SystemPrompt = DefaultSystemPrompt
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite3"
	}
	if c.Store.Path == "" {
		c.Store.Path = "mcp-chat.db"
	}

	if c.Logging.File.Path != "" {
		if c.Logging.File.MaxSizeMB <= 0 {
			c.Logging.File.MaxSizeMB = 10
		}
		if c.Logging.File.MaxBackups <= 0 {
			c.Logging.File.MaxBackups = 3
		}
	}
}

// Validate checks cross-field constraints. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	for _, name := range c.ServerNames() {
		s := c.Servers[name]
		switch s.Transport {
		case TransportStdio:
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("mcp_servers.%s: stdio transport requires command", name))
			}
		case TransportSSE, TransportStreamableHTTP:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp_servers.%s: %s transport requires url", name, s.Transport))
			}
		case "":
			errs = append(errs, fmt.Errorf("mcp_servers.%s: set command or url", name))
		default:
			errs = append(errs, fmt.Errorf("mcp_servers.%s: unknown transport %q", name, s.Transport))
		}
	}

	seen := make(map[string]bool, len(c.Models.Available))
	for _, m := range c.Models.Available {
		if m.Name == "" {
			errs = append(errs, errors.New("models.available: entry without name"))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("models.available: duplicate model %q", m.Name))
		}
		seen[m.Name] = true
		switch m.Provider {
		case "anthropic", "openai", "ollama":
		default:
			errs = append(errs, fmt.Errorf("models.available.%s: unknown provider %q", m.Name, m.Provider))
		}
	}
	if c.Models.Default != "" && !seen[c.Models.Default] {
		errs = append(errs, fmt.Errorf("models.default %q is not listed in models.available", c.Models.Default))
	}

	switch c.Store.Driver {
	case "sqlite3", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}

	return errors.Join(errs...)
}

// ServerNames returns the configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
