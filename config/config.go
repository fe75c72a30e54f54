// Package config defines the Pilot application configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Pilot configuration.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	Agent    AgentConfig    `json:"agent" yaml:"agent"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Executor ExecutorConfig `json:"executor" yaml:"executor"`
	Sandbox  SandboxConfig  `json:"sandbox" yaml:"sandbox"`
	DataDir  string         `json:"data_dir" yaml:"data_dir"`
	LogLevel string         `json:"log_level" yaml:"log_level"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser string `json:"admin_user" yaml:"admin_user"`
	AdminPass string `json:"admin_pass" yaml:"admin_pass"` // bcrypt hash
}

// AgentConfig tunes the run loop.
type AgentConfig struct {
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	MaxCycles    int    `json:"max_cycles" yaml:"max_cycles"`
	TokenBudget  int    `json:"token_budget" yaml:"token_budget"`
	ExecRetries  int    `json:"exec_retries" yaml:"exec_retries"`
}

// ProviderConfig selects and tunes the model backend.
type ProviderConfig struct {
	Name      string `json:"name" yaml:"name"` // "anthropic" or "mock"
	APIKey    string `json:"api_key" yaml:"api_key"`
	Model     string `json:"model,omitempty" yaml:"model"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens"`

	// Resilience layer tuning.
	MaxRetryAttempts int     `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	BaseBackoffMs    int     `json:"base_backoff_ms" yaml:"base_backoff_ms"`
	MaxBackoffMs     int     `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	JitterFactor     float64 `json:"jitter_factor" yaml:"jitter_factor"`
	TokenCeiling     int     `json:"token_ceiling" yaml:"token_ceiling"`
	CacheTTLSeconds  int     `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	MaxCacheEntries  int     `json:"max_cache_entries" yaml:"max_cache_entries"`
	RateWindowSecs   int     `json:"rate_window_seconds" yaml:"rate_window_seconds"`
	RateMaxCalls     int     `json:"rate_max_calls" yaml:"rate_max_calls"`

	// FallbackToMock serves requests from the mock provider when the
	// primary backend exhausts its retries.
	FallbackToMock bool `json:"fallback_to_mock" yaml:"fallback_to_mock"`
}

// ExecutorConfig selects the desktop environment.
type ExecutorConfig struct {
	Name    string            `json:"name" yaml:"name"` // "browser" or "mock"
	Options map[string]string `json:"options,omitempty" yaml:"options"`
}

// SandboxConfig controls the optional Docker sandbox hosting the
// browser the executor attaches to.
type SandboxConfig struct {
	Enabled     bool              `json:"enabled" yaml:"enabled"`
	Image       string            `json:"image,omitempty" yaml:"image"`
	Name        string            `json:"name,omitempty" yaml:"name"`
	HostPort    string            `json:"host_port,omitempty" yaml:"host_port"`
	Env         map[string]string `json:"env,omitempty" yaml:"env"`
	MemoryLimit int64             `json:"memory_limit,omitempty" yaml:"memory_limit"`
	CPULimit    float64           `json:"cpu_limit,omitempty" yaml:"cpu_limit"`
	NetworkMode string            `json:"network_mode,omitempty" yaml:"network_mode"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Auth: AuthConfig{
			AdminUser: "admin",
		},
		Agent: AgentConfig{
			SystemPrompt: "You are controlling a computer. Use the available tools to complete " +
				"the user's task. Take a screenshot when you need to see the current state " +
				"of the screen, and call finish_run when the task is complete.",
			MaxCycles:   25,
			TokenBudget: 150000,
			ExecRetries: 2,
		},
		Provider: ProviderConfig{
			Name:             "anthropic",
			MaxTokens:        1024,
			MaxRetryAttempts: 5,
			BaseBackoffMs:    2000,
			MaxBackoffMs:     30000,
			JitterFactor:     0.25,
			TokenCeiling:     180000,
			CacheTTLSeconds:  3600,
			MaxCacheEntries:  256,
			RateWindowSecs:   60,
			RateMaxCalls:     20,
		},
		Executor: ExecutorConfig{
			Name: "browser",
		},
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
