// Package config loads the gateway configuration from a YAML file with
// environment variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Models    ModelsConfig    `yaml:"models"`
	Providers ProvidersConfig `yaml:"providers"`
	Backends  BackendsConfig  `yaml:"backends"`
	Memory    MemoryConfig    `yaml:"memory"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
}

type ModelsConfig struct {
	// RegistryPath is the model registry YAML document.
	RegistryPath string `yaml:"registry_path"`
	// Watch reloads the registry when the file changes.
	Watch bool `yaml:"watch"`
	// DefaultProvider and DefaultModel select the active model at startup.
	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`
	// SystemPromptPath overrides the embedded banking system prompt.
	SystemPromptPath string `yaml:"system_prompt_path"`
}

type ProvidersConfig struct {
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIOrgID     string `yaml:"openai_org_id"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	GoogleAPIKey    string `yaml:"google_api_key"`
	MistralAPIKey   string `yaml:"mistral_api_key"`
	FireworksAPIKey string `yaml:"fireworks_api_key"`
	CohereAPIKey    string `yaml:"cohere_api_key"`
}

type BackendsConfig struct {
	FinanceURL   string `yaml:"finance_url"`
	UserURL      string `yaml:"user_url"`
	RetrievalURL string `yaml:"retrieval_url"`
}

type MemoryConfig struct {
	Path          string        `yaml:"path"`
	ActiveTTL     time.Duration `yaml:"active_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type AuditConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Level             string `yaml:"level"`
	Format            string `yaml:"format"`
	Output            string `yaml:"output"`
	IncludeToolInput  bool   `yaml:"include_tool_input"`
	IncludeToolOutput bool   `yaml:"include_tool_output"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Long enough for a full tool loop against a slow vendor.
		cfg.Server.WriteTimeout = 5 * time.Minute
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Models.RegistryPath == "" {
		cfg.Models.RegistryPath = "configs/model_registry.yaml"
	}
	if cfg.Models.DefaultProvider == "" {
		cfg.Models.DefaultProvider = "openai"
	}
	if cfg.Models.DefaultModel == "" {
		cfg.Models.DefaultModel = "gpt-4o"
	}
	if cfg.Backends.FinanceURL == "" {
		cfg.Backends.FinanceURL = "http://localhost:8081"
	}
	if cfg.Backends.UserURL == "" {
		cfg.Backends.UserURL = "http://localhost:8082"
	}
	if cfg.Backends.RetrievalURL == "" {
		cfg.Backends.RetrievalURL = "http://localhost:8083"
	}
	if cfg.Memory.Path == "" {
		cfg.Memory.Path = "threads.db"
	}
	if cfg.Memory.ActiveTTL == 0 {
		cfg.Memory.ActiveTTL = 24 * time.Hour
	}
	if cfg.Memory.SweepInterval == 0 {
		cfg.Memory.SweepInterval = time.Hour
	}
	if cfg.Audit.Level == "" {
		cfg.Audit.Level = "info"
	}
	if cfg.Audit.Format == "" {
		cfg.Audit.Format = "json"
	}
	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the settings that have no workable default.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}
