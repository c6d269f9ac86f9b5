// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from an
// optional YAML file overridden by environment variables; the struct is
// injected explicitly, never read through globals.
type Config struct {
	Port        string        `yaml:"port"`
	FrontendURL string        `yaml:"frontend_url"`
	DBPath      string        `yaml:"db_path"`
	TokenTTL    time.Duration `yaml:"token_ttl"`

	Provider ProviderConfig `yaml:"provider"`
}

// ProviderConfig selects and parameterizes the LLM provider.
// API keys left empty here fall back to the store's configuration
// table (set via `lookout config set`).
type ProviderConfig struct {
	Name         string `yaml:"name"`  // gemini | openai | ollama | anthropic | stub
	Model        string `yaml:"model"` // provider-specific default when empty
	GeminiAPIKey string `yaml:"gemini_api_key"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIBase   string `yaml:"openai_base_url"`
	AnthropicKey string `yaml:"anthropic_api_key"`
}

// Load reads configuration from an optional YAML file at path, then
// applies environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:     "8080",
		DBPath:   "./data/lookout.db",
		TokenTTL: 7 * 24 * time.Hour,
		Provider: ProviderConfig{Name: "gemini"},
	}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.FrontendURL = getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	if hours := getEnvInt("TOKEN_TTL_HOURS", 0); hours > 0 {
		cfg.TokenTTL = time.Duration(hours) * time.Hour
	}
	cfg.Provider.Name = getEnv("LLM_PROVIDER", cfg.Provider.Name)
	cfg.Provider.Model = getEnv("LLM_MODEL", cfg.Provider.Model)
	cfg.Provider.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.Provider.GeminiAPIKey)
	cfg.Provider.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.Provider.OpenAIAPIKey)
	cfg.Provider.OpenAIBase = getEnv("OPENAI_BASE_URL", cfg.Provider.OpenAIBase)
	cfg.Provider.AnthropicKey = getEnv("ANTHROPIC_API_KEY", cfg.Provider.AnthropicKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Provider.Name == "" {
		return fmt.Errorf("LLM_PROVIDER cannot be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
