// Package config loads daemon configuration from YAML, an optional .env
// file, and environment variables. Environment variables win over file
// values for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names recognized by the default-provider table.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the root configuration document.
type Config struct {
	// Environment selects the default provider; one of development,
	// staging, production.
	Environment string `yaml:"environment"`

	// Routing maps environment names to default provider names. Missing
	// entries fall back to the built-in table.
	Routing map[string]string `yaml:"routing"`

	Providers ProvidersConfig `yaml:"providers"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`

	// HealthInterval is the health aggregator poll period.
	HealthInterval time.Duration `yaml:"health_interval"`

	Server ServerConfig `yaml:"server"`
}

// ProvidersConfig holds per-provider enablement and credentials.
type ProvidersConfig struct {
	OpenAI ProviderConfig `yaml:"openai"`
	Ollama ProviderConfig `yaml:"ollama"`
	Hub    ProviderConfig `yaml:"hub"`
}

// ProviderConfig configures one backend.
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	// Model is the default model when a request names none.
	Model  string   `yaml:"model"`
	Models []string `yaml:"models"`

	Timeout time.Duration `yaml:"timeout"`

	// RateLimit overrides the global thresholds for this provider.
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig sets trailing-window admission thresholds.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute"`
}

// RetryConfig sets the retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// ServerConfig configures the daemon listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultRouting is the built-in environment→provider table.
func DefaultRouting() map[string]string {
	return map[string]string{
		EnvDevelopment: "ollama",
		EnvStaging:     "openai",
		EnvProduction:  "openai",
	}
}

// Default returns the configuration used when no file is present: local
// daemon enabled, cloud providers enabled when credentials exist.
func Default() Config {
	return Config{
		Environment: EnvDevelopment,
		Routing:     DefaultRouting(),
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{Enabled: true},
			Ollama: ProviderConfig{Enabled: true},
			Hub:    ProviderConfig{Enabled: false},
		},
		RateLimit:      RateLimitConfig{RequestsPerMinute: 60, TokensPerMinute: 40000},
		Retry:          RetryConfig{MaxAttempts: 3, BaseDelay: time.Second},
		HealthInterval: time.Minute,
		Server:         ServerConfig{Addr: ":8000"},
	}
}

// Load reads path (optional), merges defaults, applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	// Best effort: absent .env files are normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FARM_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		c.Providers.Ollama.BaseURL = v
	}
	if v := os.Getenv("HUGGINGFACE_TOKEN"); v != "" {
		c.Providers.Hub.APIKey = v
	}
	if v := os.Getenv("FARM_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) normalize() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	if c.Routing == nil {
		c.Routing = map[string]string{}
	}
	for env, provider := range DefaultRouting() {
		if _, ok := c.Routing[env]; !ok {
			c.Routing[env] = provider
		}
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 60
	}
	if c.RateLimit.TokensPerMinute <= 0 {
		c.RateLimit.TokensPerMinute = 40000
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = time.Minute
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
}

// DefaultProvider resolves the environment's default provider name.
func (c Config) DefaultProvider() string {
	if name, ok := c.Routing[c.Environment]; ok {
		return name
	}
	return "ollama"
}

// Limits returns the admission thresholds for one provider, falling back to
// the global thresholds.
func (c Config) Limits(p ProviderConfig) RateLimitConfig {
	if p.RateLimit != nil {
		return *p.RateLimit
	}
	return c.RateLimit
}
