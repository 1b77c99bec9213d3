// Package config loads the engine configuration from YAML. The file is
// parsed into a generic map and decoded through mapstructure so duration
// fields accept human-readable strings ("20s", "1h30m") and unknown keys
// fail loudly instead of being silently dropped.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Store     StoreConfig      `mapstructure:"store"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Providers []ProviderConfig `mapstructure:"providers"`
	LogLevel  string           `mapstructure:"log_level"`
}

// ServerConfig configures the HTTP adapter.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// EngineConfig tunes batch runs.
type EngineConfig struct {
	TargetCount     int           `mapstructure:"target_count"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	RunBudget       time.Duration `mapstructure:"run_budget"`
	Grace           time.Duration `mapstructure:"grace"`
	MaxTokens       int           `mapstructure:"max_tokens"`
}

// ProviderConfig describes one OpenAI-compatible provider endpoint. The API
// key is resolved from the environment variable named by APIKeyEnv, so
// credentials never live in the config file.
type ProviderConfig struct {
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// APIKey resolves the provider credential from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Default returns the built-in configuration: a memory store with a one hour
// TTL and no providers.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Store: StoreConfig{
			Backend: "memory",
			TTL:     time.Hour,
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "palette:session:"},
		},
		Engine: EngineConfig{
			TargetCount:     15,
			ProviderTimeout: 20 * time.Second,
			RunBudget:       30 * time.Second,
			Grace:           250 * time.Millisecond,
			MaxTokens:       500,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of the defaults.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("invalid yaml: %w", err)
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("provider missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q missing base_url", p.Name)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %q missing model", p.Name)
		}
	}
	return nil
}
