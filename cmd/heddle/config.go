// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"github.com/teradata-labs/heddle/pkg/provider/factory"
)

const (
	// ServiceName for keyring storage
	ServiceName = "heddle"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "heddle"
)

// Config holds all configuration for the heddle runtime.
// Priority: CLI flags > config file > env vars > defaults
type Config struct {
	// DataDir is the heddle data directory (HEDDLE_DATA_DIR env var or
	// ~/.heddle). Set during config initialization; not read from file.
	DataDir string `mapstructure:"-"`

	// Serving configuration (generation defaults, maintenance loop)
	Serving ServingConfig `mapstructure:"serving"`

	// Models configuration (tier override file)
	Models ModelsConfig `mapstructure:"models"`

	// Lifecycle configuration (GPU budget, admission, usage history)
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`

	// Providers configuration (local backend)
	Providers ProvidersConfig `mapstructure:"providers"`

	// Failover configuration (remote provider chain)
	Failover FailoverConfig `mapstructure:"failover"`

	// Context configuration (Redis conversation store)
	Context ContextConfig `mapstructure:"context"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServingConfig holds generation and maintenance settings.
type ServingConfig struct {
	// Temperature passed to backends (default: 0.7)
	Temperature float64 `mapstructure:"temperature"`

	// GenerateTimeoutSeconds caps one local generation attempt (default: 30)
	GenerateTimeoutSeconds int `mapstructure:"generate_timeout_seconds"`

	// StrictAdmission enforces tier capacity with a semaphore instead of
	// the default snapshot check (default: false)
	StrictAdmission bool `mapstructure:"strict_admission"`

	// MaintenanceSchedule is the cron spec for the background maintenance
	// loop (default: "@every 5m")
	MaintenanceSchedule string `mapstructure:"maintenance_schedule"`
}

// ModelsConfig holds the tier catalog settings.
type ModelsConfig struct {
	// OverridesPath is an optional YAML file with per-tier overrides
	OverridesPath string `mapstructure:"overrides_path"`

	// WatchOverrides hot-reloads the override file on change (default: true)
	WatchOverrides bool `mapstructure:"watch_overrides"`
}

// LifecycleConfig holds model admission and eviction settings.
type LifecycleConfig struct {
	// MaxConcurrentModels caps simultaneously loaded models (default: 3)
	MaxConcurrentModels int `mapstructure:"max_concurrent_models"`

	// MemoryThresholdPercent blocks loads past this share of the GPU
	// budget (default: 85)
	MemoryThresholdPercent float64 `mapstructure:"memory_threshold_percent"`

	// IdleTimeoutMinutes before an unused model becomes evictable
	// (default: 15)
	IdleTimeoutMinutes int `mapstructure:"idle_timeout_minutes"`

	// GPUMemoryTotalMB is the GPU budget (default: 49152)
	GPUMemoryTotalMB int `mapstructure:"gpu_memory_total_mb"`

	// HistoryPath is the SQLite file for usage history and counters
	// (default: $HEDDLE_DATA_DIR/heddle.db)
	HistoryPath string `mapstructure:"history_path"`
}

// ProvidersConfig holds the local backend settings.
type ProvidersConfig struct {
	// OllamaEndpoint is the local inference server URL
	// (default: http://localhost:11434)
	OllamaEndpoint string `mapstructure:"ollama_endpoint"`
}

// FailoverConfig holds the remote provider chain settings.
type FailoverConfig struct {
	// Enabled switches generation to the failover chain; when false the
	// local tiered router serves all traffic (default: false)
	Enabled bool `mapstructure:"enabled"`

	// PrimaryTimeoutMs is the hard deadline on the chain's first provider
	// (default: 2000)
	PrimaryTimeoutMs int `mapstructure:"primary_timeout_ms"`

	// DisableBreakers turns off the per-provider circuit breakers
	DisableBreakers bool `mapstructure:"disable_breakers"`

	// SkipHealthCheck keeps unreachable providers in the chain instead of
	// filtering them at startup
	SkipHealthCheck bool `mapstructure:"skip_health_check"`

	// Chain lists providers in preference order
	Chain []factory.Spec `mapstructure:"chain"`
}

// ContextConfig holds the conversation store settings.
type ContextConfig struct {
	// RedisAddr is the Redis server address; empty runs on the in-process
	// fallback only (default: localhost:6379)
	RedisAddr string `mapstructure:"redis_addr"`

	// RedisPassword for authentication (optional)
	RedisPassword string `mapstructure:"redis_password"`

	// RedisDB selects the database number (default: 0)
	RedisDB int `mapstructure:"redis_db"`

	// TTLHours is the conversation expiration (default: 24)
	TTLHours int `mapstructure:"ttl_hours"`

	// MaxMessages bounds stored history per conversation (default: 100)
	MaxMessages int `mapstructure:"max_messages"`

	// MaxMessageSize bounds one message's content in characters
	// (default: 10000)
	MaxMessageSize int `mapstructure:"max_message_size"`

	// DisableCompression turns off envelope gzip
	DisableCompression bool `mapstructure:"disable_compression"`

	// CompressionThresholdBytes triggers gzip past this envelope size
	// (default: 4096)
	CompressionThresholdBytes int `mapstructure:"compression_threshold_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level: debug, info, warn, error (default: info)
	Level string `mapstructure:"level"`

	// Format: text or json (default: text)
	Format string `mapstructure:"format"`

	// File is an optional log file path (default: stderr)
	File string `mapstructure:"file"`
}

// GetDataDir returns the heddle data directory, respecting the
// HEDDLE_DATA_DIR environment variable.
func GetDataDir() string {
	if dir := os.Getenv("HEDDLE_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".heddle"
	}
	return filepath.Join(home, ".heddle")
}

// LoadConfig reads configuration from file, environment, and defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config search paths (in order of priority)
		viper.AddConfigPath(GetDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/heddle/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	viper.SetEnvPrefix("HEDDLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.DataDir = GetDataDir()

	// Non-fatal: keyring might not be available - keys can come from
	// config or env instead
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	dataDir := GetDataDir()

	// Serving defaults
	viper.SetDefault("serving.temperature", 0.7)
	viper.SetDefault("serving.generate_timeout_seconds", 30)
	viper.SetDefault("serving.strict_admission", false)
	viper.SetDefault("serving.maintenance_schedule", "@every 5m")

	// Models defaults
	viper.SetDefault("models.overrides_path", "")
	viper.SetDefault("models.watch_overrides", true)

	// Lifecycle defaults
	viper.SetDefault("lifecycle.max_concurrent_models", 3)
	viper.SetDefault("lifecycle.memory_threshold_percent", 85.0)
	viper.SetDefault("lifecycle.idle_timeout_minutes", 15)
	viper.SetDefault("lifecycle.gpu_memory_total_mb", 49152)
	viper.SetDefault("lifecycle.history_path", filepath.Join(dataDir, "heddle.db"))

	// Provider defaults
	viper.SetDefault("providers.ollama_endpoint", "http://localhost:11434")

	// Failover defaults
	viper.SetDefault("failover.enabled", false)
	viper.SetDefault("failover.primary_timeout_ms", 2000)
	viper.SetDefault("failover.disable_breakers", false)
	viper.SetDefault("failover.skip_health_check", false)

	// Context store defaults
	viper.SetDefault("context.redis_addr", "localhost:6379")
	viper.SetDefault("context.redis_db", 0)
	viper.SetDefault("context.ttl_hours", 24)
	viper.SetDefault("context.max_messages", 100)
	viper.SetDefault("context.max_message_size", 10000)
	viper.SetDefault("context.compression_threshold_bytes", 4096)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// SecretMapping defines how to load a secret from keyring into the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool
}

// chainKeyIsSet reports whether the named chain provider already has a key.
func chainKeyIsSet(c *Config, providerName string) bool {
	for _, spec := range c.Failover.Chain {
		if strings.EqualFold(spec.Name, providerName) {
			return spec.APIKey != ""
		}
	}
	// No such provider in the chain; nothing to fill in.
	return true
}

// setChainKey applies an API key to the named chain provider.
func setChainKey(c *Config, providerName, value string) {
	for i, spec := range c.Failover.Chain {
		if strings.EqualFold(spec.Name, providerName) && spec.APIKey == "" {
			c.Failover.Chain[i].APIKey = value
		}
	}
}

// GetSecretMappings returns all secret mappings for the application.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "anthropic_api_key",
			Setter:     func(c *Config, val string) { setChainKey(c, "anthropic", val) },
			IsSet:      func(c *Config) bool { return chainKeyIsSet(c, "anthropic") },
		},
		{
			KeyringKey: "openai_api_key",
			Setter:     func(c *Config, val string) { setChainKey(c, "openai", val) },
			IsSet:      func(c *Config) bool { return chainKeyIsSet(c, "openai") },
		},
		{
			KeyringKey: "redis_password",
			Setter:     func(c *Config, val string) { c.Context.RedisPassword = val },
			IsSet:      func(c *Config) bool { return c.Context.RedisPassword != "" },
		},
	}
}

// loadSecretsFromKeyring fills in secrets the other sources left empty.
func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(config) {
			continue
		}
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
		// Non-fatal: if keyring doesn't have the key, just continue
	}
	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns all known secret keys that can be stored
// in the keyring.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, mapping := range mappings {
		keys[i] = mapping.KeyringKey
	}
	return keys
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Serving.Temperature < 0 || c.Serving.Temperature > 2 {
		return fmt.Errorf("invalid serving.temperature: %g (must be 0-2)", c.Serving.Temperature)
	}
	if c.Serving.GenerateTimeoutSeconds < 1 {
		return fmt.Errorf("serving.generate_timeout_seconds must be at least 1")
	}

	if c.Lifecycle.MaxConcurrentModels < 1 {
		return fmt.Errorf("lifecycle.max_concurrent_models must be at least 1")
	}
	if c.Lifecycle.MemoryThresholdPercent <= 0 || c.Lifecycle.MemoryThresholdPercent > 100 {
		return fmt.Errorf("invalid lifecycle.memory_threshold_percent: %g (must be 1-100)", c.Lifecycle.MemoryThresholdPercent)
	}
	if c.Lifecycle.GPUMemoryTotalMB < 1 {
		return fmt.Errorf("lifecycle.gpu_memory_total_mb must be positive")
	}

	if c.Providers.OllamaEndpoint == "" {
		return fmt.Errorf("providers.ollama_endpoint is required")
	}

	if c.Failover.Enabled {
		if len(c.Failover.Chain) == 0 {
			return fmt.Errorf("failover.chain must list at least one provider when failover is enabled")
		}
		for i, spec := range c.Failover.Chain {
			switch strings.ToLower(spec.Name) {
			case "ollama", "bedrock":
				// No key required; bedrock uses the default AWS
				// credentials chain, ollama is unauthenticated.
			case "anthropic":
				if spec.APIKey == "" {
					return fmt.Errorf("failover.chain[%d]: anthropic API key is required (set via config, HEDDLE_FAILOVER_CHAIN env, or 'heddle config set-key anthropic_api_key')", i)
				}
			case "openai":
				if spec.APIKey == "" {
					return fmt.Errorf("failover.chain[%d]: openai API key is required (set via config or 'heddle config set-key openai_api_key')", i)
				}
			default:
				return fmt.Errorf("failover.chain[%d]: unsupported provider: %s (must be ollama, anthropic, openai, or bedrock)", i, spec.Name)
			}
		}
	}

	if c.Context.MaxMessages < 1 {
		return fmt.Errorf("context.max_messages must be at least 1")
	}
	if c.Context.TTLHours < 1 {
		return fmt.Errorf("context.ttl_hours must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file.
func GenerateExampleConfig() string {
	return `# Heddle Configuration
# Priority: CLI flags > config file > environment variables > defaults

serving:
  temperature: 0.7
  generate_timeout_seconds: 30
  strict_admission: false
  maintenance_schedule: "@every 5m"

models:
  # Optional per-tier overrides (hot-reloaded while running)
  # overrides_path: ~/.heddle/models.yaml
  watch_overrides: true

lifecycle:
  max_concurrent_models: 3
  memory_threshold_percent: 85
  idle_timeout_minutes: 15
  gpu_memory_total_mb: 49152
  # history_path: ~/.heddle/heddle.db

providers:
  # Local inference server
  ollama_endpoint: http://localhost:11434

failover:
  # When enabled, generation walks the remote chain instead of the
  # local tiered router.
  enabled: false
  primary_timeout_ms: 2000
  chain:
    - name: anthropic
      model: claude-sonnet-4-5-20250929
      timeout_seconds: 30
      # api_key: set via keyring (heddle config set-key anthropic_api_key)
    - name: openai
      model: gpt-4.1
      timeout_seconds: 30
      # api_key: set via keyring (heddle config set-key openai_api_key)
    - name: ollama
      model: llama3.1:8b
      timeout_seconds: 60

context:
  redis_addr: localhost:6379
  # redis_password: set via keyring (heddle config set-key redis_password)
  redis_db: 0
  ttl_hours: 24
  max_messages: 100
  max_message_size: 10000
  compression_threshold_bytes: 4096

logging:
  level: info
  format: text
`
}
