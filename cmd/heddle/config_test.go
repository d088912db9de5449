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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/provider/factory"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetViper(t)
	t.Setenv("HEDDLE_DATA_DIR", t.TempDir())

	config, err := LoadConfig("")
	require.NoError(t, err)
	require.NotNil(t, config)

	assert.Equal(t, 0.7, config.Serving.Temperature)
	assert.Equal(t, 30, config.Serving.GenerateTimeoutSeconds)
	assert.Equal(t, "@every 5m", config.Serving.MaintenanceSchedule)
	assert.Equal(t, 3, config.Lifecycle.MaxConcurrentModels)
	assert.Equal(t, float64(85), config.Lifecycle.MemoryThresholdPercent)
	assert.Equal(t, 49152, config.Lifecycle.GPUMemoryTotalMB)
	assert.Equal(t, "http://localhost:11434", config.Providers.OllamaEndpoint)
	assert.Equal(t, "localhost:6379", config.Context.RedisAddr)
	assert.Equal(t, 24, config.Context.TTLHours)
	assert.Equal(t, 100, config.Context.MaxMessages)
	assert.False(t, config.Failover.Enabled)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfig_FromFile(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("HEDDLE_DATA_DIR", dir)

	cfgPath := filepath.Join(dir, "heddle.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
serving:
  temperature: 0.3
lifecycle:
  max_concurrent_models: 2
  gpu_memory_total_mb: 24576
failover:
  enabled: true
  chain:
    - name: ollama
      model: llama3.1:8b
      timeout_seconds: 60
context:
  redis_addr: redis.internal:6379
`), 0600))

	config, err := LoadConfig(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, 0.3, config.Serving.Temperature)
	assert.Equal(t, 2, config.Lifecycle.MaxConcurrentModels)
	assert.Equal(t, 24576, config.Lifecycle.GPUMemoryTotalMB)
	assert.True(t, config.Failover.Enabled)
	require.Len(t, config.Failover.Chain, 1)
	assert.Equal(t, "ollama", config.Failover.Chain[0].Name)
	assert.Equal(t, "llama3.1:8b", config.Failover.Chain[0].Model)
	assert.Equal(t, "redis.internal:6379", config.Context.RedisAddr)

	// Untouched sections keep defaults.
	assert.Equal(t, 100, config.Context.MaxMessages)
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	resetViper(t)
	t.Setenv("HEDDLE_DATA_DIR", t.TempDir())

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.NoError(t, config.Validate())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := func(t *testing.T) *Config {
		resetViper(t)
		t.Setenv("HEDDLE_DATA_DIR", t.TempDir())
		config, err := LoadConfig("")
		require.NoError(t, err)
		return config
	}

	t.Run("temperature out of range", func(t *testing.T) {
		config := base(t)
		config.Serving.Temperature = 3.5
		assert.ErrorContains(t, config.Validate(), "temperature")
	})

	t.Run("zero models", func(t *testing.T) {
		config := base(t)
		config.Lifecycle.MaxConcurrentModels = 0
		assert.ErrorContains(t, config.Validate(), "max_concurrent_models")
	})

	t.Run("threshold over 100", func(t *testing.T) {
		config := base(t)
		config.Lifecycle.MemoryThresholdPercent = 120
		assert.ErrorContains(t, config.Validate(), "memory_threshold_percent")
	})

	t.Run("failover enabled without chain", func(t *testing.T) {
		config := base(t)
		config.Failover.Enabled = true
		assert.ErrorContains(t, config.Validate(), "failover.chain")
	})

	t.Run("anthropic without key", func(t *testing.T) {
		config := base(t)
		config.Failover.Enabled = true
		config.Failover.Chain = []factory.Spec{{Name: "anthropic", Model: "claude-sonnet-4-5"}}
		assert.ErrorContains(t, config.Validate(), "anthropic API key")
	})

	t.Run("unknown chain provider", func(t *testing.T) {
		config := base(t)
		config.Failover.Enabled = true
		config.Failover.Chain = []factory.Spec{{Name: "mystery"}}
		assert.ErrorContains(t, config.Validate(), "unsupported provider")
	})

	t.Run("bad log level", func(t *testing.T) {
		config := base(t)
		config.Logging.Level = "verbose"
		assert.ErrorContains(t, config.Validate(), "logging.level")
	})
}

func TestSecretMappings_FillChainKeys(t *testing.T) {
	config := &Config{
		Failover: FailoverConfig{
			Chain: []factory.Spec{
				{Name: "anthropic", Model: "claude-sonnet-4-5"},
				{Name: "openai", Model: "gpt-4.1", APIKey: "explicit"},
			},
		},
	}

	for _, m := range GetSecretMappings() {
		switch m.KeyringKey {
		case "anthropic_api_key":
			assert.False(t, m.IsSet(config))
			m.Setter(config, "from-keyring")
			assert.Equal(t, "from-keyring", config.Failover.Chain[0].APIKey)
		case "openai_api_key":
			// Explicit config wins; keyring is skipped.
			assert.True(t, m.IsSet(config))
		}
	}
}

func TestGenerateExampleConfig(t *testing.T) {
	exampleConfig := GenerateExampleConfig()
	assert.Contains(t, exampleConfig, "serving:")
	assert.Contains(t, exampleConfig, "lifecycle:")
	assert.Contains(t, exampleConfig, "failover:")
	assert.Contains(t, exampleConfig, "chain:")
	assert.Contains(t, exampleConfig, "redis_addr:")
	assert.NotContains(t, exampleConfig, "api_key: sk-")
}

func TestGetDataDir_RespectsEnv(t *testing.T) {
	t.Setenv("HEDDLE_DATA_DIR", "/tmp/heddle-test")
	assert.Equal(t, "/tmp/heddle-test", GetDataDir())
}
