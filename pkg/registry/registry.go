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

// Package registry is the static catalog of model tier configurations.
// Baseline defaults cover the three tiers; deployments override any subset
// of the numeric fields (and the model name) from a YAML file, optionally
// hot-reloaded. Readers always receive value copies of a consistent
// snapshot.
package registry

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/heddle/pkg/types"
)

// Config configures the registry.
type Config struct {
	// OverridesPath points at an optional YAML file with per-tier
	// overrides. Empty means defaults only.
	OverridesPath string

	// Logger for override loading. Defaults to a nop logger.
	Logger *zap.Logger
}

// Override adjusts a subset of one tier's defaults. Nil fields keep the
// baseline value.
type Override struct {
	ModelName          *string  `yaml:"model_name"`
	MaxTokens          *int     `yaml:"max_tokens"`
	ContextWindow      *int     `yaml:"context_window"`
	GPUMemoryMB        *int     `yaml:"gpu_memory_mb"`
	AvgTokensPerSecond *float64 `yaml:"avg_tokens_per_second"`
	ConcurrentCapacity *int     `yaml:"concurrent_capacity"`
	KeepAliveMinutes   *int     `yaml:"keep_alive_minutes"`
}

type overrideFile struct {
	Tiers map[string]Override `yaml:"tiers"`
}

// Registry maps tiers to their model configuration.
type Registry struct {
	mu      sync.RWMutex
	configs map[types.Tier]types.ModelConfig
	logger  *zap.Logger
}

// Defaults returns the baseline catalog.
func Defaults() map[types.Tier]types.ModelConfig {
	return map[types.Tier]types.ModelConfig{
		types.TierFast: {
			ModelName:          "llama3.2:3b",
			Tier:               types.TierFast,
			MaxTokens:          2048,
			ContextWindow:      4096,
			GPUMemoryMB:        3000,
			AvgTokensPerSecond: 50,
			ConcurrentCapacity: 8,
			KeepAliveMinutes:   10,
		},
		types.TierBalanced: {
			ModelName:          "llama3.1:8b",
			Tier:               types.TierBalanced,
			MaxTokens:          4096,
			ContextWindow:      8192,
			GPUMemoryMB:        8000,
			AvgTokensPerSecond: 25,
			ConcurrentCapacity: 4,
			KeepAliveMinutes:   15,
		},
		types.TierPowerful: {
			ModelName:          "llama3.3:70b",
			Tier:               types.TierPowerful,
			MaxTokens:          8192,
			ContextWindow:      16384,
			GPUMemoryMB:        40000,
			AvgTokensPerSecond: 8,
			ConcurrentCapacity: 1,
			KeepAliveMinutes:   30,
		},
	}
}

// New builds a registry from defaults plus any configured override file.
func New(cfg Config) (*Registry, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Registry{
		configs: Defaults(),
		logger:  cfg.Logger,
	}

	if cfg.OverridesPath != "" {
		if err := r.LoadOverrides(cfg.OverridesPath); err != nil {
			return nil, fmt.Errorf("loading tier overrides: %w", err)
		}
	}
	return r, nil
}

// Get returns the configuration for a tier.
func (r *Registry) Get(tier types.Tier) (types.ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[tier]
	if !ok {
		return types.ModelConfig{}, types.NewError(types.KindInvalidInput, fmt.Sprintf("unknown tier %q", tier))
	}
	return cfg, nil
}

// All returns every tier configuration, cheapest tier first.
func (r *Registry) All() []types.ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ModelConfig, 0, len(r.configs))
	for _, tier := range types.Tiers() {
		if cfg, ok := r.configs[tier]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// ByModel looks up the tier configuration owning a model name.
func (r *Registry) ByModel(name string) (types.ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cfg := range r.configs {
		if cfg.ModelName == name {
			return cfg, true
		}
	}
	return types.ModelConfig{}, false
}

// TotalCatalogMemoryMB sums the GPU footprint of the whole catalog. Used by
// the router's memory-efficiency metric.
func (r *Registry) TotalCatalogMemoryMB() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, cfg := range r.configs {
		total += cfg.GPUMemoryMB
	}
	return total
}

// LoadOverrides reads the YAML override file and swaps in a new snapshot
// built from defaults plus the file's entries. Unknown tier names fail the
// load; a failed load leaves the previous snapshot untouched.
func (r *Registry) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file overrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	next := Defaults()
	for name, ov := range file.Tiers {
		tier := types.Tier(name)
		base, ok := next[tier]
		if !ok {
			return fmt.Errorf("override for unknown tier %q", name)
		}
		applyOverride(&base, ov)
		next[tier] = base
	}

	r.mu.Lock()
	r.configs = next
	r.mu.Unlock()

	r.logger.Info("Tier overrides applied",
		zap.String("path", path),
		zap.Int("tiers_overridden", len(file.Tiers)))
	return nil
}

func applyOverride(cfg *types.ModelConfig, ov Override) {
	if ov.ModelName != nil {
		cfg.ModelName = *ov.ModelName
	}
	if ov.MaxTokens != nil {
		cfg.MaxTokens = *ov.MaxTokens
	}
	if ov.ContextWindow != nil {
		cfg.ContextWindow = *ov.ContextWindow
	}
	if ov.GPUMemoryMB != nil {
		cfg.GPUMemoryMB = *ov.GPUMemoryMB
	}
	if ov.AvgTokensPerSecond != nil {
		cfg.AvgTokensPerSecond = *ov.AvgTokensPerSecond
	}
	if ov.ConcurrentCapacity != nil {
		cfg.ConcurrentCapacity = *ov.ConcurrentCapacity
	}
	if ov.KeepAliveMinutes != nil {
		cfg.KeepAliveMinutes = *ov.KeepAliveMinutes
	}
}
