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
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/internal/log"
	"github.com/teradata-labs/heddle/pkg/analyzer"
	"github.com/teradata-labs/heddle/pkg/contextstore"
	"github.com/teradata-labs/heddle/pkg/failover"
	"github.com/teradata-labs/heddle/pkg/lifecycle"
	"github.com/teradata-labs/heddle/pkg/memory"
	"github.com/teradata-labs/heddle/pkg/metrics"
	"github.com/teradata-labs/heddle/pkg/provider/factory"
	"github.com/teradata-labs/heddle/pkg/provider/ollama"
	"github.com/teradata-labs/heddle/pkg/registry"
	"github.com/teradata-labs/heddle/pkg/router"
	"github.com/teradata-labs/heddle/pkg/serving"
)

// runtime is the assembled serving stack behind the CLI commands.
type runtime struct {
	Service   *serving.Service
	Lifecycle *lifecycle.Manager
	Registry  *registry.Registry

	watcher *registry.Watcher
	logger  *zap.Logger
}

// buildRuntime wires the full stack from the loaded configuration.
func buildRuntime(cfg *Config) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := log.Logger()

	reg, err := registry.New(registry.Config{
		OverridesPath: cfg.Models.OverridesPath,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building model registry: %w", err)
	}

	var watcher *registry.Watcher
	if cfg.Models.OverridesPath != "" && cfg.Models.WatchOverrides {
		watcher, err = registry.NewWatcher(reg, cfg.Models.OverridesPath, registry.WatchConfig{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("watching tier overrides: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return nil, fmt.Errorf("watching tier overrides: %w", err)
		}
	}

	local := ollama.NewClient(ollama.Config{
		Endpoint: cfg.Providers.OllamaEndpoint,
		Logger:   logger,
	})

	lcCfg := lifecycle.Config{
		Provider:               local,
		Registry:               reg,
		MaxConcurrentModels:    cfg.Lifecycle.MaxConcurrentModels,
		MemoryThresholdPercent: cfg.Lifecycle.MemoryThresholdPercent,
		IdleTimeout:            time.Duration(cfg.Lifecycle.IdleTimeoutMinutes) * time.Minute,
		GPUMemoryTotalMB:       cfg.Lifecycle.GPUMemoryTotalMB,
		HistoryPath:            cfg.Lifecycle.HistoryPath,
		Logger:                 logger,
	}
	lm, err := lifecycle.NewManager(lcCfg)
	if err != nil {
		return nil, fmt.Errorf("building lifecycle manager: %w", err)
	}

	mets := metrics.New()

	rt, err := router.New(router.Config{
		Analyzer:        analyzer.NewAnalyzer(),
		Registry:        reg,
		Lifecycle:       lm,
		Provider:        local,
		Metrics:         mets,
		Temperature:     cfg.Serving.Temperature,
		GenerateTimeout: time.Duration(cfg.Serving.GenerateTimeoutSeconds) * time.Second,
		StrictAdmission: cfg.Serving.StrictAdmission,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building router: %w", err)
	}

	store := contextstore.New(contextstore.Config{
		RedisAddr:            cfg.Context.RedisAddr,
		RedisPassword:        cfg.Context.RedisPassword,
		RedisDB:              cfg.Context.RedisDB,
		TTL:                  time.Duration(cfg.Context.TTLHours) * time.Hour,
		MaxMessages:          cfg.Context.MaxMessages,
		MaxMessageSize:       cfg.Context.MaxMessageSize,
		DisableCompression:   cfg.Context.DisableCompression,
		CompressionThreshold: cfg.Context.CompressionThresholdBytes,
		Logger:               logger,
	})

	extractor := memory.NewExtractor(memory.ExtractorConfig{})

	svcCfg := serving.Config{
		Analyzer:            analyzer.NewAnalyzer(),
		Store:               store,
		Router:              rt,
		Lifecycle:           lm,
		Extractor:           extractor,
		Metrics:             mets,
		MaintenanceSchedule: cfg.Serving.MaintenanceSchedule,
		Logger:              logger,
	}

	if cfg.Failover.Enabled {
		entries := buildChain(cfg, logger)
		if !cfg.Failover.SkipHealthCheck {
			filterCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			entries = failover.FilterAvailable(filterCtx, entries, logger)
			cancel()
		}
		fm, err := failover.New(failover.Config{
			Entries:         entries,
			Store:           store,
			Analyzer:        svcCfg.Analyzer,
			Extractor:       extractor,
			Metrics:         mets,
			PrimaryTimeout:  time.Duration(cfg.Failover.PrimaryTimeoutMs) * time.Millisecond,
			DisableBreakers: cfg.Failover.DisableBreakers,
			Logger:          logger,
		})
		if err != nil {
			return nil, fmt.Errorf("building failover chain: %w", err)
		}
		svcCfg.Failover = fm
	}

	svc, err := serving.New(svcCfg)
	if err != nil {
		return nil, fmt.Errorf("building service: %w", err)
	}

	return &runtime{
		Service:   svc,
		Lifecycle: lm,
		Registry:  reg,
		watcher:   watcher,
		logger:    logger,
	}, nil
}

// buildChain converts configured chain specs into failover entries.
func buildChain(cfg *Config, logger *zap.Logger) []failover.Entry {
	var entries []failover.Entry
	for _, spec := range cfg.Failover.Chain {
		p, err := factory.New(spec, logger)
		if err != nil {
			logger.Warn("Skipping chain provider",
				zap.String("provider", spec.Name),
				zap.Error(err))
			continue
		}
		entries = append(entries, failover.Entry{
			Provider:    p,
			Model:       spec.Model,
			Timeout:     spec.Timeout(),
			Temperature: cfg.Serving.Temperature,
		})
	}
	return entries
}

// Close releases the runtime's background resources.
func (r *runtime) Close() {
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if err := r.Lifecycle.Close(); err != nil {
		r.logger.Warn("Closing lifecycle manager", zap.Error(err))
	}
}
