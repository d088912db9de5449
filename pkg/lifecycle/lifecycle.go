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

// Package lifecycle manages model residency on the local backend: load and
// unload transitions, idle eviction under a GPU memory budget, usage
// tracking, and preloading of popular models. GPU accounting is internal
// bookkeeping: the sum of loaded models' configured footprints against a
// configured total.
package lifecycle

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/registry"
	"github.com/teradata-labs/heddle/pkg/types"
)

// Cumulative counter names persisted in the usage history.
const (
	counterModelsLoaded   = "models_loaded"
	counterModelsUnloaded = "models_unloaded"
	counterMemorySavedMB  = "memory_saved_mb"
	counterLoadTimeTotal  = "load_time_total"
)

// Config configures the lifecycle manager.
type Config struct {
	// Provider is the local backend that actually loads and unloads.
	Provider provider.Provider

	// Registry supplies per-model GPU footprints and keep-alive settings.
	Registry *registry.Registry

	// MaxConcurrentModels caps how many models may be LOADED at once.
	// Default: 3.
	MaxConcurrentModels int

	// MemoryThresholdPercent blocks admission once bookkept GPU usage
	// crosses this share of GPUMemoryTotalMB. Default: 85.
	MemoryThresholdPercent float64

	// IdleTimeout is how long a model must sit unused before the eviction
	// pass may unload it. Default: 15m.
	IdleTimeout time.Duration

	// GPUMemoryTotalMB is the GPU budget admission is checked against.
	// Default: 49152 (48 GiB).
	GPUMemoryTotalMB int

	// HistoryPath is the SQLite file for usage history and cumulative
	// counters. Empty keeps history in memory only.
	HistoryPath string

	// Logger for lifecycle events. Defaults to a nop logger.
	Logger *zap.Logger
}

// OptimizeResult reports one memory-optimization pass.
type OptimizeResult struct {
	Unloaded      []string      `json:"unloaded"`
	MemoryFreedMB int           `json:"memory_freed_mb"`
	KeptLoaded    []string      `json:"kept_loaded"`
	Elapsed       time.Duration `json:"elapsed"`
}

// ResourceMetrics is a point-in-time resource snapshot. GPU numbers are the
// manager's own bookkeeping; RAM numbers are process-level.
type ResourceMetrics struct {
	GPUMemTotalMB  int       `json:"gpu_mem_total_mb"`
	GPUMemUsedMB   int       `json:"gpu_mem_used_mb"`
	GPUMemFreeMB   int       `json:"gpu_mem_free_mb"`
	GPUUtilPercent float64   `json:"gpu_util_percent"`
	CPUCount       int       `json:"cpu_count"`
	Goroutines     int       `json:"goroutines"`
	RAMUsedMB      int       `json:"ram_used_mb"`
	RAMTotalMB     int       `json:"ram_total_mb"`
	At             time.Time `json:"at"`
}

// CacheStats reports residency-cache behavior.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// modelEntry is the per-model runtime record. opMu serializes load/unload
// transitions, which can block for seconds; mu guards info and is held only
// briefly, so state readers never wait on a transition in flight.
type modelEntry struct {
	opMu sync.Mutex

	mu   sync.Mutex
	info types.ModelInfo

	activeLoad atomic.Int64
}

func (e *modelEntry) status() types.ModelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info.Status
}

func (e *modelEntry) setStatus(s types.ModelStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info.Status = s
	e.info.ErrorMessage = errMsg
}

// Manager tracks per-model state and enforces the admission and eviction
// rules. Safe for concurrent use.
type Manager struct {
	cfg     Config
	history *UsageHistory
	logger  *zap.Logger

	mu     sync.RWMutex
	models map[string]*modelEntry

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
}

// NewManager creates a lifecycle manager with defaults applied.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("lifecycle: provider is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("lifecycle: registry is required")
	}
	if cfg.MaxConcurrentModels <= 0 {
		cfg.MaxConcurrentModels = 3
	}
	if cfg.MemoryThresholdPercent <= 0 {
		cfg.MemoryThresholdPercent = 85
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	if cfg.GPUMemoryTotalMB <= 0 {
		cfg.GPUMemoryTotalMB = 49152
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	history, err := NewUsageHistory(cfg.HistoryPath)
	if err != nil {
		// History is an optimization, not the point. Degrade to memory.
		cfg.Logger.Warn("Usage history unavailable, falling back to in-memory",
			zap.String("path", cfg.HistoryPath),
			zap.Error(err))
		history, _ = NewUsageHistory("")
	}

	return &Manager{
		cfg:     cfg,
		history: history,
		logger:  cfg.Logger,
		models:  map[string]*modelEntry{},
	}, nil
}

// entry returns the record for model, creating it on first reference.
func (m *Manager) entry(model string) *modelEntry {
	m.mu.RLock()
	e, ok := m.models[model]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.models[model]; ok {
		return e
	}
	e = &modelEntry{info: types.ModelInfo{ModelName: model, Status: types.ModelUnloaded}}
	m.models[model] = e
	return e
}

// Load makes model resident. It returns true when the model is LOADED on
// return, whether this call performed the load or found it already
// resident. With force, admission limits are bypassed after an eviction
// attempt. Concurrent loads of the same model serialize on the entry
// mutex; the second caller observes the post-transition state.
func (m *Manager) Load(ctx context.Context, model string, force bool) (bool, error) {
	cfg, ok := m.cfg.Registry.ByModel(model)
	if !ok {
		return false, types.NewError(types.KindInvalidInput, fmt.Sprintf("unknown model %q", model))
	}

	e := m.entry(model)
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.status() == types.ModelLoaded {
		m.cacheHits.Add(1)
		return true, nil
	}

	if !m.canLoad(cfg.GPUMemoryMB) {
		if !force {
			return false, types.NewError(types.KindResourceExhausted,
				fmt.Sprintf("cannot admit %s: concurrency or memory threshold reached", model))
		}
		// Forced: free what we can, then proceed regardless.
		m.evictIdle(ctx)
	}

	e.setStatus(types.ModelLoading, "")
	start := time.Now()

	if err := m.cfg.Provider.Load(ctx, model); err != nil {
		e.setStatus(types.ModelError, err.Error())
		m.logger.Error("Model load failed",
			zap.String("model", model),
			zap.Error(err))
		return false, types.WrapError(types.KindModelLoadFailed, model, err)
	}

	now := time.Now()
	e.mu.Lock()
	e.info.Status = types.ModelLoaded
	e.info.ErrorMessage = ""
	e.info.LoadedAt = &now
	e.info.MemoryUsageMB = cfg.GPUMemoryMB
	e.info.LoadTimeSeconds = now.Sub(start).Seconds()
	loadSeconds := e.info.LoadTimeSeconds
	e.mu.Unlock()

	m.cacheMisses.Add(1)
	m.history.AddCounter(counterModelsLoaded, 1)
	m.history.AddCounter(counterLoadTimeTotal, loadSeconds)

	m.logger.Info("Model loaded",
		zap.String("model", model),
		zap.Float64("load_seconds", loadSeconds),
		zap.Int("memory_mb", cfg.GPUMemoryMB))
	return true, nil
}

// Unload releases model. Returns true when an unload was performed; false
// when the model was not LOADED.
func (m *Manager) Unload(ctx context.Context, model string) (bool, error) {
	e := m.entry(model)
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.info.Status != types.ModelLoaded {
		e.mu.Unlock()
		return false, nil
	}
	freed := e.info.MemoryUsageMB
	e.info.Status = types.ModelUnloading
	e.mu.Unlock()

	if err := m.cfg.Provider.Unload(ctx, model); err != nil {
		e.setStatus(types.ModelError, err.Error())
		m.logger.Error("Model unload failed",
			zap.String("model", model),
			zap.Error(err))
		return false, types.WrapError(types.KindModelLoadFailed, model, err)
	}

	e.mu.Lock()
	e.info.Status = types.ModelUnloaded
	e.info.LoadedAt = nil
	e.info.MemoryUsageMB = 0
	e.mu.Unlock()

	m.history.AddCounter(counterModelsUnloaded, 1)
	m.history.AddCounter(counterMemorySavedMB, float64(freed))

	m.logger.Info("Model unloaded",
		zap.String("model", model),
		zap.Int("memory_freed_mb", freed))
	return true, nil
}

// Status returns a copy of the model's runtime record, or nil when the
// model has never been referenced.
func (m *Manager) Status(model string) *types.ModelInfo {
	m.mu.RLock()
	e, ok := m.models[model]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	info := e.info
	return &info
}

// BeginUse marks a request in flight against model. Eviction skips models
// with requests in flight.
func (m *Manager) BeginUse(model string) {
	m.entry(model).activeLoad.Add(1)
}

// EndUse releases a BeginUse and records the invocation in the usage
// history.
func (m *Manager) EndUse(model string) {
	e := m.entry(model)
	e.activeLoad.Add(-1)

	now := time.Now()
	e.mu.Lock()
	e.info.LastUsed = &now
	e.info.UsageCount++
	e.mu.Unlock()

	m.history.RecordUse(model, now)
}

// canLoad checks the admission rule: LOADED count below the concurrency cap
// and bookkept GPU usage below the memory threshold. Callers hold no map
// lock; the snapshot may be momentarily stale, which is acceptable.
func (m *Manager) canLoad(incomingMB int) bool {
	loaded, usedMB := m.residency()
	if loaded >= m.cfg.MaxConcurrentModels {
		return false
	}
	usage := float64(usedMB+incomingMB) / float64(m.cfg.GPUMemoryTotalMB) * 100
	return usage < m.cfg.MemoryThresholdPercent
}

// residency counts LOADED models and their bookkept memory.
func (m *Manager) residency() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loaded, usedMB := 0, 0
	for _, e := range m.models {
		e.mu.Lock()
		if e.info.Status == types.ModelLoaded {
			loaded++
			usedMB += e.info.MemoryUsageMB
		}
		e.mu.Unlock()
	}
	return loaded, usedMB
}

// evictionCandidates returns LOADED models with no requests in flight that
// are idle past the timeout, or that were loaded but never used. The most
// recently used model is always excluded so at least one stays resident;
// ties break on ascending model name.
func (m *Manager) evictionCandidates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type resident struct {
		model    string
		lastUsed time.Time
		idle     bool
	}
	var loaded []resident
	now := time.Now()
	for name, e := range m.models {
		if e.activeLoad.Load() > 0 {
			continue
		}
		e.mu.Lock()
		if e.info.Status == types.ModelLoaded {
			r := resident{model: name}
			if e.info.LastUsed != nil {
				r.lastUsed = *e.info.LastUsed
				r.idle = now.Sub(*e.info.LastUsed) >= m.cfg.IdleTimeout
			} else {
				// Loaded but never used counts as idle.
				r.idle = true
			}
			loaded = append(loaded, r)
		}
		e.mu.Unlock()
	}

	if len(loaded) == 0 {
		return nil
	}

	// Keep the most recently used resident model regardless of idleness.
	sort.Slice(loaded, func(i, j int) bool {
		if !loaded[i].lastUsed.Equal(loaded[j].lastUsed) {
			return loaded[i].lastUsed.After(loaded[j].lastUsed)
		}
		return loaded[i].model < loaded[j].model
	})

	var out []string
	for i, r := range loaded {
		if i == 0 {
			// Most recently used survivor.
			continue
		}
		if r.idle {
			out = append(out, r.model)
		}
	}
	return out
}

// evictIdle unloads idle candidates. Best effort.
func (m *Manager) evictIdle(ctx context.Context) {
	for _, model := range m.evictionCandidates() {
		if _, err := m.Unload(ctx, model); err != nil {
			m.logger.Warn("Eviction unload failed",
				zap.String("model", model),
				zap.Error(err))
		}
	}
}

// OptimizeMemory runs one eviction pass and reports what moved. At least
// one LOADED model remains whenever one was loaded before the pass.
func (m *Manager) OptimizeMemory(ctx context.Context) OptimizeResult {
	start := time.Now()
	result := OptimizeResult{}

	for _, model := range m.evictionCandidates() {
		e := m.entry(model)
		e.mu.Lock()
		freed := e.info.MemoryUsageMB
		e.mu.Unlock()

		ok, err := m.Unload(ctx, model)
		if err != nil || !ok {
			continue
		}
		result.Unloaded = append(result.Unloaded, model)
		result.MemoryFreedMB += freed
	}

	m.mu.RLock()
	for name, e := range m.models {
		e.mu.Lock()
		if e.info.Status == types.ModelLoaded {
			result.KeptLoaded = append(result.KeptLoaded, name)
		}
		e.mu.Unlock()
	}
	m.mu.RUnlock()
	sort.Strings(result.KeptLoaded)

	result.Elapsed = time.Since(start)
	m.logger.Info("Memory optimization pass",
		zap.Strings("unloaded", result.Unloaded),
		zap.Int("memory_freed_mb", result.MemoryFreedMB),
		zap.Strings("kept_loaded", result.KeptLoaded),
		zap.Duration("elapsed", result.Elapsed))
	return result
}

// PreloadPopular loads the most-used models from the rolling usage window,
// up to the concurrency cap. Admission rules apply; a model that cannot be
// admitted reports false.
func (m *Manager) PreloadPopular(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	for _, model := range m.history.Popular(m.cfg.MaxConcurrentModels) {
		ok, err := m.Load(ctx, model, false)
		out[model] = ok && err == nil
	}
	return out
}

// ResourceMetrics snapshots GPU bookkeeping and process-level RAM usage.
func (m *Manager) ResourceMetrics() ResourceMetrics {
	_, usedMB := m.residency()
	total := m.cfg.GPUMemoryTotalMB

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return ResourceMetrics{
		GPUMemTotalMB:  total,
		GPUMemUsedMB:   usedMB,
		GPUMemFreeMB:   total - usedMB,
		GPUUtilPercent: float64(usedMB) / float64(total) * 100,
		CPUCount:       runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
		RAMUsedMB:      int(ms.Alloc >> 20),
		RAMTotalMB:     int(ms.Sys >> 20),
		At:             time.Now().UTC(),
	}
}

// CacheStats reports residency-cache hits and misses.
func (m *Manager) CacheStats() CacheStats {
	return CacheStats{
		Hits:   m.cacheHits.Load(),
		Misses: m.cacheMisses.Load(),
	}
}

// Counters returns the cumulative persisted counters.
func (m *Manager) Counters() map[string]float64 {
	return m.history.Counters()
}

// LoadedModels lists models currently LOADED, sorted by name.
func (m *Manager) LoadedModels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for name, e := range m.models {
		e.mu.Lock()
		if e.info.Status == types.ModelLoaded {
			out = append(out, name)
		}
		e.mu.Unlock()
	}
	sort.Strings(out)
	return out
}

// PruneHistory drops usage records older than the rolling window.
func (m *Manager) PruneHistory() int {
	return m.history.Prune()
}

// Close releases the usage history.
func (m *Manager) Close() error {
	return m.history.Close()
}
