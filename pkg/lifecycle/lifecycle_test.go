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
package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/provider/providertest"
	"github.com/teradata-labs/heddle/pkg/registry"
	"github.com/teradata-labs/heddle/pkg/types"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *providertest.Provider) {
	t.Helper()

	fake := providertest.New("ollama")
	if cfg.Provider == nil {
		cfg.Provider = fake
	}
	if cfg.Registry == nil {
		reg, err := registry.New(registry.Config{})
		require.NoError(t, err)
		cfg.Registry = reg
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, fake
}

func fastModel(t *testing.T, m *Manager) string {
	t.Helper()
	cfg, err := m.cfg.Registry.Get(types.TierFast)
	require.NoError(t, err)
	return cfg.ModelName
}

func TestManager_LoadTransitions(t *testing.T) {
	m, fake := newTestManager(t, Config{})
	model := fastModel(t, m)

	require.Nil(t, m.Status(model))

	ok, err := m.Load(context.Background(), model, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fake.Loaded(model))

	info := m.Status(model)
	require.NotNil(t, info)
	assert.Equal(t, types.ModelLoaded, info.Status)
	assert.NotNil(t, info.LoadedAt)
	assert.Equal(t, 3000, info.MemoryUsageMB)

	ok, err = m.Unload(context.Background(), model)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.ModelUnloaded, m.Status(model).Status)
	assert.Equal(t, 0, m.Status(model).MemoryUsageMB)
}

func TestManager_LoadUnknownModel(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	ok, err := m.Load(context.Background(), "no-such-model", false)
	assert.False(t, ok)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestManager_LoadFailureMarksError(t *testing.T) {
	m, fake := newTestManager(t, Config{})
	fake.FailLoads(errors.New("pull failed"))
	model := fastModel(t, m)

	ok, err := m.Load(context.Background(), model, false)
	assert.False(t, ok)
	assert.True(t, types.IsKind(err, types.KindModelLoadFailed))

	info := m.Status(model)
	require.NotNil(t, info)
	assert.Equal(t, types.ModelError, info.Status)
	assert.Contains(t, info.ErrorMessage, "pull failed")
}

func TestManager_ConcurrencyCapAdmission(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxConcurrentModels: 1})

	fast, err := m.cfg.Registry.Get(types.TierFast)
	require.NoError(t, err)
	balanced, err := m.cfg.Registry.Get(types.TierBalanced)
	require.NoError(t, err)

	ok, err := m.Load(context.Background(), fast.ModelName, false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Load(context.Background(), balanced.ModelName, false)
	assert.False(t, ok)
	assert.True(t, types.IsKind(err, types.KindResourceExhausted))
}

func TestManager_MemoryThresholdAdmission(t *testing.T) {
	// 10 GB budget at 85%: FAST (3 GB) fits, POWERFUL (40 GB) never does.
	m, _ := newTestManager(t, Config{GPUMemoryTotalMB: 10000})

	fast, err := m.cfg.Registry.Get(types.TierFast)
	require.NoError(t, err)
	powerful, err := m.cfg.Registry.Get(types.TierPowerful)
	require.NoError(t, err)

	ok, err := m.Load(context.Background(), fast.ModelName, false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Load(context.Background(), powerful.ModelName, false)
	assert.False(t, ok)
	assert.True(t, types.IsKind(err, types.KindResourceExhausted))
}

func TestManager_ConcurrentLoadSingleMiss(t *testing.T) {
	m, fake := newTestManager(t, Config{})
	fake.SetLoadDelay(20 * time.Millisecond)
	model := fastModel(t, m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Load(context.Background(), model, false)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	// Only the first loader performed the load; everyone else reused it.
	stats := m.CacheStats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(7), stats.Hits)
	assert.Equal(t, 1, fake.LoadCalls())
}

func TestManager_OptimizeMemoryKeepsOne(t *testing.T) {
	m, _ := newTestManager(t, Config{IdleTimeout: time.Nanosecond})

	fast, err := m.cfg.Registry.Get(types.TierFast)
	require.NoError(t, err)
	balanced, err := m.cfg.Registry.Get(types.TierBalanced)
	require.NoError(t, err)

	for _, model := range []string{fast.ModelName, balanced.ModelName} {
		ok, err := m.Load(context.Background(), model, false)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Touch the balanced model so it is the most recently used.
	m.BeginUse(balanced.ModelName)
	m.EndUse(balanced.ModelName)
	time.Sleep(2 * time.Millisecond)

	result := m.OptimizeMemory(context.Background())

	assert.Equal(t, []string{fast.ModelName}, result.Unloaded)
	assert.Equal(t, fast.GPUMemoryMB, result.MemoryFreedMB)
	assert.Equal(t, []string{balanced.ModelName}, result.KeptLoaded)
	assert.GreaterOrEqual(t, len(m.LoadedModels()), 1)
}

func TestManager_OptimizeMemorySkipsActive(t *testing.T) {
	m, _ := newTestManager(t, Config{IdleTimeout: time.Nanosecond})

	fast, err := m.cfg.Registry.Get(types.TierFast)
	require.NoError(t, err)
	balanced, err := m.cfg.Registry.Get(types.TierBalanced)
	require.NoError(t, err)

	for _, model := range []string{fast.ModelName, balanced.ModelName} {
		_, err := m.Load(context.Background(), model, false)
		require.NoError(t, err)
	}

	// Balanced most recently used; fast has a request in flight.
	m.BeginUse(balanced.ModelName)
	m.EndUse(balanced.ModelName)
	m.BeginUse(fast.ModelName)
	defer m.EndUse(fast.ModelName)

	result := m.OptimizeMemory(context.Background())
	assert.Empty(t, result.Unloaded)
	assert.Len(t, result.KeptLoaded, 2)
}

func TestManager_PreloadPopular(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, Config{HistoryPath: filepath.Join(dir, "usage.db")})

	fast, err := m.cfg.Registry.Get(types.TierFast)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 5; i++ {
		m.history.RecordUse(fast.ModelName, now)
	}

	loaded := m.PreloadPopular(context.Background())
	assert.True(t, loaded[fast.ModelName])
	assert.Equal(t, types.ModelLoaded, m.Status(fast.ModelName).Status)
}

func TestManager_CountersPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usage.db")

	m1, _ := newTestManager(t, Config{HistoryPath: path})
	model := fastModel(t, m1)
	_, err := m1.Load(context.Background(), model, false)
	require.NoError(t, err)
	_, err = m1.Unload(context.Background(), model)
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2, _ := newTestManager(t, Config{HistoryPath: path})
	counters := m2.Counters()
	assert.Equal(t, float64(1), counters["models_loaded"])
	assert.Equal(t, float64(1), counters["models_unloaded"])
	assert.Equal(t, float64(3000), counters["memory_saved_mb"])
}

func TestManager_ResourceMetrics(t *testing.T) {
	m, _ := newTestManager(t, Config{GPUMemoryTotalMB: 50000})
	model := fastModel(t, m)
	_, err := m.Load(context.Background(), model, false)
	require.NoError(t, err)

	rm := m.ResourceMetrics()
	assert.Equal(t, 50000, rm.GPUMemTotalMB)
	assert.Equal(t, 3000, rm.GPUMemUsedMB)
	assert.Equal(t, 47000, rm.GPUMemFreeMB)
	assert.InDelta(t, 6.0, rm.GPUUtilPercent, 0.001)
	assert.False(t, rm.At.IsZero())
}

func TestUsageHistory_PopularRanking(t *testing.T) {
	h, err := NewUsageHistory("")
	require.NoError(t, err)

	now := time.Now()
	// Old-but-heavy usage loses to recent usage at the same total.
	for i := 0; i < 4; i++ {
		h.RecordUse("old-model", now.Add(-5*time.Hour))
	}
	for i := 0; i < 4; i++ {
		h.RecordUse("hot-model", now)
	}
	h.RecordUse("rare-model", now)

	top := h.Popular(2)
	require.Len(t, top, 2)
	assert.Equal(t, "hot-model", top[0])
	assert.Equal(t, "old-model", top[1])
}

func TestUsageHistory_Prune(t *testing.T) {
	h, err := NewUsageHistory("")
	require.NoError(t, err)

	h.RecordUse("m", time.Now().Add(-25*time.Hour))
	h.RecordUse("m", time.Now())

	removed := h.Prune()
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"m"}, h.Popular(1))
}
