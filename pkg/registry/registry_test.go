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
package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/types"
)

func TestRegistry_Defaults(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)

	fast, err := r.Get(types.TierFast)
	require.NoError(t, err)
	assert.Equal(t, 2048, fast.MaxTokens)
	assert.Equal(t, 4096, fast.ContextWindow)
	assert.Equal(t, 8, fast.ConcurrentCapacity)

	powerful, err := r.Get(types.TierPowerful)
	require.NoError(t, err)
	assert.Equal(t, 40000, powerful.GPUMemoryMB)
	assert.Equal(t, 1, powerful.ConcurrentCapacity)
	assert.Equal(t, 30, powerful.KeepAliveMinutes)

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, types.TierFast, all[0].Tier)
	assert.Equal(t, types.TierPowerful, all[2].Tier)
}

func TestRegistry_UnknownTier(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)

	_, err = r.Get(types.Tier("turbo"))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestRegistry_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	content := `tiers:
  fast:
    model_name: qwen2.5:1.5b
    concurrent_capacity: 16
  powerful:
    gpu_memory_mb: 24000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r, err := New(Config{OverridesPath: path})
	require.NoError(t, err)

	fast, err := r.Get(types.TierFast)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:1.5b", fast.ModelName)
	assert.Equal(t, 16, fast.ConcurrentCapacity)
	assert.Equal(t, 2048, fast.MaxTokens) // untouched fields keep defaults

	powerful, err := r.Get(types.TierPowerful)
	require.NoError(t, err)
	assert.Equal(t, 24000, powerful.GPUMemoryMB)
}

func TestRegistry_OverrideUnknownTierFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  turbo:\n    max_tokens: 1\n"), 0o644))

	_, err := New(Config{OverridesPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}

func TestRegistry_FailedReloadKeepsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  fast:\n    max_tokens: 999\n"), 0o644))

	r, err := New(Config{OverridesPath: path})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o644))
	require.Error(t, r.LoadOverrides(path))

	fast, err := r.Get(types.TierFast)
	require.NoError(t, err)
	assert.Equal(t, 999, fast.MaxTokens)
}

func TestRegistry_ByModel(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)

	cfg, ok := r.ByModel("llama3.1:8b")
	require.True(t, ok)
	assert.Equal(t, types.TierBalanced, cfg.Tier)

	_, ok = r.ByModel("unknown-model")
	assert.False(t, ok)
}

func TestRegistry_TotalCatalogMemory(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)

	assert.Equal(t, 3000+8000+40000, r.TotalCatalogMemoryMB())
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tiers: {}\n"), 0o644))

	r, err := New(Config{OverridesPath: path})
	require.NoError(t, err)

	reloaded := make(chan error, 4)
	w, err := NewWatcher(r, path, WatchConfig{
		DebounceMs: 50,
		OnReload:   func(_ string, err error) { reloaded <- err },
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("tiers:\n  balanced:\n    max_tokens: 1234\n"), 0o644))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}

	balanced, err := r.Get(types.TierBalanced)
	require.NoError(t, err)
	assert.Equal(t, 1234, balanced.MaxTokens)
}
