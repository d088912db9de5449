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
package serving

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/analyzer"
	"github.com/teradata-labs/heddle/pkg/contextstore"
	"github.com/teradata-labs/heddle/pkg/failover"
	"github.com/teradata-labs/heddle/pkg/lifecycle"
	"github.com/teradata-labs/heddle/pkg/memory"
	"github.com/teradata-labs/heddle/pkg/provider/providertest"
	"github.com/teradata-labs/heddle/pkg/registry"
	"github.com/teradata-labs/heddle/pkg/router"
	"github.com/teradata-labs/heddle/pkg/types"
)

func newTestService(t *testing.T, local *providertest.Provider, chain []failover.Entry) *Service {
	t.Helper()

	if local == nil {
		local = providertest.New("ollama")
	}
	reg, err := registry.New(registry.Config{})
	require.NoError(t, err)

	lm, err := lifecycle.NewManager(lifecycle.Config{Provider: local, Registry: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = lm.Close() })

	rt, err := router.New(router.Config{
		Analyzer:  analyzer.NewAnalyzer(),
		Registry:  reg,
		Lifecycle: lm,
		Provider:  local,
	})
	require.NoError(t, err)

	store := contextstore.New(contextstore.Config{})

	cfg := Config{
		Analyzer:  analyzer.NewAnalyzer(),
		Store:     store,
		Router:    rt,
		Lifecycle: lm,
		Extractor: memory.NewExtractor(memory.ExtractorConfig{}),
	}
	if chain != nil {
		fm, err := failover.New(failover.Config{
			Entries:   chain,
			Store:     store,
			Analyzer:  cfg.Analyzer,
			Extractor: cfg.Extractor,
		})
		require.NoError(t, err)
		cfg.Failover = fm
	}

	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

func TestService_GenerateLocalPath(t *testing.T) {
	svc := newTestService(t, nil, nil)

	resp, err := svc.GenerateResponse(context.Background(), Request{Query: "Summarize this text briefly"})
	require.NoError(t, err)

	assert.Equal(t, "canned response", resp.Content)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "fast", resp.RoutingMetadata["selected_tier"])

	// Conversation persisted with both turns.
	c := svc.cfg.Store.Get(context.Background(), resp.ConversationID)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, types.RoleAssistant, c.Messages[1].Role)
}

func TestService_GenerateThroughFailoverChain(t *testing.T) {
	primary := providertest.New("anthropic", providertest.Step{Content: "cloud answer"})
	svc := newTestService(t, nil, []failover.Entry{
		{Provider: primary, Model: "claude"},
	})

	resp, err := svc.GenerateResponse(context.Background(), Request{
		Query:          "hello there",
		ConversationID: "conv-chain",
	})
	require.NoError(t, err)
	assert.Equal(t, "cloud answer", resp.Content)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "conv-chain", resp.ConversationID)
}

func TestService_ApologyWhenChainExhausted(t *testing.T) {
	primary := providertest.New("anthropic",
		providertest.Step{Err: types.NewError(types.KindProviderUnavailable, "down")})
	svc := newTestService(t, nil, []failover.Entry{
		{Provider: primary, Model: "claude"},
	})

	resp, err := svc.GenerateResponse(context.Background(), Request{Query: "hello"})
	require.NoError(t, err)

	assert.Equal(t, failover.ApologyResponse, resp.Content)
	assert.Equal(t, "none", resp.Provider)
	assert.True(t, resp.FallbackUsed)
	assert.Equal(t, "All LLM providers failed", resp.Err)
}

func TestService_EmptyQueryRejected(t *testing.T) {
	svc := newTestService(t, nil, nil)

	_, err := svc.GenerateResponse(context.Background(), Request{Query: "  "})
	assert.True(t, types.IsKind(err, types.KindInvalidInput))
}

func TestService_ContextHintSeedsNewConversation(t *testing.T) {
	svc := newTestService(t, nil, nil)

	hint := types.NewConversationContext("ignored")
	hint.AddMessage(types.RoleUser, "earlier question")
	hint.AddMessage(types.RoleAssistant, "earlier answer")

	resp, err := svc.GenerateResponse(context.Background(), Request{
		Query:          "Summarize this text briefly",
		ConversationID: "conv-hint",
		ContextHint:    hint,
	})
	require.NoError(t, err)

	c := svc.cfg.Store.Get(context.Background(), resp.ConversationID)
	require.Len(t, c.Messages, 4)
	assert.Equal(t, "earlier question", c.Messages[0].Content)
}

func TestService_RouteOnly(t *testing.T) {
	svc := newTestService(t, nil, nil)

	decision, err := svc.RouteOnly(context.Background(), "Summarize this text briefly", "")
	require.NoError(t, err)
	assert.Equal(t, types.TierFast, decision.SelectedTier)
}

func TestService_AdminModelOperations(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ctx := context.Background()

	ok, err := svc.LoadModel(ctx, "llama3.2:3b", false)
	require.NoError(t, err)
	assert.True(t, ok)

	result := svc.OptimizeMemory(ctx)
	assert.Contains(t, result.KeptLoaded, "llama3.2:3b")

	ok, err = svc.UnloadModel(ctx, "llama3.2:3b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_MetricsSnapshot(t *testing.T) {
	svc := newTestService(t, nil, nil)

	_, err := svc.GenerateResponse(context.Background(), Request{Query: "Summarize this text briefly"})
	require.NoError(t, err)

	snap := svc.Metrics(context.Background())
	assert.Equal(t, int64(1), snap.Router.RoutingStats.TotalRequests)
	assert.Equal(t, int64(1), snap.Cache.Misses)
	assert.Equal(t, float64(1), snap.Counters["models_loaded"])
	assert.Nil(t, snap.Failover)
}

func TestService_MemoryExtractionOnLocalPath(t *testing.T) {
	svc := newTestService(t, nil, nil)

	resp, err := svc.GenerateResponse(context.Background(), Request{
		Query:          "I prefer Python for machine learning",
		ConversationID: "conv-mem",
	})
	require.NoError(t, err)

	c := svc.cfg.Store.Get(context.Background(), resp.ConversationID)
	assert.NotEmpty(t, c.UserPreferences)
	assert.Contains(t, c.MemoryKeywords, "python")
}

func TestService_MaintenanceLoopStartStop(t *testing.T) {
	svc := newTestService(t, nil, nil)

	require.NoError(t, svc.Start())
	require.NoError(t, svc.Start()) // idempotent
	svc.Stop()
	svc.Stop() // idempotent
}
