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

// Package router selects a model tier per query and drives generation
// against the local backend. Selection combines the complexity verdict with
// current per-tier load and time sensitivity; a failed generation retries
// once on the decision's fallback tier.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/teradata-labs/heddle/pkg/analyzer"
	"github.com/teradata-labs/heddle/pkg/lifecycle"
	"github.com/teradata-labs/heddle/pkg/metrics"
	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/registry"
	"github.com/teradata-labs/heddle/pkg/tokencount"
	"github.com/teradata-labs/heddle/pkg/types"
)

// Config configures the router.
type Config struct {
	// Analyzer classifies queries. Required.
	Analyzer *analyzer.Analyzer

	// Registry supplies the tier catalog. Required.
	Registry *registry.Registry

	// Lifecycle ensures model residency. Required.
	Lifecycle *lifecycle.Manager

	// Provider executes generation on the local backend. Required.
	Provider provider.Provider

	// TokenCounter trims histories to the tier's context window. Defaults
	// to a fresh counter.
	TokenCounter *tokencount.Counter

	// Metrics receives routing observations. Optional.
	Metrics *metrics.Metrics

	// Temperature passed to the backend. Default: 0.7.
	Temperature float64

	// GenerateTimeout caps one generation attempt. Default: 30s.
	GenerateTimeout time.Duration

	// StrictAdmission enforces tier capacity with a weighted semaphore
	// instead of the default snapshot comparison, which can briefly
	// oversubscribe by the worker count.
	StrictAdmission bool

	// Logger for routing events. Defaults to a nop logger.
	Logger *zap.Logger
}

// tierState tracks one tier's in-flight load and response history.
type tierState struct {
	load atomic.Int64
	sem  *semaphore.Weighted

	requests  atomic.Int64
	fallbacks atomic.Int64

	// Nanoseconds and tokens, accumulated for averages.
	totalTimeNS atomic.Int64
	totalTokens atomic.Int64
}

// Router routes queries to tiers and generates responses. Safe for
// concurrent use.
type Router struct {
	cfg    Config
	logger *zap.Logger
	tiers  map[types.Tier]*tierState

	routedByComplexity [4]atomic.Int64 // indexed by complexityIndex
	optimizePasses     atomic.Int64
	optimizeFreedMB    atomic.Int64
}

// New creates a router with defaults applied.
func New(cfg Config) (*Router, error) {
	if cfg.Analyzer == nil || cfg.Registry == nil || cfg.Lifecycle == nil || cfg.Provider == nil {
		return nil, fmt.Errorf("router: analyzer, registry, lifecycle, and provider are required")
	}
	if cfg.TokenCounter == nil {
		cfg.TokenCounter = tokencount.NewCounter()
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	tiers := map[types.Tier]*tierState{}
	for _, tc := range cfg.Registry.All() {
		ts := &tierState{}
		if cfg.StrictAdmission {
			ts.sem = semaphore.NewWeighted(int64(tc.ConcurrentCapacity))
		}
		tiers[tc.Tier] = ts
	}

	return &Router{
		cfg:    cfg,
		logger: cfg.Logger,
		tiers:  tiers,
	}, nil
}

func complexityIndex(c types.Complexity) int {
	switch c {
	case types.ComplexitySimple:
		return 0
	case types.ComplexityModerate:
		return 1
	case types.ComplexityComplex:
		return 2
	default:
		return 3
	}
}

// baseTier maps a complexity class to its default tier.
func baseTier(c types.Complexity) types.Tier {
	switch c {
	case types.ComplexitySimple:
		return types.TierFast
	case types.ComplexityModerate:
		return types.TierBalanced
	default:
		return types.TierPowerful
	}
}

// fallbackFor returns the next rung down the ladder, or nil for FAST.
func fallbackFor(tier types.Tier) *types.Tier {
	switch tier {
	case types.TierPowerful:
		t := types.TierBalanced
		return &t
	case types.TierBalanced:
		t := types.TierFast
		return &t
	default:
		return nil
	}
}

// Route analyzes query and selects a tier without generating.
func (r *Router) Route(ctx context.Context, query string, convCtx *types.ConversationContext) (types.RoutingDecision, error) {
	if strings.TrimSpace(query) == "" {
		return types.RoutingDecision{}, types.NewError(types.KindInvalidInput, "empty query")
	}

	analysis := r.cfg.Analyzer.Analyze(query, convCtx)
	return r.decide(analysis)
}

// decide applies tier selection to an analysis.
func (r *Router) decide(analysis types.QueryAnalysis) (types.RoutingDecision, error) {
	selected := baseTier(analysis.Complexity)
	reasons := []string{fmt.Sprintf("complexity %s maps to %s", analysis.Complexity, selected)}

	// Time-sensitive requests trade capability for latency, except at
	// CRITICAL where capability wins.
	if analysis.TimeSensitive {
		switch {
		case selected == types.TierBalanced:
			selected = types.TierFast
			reasons = append(reasons, "downgraded to fast for time sensitivity")
		case selected == types.TierPowerful && analysis.Complexity != types.ComplexityCritical:
			selected = types.TierBalanced
			reasons = append(reasons, "downgraded to balanced for time sensitivity")
		}
	}

	// Load adjustment: shift saturated tiers to a neighbor with room.
	selCfg, err := r.cfg.Registry.Get(selected)
	if err != nil {
		return types.RoutingDecision{}, err
	}
	load := r.tierLoad(selected)
	if load >= int64(selCfg.ConcurrentCapacity) {
		switch {
		case selected == types.TierFast && r.tierHasRoom(types.TierBalanced):
			selected = types.TierBalanced
			reasons = append(reasons, "fast tier at capacity, shifted load to balanced")
		case selected == types.TierBalanced && r.tierHasRoom(types.TierFast) &&
			(analysis.Complexity == types.ComplexitySimple || analysis.Complexity == types.ComplexityModerate):
			selected = types.TierFast
			reasons = append(reasons, "balanced tier at capacity, shifted load to fast")
		default:
			reasons = append(reasons, fmt.Sprintf("%s tier at capacity, queueing", selected))
		}
		if selCfg, err = r.cfg.Registry.Get(selected); err != nil {
			return types.RoutingDecision{}, err
		}
	}

	estimated := (float64(analysis.EstimatedTokens)/selCfg.AvgTokensPerSecond + 0.5) *
		(1 + 0.2*float64(r.tierLoad(selected)))

	r.routedByComplexity[complexityIndex(analysis.Complexity)].Add(1)

	return types.RoutingDecision{
		SelectedTier:          selected,
		ModelConfig:           selCfg,
		Reasoning:             strings.Join(reasons, "; "),
		Confidence:            analysis.Confidence,
		FallbackTier:          fallbackFor(selected),
		EstimatedResponseTime: estimated,
	}, nil
}

func (r *Router) tierLoad(tier types.Tier) int64 {
	if ts, ok := r.tiers[tier]; ok {
		return ts.load.Load()
	}
	return 0
}

func (r *Router) tierHasRoom(tier types.Tier) bool {
	cfg, err := r.cfg.Registry.Get(tier)
	if err != nil {
		return false
	}
	return r.tierLoad(tier) < int64(cfg.ConcurrentCapacity)
}

// Generate routes query and produces a response, retrying once on the
// decision's fallback tier when the first attempt fails retryably.
func (r *Router) Generate(ctx context.Context, query string, convCtx *types.ConversationContext) (*types.LLMResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.KindInvalidInput, "empty query")
	}

	analysis := r.cfg.Analyzer.Analyze(query, convCtx)
	decision, err := r.decide(analysis)
	if err != nil {
		return nil, err
	}

	resp, err := r.generateWithTier(ctx, decision.SelectedTier, analysis, query, convCtx, false)
	if err != nil {
		if decision.FallbackTier == nil || !types.Retryable(err) {
			return nil, err
		}

		fallback := *decision.FallbackTier
		r.logger.Warn("Tier generation failed, trying fallback",
			zap.String("tier", string(decision.SelectedTier)),
			zap.String("fallback", string(fallback)),
			zap.Error(err))
		if ts, ok := r.tiers[decision.SelectedTier]; ok {
			ts.fallbacks.Add(1)
		}
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordFallback()
		}

		// Force residency on the fallback attempt: the failed tier's model
		// may still hold memory the admission check would count.
		resp, err = r.generateWithTier(ctx, fallback, analysis, query, convCtx, true)
		if err != nil {
			return nil, err
		}
		resp.FallbackUsed = true
	}

	r.annotate(resp, decision, analysis)
	return resp, nil
}

// generateWithTier runs one generation attempt against a single tier: it
// takes the tier's load slot, ensures residency, and calls the backend.
// No further fallback happens at this level.
func (r *Router) generateWithTier(ctx context.Context, tier types.Tier, analysis types.QueryAnalysis, query string, convCtx *types.ConversationContext, forceLoad bool) (*types.LLMResponse, error) {
	tierCfg, err := r.cfg.Registry.Get(tier)
	if err != nil {
		return nil, err
	}

	ts := r.tiers[tier]
	if ts == nil {
		return nil, types.NewError(types.KindInvalidInput, fmt.Sprintf("unknown tier %q", tier))
	}

	if ts.sem != nil {
		if err := ts.sem.Acquire(ctx, 1); err != nil {
			return nil, provider.ClassifyError("tier admission", err)
		}
		defer ts.sem.Release(1)
	}

	ts.load.Add(1)
	defer ts.load.Add(-1)

	if _, err := r.cfg.Lifecycle.Load(ctx, tierCfg.ModelName, forceLoad); err != nil {
		return nil, err
	}

	r.cfg.Lifecycle.BeginUse(tierCfg.ModelName)
	defer r.cfg.Lifecycle.EndUse(tierCfg.ModelName)

	messages := r.buildMessages(query, convCtx, tierCfg)

	genCtx, cancel := context.WithTimeout(ctx, r.cfg.GenerateTimeout)
	defer cancel()

	start := time.Now()
	resp, err := r.cfg.Provider.Generate(genCtx, provider.GenerateRequest{
		Model:       tierCfg.ModelName,
		Messages:    messages,
		MaxTokens:   tierCfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		NumCtx:      tierCfg.ContextWindow,
		KeepAlive:   time.Duration(tierCfg.KeepAliveMinutes) * time.Minute,
	})
	elapsed := time.Since(start)

	ts.requests.Add(1)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordRequest(r.cfg.Provider.Name(), string(tier), err == nil, elapsed)
	}
	if err != nil {
		return nil, provider.ClassifyError("generate on "+string(tier), err)
	}

	if resp.TokenCount == 0 {
		resp.TokenCount = r.cfg.TokenCounter.Count(resp.Content)
	}
	if resp.ResponseTime == 0 {
		resp.ResponseTime = elapsed.Seconds()
	}
	ts.totalTimeNS.Add(int64(elapsed))
	ts.totalTokens.Add(int64(resp.TokenCount))

	return resp, nil
}

// buildMessages assembles the provider message list: prior history trimmed
// to the tier's context budget, then the current user turn.
func (r *Router) buildMessages(query string, convCtx *types.ConversationContext, tierCfg types.ModelConfig) []types.Message {
	var history []types.Message
	if convCtx != nil {
		history = convCtx.Messages
	}

	turn := types.Message{Role: types.RoleUser, Content: query, Timestamp: time.Now().UTC()}
	messages := make([]types.Message, 0, len(history)+1)
	messages = append(messages, history...)

	// Skip a duplicate tail: callers that already appended the user turn to
	// the context get it once.
	if n := len(messages); n == 0 || messages[n-1].Role != types.RoleUser || messages[n-1].Content != query {
		messages = append(messages, turn)
	}

	budget := tierCfg.ContextWindow - tierCfg.MaxTokens
	return r.cfg.TokenCounter.TrimToBudget(messages, budget)
}

// annotate attaches routing metadata to a response.
func (r *Router) annotate(resp *types.LLMResponse, decision types.RoutingDecision, analysis types.QueryAnalysis) {
	if resp.RoutingMetadata == nil {
		resp.RoutingMetadata = map[string]any{}
	}
	resp.RoutingMetadata["selected_tier"] = string(decision.SelectedTier)
	resp.RoutingMetadata["complexity"] = string(analysis.Complexity)
	resp.RoutingMetadata["routing_confidence"] = decision.Confidence
	resp.RoutingMetadata["estimated_response_time_seconds"] = decision.EstimatedResponseTime
	resp.RoutingMetadata["reasoning"] = decision.Reasoning
	if decision.FallbackTier != nil {
		resp.RoutingMetadata["fallback_tier"] = string(*decision.FallbackTier)
	}
}

// OptimizeGPUMemory runs a lifecycle eviction pass with router bookkeeping.
func (r *Router) OptimizeGPUMemory(ctx context.Context) lifecycle.OptimizeResult {
	result := r.cfg.Lifecycle.OptimizeMemory(ctx)
	r.optimizePasses.Add(1)
	r.optimizeFreedMB.Add(int64(result.MemoryFreedMB))
	return result
}

// TierLoad exposes one tier's in-flight request count.
func (r *Router) TierLoad(tier types.Tier) int64 {
	return r.tierLoad(tier)
}
