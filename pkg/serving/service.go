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

// Package serving is the façade over the serving core: it wires the
// analyzer, registry, lifecycle manager, router, failover chain, context
// store, and memory extractor into the single generate contract the
// transport layer calls, plus the admin operations. A cron loop runs the
// periodic maintenance passes.
package serving

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/analyzer"
	"github.com/teradata-labs/heddle/pkg/contextstore"
	"github.com/teradata-labs/heddle/pkg/failover"
	"github.com/teradata-labs/heddle/pkg/lifecycle"
	"github.com/teradata-labs/heddle/pkg/memory"
	"github.com/teradata-labs/heddle/pkg/metrics"
	"github.com/teradata-labs/heddle/pkg/router"
	"github.com/teradata-labs/heddle/pkg/types"
)

// Request is the core's public generate contract.
type Request struct {
	// Query is the user's natural-language input. Required.
	Query string `json:"query"`

	// ConversationID identifies the conversation; empty creates a new one.
	ConversationID string `json:"conversation_id,omitempty"`

	// ContextHint seeds a conversation the store does not know yet.
	ContextHint *types.ConversationContext `json:"context_hint,omitempty"`
}

// Response is the generate result with routing metadata attached.
type Response struct {
	*types.LLMResponse

	// ConversationID echoes (or assigns) the conversation.
	ConversationID string `json:"conversation_id"`
}

// Config configures the service.
type Config struct {
	// Analyzer classifies queries. Required.
	Analyzer *analyzer.Analyzer

	// Store persists conversations. Required.
	Store *contextstore.Store

	// Router serves the local tiered path. Required.
	Router *router.Router

	// Lifecycle backs the admin model operations. Required.
	Lifecycle *lifecycle.Manager

	// Failover, when present, takes over generation: the chain is walked
	// before or instead of the local path depending on its entries.
	Failover *failover.Manager

	// Extractor mines memories from user turns. Optional.
	Extractor *memory.Extractor

	// Metrics receives gauge updates from the maintenance loop. Optional.
	Metrics *metrics.Metrics

	// MaintenanceSchedule is the cron spec for the maintenance loop.
	// Default: "@every 5m".
	MaintenanceSchedule string

	// Logger for service events. Defaults to a nop logger.
	Logger *zap.Logger
}

// Service is the serving core façade. Safe for concurrent use.
type Service struct {
	cfg    Config
	logger *zap.Logger
	cron   *cron.Cron
}

// New creates a service with defaults applied.
func New(cfg Config) (*Service, error) {
	if cfg.Analyzer == nil || cfg.Store == nil || cfg.Router == nil || cfg.Lifecycle == nil {
		return nil, fmt.Errorf("serving: analyzer, store, router, and lifecycle are required")
	}
	if cfg.MaintenanceSchedule == "" {
		cfg.MaintenanceSchedule = "@every 5m"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Service{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// GenerateResponse is the core's single public generation operation. The
// returned Response always carries content: a terminal chain failure
// yields the fixed apology with the error recorded on the envelope rather
// than an error return.
func (s *Service) GenerateResponse(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, types.NewError(types.KindInvalidInput, "empty query")
	}
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	if s.cfg.Failover != nil {
		resp, err := s.cfg.Failover.Generate(ctx, req.Query, convID)
		if err != nil && !types.IsKind(err, types.KindAllProvidersFailed) {
			return nil, err
		}
		// AllProvidersFailed still carries the apology envelope.
		return &Response{LLMResponse: resp, ConversationID: convID}, nil
	}

	convCtx := s.loadContext(ctx, convID, req.ContextHint)
	convCtx.AddMessage(types.RoleUser, req.Query)
	if s.cfg.Extractor != nil {
		convCtx = s.cfg.Extractor.ProcessTurn(convCtx, convCtx.MessageCount())
	}

	resp, err := s.cfg.Router.Generate(ctx, req.Query, convCtx)
	if err != nil {
		s.cfg.Store.Update(ctx, convID, convCtx)
		if !types.Retryable(err) {
			return nil, err
		}
		s.logger.Error("Local generation exhausted its fallback ladder",
			zap.String("conversation_id", convID),
			zap.Error(err))
		return &Response{
			LLMResponse: &types.LLMResponse{
				Content:      failover.ApologyResponse,
				Provider:     "none",
				Err:          "All LLM providers failed",
				FallbackUsed: true,
				Timestamp:    time.Now().UTC(),
			},
			ConversationID: convID,
		}, nil
	}

	convCtx.AddMessage(types.RoleAssistant, resp.Content)
	s.cfg.Store.Update(ctx, convID, convCtx)
	return &Response{LLMResponse: resp, ConversationID: convID}, nil
}

// loadContext fetches the conversation, seeding from the hint when the
// store has nothing for the id.
func (s *Service) loadContext(ctx context.Context, convID string, hint *types.ConversationContext) *types.ConversationContext {
	convCtx := s.cfg.Store.Get(ctx, convID)
	if len(convCtx.Messages) == 0 && hint != nil {
		seeded := hint.Copy()
		seeded.ConversationID = convID
		return seeded
	}
	return convCtx
}

// RouteOnly exposes the routing decision without generating.
func (s *Service) RouteOnly(ctx context.Context, query, conversationID string) (types.RoutingDecision, error) {
	var convCtx *types.ConversationContext
	if conversationID != "" {
		convCtx = s.cfg.Store.Get(ctx, conversationID)
	}
	return s.cfg.Router.Route(ctx, query, convCtx)
}

// ClearConversation drops a conversation's stored state.
func (s *Service) ClearConversation(ctx context.Context, conversationID string) {
	s.cfg.Store.Clear(ctx, conversationID)
}

// LoadModel is the admin load operation.
func (s *Service) LoadModel(ctx context.Context, model string, force bool) (bool, error) {
	return s.cfg.Lifecycle.Load(ctx, model, force)
}

// UnloadModel is the admin unload operation.
func (s *Service) UnloadModel(ctx context.Context, model string) (bool, error) {
	return s.cfg.Lifecycle.Unload(ctx, model)
}

// OptimizeMemory runs an eviction pass on demand.
func (s *Service) OptimizeMemory(ctx context.Context) lifecycle.OptimizeResult {
	return s.cfg.Router.OptimizeGPUMemory(ctx)
}

// MetricsSnapshot is the admin metrics view.
type MetricsSnapshot struct {
	Router    router.RouterMetrics          `json:"router"`
	Failover  *failover.Stats               `json:"failover,omitempty"`
	Resources lifecycle.ResourceMetrics     `json:"resources"`
	Cache     lifecycle.CacheStats          `json:"cache"`
	Counters  map[string]float64            `json:"counters"`
	Store     contextstore.MemoryUsageStats `json:"store"`
}

// Metrics assembles the admin snapshot across subsystems.
func (s *Service) Metrics(ctx context.Context) MetricsSnapshot {
	snap := MetricsSnapshot{
		Router:    s.cfg.Router.Metrics(),
		Resources: s.cfg.Lifecycle.ResourceMetrics(),
		Cache:     s.cfg.Lifecycle.CacheStats(),
		Counters:  s.cfg.Lifecycle.Counters(),
		Store:     s.cfg.Store.MemoryUsage(ctx),
	}
	if s.cfg.Failover != nil {
		stats := s.cfg.Failover.Stats()
		snap.Failover = &stats
	}
	return snap
}

// Health reports backend reachability.
func (s *Service) Health(ctx context.Context) error {
	return s.cfg.Store.Health(ctx)
}

// Start launches the maintenance loop: idle model eviction, expired
// conversation cleanup, and usage-history pruning.
func (s *Service) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.MaintenanceSchedule, s.maintain); err != nil {
		return fmt.Errorf("scheduling maintenance: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("Maintenance loop started",
		zap.String("schedule", s.cfg.MaintenanceSchedule))
	return nil
}

// Stop halts the maintenance loop, waiting for a running pass.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.logger.Info("Maintenance loop stopped")
}

// maintain runs one maintenance pass. Best effort; failures are logged.
func (s *Service) maintain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result := s.cfg.Lifecycle.OptimizeMemory(ctx)
	expired := s.cfg.Store.CleanupExpired(ctx)
	pruned := s.cfg.Lifecycle.PruneHistory()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetLoadedModels(len(s.cfg.Lifecycle.LoadedModels()))
		for _, tier := range types.Tiers() {
			s.cfg.Metrics.SetTierLoad(string(tier), s.cfg.Router.TierLoad(tier))
		}
	}

	s.logger.Debug("Maintenance pass complete",
		zap.Strings("models_unloaded", result.Unloaded),
		zap.Int("conversations_expired", expired),
		zap.Int("usage_records_pruned", pruned))
}
