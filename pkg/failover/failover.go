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

// Package failover drives the provider chain: each call walks the ordered
// providers under per-call deadlines until one succeeds. Conversation state
// is fetched and persisted around the call; a per-provider circuit breaker
// skips backends that have been failing.
package failover

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/analyzer"
	"github.com/teradata-labs/heddle/pkg/contextstore"
	"github.com/teradata-labs/heddle/pkg/memory"
	"github.com/teradata-labs/heddle/pkg/metrics"
	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/types"
)

// ApologyResponse is the fixed content returned when every provider fails.
const ApologyResponse = "I apologize, but I'm currently unable to process your request. Please try again in a moment."

// Entry is one provider in the chain with its call parameters.
type Entry struct {
	// Provider is the constructed backend. Required.
	Provider provider.Provider

	// Model requested from this provider. Required.
	Model string

	// Timeout is this provider's own per-call deadline, used for
	// non-primary positions and for complex requests at the primary.
	// Default: 30s.
	Timeout time.Duration

	// MaxTokens for generation. Default: 4096.
	MaxTokens int

	// Temperature for generation. Default: 0.7.
	Temperature float64
}

// Config configures the failover manager.
type Config struct {
	// Entries is the provider chain in preference order. Required,
	// non-empty after filtering.
	Entries []Entry

	// Store persists conversation state around each call. Required.
	Store *contextstore.Store

	// Analyzer decides when the primary deadline may be relaxed. Optional;
	// without it the primary deadline always applies.
	Analyzer *analyzer.Analyzer

	// Extractor mines memories from the user turn. Optional.
	Extractor *memory.Extractor

	// Metrics receives request observations. Optional.
	Metrics *metrics.Metrics

	// PrimaryTimeout is the hard deadline on the first provider, keeping
	// the common path inside the latency SLA. Complex and critical
	// requests fall back to the entry's own Timeout. Default: 2s.
	PrimaryTimeout time.Duration

	// DisableBreakers turns off the per-provider circuit breakers.
	DisableBreakers bool

	// Logger for chain events. Defaults to a nop logger.
	Logger *zap.Logger
}

// Stats is the manager's metric snapshot.
type Stats struct {
	SuccessfulRequests int64            `json:"successful_requests"`
	FailedRequests     int64            `json:"failed_requests"`
	FallbackRequests   int64            `json:"fallback_requests"`
	ProviderUsage      map[string]int64 `json:"provider_usage"`
	AvgResponseSeconds float64          `json:"avg_response_seconds"`
}

// Manager walks the provider chain per request. Safe for concurrent use;
// per-conversation ordering is the caller's responsibility.
type Manager struct {
	cfg      Config
	logger   *zap.Logger
	breakers []*gobreaker.CircuitBreaker

	mu            sync.Mutex
	successful    int64
	failed        int64
	fallbacks     int64
	providerUsage map[string]int64
	avgResponse   float64
}

// FilterAvailable health-checks entries and keeps those whose backend
// responds, preserving order. Unreachable providers are logged and dropped.
func FilterAvailable(ctx context.Context, entries []Entry, logger *zap.Logger) []Entry {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out []Entry
	for _, e := range entries {
		if e.Provider == nil {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := e.Provider.Health(checkCtx)
		cancel()
		if err != nil {
			logger.Warn("Provider unavailable, dropped from chain",
				zap.String("provider", e.Provider.Name()),
				zap.Error(err))
			continue
		}
		out = append(out, e)
	}
	return out
}

// New creates a failover manager with defaults applied.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Entries) == 0 {
		return nil, fmt.Errorf("failover: at least one provider entry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("failover: context store is required")
	}
	if cfg.PrimaryTimeout <= 0 {
		cfg.PrimaryTimeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	for i := range cfg.Entries {
		if cfg.Entries[i].Timeout <= 0 {
			cfg.Entries[i].Timeout = 30 * time.Second
		}
		if cfg.Entries[i].MaxTokens <= 0 {
			cfg.Entries[i].MaxTokens = 4096
		}
		if cfg.Entries[i].Temperature == 0 {
			cfg.Entries[i].Temperature = 0.7
		}
	}

	m := &Manager{
		cfg:           cfg,
		logger:        cfg.Logger,
		providerUsage: map[string]int64{},
	}

	if !cfg.DisableBreakers {
		for _, e := range cfg.Entries {
			m.breakers = append(m.breakers, gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        e.Provider.Name(),
				MaxRequests: 1,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
			}))
		}
	}

	return m, nil
}

// Generate walks the chain for one query. Conversation state is loaded,
// appended, and persisted here; when every provider fails the apology
// response is returned together with an AllProvidersFailed error.
func (m *Manager) Generate(ctx context.Context, query, conversationID string) (*types.LLMResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.KindInvalidInput, "empty query")
	}

	convCtx := m.cfg.Store.Get(ctx, conversationID)
	convCtx.AddMessage(types.RoleUser, query)

	var analysis types.QueryAnalysis
	if m.cfg.Analyzer != nil {
		analysis = m.cfg.Analyzer.Analyze(query, convCtx)
	}
	if m.cfg.Extractor != nil {
		convCtx = m.cfg.Extractor.ProcessTurn(convCtx, convCtx.MessageCount())
	}

	relaxed := analysis.Complexity == types.ComplexityComplex ||
		analysis.Complexity == types.ComplexityCritical

	var lastErr error
	for i, entry := range m.cfg.Entries {
		deadline := entry.Timeout
		if i == 0 && !relaxed {
			deadline = m.cfg.PrimaryTimeout
		}

		resp, err := m.callProvider(ctx, i, entry, convCtx.Messages, deadline)
		if err != nil {
			lastErr = err
			m.recordFailure(entry.Provider.Name())
			m.logger.Warn("Provider failed, trying next in chain",
				zap.String("provider", entry.Provider.Name()),
				zap.String("conversation_id", conversationID),
				zap.Error(err))
			continue
		}

		if i > 0 {
			resp.FallbackUsed = true
			m.recordFallback()
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.RecordFallback()
			}
		}
		m.recordSuccess(entry.Provider.Name(), resp.ResponseTime)

		convCtx.AddMessage(types.RoleAssistant, resp.Content)
		m.cfg.Store.Update(ctx, conversationID, convCtx)
		return resp, nil
	}

	m.cfg.Store.Update(ctx, conversationID, convCtx)
	m.logger.Error("All providers failed",
		zap.String("conversation_id", conversationID),
		zap.Error(lastErr))

	return &types.LLMResponse{
		Content:      ApologyResponse,
		Provider:     "none",
		Err:          "All LLM providers failed",
		FallbackUsed: true,
		Timestamp:    time.Now().UTC(),
	}, types.WrapError(types.KindAllProvidersFailed, "provider chain exhausted", lastErr)
}

// callProvider runs one chain position under its deadline, through the
// position's circuit breaker when enabled.
func (m *Manager) callProvider(ctx context.Context, idx int, entry Entry, messages []types.Message, deadline time.Duration) (*types.LLMResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req := provider.GenerateRequest{
		Model:       entry.Model,
		Messages:    messages,
		MaxTokens:   entry.MaxTokens,
		Temperature: entry.Temperature,
	}

	start := time.Now()
	var resp *types.LLMResponse
	var err error
	if m.breakers != nil {
		var result any
		result, err = m.breakers[idx].Execute(func() (any, error) {
			return entry.Provider.Generate(callCtx, req)
		})
		if err == nil {
			resp = result.(*types.LLMResponse)
		}
	} else {
		resp, err = entry.Provider.Generate(callCtx, req)
	}
	elapsed := time.Since(start)

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.RecordRequest(entry.Provider.Name(), "chain", err == nil, elapsed)
	}
	if err != nil {
		return nil, provider.ClassifyError(entry.Provider.Name()+" generate", err)
	}
	if resp.ResponseTime == 0 {
		resp.ResponseTime = elapsed.Seconds()
	}
	return resp, nil
}

func (m *Manager) recordSuccess(providerName string, responseSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successful++
	m.providerUsage[providerName]++
	// Cumulative moving average over successful calls.
	m.avgResponse += (responseSeconds - m.avgResponse) / float64(m.successful)
}

func (m *Manager) recordFailure(providerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *Manager) recordFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

// Stats snapshots the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	usage := make(map[string]int64, len(m.providerUsage))
	for k, v := range m.providerUsage {
		usage[k] = v
	}
	return Stats{
		SuccessfulRequests: m.successful,
		FailedRequests:     m.failed,
		FallbackRequests:   m.fallbacks,
		ProviderUsage:      usage,
		AvgResponseSeconds: m.avgResponse,
	}
}

// Providers lists the chain's provider names in order.
func (m *Manager) Providers() []string {
	out := make([]string, 0, len(m.cfg.Entries))
	for _, e := range m.cfg.Entries {
		out = append(out, e.Provider.Name())
	}
	return out
}
