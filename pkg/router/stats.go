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
package router

import (
	"time"

	"github.com/teradata-labs/heddle/pkg/types"
)

// RoutingStats summarizes routing decisions by complexity class.
type RoutingStats struct {
	TotalRequests int64                      `json:"total_requests"`
	ByComplexity  map[types.Complexity]int64 `json:"by_complexity"`
}

// TierPerformance summarizes one tier's observed behavior.
type TierPerformance struct {
	Requests            int64   `json:"requests"`
	Fallbacks           int64   `json:"fallbacks"`
	AvgResponseSeconds  float64 `json:"avg_response_seconds"`
	AvgTokensPerSecond  float64 `json:"avg_tokens_per_second"`
	TotalTokensObserved int64   `json:"total_tokens_observed"`
}

// ThroughputAnalysis compares observed throughput against the balanced
// tier's configured rate as baseline.
type ThroughputAnalysis struct {
	BaselineTokensPerSecond float64 `json:"baseline_tokens_per_second"`
	ActualTokensPerSecond   float64 `json:"actual_tokens_per_second"`
	ImprovementPercent      float64 `json:"improvement_percent"`
}

// MemoryOptimization summarizes eviction activity and residency footprint.
type MemoryOptimization struct {
	Passes                  int64   `json:"passes"`
	TotalFreedMB            int64   `json:"total_freed_mb"`
	ResidentMemoryMB        int     `json:"resident_memory_mb"`
	CatalogMemoryMB         int     `json:"catalog_memory_mb"`
	MemoryEfficiencyPercent float64 `json:"memory_efficiency_percent"`
	CacheHits               int64   `json:"cache_hits"`
	CacheMisses             int64   `json:"cache_misses"`
}

// RouterMetrics is the router's admin snapshot.
type RouterMetrics struct {
	RoutingStats       RoutingStats                   `json:"routing_stats"`
	TierPerformance    map[types.Tier]TierPerformance `json:"tier_performance"`
	CurrentLoad        map[types.Tier]int64           `json:"current_load"`
	ThroughputAnalysis ThroughputAnalysis             `json:"throughput_analysis"`
	MemoryOptimization MemoryOptimization             `json:"memory_optimization"`
	At                 time.Time                      `json:"at"`
}

// Metrics snapshots the router's counters. Values are read individually off
// atomics; no cross-counter consistency is promised.
func (r *Router) Metrics() RouterMetrics {
	byComplexity := map[types.Complexity]int64{
		types.ComplexitySimple:   r.routedByComplexity[0].Load(),
		types.ComplexityModerate: r.routedByComplexity[1].Load(),
		types.ComplexityComplex:  r.routedByComplexity[2].Load(),
		types.ComplexityCritical: r.routedByComplexity[3].Load(),
	}
	total := int64(0)
	for _, n := range byComplexity {
		total += n
	}

	perf := map[types.Tier]TierPerformance{}
	load := map[types.Tier]int64{}
	var totalTimeNS, totalTokens int64
	for tier, ts := range r.tiers {
		requests := ts.requests.Load()
		timeNS := ts.totalTimeNS.Load()
		tokens := ts.totalTokens.Load()
		totalTimeNS += timeNS
		totalTokens += tokens

		p := TierPerformance{
			Requests:            requests,
			Fallbacks:           ts.fallbacks.Load(),
			TotalTokensObserved: tokens,
		}
		if requests > 0 {
			p.AvgResponseSeconds = time.Duration(timeNS).Seconds() / float64(requests)
		}
		if timeNS > 0 {
			p.AvgTokensPerSecond = float64(tokens) / time.Duration(timeNS).Seconds()
		}
		perf[tier] = p
		load[tier] = ts.load.Load()
	}

	baseline := 0.0
	if cfg, err := r.cfg.Registry.Get(types.TierBalanced); err == nil {
		baseline = cfg.AvgTokensPerSecond
	}
	actual := 0.0
	if totalTimeNS > 0 {
		actual = float64(totalTokens) / time.Duration(totalTimeNS).Seconds()
	}
	improvement := 0.0
	if baseline > 0 {
		improvement = (baseline - actual) / baseline * 100
		if improvement < 0 {
			improvement = 0
		}
	}

	residentMB := 0
	for _, model := range r.cfg.Lifecycle.LoadedModels() {
		if info := r.cfg.Lifecycle.Status(model); info != nil {
			residentMB += info.MemoryUsageMB
		}
	}
	catalogMB := r.cfg.Registry.TotalCatalogMemoryMB()
	efficiency := 0.0
	if catalogMB > 0 {
		efficiency = (1 - float64(residentMB)/float64(catalogMB)) * 100
	}
	cache := r.cfg.Lifecycle.CacheStats()

	return RouterMetrics{
		RoutingStats: RoutingStats{
			TotalRequests: total,
			ByComplexity:  byComplexity,
		},
		TierPerformance: perf,
		CurrentLoad:     load,
		ThroughputAnalysis: ThroughputAnalysis{
			BaselineTokensPerSecond: baseline,
			ActualTokensPerSecond:   actual,
			ImprovementPercent:      improvement,
		},
		MemoryOptimization: MemoryOptimization{
			Passes:                  r.optimizePasses.Load(),
			TotalFreedMB:            r.optimizeFreedMB.Load(),
			ResidentMemoryMB:        residentMB,
			CatalogMemoryMB:         catalogMB,
			MemoryEfficiencyPercent: efficiency,
			CacheHits:               cache.Hits,
			CacheMisses:             cache.Misses,
		},
		At: time.Now().UTC(),
	}
}
