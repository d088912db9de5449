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
package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures request pacing for remote providers.
type RateLimiterConfig struct {
	// Enabled turns rate limiting on.
	Enabled bool

	// RequestsPerSecond is the sustained request rate. Default: 2.
	RequestsPerSecond float64

	// BurstCapacity is the maximum short burst. Default: 5.
	BurstCapacity int

	// TokensPerMinute bounds token consumption over a sliding minute.
	// Zero disables token-based limiting.
	TokensPerMinute int64

	// MinDelay is the minimum spacing between requests when it exceeds
	// the rate-derived spacing. Default: 0.
	MinDelay time.Duration

	// Logger for throttle events.
	Logger *zap.Logger
}

// RateLimiterMetrics tracks limiter behavior.
type RateLimiterMetrics struct {
	TotalRequests     int64
	ThrottledRequests int64
	TokensConsumed    int64
	LastThrottleTime  time.Time
}

// RateLimiter implements token-bucket pacing with an optional sliding
// token-per-minute window. Safe for concurrent use.
type RateLimiter struct {
	config RateLimiterConfig

	mu          sync.Mutex
	tokens      float64
	maxTokens   float64
	refillRate  float64
	lastRefill  time.Time
	lastRequest time.Time

	tokenWindowMu sync.Mutex
	tokenWindow   []tokenUsage

	metricsMu sync.Mutex
	metrics   RateLimiterMetrics
}

type tokenUsage struct {
	timestamp time.Time
	tokens    int64
}

// NewRateLimiter creates a rate limiter with defaults applied.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 2.0
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = 5
	}

	return &RateLimiter{
		config:     config,
		tokens:     float64(config.BurstCapacity),
		maxTokens:  float64(config.BurstCapacity),
		refillRate: config.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Do executes call after acquiring a request slot, waiting as required by
// the configured rates. The wait is abandoned when ctx is done.
func (rl *RateLimiter) Do(ctx context.Context, call func(context.Context) (interface{}, error)) (interface{}, error) {
	wait := rl.reserve()
	if wait > 0 {
		rl.noteThrottle()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	rl.metricsMu.Lock()
	rl.metrics.TotalRequests++
	rl.metricsMu.Unlock()

	return call(ctx)
}

// RecordTokenUsage feeds consumed tokens into the sliding window.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	rl.metricsMu.Lock()
	rl.metrics.TokensConsumed += tokens
	rl.metricsMu.Unlock()

	if rl.config.TokensPerMinute <= 0 {
		return
	}
	rl.tokenWindowMu.Lock()
	rl.tokenWindow = append(rl.tokenWindow, tokenUsage{timestamp: time.Now(), tokens: tokens})
	rl.tokenWindowMu.Unlock()
}

// Metrics returns a snapshot of limiter counters.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.metricsMu.Lock()
	defer rl.metricsMu.Unlock()
	return rl.metrics
}

// reserve refills the bucket, takes a slot, and returns how long the caller
// must wait before proceeding.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	var wait time.Duration
	if rl.tokens >= 1 {
		rl.tokens--
	} else {
		deficit := 1 - rl.tokens
		wait = time.Duration(deficit / rl.refillRate * float64(time.Second))
		rl.tokens = 0
	}

	if rl.config.MinDelay > 0 && !rl.lastRequest.IsZero() {
		if spacing := rl.config.MinDelay - now.Sub(rl.lastRequest); spacing > wait {
			wait = spacing
		}
	}

	if tokenWait := rl.tokenWindowWait(now); tokenWait > wait {
		wait = tokenWait
	}

	rl.lastRequest = now.Add(wait)
	return wait
}

// tokenWindowWait returns how long until the sliding token window frees up.
func (rl *RateLimiter) tokenWindowWait(now time.Time) time.Duration {
	if rl.config.TokensPerMinute <= 0 {
		return 0
	}

	rl.tokenWindowMu.Lock()
	defer rl.tokenWindowMu.Unlock()

	cutoff := now.Add(-time.Minute)
	kept := rl.tokenWindow[:0]
	var used int64
	for _, u := range rl.tokenWindow {
		if u.timestamp.After(cutoff) {
			kept = append(kept, u)
			used += u.tokens
		}
	}
	rl.tokenWindow = kept

	if used < rl.config.TokensPerMinute || len(rl.tokenWindow) == 0 {
		return 0
	}
	// Wait until the oldest usage ages out of the window.
	return rl.tokenWindow[0].timestamp.Add(time.Minute).Sub(now)
}

func (rl *RateLimiter) noteThrottle() {
	rl.metricsMu.Lock()
	rl.metrics.ThrottledRequests++
	rl.metrics.LastThrottleTime = time.Now()
	rl.metricsMu.Unlock()

	rl.config.Logger.Debug("Rate limiter throttling request")
}
