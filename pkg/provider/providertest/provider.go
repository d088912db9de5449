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

// Package providertest provides a scripted Provider implementation for
// exercising routing, lifecycle, and failover paths without a backend.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/types"
)

// Step scripts one Generate call: either a canned response or an error,
// optionally after a simulated latency.
type Step struct {
	Content string
	Err     error
	Latency time.Duration
}

// Provider is a scripted fake. Generate consumes Steps in order; when the
// script is exhausted the last step repeats. The zero latency path never
// sleeps.
type Provider struct {
	name string

	mu        sync.Mutex
	script    []Step
	scriptPos int

	loadErr   error
	unloadErr error
	healthErr error
	loadDelay time.Duration

	generateCalls int
	loadCalls     int
	unloadCalls   int
	loadedModels  map[string]bool
}

var _ provider.Provider = (*Provider)(nil)

// New creates a scripted provider. With no steps, Generate answers with a
// fixed canned response.
func New(name string, script ...Step) *Provider {
	if len(script) == 0 {
		script = []Step{{Content: "canned response"}}
	}
	return &Provider{
		name:         name,
		script:       script,
		loadedModels: map[string]bool{},
	}
}

// FailLoads makes subsequent Load calls return err.
func (p *Provider) FailLoads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadErr = err
}

// FailHealth makes Health return err.
func (p *Provider) FailHealth(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthErr = err
}

// SetLoadDelay makes Load sleep before completing, for exercising the
// per-model serialization.
func (p *Provider) SetLoadDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadDelay = d
}

// Name implements provider.Provider.
func (p *Provider) Name() string { return p.name }

// Load implements provider.Provider.
func (p *Provider) Load(ctx context.Context, model string) error {
	p.mu.Lock()
	p.loadCalls++
	err := p.loadErr
	delay := p.loadDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return provider.ClassifyError("test load", ctx.Err())
		case <-time.After(delay):
		}
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.loadedModels[model] = true
	p.mu.Unlock()
	return nil
}

// Unload implements provider.Provider.
func (p *Provider) Unload(_ context.Context, model string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloadCalls++
	if p.unloadErr != nil {
		return p.unloadErr
	}
	delete(p.loadedModels, model)
	return nil
}

// Generate implements provider.Provider.
func (p *Provider) Generate(ctx context.Context, req provider.GenerateRequest) (*types.LLMResponse, error) {
	p.mu.Lock()
	p.generateCalls++
	step := p.script[p.scriptPos]
	if p.scriptPos < len(p.script)-1 {
		p.scriptPos++
	}
	p.mu.Unlock()

	start := time.Now()
	if step.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, provider.ClassifyError("test generate", ctx.Err())
		case <-time.After(step.Latency):
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	return &types.LLMResponse{
		Content:      step.Content,
		Provider:     p.name,
		Model:        req.Model,
		ResponseTime: time.Since(start).Seconds(),
		TokenCount:   len(step.Content) / 4,
		FinishReason: "stop",
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Health implements provider.Provider.
func (p *Provider) Health(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthErr
}

// GenerateCalls reports how many Generate calls were made.
func (p *Provider) GenerateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generateCalls
}

// LoadCalls reports how many Load calls were made.
func (p *Provider) LoadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadCalls
}

// UnloadCalls reports how many Unload calls were made.
func (p *Provider) UnloadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unloadCalls
}

// Loaded reports whether the fake considers model resident.
func (p *Provider) Loaded(model string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadedModels[model]
}
