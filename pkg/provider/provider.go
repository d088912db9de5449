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

// Package provider defines the uniform capability over model backends:
// load, unload, generate, health. Concrete adapters live in subpackages
// (ollama, anthropic, openai, bedrock); providertest has a scripted fake.
// All blocking operations take a context and honor its deadline; a deadline
// breach surfaces as a Timeout-kinded error, distinguishable from transport
// failures.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/teradata-labs/heddle/pkg/types"
)

// GenerateRequest carries one generation call. Numeric fields come from the
// tier configuration plus caller overrides.
type GenerateRequest struct {
	Model       string
	Messages    []types.Message
	MaxTokens   int
	Temperature float64

	// NumCtx is the context window to request from local backends.
	NumCtx int

	// KeepAlive is how long a local backend should keep the model resident
	// after this call. Ignored by remote providers.
	KeepAlive time.Duration
}

// Provider is the capability a model backend exposes to the router and
// failover manager.
type Provider interface {
	// Name identifies the provider in responses and metrics.
	Name() string

	// Load makes a model resident. Remote providers treat this as a no-op;
	// the local provider pulls and warms the model.
	Load(ctx context.Context, model string) error

	// Unload releases a model. Remote providers treat this as a no-op.
	Unload(ctx context.Context, model string) error

	// Generate produces a whole response for the request under the
	// context's deadline.
	Generate(ctx context.Context, req GenerateRequest) (*types.LLMResponse, error)

	// Health reports whether the backend is reachable and serving.
	Health(ctx context.Context) error
}

// ClassifyError maps a transport-layer failure to a structured error kind:
// deadline breaches become Timeout, everything else ProviderUnavailable.
// Already-classified errors pass through unchanged.
func ClassifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.WrapError(types.KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.WrapError(types.KindTimeout, op, err)
	}

	return types.WrapError(types.KindProviderUnavailable, op, err)
}

// StatusError classifies a non-2xx HTTP response from a backend.
func StatusError(op string, status int, body []byte) error {
	excerpt := string(body)
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	return types.WrapError(types.KindProviderUnavailable, op,
		fmt.Errorf("API error (status %d): %s", status, excerpt))
}
