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

// Package factory constructs providers from deployment configuration. A
// spec that cannot be constructed (missing credentials, unknown name) is
// reported as an error; callers typically skip it and continue down the
// chain.
package factory

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/provider/anthropic"
	"github.com/teradata-labs/heddle/pkg/provider/bedrock"
	"github.com/teradata-labs/heddle/pkg/provider/ollama"
	"github.com/teradata-labs/heddle/pkg/provider/openai"
)

// Spec describes one provider to construct.
type Spec struct {
	// Name selects the adapter: ollama, anthropic, openai, bedrock.
	Name string `mapstructure:"name" yaml:"name"`

	// BaseURL overrides the adapter's default endpoint.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// APIKey for remote HTTP providers. Adapter-specific env vars apply
	// when empty.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// Model requested from this provider.
	Model string `mapstructure:"model" yaml:"model"`

	// TimeoutSeconds is the per-call deadline for this provider.
	TimeoutSeconds float64 `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`

	// Region for the bedrock adapter.
	Region string `mapstructure:"region" yaml:"region"`
}

// Timeout returns the spec's deadline as a duration, zero when unset.
func (s Spec) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// New constructs the provider a spec names.
func New(spec Spec, logger *zap.Logger) (provider.Provider, error) {
	switch strings.ToLower(spec.Name) {
	case "ollama":
		return ollama.NewClient(ollama.Config{
			Endpoint: spec.BaseURL,
			Logger:   logger,
		}), nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:  spec.APIKey,
			Model:   spec.Model,
			BaseURL: spec.BaseURL,
			Timeout: spec.Timeout(),
			Logger:  logger,
		})
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:  spec.APIKey,
			Model:   spec.Model,
			BaseURL: spec.BaseURL,
			Timeout: spec.Timeout(),
			Logger:  logger,
		})
	case "bedrock":
		return bedrock.NewClient(bedrock.Config{
			Region:  spec.Region,
			ModelID: spec.Model,
			Logger:  logger,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", spec.Name)
	}
}

// BuildAll constructs every spec that can be constructed, preserving
// order. Failures are logged and skipped.
func BuildAll(specs []Spec, logger *zap.Logger) []provider.Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out []provider.Provider
	for _, spec := range specs {
		p, err := New(spec, logger)
		if err != nil {
			logger.Warn("Provider construction failed, skipping",
				zap.String("provider", spec.Name),
				zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out
}
