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

// Package anthropic implements the cloud fallback provider over Anthropic's
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/types"
)

const (
	// DefaultModel is the Claude model used when a request names none.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultBaseURL is the Anthropic API base URL.
	DefaultBaseURL = "https://api.anthropic.com"
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second

	apiVersion = "2023-06-01"
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey            string
	Model             string        // Default: claude-sonnet-4-5-20250929
	BaseURL           string        // Default: https://api.anthropic.com
	Timeout           time.Duration // Default: 60s
	RateLimiterConfig provider.RateLimiterConfig
	Logger            *zap.Logger
}

// Client implements the Provider interface for Anthropic's Claude API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *provider.RateLimiter
	logger      *zap.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a new Anthropic client. The API key is required; it is
// read from ANTHROPIC_API_KEY when the config leaves it empty.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if config.APIKey == "" {
		return nil, types.NewError(types.KindInvalidInput, "anthropic: API key is required")
	}
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.BaseURL == "" {
		if envBase := os.Getenv("ANTHROPIC_API_ENDPOINT"); envBase != "" {
			config.BaseURL = envBase
		} else {
			config.BaseURL = DefaultBaseURL
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	var rateLimiter *provider.RateLimiter
	if config.RateLimiterConfig.Enabled {
		rateLimiter = provider.NewRateLimiter(config.RateLimiterConfig)
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		baseURL:     config.BaseURL,
		rateLimiter: rateLimiter,
		logger:      config.Logger,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Load is a no-op: hosted models are always resident on the provider side.
func (c *Client) Load(ctx context.Context, model string) error {
	return nil
}

// Unload is a no-op for hosted models.
func (c *Client) Unload(ctx context.Context, model string) error {
	return nil
}

// Generate sends the conversation to Claude and returns the completion.
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (*types.LLMResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	system, apiMessages := convertMessages(req.Messages)
	apiReq := &MessagesRequest{
		Model:       model,
		Messages:    apiMessages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      system,
	}

	resp, err := c.callAPI(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	totalTokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(int64(totalTokens))
	}

	return &types.LLMResponse{
		Content:      content,
		Provider:     c.Name(),
		Model:        resp.Model,
		ResponseTime: time.Since(start).Seconds(),
		TokenCount:   totalTokens,
		FinishReason: resp.StopReason,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Health verifies credentials and reachability against the models endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.ClassifyError("anthropic health", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return provider.StatusError("anthropic health", httpResp.StatusCode, body)
	}
	return nil
}

// convertMessages extracts system messages into the separate system field the
// Messages API requires and converts the rest to content-block form.
func convertMessages(messages []types.Message) (string, []Message) {
	var system string
	var apiMessages []Message

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content

		case types.RoleUser, types.RoleAssistant:
			apiMessages = append(apiMessages, Message{
				Role: string(msg.Role),
				Content: []ContentBlock{
					{Type: "text", Text: msg.Content},
				},
			})
		}
	}
	return system, apiMessages
}

// callAPI makes the HTTP request to Anthropic's Messages API.
func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// A fresh request is built per attempt so the body can be re-read when
	// the rate limiter retries a 429.
	buildAPIReq := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("x-api-key", c.apiKey)
		r.Header.Set("anthropic-version", apiVersion)
		return r, nil
	}

	var httpResp *http.Response
	if c.rateLimiter != nil {
		result, err := c.rateLimiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			r, err := buildAPIReq(ctx)
			if err != nil {
				return nil, err
			}
			return c.httpClient.Do(r)
		})
		if err != nil {
			return nil, provider.ClassifyError("anthropic messages", err)
		}
		httpResp = result.(*http.Response)
	} else {
		r, err := buildAPIReq(ctx)
		if err != nil {
			return nil, err
		}
		httpResp, err = c.httpClient.Do(r)
		if err != nil {
			return nil, provider.ClassifyError("anthropic messages", err)
		}
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, provider.StatusError("anthropic messages", httpResp.StatusCode, respBody)
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}
