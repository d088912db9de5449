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

// Package openai implements the cloud fallback provider over OpenAI's chat
// completions API.
package openai

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
	// DefaultModel is the completion model used when a request names none.
	DefaultModel = "gpt-4.1"
	// DefaultBaseURL is the OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey            string
	Model             string        // Default: gpt-4.1
	BaseURL           string        // Default: https://api.openai.com/v1
	Timeout           time.Duration // Default: 60s
	RateLimiterConfig provider.RateLimiterConfig
	Logger            *zap.Logger
}

// Client implements the Provider interface for OpenAI's API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *provider.RateLimiter
	logger      *zap.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a new OpenAI client. The API key is required; it is read
// from OPENAI_API_KEY when the config leaves it empty.
func NewClient(config Config) (*Client, error) {
	if config.APIKey == "" {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.APIKey == "" {
		return nil, types.NewError(types.KindInvalidInput, "openai: API key is required")
	}
	if config.Model == "" {
		if envModel := os.Getenv("OPENAI_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.BaseURL == "" {
		if envBase := os.Getenv("OPENAI_API_ENDPOINT"); envBase != "" {
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
	return "openai"
}

// Load is a no-op: hosted models are always resident on the provider side.
func (c *Client) Load(ctx context.Context, model string) error {
	return nil
}

// Unload is a no-op for hosted models.
func (c *Client) Unload(ctx context.Context, model string) error {
	return nil
}

// Generate sends the conversation to OpenAI and returns the completion.
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (*types.LLMResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	apiMessages := make([]ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		apiMessages = append(apiMessages, ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	apiReq := &ChatCompletionRequest{
		Model:       model,
		Messages:    apiMessages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	resp, err := c.callAPI(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.KindProviderUnavailable, "openai: response contained no choices")
	}

	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(int64(resp.Usage.TotalTokens))
	}

	choice := resp.Choices[0]
	return &types.LLMResponse{
		Content:      choice.Message.Content,
		Provider:     c.Name(),
		Model:        resp.Model,
		ResponseTime: time.Since(start).Seconds(),
		TokenCount:   resp.Usage.TotalTokens,
		FinishReason: choice.FinishReason,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Health verifies credentials and reachability against the models endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.ClassifyError("openai health", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return provider.StatusError("openai health", httpResp.StatusCode, body)
	}
	return nil
}

// callAPI makes the HTTP request to the chat completions endpoint.
func (c *Client) callAPI(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	buildAPIReq := func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
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
			return nil, provider.ClassifyError("openai chat", err)
		}
		httpResp = result.(*http.Response)
	} else {
		r, err := buildAPIReq(ctx)
		if err != nil {
			return nil, err
		}
		httpResp, err = c.httpClient.Do(r)
		if err != nil {
			return nil, provider.ClassifyError("openai chat", err)
		}
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, provider.StatusError("openai chat", httpResp.StatusCode, respBody)
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, types.NewError(types.KindProviderUnavailable, "openai: "+resp.Error.Message)
	}
	return &resp, nil
}
