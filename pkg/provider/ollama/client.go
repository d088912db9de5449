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

// Package ollama implements the local inference provider over the Ollama
// HTTP API: model pull plus warm-up on load, keep_alive:0 on unload, and
// non-streaming generation with per-call options.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/types"
)

// Config configures the Ollama client.
type Config struct {
	// Endpoint is the Ollama server URL (default: http://localhost:11434)
	Endpoint string

	// Timeout caps a single HTTP exchange when the caller's context has no
	// deadline (default: 120s). Per-call contexts govern otherwise.
	Timeout time.Duration

	// WarmKeepAlive is the residency requested by the warm-up call issued
	// during Load. Subsequent Generate calls refresh residency with the
	// tier's own keep-alive (default: 10m).
	WarmKeepAlive time.Duration

	// Logger for request events. Defaults to a nop logger.
	Logger *zap.Logger
}

// Client talks to a local Ollama server.
type Client struct {
	endpoint      string
	warmKeepAlive time.Duration
	httpClient    *http.Client
	logger        *zap.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates an Ollama client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.WarmKeepAlive == 0 {
		cfg.WarmKeepAlive = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		endpoint:      cfg.Endpoint,
		warmKeepAlive: cfg.WarmKeepAlive,
		logger:        cfg.Logger,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "ollama"
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type pullResponse struct {
	Status string `json:"status"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`

	// KeepAlive is a duration string ("10m") or the number 0 to request
	// immediate unload.
	KeepAlive any `json:"keep_alive,omitempty"`

	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Response        string    `json:"response"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	TotalDuration   int64     `json:"total_duration"`
	LoadDuration    int64     `json:"load_duration"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

// Load pulls the model (idempotent on the server side) and issues an empty
// warm-up generation so the weights are resident before real traffic.
func (c *Client) Load(ctx context.Context, model string) error {
	start := time.Now()

	var pulled pullResponse
	if err := c.callAPI(ctx, "/api/pull", pullRequest{Name: model, Stream: false}, &pulled); err != nil {
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}

	warm := generateRequest{
		Model:     model,
		Prompt:    "",
		Stream:    false,
		KeepAlive: c.warmKeepAlive.String(),
	}
	var resp generateResponse
	if err := c.callAPI(ctx, "/api/generate", warm, &resp); err != nil {
		return fmt.Errorf("ollama warm-up %s: %w", model, err)
	}

	c.logger.Info("Model loaded",
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Unload asks the server to release the model by generating with
// keep_alive set to 0.
func (c *Client) Unload(ctx context.Context, model string) error {
	req := generateRequest{
		Model:     model,
		Prompt:    "",
		Stream:    false,
		KeepAlive: 0,
	}
	var resp generateResponse
	if err := c.callAPI(ctx, "/api/generate", req, &resp); err != nil {
		return fmt.Errorf("ollama unload %s: %w", model, err)
	}

	c.logger.Info("Model unloaded", zap.String("model", model))
	return nil
}

// Generate runs a non-streaming completion under the context deadline.
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (*types.LLMResponse, error) {
	start := time.Now()

	apiReq := generateRequest{
		Model:  req.Model,
		Prompt: types.PromptFromMessages(req.Messages),
		Stream: false,
		Options: map[string]interface{}{
			"num_predict": req.MaxTokens,
			"temperature": req.Temperature,
		},
	}
	if req.NumCtx > 0 {
		apiReq.Options["num_ctx"] = req.NumCtx
	}
	if req.KeepAlive > 0 {
		apiReq.KeepAlive = req.KeepAlive.String()
	}

	var resp generateResponse
	if err := c.callAPI(ctx, "/api/generate", apiReq, &resp); err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}

	return &types.LLMResponse{
		Content:      resp.Response,
		Provider:     c.Name(),
		Model:        resp.Model,
		ResponseTime: time.Since(start).Seconds(),
		TokenCount:   resp.PromptEvalCount + resp.EvalCount,
		FinishReason: resp.DoneReason,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Health checks the server's model listing endpoint.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.ClassifyError("ollama health", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return provider.StatusError("ollama health", httpResp.StatusCode, body)
	}
	return nil
}

// callAPI posts a JSON payload and decodes the JSON response.
func (c *Client) callAPI(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return provider.ClassifyError("ollama "+path, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return provider.ClassifyError("ollama "+path, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return provider.StatusError("ollama "+path, httpResp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
