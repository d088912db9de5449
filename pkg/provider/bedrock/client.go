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

// Package bedrock implements the cloud fallback provider over the AWS
// Bedrock Converse API.
package bedrock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/provider"
	"github.com/teradata-labs/heddle/pkg/types"
)

// Default Bedrock configuration values.
// Can be overridden via environment variables:
//   - AWS_BEDROCK_MODEL_ID
//   - AWS_DEFAULT_REGION
const (
	// DefaultModelID uses Claude Sonnet 4.5 with cross-region inference profile (us.* prefix)
	DefaultModelID = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	DefaultRegion  = "us-west-2"
)

// Config holds configuration for the Bedrock client.
type Config struct {
	// AWS Configuration
	Region          string // Required: AWS region (e.g., us-east-1, us-west-2)
	AccessKeyID     string // Optional: if not using IAM role/profile
	SecretAccessKey string // Optional: if not using IAM role/profile
	SessionToken    string // Optional: for temporary credentials
	Profile         string // Optional: AWS profile name from ~/.aws/config

	// ModelID is used when a request names no model.
	ModelID string // Default: us.anthropic.claude-sonnet-4-5-20250929-v1:0

	RateLimiterConfig provider.RateLimiterConfig
	Logger            *zap.Logger
}

// converseAPI is the subset of bedrockruntime.Client used here. Tests
// substitute a recording fake.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Client implements the Provider interface for AWS Bedrock.
type Client struct {
	client      converseAPI
	awsCfg      aws.Config
	modelID     string
	region      string
	rateLimiter *provider.RateLimiter
	logger      *zap.Logger
}

var _ provider.Provider = (*Client)(nil)

// NewClient creates a new Bedrock client using the default AWS credentials
// chain, a named profile, or explicit static credentials.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ModelID == "" {
		if envModel := os.Getenv("AWS_BEDROCK_MODEL_ID"); envModel != "" {
			cfg.ModelID = envModel
		} else {
			cfg.ModelID = DefaultModelID
		}
	}
	if cfg.Region == "" {
		if envRegion := os.Getenv("AWS_DEFAULT_REGION"); envRegion != "" {
			cfg.Region = envRegion
		} else {
			cfg.Region = DefaultRegion
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else if cfg.Profile != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithSharedConfigProfile(cfg.Profile),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var rateLimiter *provider.RateLimiter
	if cfg.RateLimiterConfig.Enabled {
		rateLimiter = provider.NewRateLimiter(cfg.RateLimiterConfig)
	}

	return &Client{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		awsCfg:      awsCfg,
		modelID:     cfg.ModelID,
		region:      cfg.Region,
		rateLimiter: rateLimiter,
		logger:      cfg.Logger,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "bedrock"
}

// Load is a no-op: Bedrock models are hosted.
func (c *Client) Load(ctx context.Context, model string) error {
	return nil
}

// Unload is a no-op for hosted models.
func (c *Client) Unload(ctx context.Context, model string) error {
	return nil
}

// Generate sends the conversation through the Converse API.
func (c *Client) Generate(ctx context.Context, req provider.GenerateRequest) (*types.LLMResponse, error) {
	start := time.Now()

	modelID := req.Model
	if modelID == "" {
		modelID = c.modelID
	}

	systemBlocks, converseMessages := convertMessages(req.Messages)
	if len(converseMessages) == 0 {
		return nil, types.NewError(types.KindInvalidInput, "bedrock: no valid messages to send")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: converseMessages,
		InferenceConfig: &bedrocktypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(req.MaxTokens)),
			Temperature: aws.Float32(float32(req.Temperature)),
		},
	}
	if len(systemBlocks) > 0 {
		input.System = systemBlocks
	}

	var output *bedrockruntime.ConverseOutput
	var err error
	if c.rateLimiter != nil {
		result, rlErr := c.rateLimiter.Do(ctx, func(ctx context.Context) (interface{}, error) {
			return c.client.Converse(ctx, input)
		})
		if rlErr != nil {
			return nil, provider.ClassifyError("bedrock converse", rlErr)
		}
		output = result.(*bedrockruntime.ConverseOutput)
	} else {
		output, err = c.client.Converse(ctx, input)
		if err != nil {
			return nil, provider.ClassifyError("bedrock converse", err)
		}
	}

	var content string
	if output.Output != nil {
		switch o := output.Output.(type) {
		case *bedrocktypes.ConverseOutputMemberMessage:
			for _, block := range o.Value.Content {
				if b, ok := block.(*bedrocktypes.ContentBlockMemberText); ok {
					content += b.Value
				}
			}
		}
	}

	var totalTokens int
	if output.Usage != nil {
		totalTokens = int(aws.ToInt32(output.Usage.TotalTokens))
	}
	if c.rateLimiter != nil {
		c.rateLimiter.RecordTokenUsage(int64(totalTokens))
	}

	return &types.LLMResponse{
		Content:      content,
		Provider:     c.Name(),
		Model:        modelID,
		ResponseTime: time.Since(start).Seconds(),
		TokenCount:   totalTokens,
		FinishReason: string(output.StopReason),
		Timestamp:    time.Now().UTC(),
	}, nil
}

// Health verifies that AWS credentials resolve. Bedrock has no ping
// endpoint, so credential resolution is the cheapest meaningful check.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.awsCfg.Credentials.Retrieve(ctx); err != nil {
		return provider.ClassifyError("bedrock health", err)
	}
	return nil
}

// convertMessages splits out system prompts (the Converse API carries them
// separately) and converts the rest to Converse message form.
func convertMessages(messages []types.Message) ([]bedrocktypes.SystemContentBlock, []bedrocktypes.Message) {
	var systemBlocks []bedrocktypes.SystemContentBlock
	var converseMessages []bedrocktypes.Message

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			if msg.Content != "" {
				systemBlocks = append(systemBlocks, &bedrocktypes.SystemContentBlockMemberText{
					Value: msg.Content,
				})
			}

		case types.RoleUser, types.RoleAssistant:
			role := bedrocktypes.ConversationRoleUser
			if msg.Role == types.RoleAssistant {
				role = bedrocktypes.ConversationRoleAssistant
			}
			converseMessages = append(converseMessages, bedrocktypes.Message{
				Role: role,
				Content: []bedrocktypes.ContentBlock{
					&bedrocktypes.ContentBlockMemberText{Value: msg.Content},
				},
			})
		}
	}
	return systemBlocks, converseMessages
}
