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

// Package types defines the shared domain types for the heddle serving core:
// conversation state, routing decisions, model catalog entries, and the
// responses providers hand back. Components exchange value copies of these
// types; ownership of the mutable ones is documented on each type.
package types

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Tier is a bucket of model capability and cost.
type Tier string

const (
	TierFast     Tier = "fast"
	TierBalanced Tier = "balanced"
	TierPowerful Tier = "powerful"
)

// Tiers lists all tiers from cheapest to most capable.
func Tiers() []Tier {
	return []Tier{TierFast, TierBalanced, TierPowerful}
}

// Complexity classifies a query for routing purposes.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// ModelStatus is the lifecycle state of a model on the local backend.
type ModelStatus string

const (
	ModelUnloaded  ModelStatus = "unloaded"
	ModelLoading   ModelStatus = "loading"
	ModelLoaded    ModelStatus = "loaded"
	ModelUnloading ModelStatus = "unloading"
	ModelError     ModelStatus = "error"
)

// Message is a single conversation turn.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Truncated marks content cut at the store's max message size.
	Truncated bool `json:"truncated,omitempty"`

	// Compressed marks an older message whose content was shortened
	// when the conversation outgrew the full-history window.
	Compressed bool `json:"compressed,omitempty"`
}

// MemoryItem is a preference, fact, or context cue mined from conversation
// turns by the memory extractor.
type MemoryItem struct {
	Type       string    `json:"type"` // preference, fact, context
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	SourceTurn int       `json:"source_turn"`
	Keywords   []string  `json:"keywords,omitempty"`
}

// Reserved keys in ConversationContext.Metadata. Everything else in the map
// is a forward-compatibility extension owned by callers.
const (
	MetaLastUpdated          = "last_updated"
	MetaTotalMessages        = "total_messages"
	MetaPrunedAt             = "pruned_at"
	MetaOriginalMessageCount = "original_message_count"
)

// DefaultMaxContextLength bounds messages appended to a context before the
// store's own pruning applies. Kept deliberately high; the store's
// max_messages is the operational knob.
const DefaultMaxContextLength = 4000

// ConversationContext is the durable state of one conversation. The context
// store exclusively owns persistence; the router and failover manager work
// on copies and pass updated copies back. It carries no lock: callers
// serialize access per conversation id.
type ConversationContext struct {
	ConversationID     string                `json:"conversation_id"`
	Messages           []Message             `json:"messages"`
	Metadata           map[string]any        `json:"metadata,omitempty"`
	UserPreferences    map[string]MemoryItem `json:"user_preferences,omitempty"`
	KeyFacts           []MemoryItem          `json:"key_facts,omitempty"`
	InteractionSummary string                `json:"interaction_summary,omitempty"`
	MemoryKeywords     []string              `json:"memory_keywords,omitempty"`
	MemoryLastUpdated  time.Time             `json:"memory_last_updated,omitempty"`

	// MaxContextLength caps Messages on append, independent of the store's
	// pruning threshold.
	MaxContextLength int `json:"max_context_length,omitempty"`
}

// NewConversationContext creates an empty context for the given id.
func NewConversationContext(id string) *ConversationContext {
	return &ConversationContext{
		ConversationID:   id,
		Messages:         []Message{},
		Metadata:         map[string]any{},
		UserPreferences:  map[string]MemoryItem{},
		MaxContextLength: DefaultMaxContextLength,
	}
}

// AddMessage appends a turn, trimming the oldest messages when the context
// exceeds MaxContextLength.
func (c *ConversationContext) AddMessage(role Role, content string) {
	c.Messages = append(c.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})

	limit := c.MaxContextLength
	if limit <= 0 {
		limit = DefaultMaxContextLength
	}
	if len(c.Messages) > limit {
		c.Messages = c.Messages[len(c.Messages)-limit:]
	}
}

// LastUserMessage returns the most recent user turn.
func (c *ConversationContext) LastUserMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// MessageCount returns the number of stored turns.
func (c *ConversationContext) MessageCount() int {
	return len(c.Messages)
}

// Copy returns a deep copy safe to mutate independently.
func (c *ConversationContext) Copy() *ConversationContext {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	cp.KeyFacts = append([]MemoryItem(nil), c.KeyFacts...)
	cp.MemoryKeywords = append([]string(nil), c.MemoryKeywords...)
	if c.Metadata != nil {
		cp.Metadata = make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	if c.UserPreferences != nil {
		cp.UserPreferences = make(map[string]MemoryItem, len(c.UserPreferences))
		for k, v := range c.UserPreferences {
			cp.UserPreferences[k] = v
		}
	}
	return &cp
}

// ModelConfig is the immutable catalog entry for one tier. The registry owns
// these; everything else reads value copies.
type ModelConfig struct {
	ModelName          string  `json:"model_name" yaml:"model_name"`
	Tier               Tier    `json:"tier" yaml:"tier"`
	MaxTokens          int     `json:"max_tokens" yaml:"max_tokens"`
	ContextWindow      int     `json:"context_window" yaml:"context_window"`
	GPUMemoryMB        int     `json:"gpu_memory_mb" yaml:"gpu_memory_mb"`
	AvgTokensPerSecond float64 `json:"avg_tokens_per_second" yaml:"avg_tokens_per_second"`
	ConcurrentCapacity int     `json:"concurrent_capacity" yaml:"concurrent_capacity"`
	KeepAliveMinutes   int     `json:"keep_alive_minutes" yaml:"keep_alive_minutes"`
}

// ModelInfo is the mutable runtime state of one model, owned exclusively by
// the lifecycle manager. Status readers receive copies.
type ModelInfo struct {
	ModelName       string      `json:"model_name"`
	Status          ModelStatus `json:"status"`
	LoadedAt        *time.Time  `json:"loaded_at,omitempty"`
	LastUsed        *time.Time  `json:"last_used,omitempty"`
	UsageCount      int64       `json:"usage_count"`
	MemoryUsageMB   int         `json:"memory_usage_mb"`
	LoadTimeSeconds float64     `json:"load_time_seconds"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// QueryAnalysis is the complexity analyzer's verdict on one query.
type QueryAnalysis struct {
	Complexity          Complexity `json:"complexity"`
	Confidence          float64    `json:"confidence"`
	ReasoningIndicators []string   `json:"reasoning_indicators,omitempty"`
	EstimatedTokens     int        `json:"estimated_tokens"`
	RequiresPlanning    bool       `json:"requires_planning"`
	DomainSpecific      bool       `json:"domain_specific"`
	TimeSensitive       bool       `json:"time_sensitive"`
}

// RoutingDecision is the router's pre-generation verdict: the tier to use,
// the fallback if that tier fails, and the latency estimate.
type RoutingDecision struct {
	SelectedTier          Tier        `json:"selected_tier"`
	ModelConfig           ModelConfig `json:"model_config"`
	Reasoning             string      `json:"reasoning"`
	Confidence            float64     `json:"confidence"`
	FallbackTier          *Tier       `json:"fallback_tier,omitempty"`
	EstimatedResponseTime float64     `json:"estimated_response_time_seconds"`
}

// LLMResponse is the unified result of a generation attempt, whichever
// provider served it.
type LLMResponse struct {
	Content         string         `json:"content"`
	Provider        string         `json:"provider"`
	Model           string         `json:"model"`
	ResponseTime    float64        `json:"response_time_seconds"`
	TokenCount      int            `json:"token_count,omitempty"`
	FinishReason    string         `json:"finish_reason,omitempty"`
	Err             string         `json:"error,omitempty"`
	FallbackUsed    bool           `json:"fallback_used"`
	Timestamp       time.Time      `json:"timestamp"`
	RoutingMetadata map[string]any `json:"routing_metadata,omitempty"`
}

// PromptFromMessages flattens a message history into a single prompt for
// completion-style backends. Roles are upcased prefixes, matching what the
// local inference API expects in its prompt field.
func PromptFromMessages(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			b.WriteString("System: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
