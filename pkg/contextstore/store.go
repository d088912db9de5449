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

// Package contextstore persists conversation state. The primary backend is
// Redis with per-key TTL; on connectivity failure the store degrades to an
// in-process map with a logged warning and never surfaces the outage to
// callers. Large envelopes are gzip-compressed on the wire.
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teradata-labs/heddle/pkg/types"
)

// keyPrefix namespaces conversation envelopes in Redis.
const keyPrefix = "conversation:"

// fullHistoryTail is how many trailing messages keep full content when the
// conversation outgrows it; older messages are stored compressed.
const fullHistoryTail = 20

// compressedContentMax bounds the content of a compressed message.
const compressedContentMax = 500

// truncationMarker suffixes content cut at MaxMessageSize.
const truncationMarker = "... [truncated]"

// Config configures the store.
type Config struct {
	// RedisAddr is the Redis server address. Empty skips Redis entirely
	// and runs on the in-process fallback.
	RedisAddr string

	// RedisPassword for authentication (optional).
	RedisPassword string

	// RedisDB selects the database number.
	RedisDB int

	// TTL is the conversation expiration, refreshed on every read and
	// write. Default: 24h.
	TTL time.Duration

	// MaxMessages is the pruning bound on stored history. Default: 100.
	MaxMessages int

	// MaxMessageSize bounds one message's content in characters; oversize
	// content is truncated and flagged. Default: 10000.
	MaxMessageSize int

	// EnableCompression gzips envelopes larger than CompressionThreshold.
	// Default: true (set DisableCompression to opt out).
	DisableCompression bool

	// CompressionThreshold is the envelope size that triggers gzip.
	// Default: 4096 bytes.
	CompressionThreshold int

	// OpTimeout caps a single Redis operation. Default: 5s.
	OpTimeout time.Duration

	// Logger for degradation warnings. Defaults to a nop logger.
	Logger *zap.Logger
}

// Store is the conversation context store. Safe for concurrent use; see
// the package comment for the consistency model (last writer wins per id).
type Store struct {
	cfg      Config
	client   *redis.Client
	fallback *memoryStore
	logger   *zap.Logger
}

// MemoryUsageStats reports backend occupancy.
type MemoryUsageStats struct {
	Backend           string `json:"backend"`
	Conversations     int    `json:"conversations"`
	RedisUsedMemory   string `json:"redis_used_memory,omitempty"`
	RedisClients      int    `json:"redis_clients,omitempty"`
	FallbackEnvelopes int    `json:"fallback_envelopes"`
}

// New creates a store. A Redis connection failure at construction is not
// fatal: the store starts on the in-process fallback.
func New(cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 10000
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = 4096
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Store{
		cfg:      cfg,
		fallback: newMemoryStore(),
		logger:   cfg.Logger,
	}

	if cfg.RedisAddr == "" {
		cfg.Logger.Info("Context store running on in-process backend only")
		return s
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn("Redis unreachable, context store degraded to in-process fallback",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err))
		_ = client.Close()
		return s
	}

	s.client = client
	return s
}

func key(convID string) string {
	return keyPrefix + convID
}

// Get loads the conversation, creating a fresh one when absent or
// undecodable. A successful Redis read refreshes the TTL.
func (s *Store) Get(ctx context.Context, convID string) *types.ConversationContext {
	if s.client != nil {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		defer cancel()

		raw, err := s.client.Get(opCtx, key(convID)).Bytes()
		switch {
		case err == redis.Nil:
			return types.NewConversationContext(convID)
		case err != nil:
			s.logger.Warn("Redis read failed, using in-process fallback",
				zap.String("conversation_id", convID),
				zap.Error(err))
		default:
			c, derr := decodeEnvelope(raw)
			if derr != nil {
				s.logger.Warn("Undecodable conversation envelope, starting fresh",
					zap.String("conversation_id", convID),
					zap.Error(derr))
				return types.NewConversationContext(convID)
			}
			s.client.Expire(opCtx, key(convID), s.cfg.TTL)
			return c
		}
	}

	if c, ok := s.fallback.get(convID); ok {
		return c
	}
	return types.NewConversationContext(convID)
}

// Update validates, prunes, compresses, and persists the context with a
// fresh TTL. The input is mutated in place with the validated form.
func (s *Store) Update(ctx context.Context, convID string, c *types.ConversationContext) {
	if c == nil {
		return
	}
	c.ConversationID = convID
	s.validate(c)
	s.prune(c)
	s.compressOld(c)

	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[types.MetaLastUpdated] = time.Now().UTC().Format(time.RFC3339)
	c.Metadata[types.MetaTotalMessages] = len(c.Messages)

	if s.client != nil {
		raw, err := encodeEnvelope(c, !s.cfg.DisableCompression, s.cfg.CompressionThreshold)
		if err != nil {
			s.logger.Error("Failed to encode conversation envelope",
				zap.String("conversation_id", convID),
				zap.Error(err))
		} else {
			opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
			defer cancel()
			if err := s.client.Set(opCtx, key(convID), raw, s.cfg.TTL).Err(); err == nil {
				return
			}
			s.logger.Warn("Redis write failed, using in-process fallback",
				zap.String("conversation_id", convID),
				zap.Error(err))
		}
	}

	s.fallback.set(convID, c)
}

// Clear removes the conversation from both backends.
func (s *Store) Clear(ctx context.Context, convID string) {
	if s.client != nil {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		defer cancel()
		if err := s.client.Del(opCtx, key(convID)).Err(); err != nil {
			s.logger.Warn("Redis delete failed",
				zap.String("conversation_id", convID),
				zap.Error(err))
		}
	}
	s.fallback.delete(convID)
}

// validate truncates oversize message content and flags it.
func (s *Store) validate(c *types.ConversationContext) {
	for i := range c.Messages {
		if len(c.Messages[i].Content) > s.cfg.MaxMessageSize {
			cut := s.cfg.MaxMessageSize - len(truncationMarker)
			if cut < 0 {
				cut = 0
			}
			c.Messages[i].Content = c.Messages[i].Content[:cut] + truncationMarker
			c.Messages[i].Truncated = true
		}
	}
}

// prune retains the newest MaxMessages turns, recording the pruning in
// metadata.
func (s *Store) prune(c *types.ConversationContext) {
	if len(c.Messages) <= s.cfg.MaxMessages {
		return
	}
	original := len(c.Messages)
	c.Messages = c.Messages[original-s.cfg.MaxMessages:]

	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	c.Metadata[types.MetaPrunedAt] = time.Now().UTC().Format(time.RFC3339)
	c.Metadata[types.MetaOriginalMessageCount] = original
}

// compressOld shortens the content of messages older than the full-history
// tail once the conversation exceeds it.
func (s *Store) compressOld(c *types.ConversationContext) {
	if len(c.Messages) <= fullHistoryTail {
		return
	}
	cutoff := len(c.Messages) - fullHistoryTail
	for i := 0; i < cutoff; i++ {
		if c.Messages[i].Compressed {
			continue
		}
		if len(c.Messages[i].Content) > compressedContentMax {
			c.Messages[i].Content = c.Messages[i].Content[:compressedContentMax]
		}
		c.Messages[i].Compressed = true
	}
}

// CleanupExpired removes expired entries from the in-process fallback and
// returns how many were removed. Redis expires its own keys.
func (s *Store) CleanupExpired(ctx context.Context) int {
	return s.fallback.cleanupExpired(s.cfg.TTL)
}

// MemoryUsage reports backend occupancy.
func (s *Store) MemoryUsage(ctx context.Context) MemoryUsageStats {
	stats := MemoryUsageStats{
		Backend:           "memory",
		FallbackEnvelopes: s.fallback.len(),
		Conversations:     s.fallback.len(),
	}
	if s.client == nil {
		return stats
	}
	stats.Backend = "redis"

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	count := 0
	iter := s.client.Scan(opCtx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(opCtx) {
		count++
	}
	stats.Conversations = count + stats.FallbackEnvelopes

	if info, err := s.client.Info(opCtx, "memory").Result(); err == nil {
		stats.RedisUsedMemory = infoField(info, "used_memory_human")
	}
	if info, err := s.client.Info(opCtx, "clients").Result(); err == nil {
		if n, err := strconv.Atoi(infoField(info, "connected_clients")); err == nil {
			stats.RedisClients = n
		}
	}
	return stats
}

// Health pings Redis; the in-process fallback is always healthy.
func (s *Store) Health(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.client.Ping(opCtx).Err(); err != nil {
		return types.WrapError(types.KindBackendUnavailable, "redis ping", err)
	}
	return nil
}

// Close releases the Redis client, if any.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// infoField extracts one "name:value" field from a Redis INFO section.
func infoField(info, name string) string {
	for _, line := range strings.Split(info, "\r\n") {
		if v, ok := strings.CutPrefix(line, name+":"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// decodeEnvelope unmarshals a possibly gzipped envelope.
func decodeEnvelope(raw []byte) (*types.ConversationContext, error) {
	plain, err := maybeDecompress(raw)
	if err != nil {
		return nil, fmt.Errorf("decompressing envelope: %w", err)
	}
	var c types.ConversationContext
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return &c, nil
}

// encodeEnvelope marshals the context, gzipping when it crosses the
// threshold.
func encodeEnvelope(c *types.ConversationContext, compress bool, threshold int) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	if compress && len(raw) > threshold {
		return gzipBytes(raw)
	}
	return raw, nil
}
