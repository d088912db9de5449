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
package contextstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/types"
)

func newRedisStore(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	s := New(cfg)
	require.NoError(t, s.Health(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStore_RoundTrip(t *testing.T) {
	s, _ := newRedisStore(t, Config{})
	ctx := context.Background()

	c := s.Get(ctx, "conv-1")
	assert.Empty(t, c.Messages)

	c.AddMessage(types.RoleUser, "hello")
	c.AddMessage(types.RoleAssistant, "hi there")
	s.Update(ctx, "conv-1", c)

	got := s.Get(ctx, "conv-1")
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, types.RoleAssistant, got.Messages[1].Role)
}

func TestStore_RoundTripMetadataTypes(t *testing.T) {
	s, _ := newRedisStore(t, Config{})
	ctx := context.Background()

	c := s.Get(ctx, "conv-meta")
	c.AddMessage(types.RoleUser, "hello")
	s.Update(ctx, "conv-meta", c)

	got := s.Get(ctx, "conv-meta")
	// JSON round-trips numbers as float64.
	assert.Equal(t, float64(1), got.Metadata[types.MetaTotalMessages])
	assert.NotEmpty(t, got.Metadata[types.MetaLastUpdated])
}

func TestStore_ClearThenGetCreatesFresh(t *testing.T) {
	s, _ := newRedisStore(t, Config{})
	ctx := context.Background()

	c := s.Get(ctx, "conv-2")
	c.AddMessage(types.RoleUser, "keep this")
	s.Update(ctx, "conv-2", c)

	s.Clear(ctx, "conv-2")
	got := s.Get(ctx, "conv-2")
	assert.Empty(t, got.Messages)
}

func TestStore_PruningRetainsNewest(t *testing.T) {
	s, _ := newRedisStore(t, Config{MaxMessages: 50})
	ctx := context.Background()

	c := s.Get(ctx, "conv-3")
	for i := 0; i < 60; i++ {
		c.AddMessage(types.RoleUser, fmt.Sprintf("message %d", i))
	}
	s.Update(ctx, "conv-3", c)

	got := s.Get(ctx, "conv-3")
	require.Len(t, got.Messages, 50)
	assert.Equal(t, "message 10", got.Messages[0].Content)
	assert.NotEmpty(t, got.Metadata[types.MetaPrunedAt])
	assert.Equal(t, float64(60), got.Metadata[types.MetaOriginalMessageCount])
}

func TestStore_OversizeMessageTruncated(t *testing.T) {
	s, _ := newRedisStore(t, Config{MaxMessageSize: 100})
	ctx := context.Background()

	c := s.Get(ctx, "conv-4")
	c.AddMessage(types.RoleUser, strings.Repeat("x", 500))
	s.Update(ctx, "conv-4", c)

	got := s.Get(ctx, "conv-4")
	require.Len(t, got.Messages, 1)
	assert.LessOrEqual(t, len(got.Messages[0].Content), 100)
	assert.True(t, got.Messages[0].Truncated)
	assert.True(t, strings.HasSuffix(got.Messages[0].Content, truncationMarker))
}

func TestStore_OldMessagesCompressed(t *testing.T) {
	s, _ := newRedisStore(t, Config{})
	ctx := context.Background()

	c := s.Get(ctx, "conv-5")
	for i := 0; i < 30; i++ {
		c.AddMessage(types.RoleUser, strings.Repeat("long content ", 100))
	}
	s.Update(ctx, "conv-5", c)

	got := s.Get(ctx, "conv-5")
	require.Len(t, got.Messages, 30)

	// Prefix beyond the newest 20 is compressed to at most 500 chars.
	for i := 0; i < 10; i++ {
		assert.True(t, got.Messages[i].Compressed, "message %d", i)
		assert.LessOrEqual(t, len(got.Messages[i].Content), compressedContentMax)
	}
	for i := 10; i < 30; i++ {
		assert.False(t, got.Messages[i].Compressed, "message %d", i)
	}
}

func TestStore_EnvelopeGzip(t *testing.T) {
	s, mr := newRedisStore(t, Config{CompressionThreshold: 64})
	ctx := context.Background()

	c := s.Get(ctx, "conv-6")
	c.AddMessage(types.RoleUser, strings.Repeat("compressible content ", 50))
	s.Update(ctx, "conv-6", c)

	raw, err := mr.Get("conversation:conv-6")
	require.NoError(t, err)
	assert.Equal(t, byte(0x1f), raw[0]) // gzip magic
	assert.Equal(t, byte(0x8b), raw[1])

	got := s.Get(ctx, "conv-6")
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "compressible content")
}

func TestStore_TTLRefreshedOnRead(t *testing.T) {
	s, mr := newRedisStore(t, Config{TTL: time.Hour})
	ctx := context.Background()

	c := s.Get(ctx, "conv-7")
	c.AddMessage(types.RoleUser, "hello")
	s.Update(ctx, "conv-7", c)

	mr.FastForward(30 * time.Minute)
	_ = s.Get(ctx, "conv-7")
	assert.InDelta(t, time.Hour, mr.TTL("conversation:conv-7"), float64(time.Minute))
}

func TestStore_UndecodableEnvelopeStartsFresh(t *testing.T) {
	s, mr := newRedisStore(t, Config{})

	require.NoError(t, mr.Set("conversation:conv-8", "not json"))
	got := s.Get(context.Background(), "conv-8")
	assert.Empty(t, got.Messages)
}

func TestStore_FallbackWhenRedisAbsent(t *testing.T) {
	s := New(Config{}) // no Redis configured
	ctx := context.Background()

	c := s.Get(ctx, "conv-9")
	c.AddMessage(types.RoleUser, "stored in memory")
	s.Update(ctx, "conv-9", c)

	got := s.Get(ctx, "conv-9")
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "stored in memory", got.Messages[0].Content)

	usage := s.MemoryUsage(ctx)
	assert.Equal(t, "memory", usage.Backend)
	assert.Equal(t, 1, usage.Conversations)
	assert.NoError(t, s.Health(ctx))
}

func TestStore_DegradesMidFlight(t *testing.T) {
	s, mr := newRedisStore(t, Config{})
	ctx := context.Background()

	c := s.Get(ctx, "conv-10")
	c.AddMessage(types.RoleUser, "before outage")
	s.Update(ctx, "conv-10", c)

	mr.Close()

	// Writes keep working via the fallback; no error surfaces.
	c2 := types.NewConversationContext("conv-10")
	c2.AddMessage(types.RoleUser, "after outage")
	s.Update(ctx, "conv-10", c2)

	got := s.Get(ctx, "conv-10")
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "after outage", got.Messages[0].Content)
	assert.Error(t, s.Health(ctx))
}

func TestStore_CleanupExpired(t *testing.T) {
	s := New(Config{TTL: time.Hour})
	ctx := context.Background()

	fresh := types.NewConversationContext("fresh")
	fresh.AddMessage(types.RoleUser, "hi")
	s.Update(ctx, "fresh", fresh)

	stale := types.NewConversationContext("stale")
	stale.Metadata[types.MetaLastUpdated] = time.Now().Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	s.fallback.set("stale", stale)

	broken := types.NewConversationContext("broken")
	broken.Metadata[types.MetaLastUpdated] = "not a timestamp"
	s.fallback.set("broken", broken)

	removed := s.CleanupExpired(ctx)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.fallback.len())
}

func TestStore_MemoryUsageRedis(t *testing.T) {
	s, _ := newRedisStore(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := s.Get(ctx, fmt.Sprintf("conv-%d", i))
		c.AddMessage(types.RoleUser, "hello")
		s.Update(ctx, fmt.Sprintf("conv-%d", i), c)
	}

	usage := s.MemoryUsage(ctx)
	assert.Equal(t, "redis", usage.Backend)
	assert.Equal(t, 3, usage.Conversations)
}
