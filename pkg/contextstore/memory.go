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
	"sync"
	"time"

	"github.com/teradata-labs/heddle/pkg/types"
)

// memoryStore is the in-process fallback backend: a mutex-guarded map of
// deep-copied contexts. It has no native TTL; CleanupExpired sweeps it.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string]*types.ConversationContext
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]*types.ConversationContext{}}
}

func (m *memoryStore) get(convID string) (*types.ConversationContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.data[convID]
	if !ok {
		return nil, false
	}
	return c.Copy(), true
}

func (m *memoryStore) set(convID string, c *types.ConversationContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[convID] = c.Copy()
}

func (m *memoryStore) delete(convID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, convID)
}

func (m *memoryStore) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// cleanupExpired removes entries whose last_updated is older than ttl.
// Entries with a missing or unparseable timestamp count as expired.
func (m *memoryStore) cleanupExpired(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, c := range m.data {
		expired := true
		if raw, ok := c.Metadata[types.MetaLastUpdated].(string); ok {
			if at, err := time.Parse(time.RFC3339, raw); err == nil {
				expired = at.Before(cutoff)
			}
		}
		if expired {
			delete(m.data, id)
			removed++
		}
	}
	return removed
}
