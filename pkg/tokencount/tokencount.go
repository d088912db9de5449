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

// Package tokencount provides token counting for context-window budgeting.
// Uses tiktoken with cl100k_base encoding, a good approximation across the
// model families the router serves.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/heddle/pkg/types"
)

// messageOverheadTokens approximates per-message formatting cost (role
// markers and separators).
const messageOverheadTokens = 10

// Counter counts tokens. Construct one at startup and share it; Count is
// safe for concurrent use.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

// NewCounter returns a counter backed by cl100k_base. If the encoding
// cannot be initialized the counter degrades to character-based estimation.
func NewCounter() *Counter {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{encoder: nil}
	}
	return &Counter{encoder: tkm}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if c.encoder == nil {
		// Rough 4-chars-per-token estimate when tiktoken is unavailable.
		return len(text) / 4
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessages estimates the token footprint of a message history,
// including per-message formatting overhead.
func (c *Counter) CountMessages(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverheadTokens
		total += c.Count(m.Content)
	}
	return total
}

// TrimToBudget drops the oldest messages until the history fits budget
// tokens. A leading system message is always retained. The input slice is
// not modified.
func (c *Counter) TrimToBudget(messages []types.Message, budget int) []types.Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}
	if c.CountMessages(messages) <= budget {
		return messages
	}

	var system []types.Message
	rest := messages
	if messages[0].Role == types.RoleSystem {
		system = messages[:1]
		rest = messages[1:]
		budget -= messageOverheadTokens + c.Count(messages[0].Content)
	}

	// Walk newest-first, keeping turns while they fit.
	used := 0
	keepFrom := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := messageOverheadTokens + c.Count(rest[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		keepFrom = i
	}

	out := make([]types.Message, 0, len(system)+len(rest)-keepFrom)
	out = append(out, system...)
	out = append(out, rest[keepFrom:]...)
	return out
}
