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
package tokencount

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/types"
)

func TestCounter_CountGrowsWithText(t *testing.T) {
	c := NewCounter()

	short := c.Count("hello")
	long := c.Count(strings.Repeat("hello world ", 50))

	assert.Greater(t, long, short)
	assert.GreaterOrEqual(t, short, 1)
}

func TestCounter_CountMessagesIncludesOverhead(t *testing.T) {
	c := NewCounter()

	messages := []types.Message{
		{Role: types.RoleUser, Content: "question"},
		{Role: types.RoleAssistant, Content: "answer"},
	}

	total := c.CountMessages(messages)
	bare := c.Count("question") + c.Count("answer")
	assert.Equal(t, bare+2*messageOverheadTokens, total)
}

func TestCounter_TrimToBudget(t *testing.T) {
	c := NewCounter()

	var messages []types.Message
	for i := 0; i < 20; i++ {
		messages = append(messages, types.Message{
			Role:    types.RoleUser,
			Content: strings.Repeat("filler content ", 20),
		})
	}

	budget := c.CountMessages(messages) / 3
	trimmed := c.TrimToBudget(messages, budget)

	require.NotEmpty(t, trimmed)
	assert.Less(t, len(trimmed), len(messages))
	assert.LessOrEqual(t, c.CountMessages(trimmed), budget)
	// Newest turns survive.
	assert.Equal(t, messages[len(messages)-1], trimmed[len(trimmed)-1])
}

func TestCounter_TrimKeepsSystemMessage(t *testing.T) {
	c := NewCounter()

	messages := []types.Message{
		{Role: types.RoleSystem, Content: "you are terse"},
	}
	for i := 0; i < 30; i++ {
		messages = append(messages, types.Message{
			Role:    types.RoleUser,
			Content: strings.Repeat("padding ", 30),
		})
	}

	trimmed := c.TrimToBudget(messages, c.CountMessages(messages)/4)

	require.NotEmpty(t, trimmed)
	assert.Equal(t, types.RoleSystem, trimmed[0].Role)
}

func TestCounter_TrimNoopWhenUnderBudget(t *testing.T) {
	c := NewCounter()

	messages := []types.Message{{Role: types.RoleUser, Content: "short"}}
	trimmed := c.TrimToBudget(messages, 1_000_000)

	assert.Equal(t, messages, trimmed)
}
