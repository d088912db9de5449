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
package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/types"
)

func TestExtractor_PreferenceExtraction(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	c := types.NewConversationContext("conv")
	c.AddMessage(types.RoleUser, "I prefer Python for machine learning. It's important to use proper validation.")

	c = e.ProcessTurn(c, 1)

	require.NotEmpty(t, c.UserPreferences)
	found := false
	for _, p := range c.UserPreferences {
		for _, kw := range p.Keywords {
			if kw == "python" {
				found = true
				assert.Greater(t, p.Confidence, 0.6)
			}
		}
	}
	assert.True(t, found, "expected a preference with python among keywords")

	assert.NotEmpty(t, c.InteractionSummary)
	assert.Contains(t, c.MemoryKeywords, "python")
	assert.Contains(t, c.MemoryKeywords, "machine")
	assert.False(t, c.MemoryLastUpdated.IsZero())
}

func TestExtractor_NegativePreference(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	c := types.NewConversationContext("conv")
	c.AddMessage(types.RoleUser, "I don't like verbose logging output")

	c = e.ProcessTurn(c, 1)

	require.NotEmpty(t, c.UserPreferences)
	for _, p := range c.UserPreferences {
		assert.Equal(t, "preference", p.Type)
		assert.Contains(t, p.Keywords, "verbose")
	}
}

func TestExtractor_FactExtraction(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	c := types.NewConversationContext("conv")
	c.AddMessage(types.RoleUser, "Remember that the staging cluster runs in eu-west-1. Important: never deploy on Fridays.")

	c = e.ProcessTurn(c, 3)

	require.NotEmpty(t, c.KeyFacts)
	contents := ""
	for _, f := range c.KeyFacts {
		contents += f.Content + "\n"
		assert.Equal(t, 3, f.SourceTurn)
	}
	assert.Contains(t, contents, "staging cluster")
	assert.Contains(t, contents, "never deploy on Fridays")
}

func TestExtractor_ContextCueScoring(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	c := types.NewConversationContext("conv")
	// Two importance keywords clear the confidence bar; zero keywords do not.
	c.AddMessage(types.RoleUser, "This deadline is critical for the launch. The weather is nice today.")

	c = e.ProcessTurn(c, 1)

	var cues []types.MemoryItem
	for _, f := range c.KeyFacts {
		if f.Type == "context" {
			cues = append(cues, f)
		}
	}
	require.Len(t, cues, 1)
	assert.Contains(t, cues[0].Content, "deadline")
	assert.InDelta(t, 0.6, cues[0].Confidence, 0.001)
}

func TestExtractor_NoUserMessage(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	c := types.NewConversationContext("conv")
	c.AddMessage(types.RoleAssistant, "I prefer that you ask questions")

	c = e.ProcessTurn(c, 1)

	assert.Empty(t, c.UserPreferences)
	assert.True(t, c.MemoryLastUpdated.IsZero())
}

func TestExtractor_CapsHoldOverManyTurns(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	c := types.NewConversationContext("conv")

	for turn := 1; turn <= 100; turn++ {
		c.AddMessage(types.RoleUser, fmt.Sprintf(
			"I prefer option%d for builds. Remember that service%d is important. Important: deadline%d is critical.",
			turn, turn, turn))
		c = e.ProcessTurn(c, turn)
	}

	assert.LessOrEqual(t, len(c.UserPreferences), 50)
	assert.LessOrEqual(t, len(c.KeyFacts), 100)
	assert.LessOrEqual(t, len(c.MemoryKeywords), 50)
	assert.LessOrEqual(t, len(c.InteractionSummary), 500)
}

func TestExtractor_FactEvictionKeepsConfident(t *testing.T) {
	e := NewExtractor(ExtractorConfig{MaxFacts: 5})
	c := types.NewConversationContext("conv")

	// Low-confidence plain facts first, then high-confidence cues.
	c.AddMessage(types.RoleUser, "Remember that alpha is first. Remember that beta is second. Remember that gamma is third.")
	c = e.ProcessTurn(c, 1)
	c.AddMessage(types.RoleUser, "This critical deadline must never slip, remember it always.")
	c = e.ProcessTurn(c, 2)

	assert.LessOrEqual(t, len(c.KeyFacts), 5)
	top := c.KeyFacts[0]
	assert.GreaterOrEqual(t, top.Confidence, 0.6)
}

func TestExtractor_KeywordFiltering(t *testing.T) {
	kws := extractKeywords("I prefer the Python language and the Go language")
	assert.Contains(t, kws, "python")
	assert.Contains(t, kws, "language")
	assert.NotContains(t, kws, "the")
	assert.NotContains(t, kws, "and")
	assert.NotContains(t, kws, "go") // too short
	assert.LessOrEqual(t, len(kws), 10)
}

func TestExtractor_SummaryTruncated(t *testing.T) {
	e := NewExtractor(ExtractorConfig{})
	c := types.NewConversationContext("conv")
	long := "I need help with a problem concerning an extremely long description of the deployment pipeline that goes on and on with many clauses and details about the solution"
	for i := 0; i < 6; i++ {
		c.AddMessage(types.RoleUser, long+".")
	}

	c = e.ProcessTurn(c, 6)

	assert.NotEmpty(t, c.InteractionSummary)
	assert.LessOrEqual(t, len(c.InteractionSummary), 500)
}
