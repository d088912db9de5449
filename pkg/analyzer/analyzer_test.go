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
package analyzer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/heddle/pkg/types"
)

func TestAnalyzer_SimpleQuery(t *testing.T) {
	a := NewAnalyzer()

	result := a.Analyze("Summarize this text briefly", nil)

	assert.Equal(t, types.ComplexitySimple, result.Complexity)
	assert.False(t, result.RequiresPlanning)
	assert.GreaterOrEqual(t, result.Confidence, 0.8)
	assert.Equal(t, 50, result.EstimatedTokens) // floored for short queries
}

func TestAnalyzer_CriticalQuery(t *testing.T) {
	a := NewAnalyzer()

	result := a.Analyze("Develop an advanced multi-agent system with complex reasoning", nil)

	assert.Equal(t, types.ComplexityCritical, result.Complexity)
	assert.True(t, result.RequiresPlanning)
	assert.InDelta(t, 0.9, result.Confidence, 0.001)
	assert.Contains(t, result.ReasoningIndicators, "critical cues matched")
}

func TestAnalyzer_ModerateQuery(t *testing.T) {
	a := NewAnalyzer()

	result := a.Analyze("Compare the two database options for our service", nil)

	assert.Equal(t, types.ComplexityModerate, result.Complexity)
	assert.GreaterOrEqual(t, result.Confidence, 0.7)
}

func TestAnalyzer_EmptyQuery(t *testing.T) {
	a := NewAnalyzer()

	result := a.Analyze("   ", nil)

	assert.Equal(t, types.ComplexitySimple, result.Complexity)
	assert.Less(t, result.Confidence, 0.5)
	assert.Equal(t, 50, result.EstimatedTokens)
	assert.Contains(t, result.ReasoningIndicators, "empty query")
}

func TestAnalyzer_ContextDepthUpgrade(t *testing.T) {
	a := NewAnalyzer()
	convCtx := types.NewConversationContext("deep")
	for i := 0; i < 6; i++ {
		convCtx.AddMessage(types.RoleUser, fmt.Sprintf("turn %d", i))
	}

	result := a.Analyze("Translate this sentence", convCtx)

	assert.Equal(t, types.ComplexityModerate, result.Complexity)
	assert.Contains(t, result.ReasoningIndicators, "upgraded for conversation depth")

	// Shallow context keeps the simple verdict.
	shallow := types.NewConversationContext("shallow")
	shallow.AddMessage(types.RoleUser, "hi")
	result = a.Analyze("Translate this sentence", shallow)
	assert.Equal(t, types.ComplexitySimple, result.Complexity)
}

func TestAnalyzer_TimeSensitive(t *testing.T) {
	a := NewAnalyzer()

	result := a.Analyze("I need this summarized urgently before the deadline", nil)

	assert.True(t, result.TimeSensitive)
	assert.Contains(t, result.ReasoningIndicators, "urgent phrasing")
}

func TestAnalyzer_DomainDetection(t *testing.T) {
	a := NewAnalyzer()

	result := a.Analyze("Why is the database query slow on the api server", nil)
	assert.True(t, result.DomainSpecific)
	assert.Contains(t, result.ReasoningIndicators, "domain: technical")

	result = a.Analyze("Tell me a joke", nil)
	assert.False(t, result.DomainSpecific)
}

func TestAnalyzer_TokenEstimate(t *testing.T) {
	a := NewAnalyzer()

	long := ""
	for i := 0; i < 100; i++ {
		long += "word "
	}
	result := a.Analyze(long, nil)

	assert.Equal(t, 130, result.EstimatedTokens) // round(1.3 * 100)
}

func TestAnalyzer_ConfidenceClamped(t *testing.T) {
	a := NewAnalyzer()

	// Heavy simple-cue stacking must not push confidence past 1.
	result := a.Analyze("summarize list define format translate convert", nil)

	require.LessOrEqual(t, result.Confidence, 1.0)
	assert.GreaterOrEqual(t, result.Confidence, 0.0)
}

func TestAnalyzer_ConcurrentUse(t *testing.T) {
	a := NewAnalyzer()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				_ = a.Analyze("Analyze and compare the deployment options", nil)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func BenchmarkAnalyzer_Analyze(b *testing.B) {
	a := NewAnalyzer()
	query := "Design a comprehensive plan to optimize the database deployment"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = a.Analyze(query, nil)
	}
}
