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

// Package analyzer classifies natural-language queries by complexity.
// Classification is deterministic and pattern-driven: three disjoint cue
// families (simple, complex, critical) plus word/sentence statistics feed a
// single score that maps to a complexity class. The analyzer holds only
// pre-compiled patterns and is safe for concurrent use.
package analyzer

import (
	"math"
	"regexp"
	"strings"

	"github.com/teradata-labs/heddle/pkg/types"
)

// Scoring thresholds for the combined complexity score.
const (
	simpleScoreMax   = 1.0
	moderateScoreMax = 4.0
	complexScoreMax  = 8.0
)

// minEstimatedTokens floors the token estimate for very short queries.
const minEstimatedTokens = 50

var (
	simpleCues = regexp.MustCompile(`\b(?:summarize|translate|list|define|format|extract|convert|lookup)\b`)

	complexCues = regexp.MustCompile(`\b(?:analyze|analyse|plan|compare|optimize|design|evaluate|complex|reasoning|architect|refactor)\b`)

	criticalCues = regexp.MustCompile(`\b(?:multi-step|multi-agent|comprehensive|algorithm|integrate|advanced|orchestrate|end-to-end)\b`)

	planningCues = regexp.MustCompile(`\b(?:plan|roadmap|strategy|workflow|step by step|first\b.*\bthen|multi-step|phases?)\b`)

	urgencyCues = regexp.MustCompile(`\b(?:urgent|urgently|asap|immediately|right away|quickly|time-sensitive|deadline|hurry|as soon as possible)\b`)

	sentenceSplit = regexp.MustCompile(`[.!?]+`)

	wordToken = regexp.MustCompile(`[a-zA-Z0-9_'-]+`)
)

// Domain lexicons used only for the domain_specific signal; overlap with the
// complexity families is allowed.
var domainLexicons = map[string]*regexp.Regexp{
	"technical": regexp.MustCompile(`\b(?:api|database|code|server|deployment|kubernetes|docker|sql|python|golang|latency|cache|debug)\b`),
	"business":  regexp.MustCompile(`\b(?:revenue|market|budget|stakeholder|roi|quarterly|forecast|customer|pricing|churn)\b`),
	"academic":  regexp.MustCompile(`\b(?:hypothesis|research|theory|citation|literature|experiment|methodology|peer-reviewed)\b`),
	"creative":  regexp.MustCompile(`\b(?:story|poem|narrative|character|plot|lyrics|screenplay|worldbuilding)\b`),
}

// contextUpgradeDepth is the prior-message count beyond which a SIMPLE
// verdict is lifted to MODERATE.
const contextUpgradeDepth = 5

// Analyzer classifies queries. All patterns are compiled once at package
// init; the struct exists so callers can inject it explicitly rather than
// reaching for package state.
type Analyzer struct{}

// NewAnalyzer returns a ready analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze classifies query, optionally taking conversation depth into
// account. It is a total function: every input, including the empty string,
// yields a usable QueryAnalysis.
func (a *Analyzer) Analyze(query string, convCtx *types.ConversationContext) types.QueryAnalysis {
	folded := strings.ToLower(strings.TrimSpace(query))
	if folded == "" {
		return types.QueryAnalysis{
			Complexity:          types.ComplexitySimple,
			Confidence:          0.3,
			ReasoningIndicators: []string{"empty query"},
			EstimatedTokens:     minEstimatedTokens,
		}
	}

	simple := len(simpleCues.FindAllString(folded, -1))
	complexN := len(complexCues.FindAllString(folded, -1))
	critical := len(criticalCues.FindAllString(folded, -1))

	words := len(wordToken.FindAllString(folded, -1))
	sentences := countSentences(folded)

	requiresPlanning := planningCues.MatchString(folded)
	timeSensitive := urgencyCues.MatchString(folded)
	domain, domainSpecific := matchDomain(folded)

	score := -float64(simple) + 2*float64(complexN) + 3*float64(critical) +
		float64(words)/10 + 0.5*float64(sentences)

	var (
		complexity types.Complexity
		confidence float64
		indicators []string
	)

	switch {
	case score <= simpleScoreMax && !requiresPlanning:
		complexity = types.ComplexitySimple
		confidence = 0.8 + 0.1*float64(simple)
	case score <= moderateScoreMax && critical == 0:
		complexity = types.ComplexityModerate
		confidence = 0.7 + 0.1*float64(complexN)
	case score <= complexScoreMax || requiresPlanning:
		complexity = types.ComplexityComplex
		confidence = 0.6 + 0.1*float64(critical)
		if critical > 0 || complexN > 1 {
			requiresPlanning = true
		}
	default:
		complexity = types.ComplexityCritical
		confidence = 0.9
		requiresPlanning = true
	}

	if simple > 0 {
		indicators = append(indicators, "simple cues matched")
	}
	if complexN > 0 {
		indicators = append(indicators, "complex cues matched")
	}
	if critical > 0 {
		indicators = append(indicators, "critical cues matched")
	}
	if requiresPlanning {
		indicators = append(indicators, "planning required")
	}
	if timeSensitive {
		indicators = append(indicators, "urgent phrasing")
	}
	if domainSpecific {
		indicators = append(indicators, "domain: "+domain)
	}

	// Deep conversations make even simple follow-ups context-heavy.
	if convCtx != nil && convCtx.MessageCount() > contextUpgradeDepth && complexity == types.ComplexitySimple {
		complexity = types.ComplexityModerate
		indicators = append(indicators, "upgraded for conversation depth")
	}

	return types.QueryAnalysis{
		Complexity:          complexity,
		Confidence:          clamp01(confidence),
		ReasoningIndicators: indicators,
		EstimatedTokens:     estimateTokens(words),
		RequiresPlanning:    requiresPlanning,
		DomainSpecific:      domainSpecific,
		TimeSensitive:       timeSensitive,
	}
}

func countSentences(s string) int {
	n := 0
	for _, part := range sentenceSplit.Split(s, -1) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return n
}

func matchDomain(s string) (string, bool) {
	// Map iteration order is random; pick the first matching domain by a
	// stable name ordering so indicators are deterministic.
	for _, name := range []string{"technical", "business", "academic", "creative"} {
		if domainLexicons[name].MatchString(s) {
			return name, true
		}
	}
	return "", false
}

func estimateTokens(words int) int {
	est := int(math.Round(1.3 * float64(words)))
	if est < minEstimatedTokens {
		return minEstimatedTokens
	}
	return est
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
