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

// Package memory mines durable user knowledge from conversation turns:
// stated preferences, declared facts, and context cues. Extraction is
// regex-driven over the latest user message only, so one pass is bounded by
// that message's size plus a small fixed cost in the rest of the context.
package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/teradata-labs/heddle/pkg/types"
)

// Memory item types.
const (
	itemPreference = "preference"
	itemFact       = "fact"
	itemContext    = "context"
)

// ExtractorConfig bounds the memory fields. The caps are soft heuristics;
// deployments may widen them.
type ExtractorConfig struct {
	// MaxPreferences caps user_preferences. Default: 50.
	MaxPreferences int

	// MaxFacts caps key_facts; overflow evicts the lowest
	// (confidence, timestamp) entries. Default: 100.
	MaxFacts int

	// MaxKeywords caps memory_keywords. Default: 50.
	MaxKeywords int

	// MaxSummaryLen caps interaction_summary in characters. Default: 500.
	MaxSummaryLen int
}

// Extractor mines memories from conversation turns. Stateless aside from
// its configuration; safe for concurrent use.
type Extractor struct {
	cfg ExtractorConfig
}

var (
	preferencePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bi (?:really )?(?:prefer|like|love|want|need|enjoy|hate|dislike)\s+([^.!?\n]+)`),
		regexp.MustCompile(`(?i)\bmy favorite\s+(\w+)\s+(?:is|are)\s+([^.!?\n]+)`),
		regexp.MustCompile(`(?i)\bi (?:don't|do not|never)\s+(?:like|want|use)\s+([^.!?\n]+)`),
		regexp.MustCompile(`(?i)\bi (?:always|usually|typically)\s+(?:use|choose|go with)\s+([^.!?\n]+)`),
	}

	// explicitPreferenceVerbs boost confidence when present in the match.
	explicitPreferenceVerbs = regexp.MustCompile(`(?i)\b(?:prefer|favorite|love|hate)\b`)

	// definitiveCopulas boost confidence for unambiguous statements.
	definitiveCopulas = regexp.MustCompile(`(?i)\b(?:is|are|always|never)\b`)

	factPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bremember that\s+([^.!?\n]+)`),
		regexp.MustCompile(`(?i)\bimportant:\s*([^.!?\n]+)`),
		regexp.MustCompile(`(?i)\b(?:note that|keep in mind that|don't forget)\s+([^.!?\n]+)`),
		regexp.MustCompile(`(?i)^(\w[\w\s]{2,40}?)\s+(?:is|are)\s+([^.!?\n]+)`),
	}

	importanceKeywords = []string{
		"important", "critical", "remember", "must", "always", "never",
		"key", "essential", "required", "deadline", "problem", "urgent",
	}

	summaryCues = regexp.MustCompile(`(?i)\b(?:prefer|need|important|problem|solution|help|question|answer)\b`)

	sentenceEnd = regexp.MustCompile(`[.!?]+`)

	wordToken = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]+`)
)

// stopWords excluded from keyword extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"this": true, "that": true, "with": true, "have": true, "from": true,
	"they": true, "been": true, "will": true, "would": true, "could": true,
	"should": true, "what": true, "when": true, "where": true, "which": true,
	"their": true, "there": true, "about": true, "into": true, "some": true,
	"very": true, "just": true, "than": true, "then": true, "them": true,
	"its": true, "also": true, "use": true, "using": true, "like": true,
	"dont": true, "don't": true, "really": true,
}

// maxKeywordsPerItem caps keywords attached to one memory item.
const maxKeywordsPerItem = 10

// NewExtractor creates an extractor with defaults applied.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	if cfg.MaxPreferences <= 0 {
		cfg.MaxPreferences = 50
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = 100
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 50
	}
	if cfg.MaxSummaryLen <= 0 {
		cfg.MaxSummaryLen = 500
	}
	return &Extractor{cfg: cfg}
}

// ProcessTurn mines the latest user message in c and folds the results into
// the context's memory fields. The context is mutated and returned.
func (e *Extractor) ProcessTurn(c *types.ConversationContext, turnNumber int) *types.ConversationContext {
	if c == nil {
		return nil
	}
	msg, ok := c.LastUserMessage()
	if !ok || strings.TrimSpace(msg.Content) == "" {
		return c
	}

	now := time.Now().UTC()
	prefs := e.extractPreferences(msg.Content, turnNumber, now)
	facts := e.extractFacts(msg.Content, turnNumber, now)
	cues := e.extractContextCues(msg.Content, turnNumber, now)

	e.mergePreferences(c, prefs)
	e.mergeFacts(c, append(facts, cues...))
	e.mergeKeywords(c, prefs, facts, cues)
	e.refreshSummary(c)

	if len(prefs)+len(facts)+len(cues) > 0 {
		c.MemoryLastUpdated = now
	}
	return c
}

// extractPreferences runs the preference pattern family over content.
func (e *Extractor) extractPreferences(content string, turn int, now time.Time) []types.MemoryItem {
	var out []types.MemoryItem
	for _, pat := range preferencePatterns {
		for _, match := range pat.FindAllString(content, -1) {
			confidence := 0.5
			if explicitPreferenceVerbs.MatchString(match) {
				confidence += 0.3
			}
			if definitiveCopulas.MatchString(match) {
				confidence += 0.2
			}
			if confidence > 1.0 {
				confidence = 1.0
			}
			out = append(out, types.MemoryItem{
				Type:       itemPreference,
				Content:    strings.TrimSpace(match),
				Confidence: confidence,
				Timestamp:  now,
				SourceTurn: turn,
				Keywords:   extractKeywords(match),
			})
		}
	}
	return out
}

// extractFacts runs the definition and importance patterns over content.
func (e *Extractor) extractFacts(content string, turn int, now time.Time) []types.MemoryItem {
	var out []types.MemoryItem
	for _, pat := range factPatterns {
		for _, match := range pat.FindAllString(content, -1) {
			out = append(out, types.MemoryItem{
				Type:       itemFact,
				Content:    strings.TrimSpace(match),
				Confidence: 0.6,
				Timestamp:  now,
				SourceTurn: turn,
				Keywords:   extractKeywords(match),
			})
		}
	}
	return out
}

// extractContextCues scores sentences by importance-keyword density and
// keeps those that clear both the score and confidence bars.
func (e *Extractor) extractContextCues(content string, turn int, now time.Time) []types.MemoryItem {
	var out []types.MemoryItem
	for _, sentence := range sentenceEnd.Split(content, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		lower := strings.ToLower(sentence)
		score := 0
		for _, kw := range importanceKeywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		confidence := 0.3 * float64(score)
		if confidence > 0.9 {
			confidence = 0.9
		}
		if score >= 1 && confidence > 0.5 {
			out = append(out, types.MemoryItem{
				Type:       itemContext,
				Content:    sentence,
				Confidence: confidence,
				Timestamp:  now,
				SourceTurn: turn,
				Keywords:   extractKeywords(sentence),
			})
		}
	}
	return out
}

// mergePreferences adds new preference items under synthetic pref_N keys,
// up to the cap.
func (e *Extractor) mergePreferences(c *types.ConversationContext, prefs []types.MemoryItem) {
	if c.UserPreferences == nil {
		c.UserPreferences = map[string]types.MemoryItem{}
	}
	for _, p := range prefs {
		if len(c.UserPreferences) >= e.cfg.MaxPreferences {
			break
		}
		key := fmt.Sprintf("pref_%d", len(c.UserPreferences))
		for {
			if _, taken := c.UserPreferences[key]; !taken {
				break
			}
			key += "x"
		}
		c.UserPreferences[key] = p
	}
}

// mergeFacts appends items to key_facts, evicting the lowest
// (confidence, timestamp) entries past the cap.
func (e *Extractor) mergeFacts(c *types.ConversationContext, facts []types.MemoryItem) {
	c.KeyFacts = append(c.KeyFacts, facts...)
	if len(c.KeyFacts) <= e.cfg.MaxFacts {
		return
	}
	sort.SliceStable(c.KeyFacts, func(i, j int) bool {
		if c.KeyFacts[i].Confidence != c.KeyFacts[j].Confidence {
			return c.KeyFacts[i].Confidence > c.KeyFacts[j].Confidence
		}
		return c.KeyFacts[i].Timestamp.After(c.KeyFacts[j].Timestamp)
	})
	c.KeyFacts = c.KeyFacts[:e.cfg.MaxFacts]
}

// mergeKeywords folds all item keywords into memory_keywords, preserving
// first-seen order up to the cap.
func (e *Extractor) mergeKeywords(c *types.ConversationContext, groups ...[]types.MemoryItem) {
	seen := map[string]bool{}
	for _, kw := range c.MemoryKeywords {
		seen[kw] = true
	}
	for _, group := range groups {
		for _, item := range group {
			for _, kw := range item.Keywords {
				if seen[kw] || len(c.MemoryKeywords) >= e.cfg.MaxKeywords {
					continue
				}
				seen[kw] = true
				c.MemoryKeywords = append(c.MemoryKeywords, kw)
			}
		}
	}
}

// refreshSummary rebuilds interaction_summary from up to five important
// sentences across the recent messages.
func (e *Extractor) refreshSummary(c *types.ConversationContext) {
	start := len(c.Messages) - 10
	if start < 0 {
		start = 0
	}

	var picked []string
	for _, m := range c.Messages[start:] {
		if len(picked) >= 5 {
			break
		}
		for _, sentence := range sentenceEnd.Split(m.Content, -1) {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" || !summaryCues.MatchString(sentence) {
				continue
			}
			picked = append(picked, sentence)
			if len(picked) >= 5 {
				break
			}
		}
	}
	if len(picked) == 0 {
		return
	}

	summary := strings.Join(picked, ". ")
	if len(summary) > e.cfg.MaxSummaryLen {
		summary = summary[:e.cfg.MaxSummaryLen]
	}
	c.InteractionSummary = summary
}

// extractKeywords tokenizes text, drops stop words and short tokens, and
// caps the result.
func extractKeywords(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, tok := range wordToken.FindAllString(strings.ToLower(text), -1) {
		if len(tok) <= 2 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
		if len(out) >= maxKeywordsPerItem {
			break
		}
	}
	return out
}
