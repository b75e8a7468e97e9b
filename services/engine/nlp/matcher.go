// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// maxLLMCandidates caps how many catalog names one LLM match may return.
const maxLLMCandidates = 5

// HybridMatcher resolves a free-text phrase against the business's catalog
// in three tiers, cheapest first:
//
//  1. exact: the phrase equals a name, an alias, or an exercise type. A
//     type hit returns every exercise of that type, which is usually the
//     ambiguous case the disambiguation protocol exists for.
//  2. pattern: word containment between phrase and names.
//  3. llm: ask the model to shortlist catalog names. Skipped when no
//     client is configured.
//
// The first tier producing candidates wins.
type HybridMatcher struct {
	catalog CatalogSource
	client  *openai.Client
	model   string
	logger  *slog.Logger
}

// NewHybridMatcher builds a matcher. client may be nil to disable the LLM
// tier; model defaults to gpt-4o-mini.
func NewHybridMatcher(catalog CatalogSource, client *openai.Client, model string, logger *slog.Logger) *HybridMatcher {
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridMatcher{catalog: catalog, client: client, model: model, logger: logger}
}

// Match implements conversation.ExerciseMatcher.
func (m *HybridMatcher) Match(ctx context.Context, businessID, phrase string, intent datatypes.ExerciseIntent) (datatypes.MatchResult, error) {
	result := datatypes.MatchResult{Phrase: phrase, Intent: intent}

	entries, err := m.catalog.Exercises(ctx, businessID)
	if err != nil {
		return result, &conversation.ExternalServiceError{
			Service: "catalog", Err: fmt.Errorf("load catalog for %s: %w", businessID, err)}
	}
	if len(entries) == 0 {
		return result, nil
	}

	folded := normalize(phrase)
	if folded == "" {
		return result, nil
	}

	if candidates := matchExact(entries, folded); len(candidates) > 0 {
		result.Candidates = candidates
		result.Method = datatypes.MatchExact
		return result, nil
	}

	if candidates := matchPattern(entries, folded); len(candidates) > 0 {
		result.Candidates = candidates
		result.Method = datatypes.MatchPattern
		return result, nil
	}

	if m.client == nil {
		return result, nil
	}
	candidates, err := m.matchLLM(ctx, entries, phrase)
	if err != nil {
		return result, err
	}
	if len(candidates) > 0 {
		result.Candidates = candidates
		result.Method = datatypes.MatchLLM
	}
	return result, nil
}

// matchExact checks name, alias, and type equality after folding.
func matchExact(entries []ExerciseEntry, folded string) []datatypes.ExerciseOption {
	var byName []datatypes.ExerciseOption
	var byType []datatypes.ExerciseOption
	for _, e := range entries {
		if normalize(e.Name) == folded {
			byName = append(byName, datatypes.ExerciseOption{ID: e.ID, Name: e.Name})
			continue
		}
		matched := false
		for _, alias := range e.Aliases {
			if normalize(alias) == folded {
				byName = append(byName, datatypes.ExerciseOption{ID: e.ID, Name: e.Name})
				matched = true
				break
			}
		}
		if !matched && e.Type != "" && normalize(e.Type) == folded {
			byType = append(byType, datatypes.ExerciseOption{ID: e.ID, Name: e.Name})
		}
	}
	// A direct name or alias hit beats the broader type expansion.
	if len(byName) > 0 {
		return byName
	}
	return byType
}

// matchPattern keeps entries whose folded name contains every word of the
// phrase, or whose words are all contained in the phrase.
func matchPattern(entries []ExerciseEntry, folded string) []datatypes.ExerciseOption {
	words := strings.Fields(folded)
	var out []datatypes.ExerciseOption
	for _, e := range entries {
		name := normalize(e.Name)
		if containsAllWords(name, words) || containsAllWords(folded, strings.Fields(name)) {
			out = append(out, datatypes.ExerciseOption{ID: e.ID, Name: e.Name})
		}
	}
	return out
}

func containsAllWords(haystack string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

const matcherSystemPrompt = `You match a gym client's exercise phrase against a catalog.
Given the catalog names and the phrase, respond with a JSON object:
  {"names": ["..."]}
names holds the catalog names that plausibly match the phrase, best first,
at most %d. Use only names from the catalog, verbatim. If nothing matches,
respond with {"names": []}.`

// matchLLM asks the model to shortlist catalog names for the phrase.
func (m *HybridMatcher) matchLLM(ctx context.Context, entries []ExerciseEntry, phrase string) ([]datatypes.ExerciseOption, error) {
	byName := make(map[string]ExerciseEntry, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
		names = append(names, e.Name)
	}

	req := openai.ChatCompletionRequest{
		Model:       m.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(matcherSystemPrompt, maxLLMCandidates)},
			{Role: openai.ChatMessageRoleUser, Content: "Catalog: " + strings.Join(names, "; ") + "\nPhrase: " + phrase},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, &conversation.ExternalServiceError{
			Service: "openai_matcher", Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &conversation.ExternalServiceError{
			Service: "openai_matcher", Err: fmt.Errorf("no choices returned")}
	}

	var payload struct {
		Names []string `json:"names"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), &payload); err != nil {
		return nil, &conversation.ExternalServiceError{
			Service: "openai_matcher", Err: fmt.Errorf("decode response: %w", err)}
	}

	var out []datatypes.ExerciseOption
	for _, name := range payload.Names {
		entry, ok := byName[name]
		if !ok {
			m.logger.Warn("llm match returned name outside catalog, dropped", "name", name)
			continue
		}
		out = append(out, datatypes.ExerciseOption{ID: entry.ID, Name: entry.Name})
		if len(out) == maxLLMCandidates {
			break
		}
	}
	return out, nil
}
