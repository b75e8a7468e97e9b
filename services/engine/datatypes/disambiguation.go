// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// ExerciseIntent distinguishes whether a matched phrase should be added to
// or kept out of the workout.
type ExerciseIntent string

const (
	IntentInclude ExerciseIntent = "include"
	IntentAvoid   ExerciseIntent = "avoid"
)

// MatchMethod reports which tier of the exercise matcher produced a result.
type MatchMethod string

const (
	MatchExact   MatchMethod = "exact"
	MatchPattern MatchMethod = "pattern"
	MatchLLM     MatchMethod = "llm"
)

// ExerciseOption is one catalog exercise offered to the client.
type ExerciseOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MatchResult is the outcome of matching one free-text phrase against the
// business's exercise catalog. Zero candidates means no match; more than one
// candidate triggers the disambiguation sub-protocol.
type MatchResult struct {
	Phrase     string           `json:"phrase"`
	Intent     ExerciseIntent   `json:"intent"`
	Candidates []ExerciseOption `json:"candidates"`
	Method     MatchMethod      `json:"method,omitempty"`
}

// Ambiguous reports whether this phrase needs the client to pick a candidate.
func (m MatchResult) Ambiguous() bool { return len(m.Candidates) > 1 }

// DisambiguationType marks which conversation produced a pending context.
type DisambiguationType string

const (
	DisambiguationInitial DisambiguationType = "preference_initial"
	DisambiguationUpdate  DisambiguationType = "preference_update"
)

// DisambiguationOption is one numbered choice in a pending context. Number
// runs 1..N continuously across phrases and Phrase names the ambiguous
// phrase the option came from, so the prompt can be re-rendered from the
// persisted context alone.
type DisambiguationOption struct {
	Number int    `json:"number"`
	Phrase string `json:"phrase"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

// DisambiguationContext is the single pending disambiguation for one
// (user, session) pair. The option numbering is stable for the lifetime of
// the context; the context is deleted as soon as it resolves or is
// abandoned.
type DisambiguationContext struct {
	ID         string             `json:"id"`
	UserID     string             `json:"userId"`
	SessionID  string             `json:"sessionId"`
	BusinessID string             `json:"businessId"`
	Type       DisambiguationType `json:"type"`
	Intent     ExerciseIntent     `json:"intent"`

	OriginalPhrases []string               `json:"originalPhrases"`
	Options         []DisambiguationOption `json:"options"`

	ClarificationAttempts int       `json:"clarificationAttempts"`
	CreatedAt             time.Time `json:"createdAt"`
}
