// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"regexp"
	"strings"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// Keyword families for the active-state update handler. These mirror what
// clients actually text mid-session, including the idioms ("kick my butt",
// "take it easy") that a literal synonym list would miss.

var intensityLow = regexp.MustCompile(
	`\b(easy|easier|light|lighter|low|gentle|relax|tired)\b|take\s+it\s+easy`)

var intensityModerate = regexp.MustCompile(
	`\b(moderate|medium|normal|regular)\b`)

var intensityHigh = regexp.MustCompile(
	`\b(hard|harder|heavy|intense|high|crush|destroy)\b|kick\s+(my\s+)?(butt|ass)|push\s+me|challenge\s+me|bring\s+it|all\s+out`)

// updateIntent gates intensity/goal keyword hits so that unrelated sentences
// ("my shoulders felt heavy yesterday" in a story) don't flip fields.
var updateIntent = regexp.MustCompile(
	`\b(actually|instead|change|update|switch|make|go|feel|feeling|want|push|challenge|bring|destroy|crush|kick|need|take|today|now|add|remove|also|plus)\b|let'?s`)

var goalStrength = regexp.MustCompile(`\b(strength|strong|heavy)\b`)
var goalStability = regexp.MustCompile(`\b(stability|balance|control)\b`)

var muscleWords = []string{
	"chest", "back", "shoulders", "arms", "legs", "glutes",
	"core", "abs", "triceps", "biceps", "quads", "hamstrings",
	"calves", "delts", "lats", "traps",
}

var muscleRegex = regexp.MustCompile(`\b(` + strings.Join(muscleWords, "|") + `)\b`)

// Sentiment gates routing a muscle mention to target vs lessen.
var muscleAvoidSentiment = regexp.MustCompile(`\b(sore|tired|rest|avoid|skip|no)\b`)
var muscleTargetSentiment = regexp.MustCompile(`\b(work|hit|focus|target|add)\b`)

var jointRegex = regexp.MustCompile(`\b(knees?|shoulders?|wrists?|elbows?|ankles?|hips?|back|neck)\b`)
var jointIssueSentiment = regexp.MustCompile(`\b(hurt|hurting|pain|sore|protect|careful|issue|problem|ache|aching)\b`)

// generalQuery flags acknowledgements and questions that are not updates.
var generalQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(what|how|when|where|why|who)\b.*\?`),
	regexp.MustCompile(`\b(am i|are we|is it|should i)\b`),
	regexp.MustCompile(`\b(okay|ok|good|great|thanks|thank you|sounds good|perfect)\b`),
	regexp.MustCompile(`^(yes|no|maybe|sure)$`),
}

// DetectIntensity scans text for an intensity change, gated by update
// intent. Empty result means no intensity mention applies.
func DetectIntensity(lower string) datatypes.Intensity {
	if !updateIntent.MatchString(lower) {
		return ""
	}
	switch {
	case intensityLow.MatchString(lower):
		return datatypes.IntensityLow
	case intensityModerate.MatchString(lower):
		return datatypes.IntensityModerate
	case intensityHigh.MatchString(lower):
		return datatypes.IntensityHigh
	}
	return ""
}

// DetectSessionGoal scans text for a goal change, gated by update intent.
func DetectSessionGoal(lower string) datatypes.SessionGoal {
	if !updateIntent.MatchString(lower) {
		return ""
	}
	switch {
	case goalStrength.MatchString(lower):
		return datatypes.GoalStrength
	case goalStability.MatchString(lower):
		return datatypes.GoalStability
	}
	return ""
}

// DetectMuscles returns muscle mentions split into targets and lessens based
// on the co-occurring sentiment. Avoid sentiment wins when both appear.
func DetectMuscles(lower string) (targets, lessens []string) {
	matches := muscleRegex.FindAllString(lower, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	deduped := unionFold(nil, matches)
	switch {
	case muscleAvoidSentiment.MatchString(lower):
		return nil, deduped
	case muscleTargetSentiment.MatchString(lower):
		return deduped, nil
	}
	return nil, nil
}

// DetectJoints returns joints to protect, singularized, when a joint word
// co-occurs with an issue sentiment.
func DetectJoints(lower string) []string {
	matches := jointRegex.FindAllString(lower, -1)
	if len(matches) == 0 || !jointIssueSentiment.MatchString(lower) {
		return nil
	}
	singular := make([]string, 0, len(matches))
	for _, m := range matches {
		singular = append(singular, strings.TrimSuffix(m, "s"))
	}
	return unionFold(nil, singular)
}

// IsGeneralQuery reports whether the message reads as an acknowledgement or
// question rather than a change request.
func IsGeneralQuery(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range generalQueryPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
