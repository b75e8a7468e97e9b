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
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// UpdateType summarizes the direction of an active-state amendment.
type UpdateType string

const (
	UpdateAdd    UpdateType = "add"
	UpdateRemove UpdateType = "remove"
	UpdateChange UpdateType = "change"
	UpdateMixed  UpdateType = "mixed"
)

// UpdateResult is the outcome of parsing one active-state message.
type UpdateResult struct {
	HasUpdates    bool
	Updates       datatypes.ParsedPreferences
	UpdateType    UpdateType
	FieldsUpdated []string
	// AmbiguousMatches is non-empty when an exercise phrase needs the
	// disambiguation sub-protocol before the update can apply.
	AmbiguousMatches []datatypes.MatchResult
	// ExerciseIntent records whether ambiguous phrases were adds or removals.
	ExerciseIntent datatypes.ExerciseIntent
}

var exerciseAddIntent = regexp.MustCompile(
	`\b(add|include|also|plus|with|try)\b|let'?s\s+do|want\s+to\s+do|wanna\s+do`)

var exerciseRemoveIntent = regexp.MustCompile(
	`\b(remove|skip|no|avoid|without|stop|exclude|delete)\b|don'?t|do\s+not`)

var negativeWant = regexp.MustCompile(`(don'?t|do\s+not)\s+want`)

// Phrase capture after a leading intent verb, trimmed at a trailing filler.
var afterVerb = regexp.MustCompile(
	`(?:add|include|skip|remove|avoid|do|try)\s+(?:some\s+)?(.+?)(?:\s+(?:to|from|for|please|today|now|thanks)\b|$)`)

var leadingFiller = regexp.MustCompile(
	`^(?:actually\s+)?(?:i\s+)?(?:(?:don'?t|do\s+not)\s+want\s+(?:to\s+)?(?:do\s+)?|want\s+to\s+|wanna\s+|let'?s\s+do\s+|let'?s\s+)?(?:add|include|skip|remove|avoid|without|stop|exclude|delete)?\s*(?:some\s+|the\s+|that\s+|those\s+|these\s+|any\s+)?`)

var trailingFiller = regexp.MustCompile(`\s+(?:anymore|instead|rather|today|now|please|thanks)$`)

var segmentSplit = regexp.MustCompile(`[,;.!?]|\b(?:and|or|also|plus)\b`)

var bareWant = regexp.MustCompile(`\bwant\b`)

var changeVerbs = regexp.MustCompile(`\b(change|switch|instead|replace|update)\b|make\s+it`)

var intensityIdioms = regexp.MustCompile(`\b(kick|push|challenge|destroy|crush|easy|light|hard)\b`)

// UpdateParser interprets messages arriving once preferences are active as
// incremental amendments. Exercise phrase resolution is delegated to the
// same matcher contract the collection flow uses.
type UpdateParser struct {
	matcher ExerciseMatcher
}

// NewUpdateParser builds an UpdateParser around the given matcher.
func NewUpdateParser(matcher ExerciseMatcher) *UpdateParser {
	return &UpdateParser{matcher: matcher}
}

// Parse extracts every detected amendment from one message. current is the
// client's record before the update; it is consulted for de-duplication but
// never mutated. Matcher failures degrade to "no exercise change".
func (p *UpdateParser) Parse(ctx context.Context, text string, current *datatypes.PreferenceRecord, businessID string) UpdateResult {
	lower := strings.ToLower(text)
	result := UpdateResult{}

	if v := DetectIntensity(lower); v != "" {
		result.Updates.Intensity = v
		result.FieldsUpdated = append(result.FieldsUpdated, "intensity")
		result.HasUpdates = true
	}

	if g := DetectSessionGoal(lower); g != "" {
		result.Updates.SessionGoal = g
		result.FieldsUpdated = append(result.FieldsUpdated, "sessionGoal")
		result.HasUpdates = true
	}

	p.parseExerciseChange(ctx, text, lower, current, businessID, &result)

	targets, lessens := DetectMuscles(lower)
	if len(targets) > 0 {
		result.Updates.MuscleTargets = targets
		result.FieldsUpdated = append(result.FieldsUpdated, "muscleTargets")
		result.HasUpdates = true
	}
	if len(lessens) > 0 {
		result.Updates.MuscleLessens = lessens
		result.FieldsUpdated = append(result.FieldsUpdated, "muscleLessens")
		result.HasUpdates = true
	}

	if joints := DetectJoints(lower); len(joints) > 0 {
		result.Updates.AvoidJoints = joints
		result.FieldsUpdated = append(result.FieldsUpdated, "avoidJoints")
		result.HasUpdates = true
	}

	if result.HasUpdates {
		result.UpdateType = classifyUpdateType(lower)
	}
	return result
}

// parseExerciseChange extracts exercise phrases, resolves them through the
// matcher, and folds unambiguous resolutions into the result. Ambiguous
// phrases are surfaced for the disambiguation sub-protocol instead.
func (p *UpdateParser) parseExerciseChange(ctx context.Context, text, lower string, current *datatypes.PreferenceRecord, businessID string, result *UpdateResult) {
	intent := exerciseChangeIntent(lower)
	if intent == "" {
		return
	}
	phrases := extractExercisePhrases(text)
	if len(phrases) == 0 {
		return
	}

	var resolved []string
	var ambiguous []datatypes.MatchResult
	for _, phrase := range phrases {
		match, err := p.matcher.Match(ctx, businessID, phrase, intent)
		if err != nil {
			slog.Warn("exercise matcher unavailable, skipping phrase",
				"phrase", phrase, "error", err)
			continue
		}
		switch {
		case match.Ambiguous():
			ambiguous = append(ambiguous, match)
		case len(match.Candidates) == 1:
			resolved = append(resolved, match.Candidates[0].Name)
		}
	}

	if len(ambiguous) > 0 {
		result.AmbiguousMatches = ambiguous
		result.ExerciseIntent = intent
		result.HasUpdates = true
	}
	if len(resolved) == 0 {
		return
	}

	if intent == datatypes.IntentInclude {
		fresh := subtractFold(unionFold(nil, resolved), current.IncludeExercises)
		if len(fresh) > 0 {
			result.Updates.IncludeExercises = fresh
			result.FieldsUpdated = append(result.FieldsUpdated, "includeExercises")
			result.HasUpdates = true
		}
		return
	}

	// Removal: the merge engine strips these from the include list and adds
	// them to the avoid list (avoid wins).
	fresh := subtractFold(unionFold(nil, resolved), current.AvoidExercises)
	if len(fresh) > 0 {
		result.Updates.AvoidExercises = fresh
		result.FieldsUpdated = append(result.FieldsUpdated, "avoidExercises")
		result.HasUpdates = true
	}
}

// exerciseChangeIntent decides whether a message adds or removes exercises.
// Removal wins on conflicting signals; it is the safer reading.
func exerciseChangeIntent(lower string) datatypes.ExerciseIntent {
	if negativeWant.MatchString(lower) {
		return datatypes.IntentAvoid
	}
	hasRemove := exerciseRemoveIntent.MatchString(lower)
	hasAdd := exerciseAddIntent.MatchString(lower)
	switch {
	case hasRemove:
		return datatypes.IntentAvoid
	case hasAdd:
		return datatypes.IntentInclude
	case bareWant.MatchString(lower):
		return datatypes.IntentInclude
	}
	return ""
}

// extractExercisePhrases pulls candidate exercise names out of a message.
// Verb-anchored captures come first; segment splitting is the fallback.
func extractExercisePhrases(text string) []string {
	var phrases []string
	for _, m := range afterVerb.FindAllStringSubmatch(strings.ToLower(text), -1) {
		phrase := strings.TrimSpace(m[1])
		phrase = trailingFiller.ReplaceAllString(phrase, "")
		if phrase != "" {
			phrases = unionFold(phrases, []string{phrase})
		}
	}
	if len(phrases) > 0 {
		return phrases
	}

	for _, segment := range segmentSplit.Split(strings.ToLower(text), -1) {
		cleaned := strings.TrimSpace(segment)
		if cleaned == "" {
			continue
		}
		cleaned = leadingFiller.ReplaceAllString(cleaned, "")
		cleaned = trailingFiller.ReplaceAllString(cleaned, "")
		cleaned = strings.TrimSpace(cleaned)
		if len(cleaned) > 2 {
			phrases = unionFold(phrases, []string{cleaned})
		}
	}
	return phrases
}

func classifyUpdateType(lower string) UpdateType {
	hasAdd := exerciseAddIntent.MatchString(lower)
	hasRemove := exerciseRemoveIntent.MatchString(lower)
	hasChange := changeVerbs.MatchString(lower)
	hasIntensityWord := intensityIdioms.MatchString(lower)

	switch {
	case (hasAdd || hasIntensityWord) && hasRemove:
		return UpdateMixed
	case hasAdd && hasIntensityWord:
		return UpdateMixed
	case hasChange || hasIntensityWord:
		return UpdateChange
	case hasAdd:
		return UpdateAdd
	case hasRemove:
		return UpdateRemove
	}
	return UpdateChange
}
