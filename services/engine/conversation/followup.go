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
	"fmt"
	"strings"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// InitialPrompt opens the preference conversation after check-in.
func InitialPrompt() string {
	return "How are you feeling today? Is there anything I should know before building your workout?"
}

// FollowUpQuestion is the generic follow-up when no specific field is worth
// asking about.
func FollowUpQuestion() string {
	return "Thanks! Can you tell me more about what specific areas you'd like to focus on or avoid today?"
}

// maxFollowUpFields caps how many gaps one follow-up question asks about.
const maxFollowUpFields = 2

// followUpPriority orders the list fields by how much an unset value hurts
// workout generation. sessionGoal is handled separately and always leads.
var followUpPriority = []string{
	"muscleTargets",
	"avoidJoints",
	"muscleLessens",
	"includeExercises",
	"avoidExercises",
}

// followUpFragments are the per-field question fragments the composer stitches
// together. Intensity is absent: it carries a default and is never asked for.
var followUpFragments = map[string]string{
	"sessionGoal":      "what's your training focus today - strength or stability?",
	"muscleTargets":    "any specific areas you want to work on?",
	"avoidJoints":      "anything we should be careful with?",
	"muscleLessens":    "any areas you'd like to go easier on?",
	"includeExercises": "any exercises you want to make sure we include?",
	"avoidExercises":   "any exercises you'd like to skip?",
}

// MissingFields picks the record fields worth asking about, highest value
// first. sessionGoal always leads when unset; the list fields follow in
// priority order up to the cap.
func MissingFields(rec *datatypes.PreferenceRecord) []string {
	var fields []string
	if rec == nil || rec.SessionGoal == "" {
		fields = append(fields, "sessionGoal")
	}
	for _, field := range followUpPriority {
		if len(fields) == maxFollowUpFields {
			break
		}
		if rec == nil || !fieldSet(rec, field) {
			fields = append(fields, field)
		}
	}
	return fields
}

func fieldSet(rec *datatypes.PreferenceRecord, field string) bool {
	switch field {
	case "muscleTargets":
		return len(rec.MuscleTargets) > 0
	case "avoidJoints":
		return len(rec.AvoidJoints) > 0
	case "muscleLessens":
		return len(rec.MuscleLessens) > 0
	case "includeExercises":
		return len(rec.IncludeExercises) > 0
	case "avoidExercises":
		return len(rec.AvoidExercises) > 0
	}
	return false
}

// TargetedFollowUp composes the follow-up question from the gaps in the
// record after this turn's merge. With nothing left to ask it falls back to
// the generic question.
func TargetedFollowUp(rec *datatypes.PreferenceRecord) string {
	fields := MissingFields(rec)
	if len(fields) == 0 {
		return FollowUpQuestion()
	}

	text := "Thanks! " + capitalizeFirst(followUpFragments[fields[0]])
	if len(fields) > 1 {
		text += " Also, " + followUpFragments[fields[1]]
	}
	return text
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// CollectionComplete closes the collection conversation.
func CollectionComplete(isFollowUp bool) string {
	if isFollowUp {
		return "Great! I've got all your preferences now. Your workout will be tailored to how you're feeling today. See you in the gym!"
	}
	return "Perfect! I've got your preferences and will use them to build your workout. See you in the gym!"
}

// NoChangesReply answers acknowledgements and questions in the active state.
func NoChangesReply() string {
	return "Your current preferences are set. If you need to change anything, just let me know!"
}

// NothingParsedReply answers an active-state message the parser got nothing
// out of.
func NothingParsedReply() string {
	return "I didn't catch what you'd like to change. You can update things like intensity (easy/hard), exercises to add/skip, or areas to focus on."
}

// fieldDisplayNames maps record field keys to client-facing wording.
var fieldDisplayNames = map[string]string{
	"intensity":        "intensity",
	"sessionGoal":      "training focus",
	"muscleTargets":    "target areas",
	"muscleLessens":    "areas to avoid",
	"includeExercises": "exercise selections",
	"avoidExercises":   "exercises to skip",
	"avoidJoints":      "joint protection",
}

// UpdateConfirmation composes the reply after an active-state amendment.
// Single-field updates get a tailored sentence; multi-field updates list the
// display names of every changed field.
func UpdateConfirmation(updatedFields []string) string {
	if len(updatedFields) == 0 {
		return "Got it. Let me know if you need any other changes."
	}

	if len(updatedFields) == 1 {
		switch updatedFields[0] {
		case "intensity":
			return "Got it, I've adjusted the intensity. Let me know if you need anything else changed."
		case "sessionGoal":
			return "Perfect, I've updated your training focus. Anything else you'd like to adjust?"
		case "avoidExercises":
			return "No problem, I'll make sure to skip those. Let me know if there's anything else."
		case "includeExercises":
			return "Great, I'll add those to your workout. Anything else you'd like to change?"
		case "avoidJoints":
			return "Noted - I'll be careful with those areas. Let me know if you need other adjustments."
		}
	}

	names := make([]string, 0, len(updatedFields))
	for _, f := range updatedFields {
		if display, ok := fieldDisplayNames[f]; ok {
			names = append(names, display)
		} else {
			names = append(names, f)
		}
	}
	return fmt.Sprintf("Updated your %s. Let me know if you need any other changes.", strings.Join(names, " and "))
}
