// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire and persisted types shared by the
// conversation engine, its stores, and the HTTP surface.
package datatypes

import "time"

// Intensity is the per-session effort level a client asked for.
type Intensity string

const (
	IntensityLow      Intensity = "low"
	IntensityModerate Intensity = "moderate"
	IntensityHigh     Intensity = "high"
)

// SessionGoal is the training emphasis for one session.
type SessionGoal string

const (
	GoalStrength  SessionGoal = "strength"
	GoalStability SessionGoal = "stability"
)

// FieldSource records why a scalar preference holds its current value.
//
// "explicit" means the client said it this turn, "inherited" means it was
// carried forward from an earlier turn, "default" means nobody ever set it.
type FieldSource string

const (
	SourceExplicit  FieldSource = "explicit"
	SourceInherited FieldSource = "inherited"
	SourceDefault   FieldSource = "default"
)

// ConversationStep is the persisted position of a (user, session) pair in
// the preference-collection conversation. The step values and the allowed
// transitions between them are the only wire format other services may
// depend on.
type ConversationStep string

const (
	StepNotStarted               ConversationStep = "not_started"
	StepInitialCollected         ConversationStep = "initial_collected"
	StepDisambiguationPending    ConversationStep = "disambiguation_pending"
	StepDisambiguationClarifying ConversationStep = "disambiguation_clarifying"
	StepDisambiguationResolved   ConversationStep = "disambiguation_resolved"
	StepFollowupSent             ConversationStep = "followup_sent"
	StepPreferencesActive        ConversationStep = "preferences_active"
)

// PreferenceRecord is the authoritative preference state for one client in
// one training session. Exactly one record exists per (user, session).
//
// Invariant: IncludeExercises and AvoidExercises are disjoint. The merge
// engine enforces this (avoid wins); nothing else may write these fields.
type PreferenceRecord struct {
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	BusinessID string `json:"businessId"`

	Intensity       Intensity   `json:"intensity,omitempty"`
	IntensitySource FieldSource `json:"intensitySource"`

	SessionGoal       SessionGoal `json:"sessionGoal,omitempty"`
	SessionGoalSource FieldSource `json:"sessionGoalSource"`

	MuscleTargets []string `json:"muscleTargets,omitempty"`
	MuscleLessens []string `json:"muscleLessens,omitempty"`
	AvoidJoints   []string `json:"avoidJoints,omitempty"`

	IncludeExercises []string `json:"includeExercises,omitempty"`
	AvoidExercises   []string `json:"avoidExercises,omitempty"`

	Step      ConversationStep `json:"step"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// ParsedPreferences is the partial result of one NL parse (or one update
// turn). A nil slice or empty string means the field was not mentioned this
// turn. A non-nil empty slice is the explicit "cleared" sentinel for the
// exercise lists; parser clients never produce it, only the update path does.
type ParsedPreferences struct {
	Intensity   Intensity   `json:"intensity,omitempty"`
	SessionGoal SessionGoal `json:"sessionGoal,omitempty"`

	MuscleTargets []string `json:"muscleTargets,omitempty"`
	MuscleLessens []string `json:"muscleLessens,omitempty"`
	AvoidJoints   []string `json:"avoidJoints,omitempty"`

	IncludeExercises []string `json:"includeExercises,omitempty"`
	AvoidExercises   []string `json:"avoidExercises,omitempty"`
}

// IsEmpty reports whether the parse extracted nothing at all.
func (p ParsedPreferences) IsEmpty() bool {
	return p.Intensity == "" && p.SessionGoal == "" &&
		len(p.MuscleTargets) == 0 && len(p.MuscleLessens) == 0 &&
		len(p.AvoidJoints) == 0 && p.IncludeExercises == nil &&
		p.AvoidExercises == nil
}
