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
	"log/slog"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// TransitionFlags carry the per-turn signals that decide which outgoing edge
// of the conversation state machine applies.
type TransitionFlags struct {
	// NeedsDisambiguation is set when any matched phrase produced more than
	// one candidate this turn.
	NeedsDisambiguation bool
	// DisambiguationFailed is set when a disambiguation reply could not be
	// parsed as a selection.
	DisambiguationFailed bool
	// IsFollowupResponse is set when the inbound message answers the
	// follow-up question.
	IsFollowupResponse bool
}

// transitions is the exhaustive table of allowed step transitions. It is the
// contract other services persist against; never extend it casually.
var transitions = map[datatypes.ConversationStep][]datatypes.ConversationStep{
	datatypes.StepNotStarted:               {datatypes.StepInitialCollected},
	datatypes.StepInitialCollected:         {datatypes.StepDisambiguationPending, datatypes.StepFollowupSent},
	datatypes.StepDisambiguationPending:    {datatypes.StepDisambiguationClarifying, datatypes.StepDisambiguationResolved},
	datatypes.StepDisambiguationClarifying: {datatypes.StepDisambiguationResolved},
	datatypes.StepDisambiguationResolved:   {datatypes.StepFollowupSent},
	datatypes.StepFollowupSent:             {datatypes.StepPreferencesActive},
	datatypes.StepPreferencesActive:        {datatypes.StepPreferencesActive},
}

// NextStep computes the step the conversation moves to from current given
// this turn's flags. Pure function; it never mutates anything.
func NextStep(current datatypes.ConversationStep, flags TransitionFlags) datatypes.ConversationStep {
	switch current {
	case datatypes.StepNotStarted:
		return datatypes.StepInitialCollected
	case datatypes.StepInitialCollected:
		if flags.NeedsDisambiguation {
			return datatypes.StepDisambiguationPending
		}
		return datatypes.StepFollowupSent
	case datatypes.StepDisambiguationPending:
		if flags.DisambiguationFailed {
			return datatypes.StepDisambiguationClarifying
		}
		return datatypes.StepDisambiguationResolved
	case datatypes.StepDisambiguationClarifying:
		return datatypes.StepDisambiguationResolved
	case datatypes.StepDisambiguationResolved:
		return datatypes.StepFollowupSent
	case datatypes.StepFollowupSent:
		return datatypes.StepPreferencesActive
	case datatypes.StepPreferencesActive:
		return datatypes.StepPreferencesActive
	}
	// Unknown persisted step. Treated like an illegal transition: recover to
	// the safe step instead of corrupting the record.
	slog.Error("unknown conversation step, recovering", "step", string(current))
	return datatypes.StepFollowupSent
}

// ValidTransition reports whether from -> to appears in the transition table.
func ValidTransition(from, to datatypes.ConversationStep) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition validates from -> to and returns the step the record
// should actually take. An illegal pair is a logic defect: it is logged and
// the conversation recovers to followup_sent. The StateTransitionError is
// returned alongside the safe step so callers can count it.
func CheckTransition(from, to datatypes.ConversationStep) (datatypes.ConversationStep, error) {
	if ValidTransition(from, to) {
		return to, nil
	}
	err := &StateTransitionError{From: from, To: to}
	slog.Error("illegal conversation transition, recovering",
		"from", string(from), "to", string(to))
	return datatypes.StepFollowupSent, err
}

// CanUpdatePreferences reports whether incremental amendments are accepted
// in the given step. Only the terminal active step takes updates.
func CanUpdatePreferences(step datatypes.ConversationStep) bool {
	return step == datatypes.StepPreferencesActive
}

// AwaitingCollection reports whether the conversation is still gathering
// initial preferences (any step before preferences_active).
func AwaitingCollection(step datatypes.ConversationStep) bool {
	switch step {
	case datatypes.StepNotStarted, datatypes.StepInitialCollected,
		datatypes.StepDisambiguationPending, datatypes.StepDisambiguationClarifying,
		datatypes.StepDisambiguationResolved, datatypes.StepFollowupSent:
		return true
	}
	return false
}
