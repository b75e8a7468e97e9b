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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

func TestNextStepHappyPath(t *testing.T) {
	step := NextStep(datatypes.StepNotStarted, TransitionFlags{})
	assert.Equal(t, datatypes.StepInitialCollected, step)

	step = NextStep(step, TransitionFlags{})
	assert.Equal(t, datatypes.StepFollowupSent, step)

	step = NextStep(step, TransitionFlags{IsFollowupResponse: true})
	assert.Equal(t, datatypes.StepPreferencesActive, step)

	// Terminal step self-loops.
	step = NextStep(step, TransitionFlags{})
	assert.Equal(t, datatypes.StepPreferencesActive, step)
}

func TestNextStepDisambiguationBranch(t *testing.T) {
	step := NextStep(datatypes.StepInitialCollected, TransitionFlags{NeedsDisambiguation: true})
	assert.Equal(t, datatypes.StepDisambiguationPending, step)

	// Unparseable reply moves to clarifying.
	step = NextStep(step, TransitionFlags{DisambiguationFailed: true})
	assert.Equal(t, datatypes.StepDisambiguationClarifying, step)

	// From clarifying the only edge is resolved (selection or abandonment).
	step = NextStep(step, TransitionFlags{})
	assert.Equal(t, datatypes.StepDisambiguationResolved, step)

	step = NextStep(step, TransitionFlags{})
	assert.Equal(t, datatypes.StepFollowupSent, step)
}

func TestNextStepResolvesDirectlyOnValidReply(t *testing.T) {
	step := NextStep(datatypes.StepDisambiguationPending, TransitionFlags{})
	assert.Equal(t, datatypes.StepDisambiguationResolved, step)
}

func TestValidTransitionTable(t *testing.T) {
	valid := [][2]datatypes.ConversationStep{
		{datatypes.StepNotStarted, datatypes.StepInitialCollected},
		{datatypes.StepInitialCollected, datatypes.StepDisambiguationPending},
		{datatypes.StepInitialCollected, datatypes.StepFollowupSent},
		{datatypes.StepDisambiguationPending, datatypes.StepDisambiguationClarifying},
		{datatypes.StepDisambiguationPending, datatypes.StepDisambiguationResolved},
		{datatypes.StepDisambiguationClarifying, datatypes.StepDisambiguationResolved},
		{datatypes.StepDisambiguationResolved, datatypes.StepFollowupSent},
		{datatypes.StepFollowupSent, datatypes.StepPreferencesActive},
		{datatypes.StepPreferencesActive, datatypes.StepPreferencesActive},
	}
	for _, pair := range valid {
		assert.True(t, ValidTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	invalid := [][2]datatypes.ConversationStep{
		{datatypes.StepNotStarted, datatypes.StepPreferencesActive},
		{datatypes.StepFollowupSent, datatypes.StepDisambiguationPending},
		{datatypes.StepPreferencesActive, datatypes.StepNotStarted},
		{datatypes.StepDisambiguationClarifying, datatypes.StepDisambiguationClarifying},
		{datatypes.StepDisambiguationResolved, datatypes.StepPreferencesActive},
	}
	for _, pair := range invalid {
		assert.False(t, ValidTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestCheckTransitionRecoversToSafeStep(t *testing.T) {
	step, err := CheckTransition(datatypes.StepNotStarted, datatypes.StepPreferencesActive)
	require.Error(t, err)
	assert.True(t, IsStateTransitionError(err))
	assert.Equal(t, datatypes.StepFollowupSent, step)

	step, err = CheckTransition(datatypes.StepFollowupSent, datatypes.StepPreferencesActive)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StepPreferencesActive, step)
}

func TestNextStepUnknownStepRecovers(t *testing.T) {
	step := NextStep(datatypes.ConversationStep("bogus"), TransitionFlags{})
	assert.Equal(t, datatypes.StepFollowupSent, step)
}

func TestCanUpdatePreferences(t *testing.T) {
	assert.True(t, CanUpdatePreferences(datatypes.StepPreferencesActive))
	for _, step := range []datatypes.ConversationStep{
		datatypes.StepNotStarted, datatypes.StepInitialCollected,
		datatypes.StepDisambiguationPending, datatypes.StepDisambiguationClarifying,
		datatypes.StepDisambiguationResolved, datatypes.StepFollowupSent,
	} {
		assert.False(t, CanUpdatePreferences(step), string(step))
		assert.True(t, AwaitingCollection(step), string(step))
	}
	assert.False(t, AwaitingCollection(datatypes.StepPreferencesActive))
}
