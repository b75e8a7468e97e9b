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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// stubMatcher answers from a fixed phrase table; unlisted phrases are
// no-match results.
type stubMatcher struct {
	table map[string][]datatypes.ExerciseOption
	err   error
}

func (m *stubMatcher) Match(_ context.Context, _ string, phrase string, intent datatypes.ExerciseIntent) (datatypes.MatchResult, error) {
	if m.err != nil {
		return datatypes.MatchResult{}, m.err
	}
	return datatypes.MatchResult{
		Phrase:     phrase,
		Intent:     intent,
		Candidates: m.table[phrase],
	}, nil
}

// TestUpdateParserIntensityChange verifies an idiom like "push me" maps to a
// high intensity amendment.
func TestUpdateParserIntensityChange(t *testing.T) {
	p := NewUpdateParser(&stubMatcher{})
	result := p.Parse(context.Background(), "Push me today", &datatypes.PreferenceRecord{}, "b1")

	require.True(t, result.HasUpdates)
	assert.Equal(t, datatypes.IntensityHigh, result.Updates.Intensity)
	assert.Contains(t, result.FieldsUpdated, "intensity")
	assert.Equal(t, UpdateChange, result.UpdateType)
}

// TestUpdateParserAddExercise verifies "add X" resolves through the matcher
// into an include amendment.
func TestUpdateParserAddExercise(t *testing.T) {
	p := NewUpdateParser(&stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"lunges": {{ID: "e1", Name: "Walking Lunges"}},
	}})
	result := p.Parse(context.Background(), "add lunges please", &datatypes.PreferenceRecord{}, "b1")

	require.True(t, result.HasUpdates)
	assert.Equal(t, []string{"Walking Lunges"}, result.Updates.IncludeExercises)
	assert.Empty(t, result.AmbiguousMatches)
	assert.Equal(t, UpdateAdd, result.UpdateType)
}

// TestUpdateParserRemoveExercise verifies negative phrasing yields an avoid
// amendment, including the "don't want" form.
func TestUpdateParserRemoveExercise(t *testing.T) {
	p := NewUpdateParser(&stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"burpees": {{ID: "e2", Name: "Burpees"}},
	}})
	result := p.Parse(context.Background(), "I don't want to do burpees anymore", &datatypes.PreferenceRecord{}, "b1")

	require.True(t, result.HasUpdates)
	assert.Equal(t, []string{"Burpees"}, result.Updates.AvoidExercises)
	assert.Nil(t, result.Updates.IncludeExercises)
}

// TestUpdateParserAmbiguousExercise verifies a multi-candidate match is
// surfaced for disambiguation instead of being applied.
func TestUpdateParserAmbiguousExercise(t *testing.T) {
	p := NewUpdateParser(&stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"squats": {{ID: "e1", Name: "Back Squats"}, {ID: "e2", Name: "Front Squats"}},
	}})
	result := p.Parse(context.Background(), "add squats", &datatypes.PreferenceRecord{}, "b1")

	require.True(t, result.HasUpdates)
	require.Len(t, result.AmbiguousMatches, 1)
	assert.Equal(t, "squats", result.AmbiguousMatches[0].Phrase)
	assert.Equal(t, datatypes.IntentInclude, result.ExerciseIntent)
	assert.Nil(t, result.Updates.IncludeExercises)
}

// TestUpdateParserSkipsAlreadyPresent verifies an add that duplicates the
// current record produces no amendment.
func TestUpdateParserSkipsAlreadyPresent(t *testing.T) {
	p := NewUpdateParser(&stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"lunges": {{ID: "e1", Name: "Walking Lunges"}},
	}})
	current := &datatypes.PreferenceRecord{IncludeExercises: []string{"walking lunges"}}
	result := p.Parse(context.Background(), "add lunges", current, "b1")

	assert.False(t, result.HasUpdates)
	assert.Nil(t, result.Updates.IncludeExercises)
}

// TestUpdateParserMatcherFailureDegrades verifies a matcher outage drops the
// exercise change without failing the whole parse.
func TestUpdateParserMatcherFailureDegrades(t *testing.T) {
	p := NewUpdateParser(&stubMatcher{err: errors.New("matcher down")})
	result := p.Parse(context.Background(), "make it easy and add lunges", &datatypes.PreferenceRecord{}, "b1")

	require.True(t, result.HasUpdates)
	assert.Equal(t, datatypes.IntensityLow, result.Updates.Intensity)
	assert.Nil(t, result.Updates.IncludeExercises)
	assert.Empty(t, result.AmbiguousMatches)
}

// TestUpdateParserNothingDetected verifies small talk parses to no updates.
func TestUpdateParserNothingDetected(t *testing.T) {
	p := NewUpdateParser(&stubMatcher{})
	result := p.Parse(context.Background(), "see you tomorrow", &datatypes.PreferenceRecord{}, "b1")
	assert.False(t, result.HasUpdates)
}

// TestIsGeneralQuery verifies question-shaped messages are recognized so the
// engine can answer with the current-preferences reply.
func TestIsGeneralQuery(t *testing.T) {
	assert.True(t, IsGeneralQuery("What are my preferences?"))
	assert.False(t, IsGeneralQuery("add lunges"))
}
