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
	"strings"

	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// HeuristicParser implements conversation.PreferenceParser on the keyword
// lexicons alone, with no model call. It is the lightweight-mode fallback
// when no OpenAI key is configured; recall is lower than the LLM parser but
// the conversation still works.
type HeuristicParser struct{}

// NewHeuristicParser returns the lexicon-only parser.
func NewHeuristicParser() *HeuristicParser {
	return &HeuristicParser{}
}

// Parse implements conversation.PreferenceParser. It never fails.
func (*HeuristicParser) Parse(_ context.Context, text string) (datatypes.ParsedPreferences, error) {
	lower := strings.ToLower(text)

	out := datatypes.ParsedPreferences{
		Intensity:   conversation.DetectIntensity(lower),
		SessionGoal: conversation.DetectSessionGoal(lower),
		AvoidJoints: conversation.DetectJoints(lower),
	}
	out.MuscleTargets, out.MuscleLessens = conversation.DetectMuscles(lower)
	return out, nil
}
