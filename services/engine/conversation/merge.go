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
	"strings"
	"time"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// Merge combines an existing preference record with the fields parsed from
// one turn and returns the new record. existing may be nil (first turn).
//
// Scalar fields follow the provenance rules: a value parsed this turn is
// explicit; a value carried forward from an explicit one becomes inherited;
// an unset value stays default. Set fields union case-insensitively. The
// avoid list always wins over the include list, so the two stay disjoint.
//
// Merge is idempotent: applying the same parsed fields twice produces the
// same record as applying them once.
func Merge(existing *datatypes.PreferenceRecord, parsed datatypes.ParsedPreferences, isFollowUp bool) *datatypes.PreferenceRecord {
	out := &datatypes.PreferenceRecord{
		IntensitySource:   datatypes.SourceDefault,
		SessionGoalSource: datatypes.SourceDefault,
		UpdatedAt:         time.Now().UTC(),
	}
	if existing != nil {
		clone := *existing
		out = &clone
		out.MuscleTargets = append([]string(nil), existing.MuscleTargets...)
		out.MuscleLessens = append([]string(nil), existing.MuscleLessens...)
		out.AvoidJoints = append([]string(nil), existing.AvoidJoints...)
		out.IncludeExercises = append([]string(nil), existing.IncludeExercises...)
		out.AvoidExercises = append([]string(nil), existing.AvoidExercises...)
		out.UpdatedAt = time.Now().UTC()
	}

	// Scalars with provenance.
	if parsed.Intensity != "" {
		out.Intensity = parsed.Intensity
		out.IntensitySource = datatypes.SourceExplicit
	} else if existing != nil {
		if existing.IntensitySource == datatypes.SourceExplicit {
			out.IntensitySource = datatypes.SourceInherited
		}
	} else {
		out.Intensity = ""
		out.IntensitySource = datatypes.SourceDefault
	}

	if parsed.SessionGoal != "" {
		out.SessionGoal = parsed.SessionGoal
		out.SessionGoalSource = datatypes.SourceExplicit
	} else if existing != nil {
		if existing.SessionGoalSource == datatypes.SourceExplicit {
			out.SessionGoalSource = datatypes.SourceInherited
		}
	} else {
		out.SessionGoal = ""
		out.SessionGoalSource = datatypes.SourceDefault
	}

	// Set fields: union, only touched when mentioned this turn.
	if len(parsed.MuscleTargets) > 0 {
		out.MuscleTargets = unionFold(out.MuscleTargets, parsed.MuscleTargets)
	}
	if len(parsed.MuscleLessens) > 0 {
		out.MuscleLessens = unionFold(out.MuscleLessens, parsed.MuscleLessens)
	}
	if len(parsed.AvoidJoints) > 0 {
		out.AvoidJoints = unionFold(out.AvoidJoints, parsed.AvoidJoints)
	}

	// Exercise lists. A non-nil empty slice is the explicit clear sentinel.
	if parsed.AvoidExercises != nil {
		if len(parsed.AvoidExercises) == 0 {
			out.AvoidExercises = nil
		} else {
			// Avoid wins: strip the avoided names from the include list first.
			out.IncludeExercises = subtractFold(out.IncludeExercises, parsed.AvoidExercises)
			out.AvoidExercises = unionFold(out.AvoidExercises, parsed.AvoidExercises)
		}
	}
	if parsed.IncludeExercises != nil {
		if len(parsed.IncludeExercises) == 0 {
			out.IncludeExercises = nil
		} else {
			added := unionFold(out.IncludeExercises, parsed.IncludeExercises)
			// Keep the invariant: anything already avoided stays avoided.
			out.IncludeExercises = subtractFold(added, out.AvoidExercises)
		}
	}

	return out
}

// unionFold appends items from add not already present in base, comparing
// case-insensitively and preserving first-seen casing.
func unionFold(base, add []string) []string {
	seen := make(map[string]struct{}, len(base))
	out := make([]string, 0, len(base)+len(add))
	for _, v := range base {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	for _, v := range add {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// subtractFold removes every item of drop from base, case-insensitively.
func subtractFold(base, drop []string) []string {
	if len(base) == 0 || len(drop) == 0 {
		return base
	}
	dropped := make(map[string]struct{}, len(drop))
	for _, v := range drop {
		dropped[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	out := base[:0]
	for _, v := range base {
		if _, ok := dropped[strings.ToLower(strings.TrimSpace(v))]; ok {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
