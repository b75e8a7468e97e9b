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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// maxAnswerLength bounds free-text answers in template flows.
const maxAnswerLength = 200

// runLinear walks the client through the template's questions in order. The
// first inbound message starts the flow and is answered with the first
// question; it is never consumed as an answer itself.
func (e *Engine) runLinear(ctx context.Context, msg datatypes.InboundMessage, flow *datatypes.LinearFlow) (*datatypes.TurnReply, error) {
	state, err := e.flowState.GetLinear(ctx, msg.UserID, msg.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "get_linear_state", Err: err}
	}

	if state == nil {
		state = &datatypes.LinearFlowState{
			CollectedData: make(map[string]any),
			StartedAt:     time.Now().UTC(),
		}
		if err := e.flowState.SaveLinear(ctx, msg.UserID, msg.SessionID, state); err != nil {
			return nil, &PersistenceError{Op: "save_linear_state", Err: err}
		}
		return &datatypes.TurnReply{
			Text: flow.Steps[0].Question,
			Step: datatypes.StepInitialCollected,
		}, nil
	}

	if state.CurrentStepIndex >= len(flow.Steps) {
		// Template shrank under a live flow. Finish with what was collected.
		return e.completeLinear(ctx, msg, flow, state)
	}
	step := flow.Steps[state.CurrentStepIndex]

	answer, ok := validateAnswer(step, msg.Text)
	if !ok {
		if step.Required {
			return &datatypes.TurnReply{
				Text: answerHint(step) + "\n\n" + step.Question,
				Step: datatypes.StepInitialCollected,
			}, nil
		}
		// Optional question: an unusable answer skips it.
	} else {
		state.CollectedData[step.FieldToCollect] = answer
	}

	state.CurrentStepIndex++
	if state.CurrentStepIndex < len(flow.Steps) {
		if err := e.flowState.SaveLinear(ctx, msg.UserID, msg.SessionID, state); err != nil {
			return nil, &PersistenceError{Op: "save_linear_state", Err: err}
		}
		return &datatypes.TurnReply{
			Text: flow.Steps[state.CurrentStepIndex].Question,
			Step: datatypes.StepInitialCollected,
		}, nil
	}

	return e.completeLinear(ctx, msg, flow, state)
}

// completeLinear maps the collected answers into the preference record,
// activates it, and tears down the flow cursor.
func (e *Engine) completeLinear(ctx context.Context, msg datatypes.InboundMessage, flow *datatypes.LinearFlow, state *datatypes.LinearFlowState) (*datatypes.TurnReply, error) {
	rec := e.recordFromCollected(msg, state.CollectedData)
	if err := e.upsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := e.flowState.Delete(ctx, msg.UserID, msg.SessionID); err != nil {
		e.logger.Warn("flow state delete failed", "sessionId", msg.SessionID, "error", err)
	}
	e.notifier.PreferencesUpdated(msg.SessionID, rec)

	return &datatypes.TurnReply{
		Text: flow.ConfirmationMessage,
		Step: rec.Step,
	}, nil
}

// validateAnswer checks one reply against the step's validation rule and
// returns the canonical value to store.
func validateAnswer(step datatypes.LinearFlowStep, text string) (any, bool) {
	cleaned := strings.TrimSpace(text)

	switch step.Validation {
	case datatypes.ValidateNumber:
		n, err := strconv.Atoi(cleaned)
		if err != nil {
			return nil, false
		}
		return n, true

	case datatypes.ValidateChoice:
		if n, err := strconv.Atoi(cleaned); err == nil {
			if n < 1 || n > len(step.Options) {
				return nil, false
			}
			return step.Options[n-1], true
		}
		for _, opt := range step.Options {
			if strings.EqualFold(opt, cleaned) {
				return opt, true
			}
		}
		return nil, false

	default: // text
		if cleaned == "" || len(cleaned) > maxAnswerLength {
			return nil, false
		}
		return cleaned, true
	}
}

// answerHint names the expected reply shape for a rejected answer.
func answerHint(step datatypes.LinearFlowStep) string {
	switch step.Validation {
	case datatypes.ValidateNumber:
		return "Please reply with a number."
	case datatypes.ValidateChoice:
		numbered := make([]string, len(step.Options))
		for i, opt := range step.Options {
			numbered[i] = fmt.Sprintf("%d. %s", i+1, opt)
		}
		return "Please pick one of the options by number:\n" + strings.Join(numbered, "\n")
	default:
		return fmt.Sprintf("Please reply with a short answer (up to %d characters).", maxAnswerLength)
	}
}

// recordFromCollected maps template answers onto a fresh active preference
// record. Known field keys map directly; free text runs through the same
// lexicons the legacy flow uses; unknown keys are logged and dropped.
func (e *Engine) recordFromCollected(msg datatypes.InboundMessage, collected map[string]any) *datatypes.PreferenceRecord {
	parsed := datatypes.ParsedPreferences{}
	for field, value := range collected {
		text := strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
		switch field {
		case "intensity":
			// The lexicon gates on update-intent words a one-word answer
			// lacks; supply the gate.
			if v := DetectIntensity("make it " + text); v != "" {
				parsed.Intensity = v
			}
		case "sessionGoal":
			if g := DetectSessionGoal("i want to focus on " + text); g != "" {
				parsed.SessionGoal = g
			}
		case "muscleTargets":
			parsed.MuscleTargets = splitListAnswer(text)
		case "muscleLessens":
			parsed.MuscleLessens = splitListAnswer(text)
		case "avoidJoints":
			parsed.AvoidJoints = splitListAnswer(text)
		case "includeExercises":
			parsed.IncludeExercises = splitListAnswer(text)
		case "avoidExercises":
			parsed.AvoidExercises = splitListAnswer(text)
		default:
			e.logger.Warn("unknown template field dropped",
				"sessionId", msg.SessionID, "field", field)
		}
	}

	rec := Merge(nil, parsed, false)
	rec.UserID = msg.UserID
	rec.SessionID = msg.SessionID
	rec.BusinessID = msg.BusinessID
	rec.Step = datatypes.StepPreferencesActive
	return rec
}

// splitListAnswer breaks a comma or "and" separated answer into items.
func splitListAnswer(text string) []string {
	var items []string
	for _, part := range segmentSplit.Split(text, -1) {
		cleaned := strings.TrimSpace(part)
		if cleaned == "" || cleaned == "none" || cleaned == "nothing" || cleaned == "no" {
			continue
		}
		items = unionFold(items, []string{cleaned})
	}
	return items
}
