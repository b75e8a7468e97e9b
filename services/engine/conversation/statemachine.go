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
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// Condition strings the built-in handlers emit. Templates reference these
// as keys in a state's nextStates map; "default" is the fallback edge.
const (
	condDefault   = "default"
	condCollected = "collected"
	condEmpty     = "empty"
	condSelected  = "selected"
	condHighPain  = "high_pain"
	condLowPain   = "low_pain"
)

var yesWords = regexp.MustCompile(`^\s*(yes|yeah|yep|sure|ok|okay|y)\b`)
var noWords = regexp.MustCompile(`^\s*(no|nope|nah|n)\b`)
var skipWords = regexp.MustCompile(`^\s*(skip|pass|next)\b`)
var helpWords = regexp.MustCompile(`^\s*(help|\?)\s*$`)

var painScale = regexp.MustCompile(`\b([1-9]|10)\b`)

var movementWords = regexp.MustCompile(`\b(squat|hinge|push|pull|lunge)\b`)

// runStateMachine advances one turn through a template-declared graph. The
// first inbound message enters the initial state and is answered with its
// prompt; it is never consumed as input to a handler.
func (e *Engine) runStateMachine(ctx context.Context, msg datatypes.InboundMessage, flow *datatypes.StateMachineFlow) (*datatypes.TurnReply, error) {
	smctx, err := e.flowState.GetMachine(ctx, msg.UserID, msg.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "get_machine_state", Err: err}
	}

	if smctx == nil {
		smctx = &datatypes.StateMachineContext{
			CurrentState:  flow.InitialState,
			CollectedData: make(map[string]any),
			StateHistory:  []string{flow.InitialState},
			StartedAt:     time.Now().UTC(),
		}
		if err := e.flowState.SaveMachine(ctx, msg.UserID, msg.SessionID, smctx); err != nil {
			return nil, &PersistenceError{Op: "save_machine_state", Err: err}
		}
		initial := flow.States[flow.InitialState]
		if initial == nil {
			return nil, &ValidationError{Reason: "bad_template",
				Message: "flow template has no state for its initialState"}
		}
		return &datatypes.TurnReply{
			Text: initial.Prompt,
			Step: datatypes.StepInitialCollected,
		}, nil
	}

	node := flow.States[smctx.CurrentState]
	if node == nil {
		return nil, &ValidationError{Reason: "bad_template",
			Message: "flow template lost state " + smctx.CurrentState}
	}

	condition, ok := e.evalState(ctx, node, msg.Text, smctx.CollectedData)
	if !ok {
		// The handler could not read the reply at all. Re-prompt the same
		// state without moving.
		return &datatypes.TurnReply{Text: node.Prompt, Step: datatypes.StepInitialCollected}, nil
	}

	nextID, ok := node.NextStates[condition]
	if !ok {
		nextID, ok = node.NextStates[condDefault]
	}
	if !ok {
		// No edge for the condition and no default: stay and re-prompt.
		return &datatypes.TurnReply{Text: node.Prompt, Step: datatypes.StepInitialCollected}, nil
	}
	next := flow.States[nextID]
	if next == nil {
		return nil, &ValidationError{Reason: "bad_template",
			Message: "flow template edge points at unknown state " + nextID}
	}

	smctx.CurrentState = nextID
	smctx.StateHistory = append(smctx.StateHistory, nextID)

	for _, final := range flow.FinalStates {
		if nextID == final {
			return e.completeStateMachine(ctx, msg, next, smctx)
		}
	}

	if err := e.flowState.SaveMachine(ctx, msg.UserID, msg.SessionID, smctx); err != nil {
		return nil, &PersistenceError{Op: "save_machine_state", Err: err}
	}
	return &datatypes.TurnReply{Text: next.Prompt, Step: datatypes.StepInitialCollected}, nil
}

// completeStateMachine persists the collected data as the active preference
// record and tears down the graph cursor. The final state's prompt is the
// completion message.
func (e *Engine) completeStateMachine(ctx context.Context, msg datatypes.InboundMessage, final *datatypes.StateNode, smctx *datatypes.StateMachineContext) (*datatypes.TurnReply, error) {
	rec := e.recordFromCollected(msg, smctx.CollectedData)
	if err := e.upsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := e.flowState.Delete(ctx, msg.UserID, msg.SessionID); err != nil {
		e.logger.Warn("flow state delete failed", "sessionId", msg.SessionID, "error", err)
	}
	e.notifier.PreferencesUpdated(msg.SessionID, rec)

	return &datatypes.TurnReply{Text: final.Prompt, Step: rec.Step}, nil
}

// evalState runs the state's handler over the reply and returns the
// condition string for edge selection. ok=false means the reply was
// unreadable and the state should re-prompt.
func (e *Engine) evalState(ctx context.Context, node *datatypes.StateNode, text string, collected map[string]any) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch node.Handler {
	case datatypes.HandlerPreference:
		parsed := e.parsePreferences(ctx, text)
		if parsed.IsEmpty() {
			return condEmpty, true
		}
		stashParsed(collected, parsed)
		return condCollected, true

	case datatypes.HandlerDisambiguation:
		selections, _, ok := ClassifyReply(text)
		if !ok {
			return "", false
		}
		collected[node.ID+"_selection"] = selections
		return condSelected, true

	case datatypes.HandlerCustom:
		return evalCustomState(node, lower, collected)

	default:
		switch {
		case yesWords.MatchString(lower):
			return "yes", true
		case noWords.MatchString(lower):
			return "no", true
		case skipWords.MatchString(lower):
			return "skip", true
		case helpWords.MatchString(lower):
			return "help", true
		}
		return condDefault, true
	}
}

// evalCustomState dispatches on the node's metadata kind. Unknown kinds fall
// through to the default edge so a newer template degrades instead of
// wedging the conversation.
func evalCustomState(node *datatypes.StateNode, lower string, collected map[string]any) (string, bool) {
	switch node.Metadata["kind"] {
	case "injury_assessment":
		m := painScale.FindString(lower)
		if m == "" {
			return "", false
		}
		pain, _ := strconv.Atoi(m)
		collected[node.ID+"_pain"] = pain
		if pain > 5 {
			return condHighPain, true
		}
		return condLowPain, true

	case "movement_selection":
		movement := movementWords.FindString(lower)
		if movement == "" {
			return "", false
		}
		collected[node.ID+"_movement"] = movement
		return movement, true
	}
	return condDefault, true
}

// stashParsed folds one NL parse into the graph's collected data using the
// same field keys the linear mapper reads back.
func stashParsed(collected map[string]any, parsed datatypes.ParsedPreferences) {
	if parsed.Intensity != "" {
		collected["intensity"] = string(parsed.Intensity)
	}
	if parsed.SessionGoal != "" {
		collected["sessionGoal"] = string(parsed.SessionGoal)
	}
	appendListAnswer(collected, "muscleTargets", parsed.MuscleTargets)
	appendListAnswer(collected, "muscleLessens", parsed.MuscleLessens)
	appendListAnswer(collected, "avoidJoints", parsed.AvoidJoints)
	appendListAnswer(collected, "includeExercises", parsed.IncludeExercises)
	appendListAnswer(collected, "avoidExercises", parsed.AvoidExercises)
}

func appendListAnswer(collected map[string]any, field string, items []string) {
	if len(items) == 0 {
		return
	}
	if prev, ok := collected[field].(string); ok && prev != "" {
		items = unionFold(strings.Split(prev, ", "), items)
	}
	collected[field] = strings.Join(items, ", ")
}
