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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// memFlowState is an in-memory FlowStateStore.
type memFlowState struct {
	mu      sync.Mutex
	linear  map[string]*datatypes.LinearFlowState
	machine map[string]*datatypes.StateMachineContext
}

func newMemFlowState() *memFlowState {
	return &memFlowState{
		linear:  map[string]*datatypes.LinearFlowState{},
		machine: map[string]*datatypes.StateMachineContext{},
	}
}

func (s *memFlowState) key(userID, sessionID string) string { return userID + "/" + sessionID }

func (s *memFlowState) GetLinear(_ context.Context, userID, sessionID string) (*datatypes.LinearFlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.linear[s.key(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

func (s *memFlowState) SaveLinear(_ context.Context, userID, sessionID string, state *datatypes.LinearFlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.linear[s.key(userID, sessionID)] = &clone
	return nil
}

func (s *memFlowState) GetMachine(_ context.Context, userID, sessionID string) (*datatypes.StateMachineContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.machine[s.key(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	clone := *state
	return &clone, nil
}

func (s *memFlowState) SaveMachine(_ context.Context, userID, sessionID string, state *datatypes.StateMachineContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.machine[s.key(userID, sessionID)] = &clone
	return nil
}

func (s *memFlowState) Delete(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.linear, s.key(userID, sessionID))
	delete(s.machine, s.key(userID, sessionID))
	return nil
}

// fakeFlows serves one template for every session.
type fakeFlows struct {
	tmpl *datatypes.FlowTemplate
	err  error
}

func (f *fakeFlows) FlowForSession(context.Context, string) (*datatypes.FlowTemplate, error) {
	return f.tmpl, f.err
}

func newFlowHarness(t *testing.T, tmpl *datatypes.FlowTemplate) *testHarness {
	t.Helper()
	prefs := newMemPrefs()
	pending := newMemPending()
	engine, err := NewEngine(Config{
		Parser:    &fakeParser{},
		Matcher:   &stubMatcher{},
		Prefs:     prefs,
		Pending:   pending,
		FlowState: newMemFlowState(),
		Flows:     &fakeFlows{tmpl: tmpl},
	})
	require.NoError(t, err)
	return &testHarness{engine: engine, prefs: prefs, pending: pending}
}

func checkinTemplate() *datatypes.FlowTemplate {
	return &datatypes.FlowTemplate{
		Name:     "quick-checkin",
		FlowType: datatypes.FlowLinear,
		Linear: &datatypes.LinearFlow{
			Steps: []datatypes.LinearFlowStep{
				{
					ID: "q-intensity", Question: "How hard should today be?",
					FieldToCollect: "intensity", Validation: datatypes.ValidateChoice,
					Options: []string{"easy", "moderate", "hard"}, Required: true,
				},
				{
					ID: "q-targets", Question: "Which areas do you want to work?",
					FieldToCollect: "muscleTargets", Validation: datatypes.ValidateText,
					Required: true,
				},
				{
					ID: "q-joints", Question: "Any joints to protect?",
					FieldToCollect: "avoidJoints", Validation: datatypes.ValidateText,
				},
			},
			ConfirmationMessage: "All set, your workout is being built!",
		},
	}
}

// TestLinearFlowWalk verifies the questionnaire: first message starts the
// flow, answers are validated and collected, completion activates the
// record.
func TestLinearFlowWalk(t *testing.T) {
	h := newFlowHarness(t, checkinTemplate())
	ctx := context.Background()

	reply, err := h.engine.ProcessMessage(ctx, inbound("hi"))
	require.NoError(t, err)
	assert.Equal(t, "How hard should today be?", reply.Text)
	assert.Equal(t, datatypes.StepInitialCollected, reply.Step)

	reply, err = h.engine.ProcessMessage(ctx, inbound("3"))
	require.NoError(t, err)
	assert.Equal(t, "Which areas do you want to work?", reply.Text)

	reply, err = h.engine.ProcessMessage(ctx, inbound("legs and core"))
	require.NoError(t, err)
	assert.Equal(t, "Any joints to protect?", reply.Text)

	reply, err = h.engine.ProcessMessage(ctx, inbound("none"))
	require.NoError(t, err)
	assert.Equal(t, "All set, your workout is being built!", reply.Text)
	assert.Equal(t, datatypes.StepPreferencesActive, reply.Step)

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, datatypes.IntensityHigh, rec.Intensity)
	assert.Equal(t, []string{"legs", "core"}, rec.MuscleTargets)
	assert.Empty(t, rec.AvoidJoints)
}

// TestLinearFlowRejectsInvalidRequiredAnswer verifies a required choice
// question re-asks with a hint and does not advance.
func TestLinearFlowRejectsInvalidRequiredAnswer(t *testing.T) {
	h := newFlowHarness(t, checkinTemplate())
	ctx := context.Background()

	_, err := h.engine.ProcessMessage(ctx, inbound("hi"))
	require.NoError(t, err)

	reply, err := h.engine.ProcessMessage(ctx, inbound("super duper hard"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Please pick one of the options by number:")
	assert.Contains(t, reply.Text, "3. hard")
	assert.Contains(t, reply.Text, "How hard should today be?")

	// The option text itself is accepted case-insensitively.
	reply, err = h.engine.ProcessMessage(ctx, inbound("Hard"))
	require.NoError(t, err)
	assert.Equal(t, "Which areas do you want to work?", reply.Text)
}

func trainerTemplate() *datatypes.FlowTemplate {
	return &datatypes.FlowTemplate{
		Name:     "injury-aware",
		FlowType: datatypes.FlowStateMachine,
		StateMachine: &datatypes.StateMachineFlow{
			InitialState: "welcome",
			States: map[string]*datatypes.StateNode{
				"welcome": {
					ID: "welcome", Prompt: "Ready to plan your session?",
					Handler:    datatypes.HandlerDefault,
					NextStates: map[string]string{"yes": "injury_check"},
				},
				"injury_check": {
					ID: "injury_check", Prompt: "Any pain today? Rate it 1-10.",
					Handler:  datatypes.HandlerCustom,
					Metadata: map[string]string{"kind": "injury_assessment"},
					NextStates: map[string]string{
						"high_pain": "cooldown",
						"low_pain":  "movement",
					},
				},
				"movement": {
					ID: "movement", Prompt: "Pick a focus: squat, hinge, push, pull or lunge.",
					Handler:  datatypes.HandlerCustom,
					Metadata: map[string]string{"kind": "movement_selection"},
					NextStates: map[string]string{
						"squat":   "done",
						"default": "done",
					},
				},
				"done":     {ID: "done", Prompt: "All set, see you in the gym!", Handler: datatypes.HandlerDefault},
				"cooldown": {ID: "cooldown", Prompt: "Let's keep it light and easy today.", Handler: datatypes.HandlerDefault},
			},
			FinalStates: []string{"done", "cooldown"},
		},
	}
}

// TestStateMachineFlowWalk verifies graph traversal: entry prompt, re-prompt
// when no edge matches, custom handlers, completion at a final state.
func TestStateMachineFlowWalk(t *testing.T) {
	h := newFlowHarness(t, trainerTemplate())
	ctx := context.Background()

	reply, err := h.engine.ProcessMessage(ctx, inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, "Ready to plan your session?", reply.Text)

	// "no" has no edge from welcome and no default: stay and re-ask.
	reply, err = h.engine.ProcessMessage(ctx, inbound("no"))
	require.NoError(t, err)
	assert.Equal(t, "Ready to plan your session?", reply.Text)

	reply, err = h.engine.ProcessMessage(ctx, inbound("yes"))
	require.NoError(t, err)
	assert.Equal(t, "Any pain today? Rate it 1-10.", reply.Text)

	reply, err = h.engine.ProcessMessage(ctx, inbound("maybe a 2"))
	require.NoError(t, err)
	assert.Equal(t, "Pick a focus: squat, hinge, push, pull or lunge.", reply.Text)

	reply, err = h.engine.ProcessMessage(ctx, inbound("squat day"))
	require.NoError(t, err)
	assert.Equal(t, "All set, see you in the gym!", reply.Text)
	assert.Equal(t, datatypes.StepPreferencesActive, reply.Step)

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, datatypes.StepPreferencesActive, rec.Step)
}

// TestStateMachineHighPainShortCircuits verifies a pain rating above five
// routes straight to the cooldown final state.
func TestStateMachineHighPainShortCircuits(t *testing.T) {
	h := newFlowHarness(t, trainerTemplate())
	ctx := context.Background()

	_, err := h.engine.ProcessMessage(ctx, inbound("hello"))
	require.NoError(t, err)
	_, err = h.engine.ProcessMessage(ctx, inbound("yes"))
	require.NoError(t, err)

	reply, err := h.engine.ProcessMessage(ctx, inbound("my knee is an 8"))
	require.NoError(t, err)
	assert.Equal(t, "Let's keep it light and easy today.", reply.Text)
	assert.Equal(t, datatypes.StepPreferencesActive, reply.Step)
}

// TestStateMachineUnreadablePainReprompts verifies a reply without a pain
// rating re-asks the same question.
func TestStateMachineUnreadablePainReprompts(t *testing.T) {
	h := newFlowHarness(t, trainerTemplate())
	ctx := context.Background()

	_, err := h.engine.ProcessMessage(ctx, inbound("hello"))
	require.NoError(t, err)
	_, err = h.engine.ProcessMessage(ctx, inbound("yes"))
	require.NoError(t, err)

	reply, err := h.engine.ProcessMessage(ctx, inbound("not really sure"))
	require.NoError(t, err)
	assert.Equal(t, "Any pain today? Rate it 1-10.", reply.Text)
}

// TestRouterFallsBackToLegacy verifies template lookup failures and legacy
// bindings both land in the legacy flow.
func TestRouterFallsBackToLegacy(t *testing.T) {
	prefs := newMemPrefs()
	engine, err := NewEngine(Config{
		Parser:    &fakeParser{},
		Matcher:   &stubMatcher{},
		Prefs:     prefs,
		Pending:   newMemPending(),
		FlowState: newMemFlowState(),
		Flows:     &fakeFlows{err: errors.New("config store down")},
	})
	require.NoError(t, err)

	reply, err := engine.ProcessMessage(context.Background(), inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, InitialPrompt(), reply.Text)
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)
}
