// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package templates

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

const linearYAML = `name: quick-checkin
flowType: linear
linear:
  steps:
    - id: q-intensity
      question: How hard should today be?
      fieldToCollect: intensity
      validation: choice
      options: [easy, moderate, hard]
      required: true
  confirmationMessage: All set!
`

const machineYAML = `name: injury-aware
flowType: stateMachine
stateMachine:
  initialState: welcome
  states:
    welcome:
      id: welcome
      prompt: Ready?
      handler: default
      nextStates:
        "yes": done
    done:
      id: done
      prompt: See you in the gym!
      handler: default
  finalStates: [done]
`

func writeTemplate(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoadFileLinear verifies a linear template parses with its steps and
// options intact.
func TestLoadFileLinear(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "checkin.yaml", linearYAML)

	tmpl, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "quick-checkin", tmpl.Name)
	assert.Equal(t, datatypes.FlowLinear, tmpl.FlowType)
	require.NotNil(t, tmpl.Linear)
	require.Len(t, tmpl.Linear.Steps, 1)
	assert.Equal(t, []string{"easy", "moderate", "hard"}, tmpl.Linear.Steps[0].Options)
	assert.True(t, tmpl.Linear.Steps[0].Required)
}

// TestLoadFileRejectsMissingPayload verifies a linear template without its
// linear section fails validation.
func TestLoadFileRejectsMissingPayload(t *testing.T) {
	path := writeTemplate(t, t.TempDir(), "broken.yaml", "name: broken\nflowType: linear\n")
	_, err := LoadFile(path)
	assert.Error(t, err)
}

// TestValidateStateMachineGraph verifies the graph checks: undeclared
// initial state, undeclared final state, dangling edge.
func TestValidateStateMachineGraph(t *testing.T) {
	base := func() *datatypes.FlowTemplate {
		return &datatypes.FlowTemplate{
			Name:     "g",
			FlowType: datatypes.FlowStateMachine,
			StateMachine: &datatypes.StateMachineFlow{
				InitialState: "a",
				States: map[string]*datatypes.StateNode{
					"a": {ID: "a", Prompt: "?", Handler: datatypes.HandlerDefault,
						NextStates: map[string]string{"yes": "b"}},
					"b": {ID: "b", Prompt: "!", Handler: datatypes.HandlerDefault},
				},
				FinalStates: []string{"b"},
			},
		}
	}

	require.NoError(t, Validate(base()))

	tmpl := base()
	tmpl.StateMachine.InitialState = "nope"
	assert.ErrorContains(t, Validate(tmpl), "initialState")

	tmpl = base()
	tmpl.StateMachine.FinalStates = []string{"nope"}
	assert.ErrorContains(t, Validate(tmpl), "final state")

	tmpl = base()
	tmpl.StateMachine.States["a"].NextStates["maybe"] = "nope"
	assert.ErrorContains(t, Validate(tmpl), "unknown state")
}

// TestLoadDirSkipsInvalid verifies a bad file is skipped while the rest of
// the directory loads.
func TestLoadDirSkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "checkin.yaml", linearYAML)
	writeTemplate(t, dir, "trainer.yml", machineYAML)
	writeTemplate(t, dir, "broken.yaml", "flowType: linear\n")
	writeTemplate(t, dir, "notes.txt", "not a template")

	registry := NewRegistry(nil)
	require.NoError(t, registry.LoadDir(dir))

	assert.ElementsMatch(t, []string{"quick-checkin", "injury-aware"}, registry.Names())
	assert.NotNil(t, registry.Template("quick-checkin"))
	assert.Nil(t, registry.Template("broken"))
}

// TestLoadDirMissingClears verifies a missing directory empties the
// registry instead of failing.
func TestLoadDirMissingClears(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "checkin.yaml", linearYAML)

	registry := NewRegistry(nil)
	require.NoError(t, registry.LoadDir(dir))
	require.Len(t, registry.Names(), 1)

	require.NoError(t, registry.LoadDir(filepath.Join(dir, "gone")))
	assert.Empty(t, registry.Names())
}

// TestWatchReloadsOnChange verifies a template written after Watch starts
// becomes visible once the debounce window passes.
func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry(nil)
	require.NoError(t, registry.LoadDir(dir))
	require.NoError(t, registry.Watch(dir))
	defer registry.Close()

	writeTemplate(t, dir, "checkin.yaml", linearYAML)

	require.Eventually(t, func() bool {
		return registry.Template("quick-checkin") != nil
	}, 3*time.Second, 50*time.Millisecond)
}
