// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// FlowType selects the conversation strategy governing a session.
type FlowType string

const (
	FlowLegacy       FlowType = "legacy"
	FlowLinear       FlowType = "linear"
	FlowStateMachine FlowType = "stateMachine"
)

// StepValidation is the input rule for one linear-flow question.
type StepValidation string

const (
	ValidateText   StepValidation = "text"
	ValidateNumber StepValidation = "number"
	ValidateChoice StepValidation = "choice"
)

// LinearFlowStep is one template-declared question in a linear flow.
type LinearFlowStep struct {
	ID             string         `json:"id" yaml:"id" validate:"required"`
	Question       string         `json:"question" yaml:"question" validate:"required"`
	FieldToCollect string         `json:"fieldToCollect" yaml:"fieldToCollect" validate:"required"`
	Validation     StepValidation `json:"validation" yaml:"validation" validate:"required,oneof=text number choice"`
	Options        []string       `json:"options,omitempty" yaml:"options" validate:"required_if=Validation choice"`
	Required       bool           `json:"required" yaml:"required"`
}

// LinearFlow is an ordered questionnaire. On exhausting the steps the
// collected answers are mapped into a PreferenceRecord.
type LinearFlow struct {
	Steps               []LinearFlowStep `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
	ConfirmationMessage string           `json:"confirmationMessage" yaml:"confirmationMessage" validate:"required"`
}

// StateHandler tags how a generic state interprets inbound text.
type StateHandler string

const (
	HandlerPreference     StateHandler = "preference"
	HandlerDisambiguation StateHandler = "disambiguation"
	HandlerCustom         StateHandler = "custom"
	HandlerDefault        StateHandler = "default"
)

// StateNode is one named state in a generic state-machine flow. NextStates
// maps condition strings to state IDs; "default" is the fallback key.
type StateNode struct {
	ID         string            `json:"id" yaml:"id" validate:"required"`
	Prompt     string            `json:"prompt" yaml:"prompt" validate:"required"`
	Handler    StateHandler      `json:"handler" yaml:"handler" validate:"required,oneof=preference disambiguation custom default"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata"`
	NextStates map[string]string `json:"nextStates" yaml:"nextStates"`
}

// StateMachineFlow is a session-declared conversation graph.
type StateMachineFlow struct {
	InitialState string                `json:"initialState" yaml:"initialState" validate:"required"`
	States       map[string]*StateNode `json:"states" yaml:"states" validate:"required,min=1,dive,required"`
	FinalStates  []string              `json:"finalStates" yaml:"finalStates" validate:"required,min=1"`
}

// FlowTemplate binds a named template to exactly one strategy configuration.
type FlowTemplate struct {
	Name         string            `json:"name" yaml:"name" validate:"required"`
	FlowType     FlowType          `json:"flowType" yaml:"flowType" validate:"required,oneof=legacy linear stateMachine"`
	Linear       *LinearFlow       `json:"linear,omitempty" yaml:"linear" validate:"required_if=FlowType linear"`
	StateMachine *StateMachineFlow `json:"stateMachine,omitempty" yaml:"stateMachine" validate:"required_if=FlowType stateMachine"`
}

// LinearFlowState is the persisted cursor for one client's linear flow.
type LinearFlowState struct {
	CurrentStepIndex int            `json:"currentStepIndex"`
	CollectedData    map[string]any `json:"collectedData"`
	StartedAt        time.Time      `json:"startedAt"`
}

// StateMachineContext is the persisted cursor for one client's generic flow.
type StateMachineContext struct {
	CurrentState  string         `json:"currentState"`
	CollectedData map[string]any `json:"collectedData"`
	StateHistory  []string       `json:"stateHistory"`
	StartedAt     time.Time      `json:"startedAt"`
}

// SessionFlowConfig binds a training session to the flow template that
// governs its conversations. Absent config means the legacy flow.
type SessionFlowConfig struct {
	SessionID    string   `json:"sessionId"`
	FlowType     FlowType `json:"flowType"`
	TemplateName string   `json:"templateName,omitempty"`
}
