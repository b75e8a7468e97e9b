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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

const parserSystemPrompt = `You extract workout preferences from a gym client's message.
Respond with a single JSON object with these optional keys:
  intensity: "low" | "moderate" | "high"
  sessionGoal: "strength" | "stability"
  muscleTargets: array of muscle group names the client wants to work
  muscleLessens: array of muscle group names the client wants to go easy on
  avoidJoints: array of joints to protect (singular, e.g. "knee")
  includeExercises: array of exercise phrases the client asked for, verbatim
  avoidExercises: array of exercise phrases the client wants to skip, verbatim
Omit any key the client did not mention. Never guess or fill defaults.
If the message contains no preferences at all, respond with {}.`

// parsedPayload is the wire shape the model is instructed to emit. Kept
// separate from datatypes.ParsedPreferences so a schema drift in the prompt
// fails loudly here instead of leaking odd values into the merge.
type parsedPayload struct {
	Intensity        string   `json:"intensity,omitempty"`
	SessionGoal      string   `json:"sessionGoal,omitempty"`
	MuscleTargets    []string `json:"muscleTargets,omitempty"`
	MuscleLessens    []string `json:"muscleLessens,omitempty"`
	AvoidJoints      []string `json:"avoidJoints,omitempty"`
	IncludeExercises []string `json:"includeExercises,omitempty"`
	AvoidExercises   []string `json:"avoidExercises,omitempty"`
}

// OpenAIParser implements conversation.PreferenceParser on the OpenAI chat
// API in JSON mode. Callers own the timeout through ctx; the engine
// degrades to an empty parse on any error from here.
type OpenAIParser struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIParser builds a parser. model defaults to gpt-4o-mini.
func NewOpenAIParser(apiKey, model string, logger *slog.Logger) (*OpenAIParser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIParser{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger,
	}, nil
}

// Parse implements conversation.PreferenceParser.
func (p *OpenAIParser) Parse(ctx context.Context, text string) (datatypes.ParsedPreferences, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: parserSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return datatypes.ParsedPreferences{}, &conversation.ExternalServiceError{
			Service: "openai_parser", Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return datatypes.ParsedPreferences{}, &conversation.ExternalServiceError{
			Service: "openai_parser", Err: fmt.Errorf("no choices returned")}
	}

	var payload parsedPayload
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		p.logger.Warn("parser returned non-JSON content", "content", content)
		return datatypes.ParsedPreferences{}, &conversation.ExternalServiceError{
			Service: "openai_parser", Err: fmt.Errorf("decode response: %w", err)}
	}

	return sanitize(payload), nil
}

// sanitize maps the model payload onto the engine type, dropping any value
// outside the allowed vocabularies. The parser must never emit the non-nil
// empty slice clear sentinel; empty arrays collapse to nil here.
func sanitize(payload parsedPayload) datatypes.ParsedPreferences {
	out := datatypes.ParsedPreferences{}

	switch datatypes.Intensity(payload.Intensity) {
	case datatypes.IntensityLow, datatypes.IntensityModerate, datatypes.IntensityHigh:
		out.Intensity = datatypes.Intensity(payload.Intensity)
	}
	switch datatypes.SessionGoal(payload.SessionGoal) {
	case datatypes.GoalStrength, datatypes.GoalStability:
		out.SessionGoal = datatypes.SessionGoal(payload.SessionGoal)
	}

	out.MuscleTargets = cleanList(payload.MuscleTargets)
	out.MuscleLessens = cleanList(payload.MuscleLessens)
	out.AvoidJoints = cleanList(payload.AvoidJoints)
	out.IncludeExercises = cleanList(payload.IncludeExercises)
	out.AvoidExercises = cleanList(payload.AvoidExercises)
	return out
}

func cleanList(items []string) []string {
	var out []string
	for _, item := range items {
		if cleaned := strings.TrimSpace(item); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}
