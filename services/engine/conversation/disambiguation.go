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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// maxClarificationAttempts bounds how many times the engine re-asks before
// abandoning a disambiguation. One clarification, then give up.
const maxClarificationAttempts = 1

// ReplyErrorClass classifies why a disambiguation reply was rejected.
type ReplyErrorClass string

const (
	// ReplyMixedContent: the reply contains conversational words (yes, no,
	// thanks, ...) instead of a bare selection.
	ReplyMixedContent ReplyErrorClass = "mixed_content"
	// ReplyNoNumbers: no digits anywhere in the reply.
	ReplyNoNumbers ReplyErrorClass = "no_numbers"
	// ReplyInvalidFormat: digits are present but mixed with other text.
	ReplyInvalidFormat ReplyErrorClass = "invalid_format"
)

// validSelection matches bare selections like "1", "1,3", "1 3 5",
// "1 and 2", "2 & 4".
var validSelection = regexp.MustCompile(`^[\d\s,]+(\s+(and|&)\s+[\d\s,]+)*$`)

var digitRun = regexp.MustCompile(`\d+`)

// conversationalWords flag replies that chat instead of selecting.
var conversationalWords = regexp.MustCompile(
	`\b(yes|yeah|yep|no|nope|nah|ok|okay|sure|thanks|thank|please|want|maybe|actually)\b`)

// ClassifyReply parses one inbound message as a disambiguation reply. On
// success it returns the extracted positive integers in reply order. On
// failure the second return value names the error class.
func ClassifyReply(text string) ([]int, ReplyErrorClass, bool) {
	cleaned := strings.ToLower(strings.TrimSpace(text))

	if validSelection.MatchString(cleaned) {
		var selections []int
		for _, raw := range digitRun.FindAllString(cleaned, -1) {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				continue
			}
			selections = append(selections, n)
		}
		if len(selections) > 0 {
			return selections, "", true
		}
		return nil, ReplyNoNumbers, false
	}

	if conversationalWords.MatchString(cleaned) {
		return nil, ReplyMixedContent, false
	}
	if !digitRun.MatchString(cleaned) {
		return nil, ReplyNoNumbers, false
	}
	return nil, ReplyInvalidFormat, false
}

// BuildDisambiguationContext collects every ambiguous match into one pending
// context. Candidate lists are concatenated in encounter order and numbered
// 1..N continuously across phrases; the numbering never restarts per phrase.
// Returns nil when no match is ambiguous.
func BuildDisambiguationContext(
	msg datatypes.InboundMessage,
	kind datatypes.DisambiguationType,
	intent datatypes.ExerciseIntent,
	matches []datatypes.MatchResult,
) *datatypes.DisambiguationContext {
	var phrases []string
	var options []datatypes.DisambiguationOption
	for _, m := range matches {
		if !m.Ambiguous() {
			continue
		}
		phrases = append(phrases, m.Phrase)
		for _, c := range m.Candidates {
			options = append(options, datatypes.DisambiguationOption{
				Number: len(options) + 1,
				Phrase: m.Phrase,
				ID:     c.ID,
				Name:   c.Name,
			})
		}
	}
	if len(phrases) == 0 {
		return nil
	}
	return &datatypes.DisambiguationContext{
		ID:              uuid.NewString(),
		UserID:          msg.UserID,
		SessionID:       msg.SessionID,
		BusinessID:      msg.BusinessID,
		Type:            kind,
		Intent:          intent,
		OriginalPhrases: phrases,
		Options:         options,
		CreatedAt:       time.Now().UTC(),
	}
}

// ComposeDisambiguationMessage renders the numbered option prompt from the
// pending context, grouping options per phrase with the persisted numbering.
func ComposeDisambiguationMessage(pending *datatypes.DisambiguationContext) string {
	var b strings.Builder
	b.WriteString("I found multiple exercises matching your request. Please select by number:\n\n")

	phrase := ""
	for _, opt := range pending.Options {
		if opt.Phrase != phrase {
			if phrase != "" {
				b.WriteString("\n")
			}
			phrase = opt.Phrase
			fmt.Fprintf(&b, "For %q:\n", phrase)
		}
		fmt.Fprintf(&b, "%d. %s\n", opt.Number, opt.Name)
	}
	b.WriteString("\n")

	b.WriteString("Reply with number(s) (e.g., '1' or '1,3')")
	return b.String()
}

// ClarificationMessage returns the error-specific re-prompt for the first
// failed reply. Wording differs per error class and references the valid
// option range.
func ClarificationMessage(class ReplyErrorClass, optionCount int) string {
	if optionCount == 1 {
		return "I just need the number '1' to confirm your choice."
	}
	switch class {
	case ReplyNoNumbers:
		return fmt.Sprintf("Please reply with just the numbers of your choices (1-%d). For example: \"2\" or \"1,3\"", optionCount)
	case ReplyInvalidFormat:
		return fmt.Sprintf("Almost there - numbers only please (1-%d). For example: \"1\" or \"1,3\"", optionCount)
	default: // mixed_content
		return fmt.Sprintf("I just need the numbers (1-%d). For example: \"1\" or \"1,3\"", optionCount)
	}
}

// ResolveSelections maps 1-based selections onto the context's option list.
// Any index outside [1, N] fails with a ValidationError naming the bad
// selections; the context must be retained unchanged in that case (an
// out-of-range reply does not consume a clarification attempt).
func ResolveSelections(pending *datatypes.DisambiguationContext, selections []int) ([]datatypes.ExerciseOption, error) {
	var outOfRange []string
	for _, n := range selections {
		if n < 1 || n > len(pending.Options) {
			outOfRange = append(outOfRange, strconv.Itoa(n))
		}
	}
	if len(outOfRange) > 0 {
		return nil, &ValidationError{
			Reason: "out_of_range",
			Message: fmt.Sprintf("Invalid selection(s): %s. Please choose from 1-%d.",
				strings.Join(outOfRange, ", "), len(pending.Options)),
		}
	}

	seen := make(map[int]struct{}, len(selections))
	var picked []datatypes.ExerciseOption
	for _, n := range selections {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		opt := pending.Options[n-1]
		picked = append(picked, datatypes.ExerciseOption{ID: opt.ID, Name: opt.Name})
	}
	return picked, nil
}

// ResolutionConfirmation is the reply sent after a successful selection.
func ResolutionConfirmation(picked []datatypes.ExerciseOption) string {
	names := make([]string, len(picked))
	for i, opt := range picked {
		names[i] = opt.Name
	}
	joined := strings.Join(names, ", ")
	if len(picked) == 1 {
		return fmt.Sprintf("Perfect! I'll make sure to include %s in your workout.", joined)
	}
	return fmt.Sprintf("Perfect! I'll make sure to include these exercises in your workout: %s", joined)
}

// AbandonmentReply closes a disambiguation after repeated invalid replies.
// The ambiguous phrase is noted without resolution and the conversation
// moves on to the follow-up question.
func AbandonmentReply() string {
	return "No problem - I'll note that for your workout. " + FollowUpQuestion()
}
