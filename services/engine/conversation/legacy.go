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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// matcherConcurrency caps parallel catalog lookups per turn.
const matcherConcurrency = 4

// runLegacy processes one turn of the default NL flow: free-form collection,
// the disambiguation sub-protocol, then incremental updates once active.
func (e *Engine) runLegacy(ctx context.Context, msg datatypes.InboundMessage) (*datatypes.TurnReply, error) {
	rec, err := e.prefs.Get(ctx, msg.UserID, msg.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}

	step := datatypes.StepNotStarted
	if rec != nil {
		step = rec.Step
	}

	// A pending disambiguation owns the turn no matter the step; update-type
	// contexts arrive while the step is already preferences_active.
	pending, err := e.pending.GetPending(ctx, msg.UserID, msg.SessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "get_pending", Err: err}
	}
	if pending != nil {
		return e.handleDisambiguationReply(ctx, msg, rec, pending)
	}

	switch {
	case step == datatypes.StepDisambiguationPending, step == datatypes.StepDisambiguationClarifying:
		// Step says a selection is owed but the context is gone (expired or
		// purged). Recover to the safe step and restart collection.
		return e.recoverLostDisambiguation(ctx, msg, rec)
	case CanUpdatePreferences(step):
		return e.runActiveUpdate(ctx, msg, rec)
	default:
		return e.runCollection(ctx, msg, rec, step)
	}
}

// runCollection handles the initial message and the follow-up answer: parse,
// match exercise phrases, merge, advance the step, persist.
func (e *Engine) runCollection(ctx context.Context, msg datatypes.InboundMessage, rec *datatypes.PreferenceRecord, step datatypes.ConversationStep) (*datatypes.TurnReply, error) {
	isFollowUp := step == datatypes.StepFollowupSent

	parsed := e.parsePreferences(ctx, msg.Text)

	// Quick projection: scalars reach observers before the slower matcher
	// work finishes. Never relied upon; the authoritative write happens at
	// the end of the turn.
	e.projectScalars(ctx, msg, rec, parsed, isFollowUp)

	includeMatches := e.matchPhrases(ctx, msg.BusinessID, parsed.IncludeExercises, datatypes.IntentInclude)
	avoidMatches := e.matchPhrases(ctx, msg.BusinessID, parsed.AvoidExercises, datatypes.IntentAvoid)

	parsed.IncludeExercises = resolvedNames(includeMatches, false)
	// Avoid phrases never open a disambiguation: keeping every candidate out
	// of the workout is the safe reading of an ambiguous avoid.
	parsed.AvoidExercises = resolvedNames(avoidMatches, true)

	pendingCtx := BuildDisambiguationContext(msg, datatypes.DisambiguationInitial, datatypes.IntentInclude, includeMatches)
	needsDisambiguation := pendingCtx != nil && !isFollowUp
	if pendingCtx != nil && isFollowUp {
		// The table has no edge from followup_sent into disambiguation. The
		// ambiguous phrases are noted unresolved and the conversation
		// completes.
		e.logger.Warn("ambiguous phrases in follow-up answer noted unresolved",
			"sessionId", msg.SessionID, "phrases", pendingCtx.OriginalPhrases)
	}

	merged := Merge(rec, parsed, isFollowUp)
	merged.UserID = msg.UserID
	merged.SessionID = msg.SessionID
	merged.BusinessID = msg.BusinessID

	flags := TransitionFlags{NeedsDisambiguation: needsDisambiguation, IsFollowupResponse: isFollowUp}
	next := e.advance(step, flags)
	if next == datatypes.StepInitialCollected {
		// initial_collected is transient inside a turn: the reply below is
		// either the option prompt or the follow-up question.
		next = e.advance(next, flags)
	}
	merged.Step = next

	if err := e.upsertRecord(ctx, merged); err != nil {
		return nil, err
	}

	if needsDisambiguation {
		if err := e.pending.Create(ctx, pendingCtx); err != nil {
			return nil, &PersistenceError{Op: "create_pending", Err: err}
		}
		e.metrics.DisambiguationsTotal.WithLabelValues("opened").Inc()
		e.notifier.PreferencesUpdated(msg.SessionID, merged)
		return &datatypes.TurnReply{
			Text: ComposeDisambiguationMessage(pendingCtx),
			Step: merged.Step,
		}, nil
	}

	e.notifier.PreferencesUpdated(msg.SessionID, merged)

	text := TargetedFollowUp(merged)
	switch {
	case merged.Step == datatypes.StepPreferencesActive:
		text = CollectionComplete(isFollowUp)
	case !isFollowUp && parsed.IsEmpty():
		// Nothing extracted from the opening message; re-ask the open
		// question instead of probing specific fields.
		text = InitialPrompt()
	}
	return &datatypes.TurnReply{Text: text, Step: merged.Step}, nil
}

// handleDisambiguationReply interprets the inbound message as a selection
// against the pending context.
func (e *Engine) handleDisambiguationReply(ctx context.Context, msg datatypes.InboundMessage, rec *datatypes.PreferenceRecord, pending *datatypes.DisambiguationContext) (*datatypes.TurnReply, error) {
	step := datatypes.StepNotStarted
	if rec != nil {
		step = rec.Step
	}

	selections, class, ok := ClassifyReply(msg.Text)
	if !ok {
		return e.handleInvalidSelection(ctx, msg, rec, pending, step, class)
	}

	picked, err := ResolveSelections(pending, selections)
	if err != nil {
		// Out of range: the context survives unchanged and no clarification
		// attempt is consumed. The client just picks again.
		var verr *ValidationError
		if errors.As(err, &verr) {
			return &datatypes.TurnReply{Text: verr.Message, Step: step}, nil
		}
		return nil, err
	}

	names := make([]string, len(picked))
	for i, opt := range picked {
		names[i] = opt.Name
	}
	parsed := datatypes.ParsedPreferences{}
	if pending.Intent == datatypes.IntentAvoid {
		parsed.AvoidExercises = names
	} else {
		parsed.IncludeExercises = names
	}

	merged := Merge(rec, parsed, false)
	merged.UserID = msg.UserID
	merged.SessionID = msg.SessionID
	merged.BusinessID = msg.BusinessID

	text := ResolutionConfirmation(picked)
	if pending.Type == datatypes.DisambiguationUpdate {
		merged.Step = e.advance(step, TransitionFlags{})
	} else {
		// pending|clarifying -> resolved -> followup_sent, all in this turn.
		resolved := e.advance(step, TransitionFlags{})
		merged.Step = e.advance(resolved, TransitionFlags{})
		text += "\n\n" + TargetedFollowUp(merged)
	}

	if err := e.upsertRecord(ctx, merged); err != nil {
		return nil, err
	}
	if err := e.pending.Delete(ctx, msg.UserID, msg.SessionID); err != nil {
		e.logger.Warn("pending disambiguation delete failed",
			"sessionId", msg.SessionID, "error", err)
	}
	e.metrics.DisambiguationsTotal.WithLabelValues("resolved").Inc()
	e.notifier.PreferencesUpdated(msg.SessionID, merged)

	return &datatypes.TurnReply{Text: text, Step: merged.Step}, nil
}

// handleInvalidSelection runs the bounded clarification protocol: one
// class-specific re-prompt, then abandonment.
func (e *Engine) handleInvalidSelection(ctx context.Context, msg datatypes.InboundMessage, rec *datatypes.PreferenceRecord, pending *datatypes.DisambiguationContext, step datatypes.ConversationStep, class ReplyErrorClass) (*datatypes.TurnReply, error) {
	if pending.ClarificationAttempts >= maxClarificationAttempts {
		return e.abandonDisambiguation(ctx, msg, rec, pending, step)
	}

	pending.ClarificationAttempts++
	if err := e.pending.Update(ctx, pending); err != nil {
		return nil, &PersistenceError{Op: "update_pending", Err: err}
	}

	next := step
	if pending.Type == datatypes.DisambiguationInitial {
		next = e.advance(step, TransitionFlags{DisambiguationFailed: true})
		if rec != nil && next != step {
			rec.Step = next
			if err := e.upsertRecord(ctx, rec); err != nil {
				return nil, err
			}
		}
	}

	e.metrics.DisambiguationsTotal.WithLabelValues("clarified").Inc()
	return &datatypes.TurnReply{
		Text: ClarificationMessage(class, len(pending.Options)),
		Step: next,
	}, nil
}

// abandonDisambiguation gives up after the clarification budget is spent.
// The ambiguous phrases stay unresolved and the conversation moves on.
func (e *Engine) abandonDisambiguation(ctx context.Context, msg datatypes.InboundMessage, rec *datatypes.PreferenceRecord, pending *datatypes.DisambiguationContext, step datatypes.ConversationStep) (*datatypes.TurnReply, error) {
	if err := e.pending.Delete(ctx, msg.UserID, msg.SessionID); err != nil {
		e.logger.Warn("pending disambiguation delete failed",
			"sessionId", msg.SessionID, "error", err)
	}
	e.metrics.DisambiguationsTotal.WithLabelValues("abandoned").Inc()

	if pending.Type == datatypes.DisambiguationUpdate {
		return &datatypes.TurnReply{
			Text: "No problem - your preferences are unchanged. Let me know if you'd like to adjust anything else.",
			Step: step,
		}, nil
	}

	next := step
	if rec != nil {
		// clarifying -> resolved -> followup_sent.
		resolved := e.advance(step, TransitionFlags{})
		next = e.advance(resolved, TransitionFlags{})
		rec.Step = next
		if err := e.upsertRecord(ctx, rec); err != nil {
			return nil, err
		}
	}
	return &datatypes.TurnReply{Text: AbandonmentReply(), Step: next}, nil
}

// recoverLostDisambiguation handles a record stuck in a disambiguation step
// with no surviving context.
func (e *Engine) recoverLostDisambiguation(ctx context.Context, msg datatypes.InboundMessage, rec *datatypes.PreferenceRecord) (*datatypes.TurnReply, error) {
	e.metrics.TransitionFaultsTotal.Inc()
	e.logger.Error("disambiguation step without pending context, recovering",
		"sessionId", msg.SessionID, "step", string(rec.Step))

	rec.Step = datatypes.StepFollowupSent
	if err := e.upsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	return &datatypes.TurnReply{
		Text: "No pending exercise selection found. " + FollowUpQuestion(),
		Step: rec.Step,
	}, nil
}

// runActiveUpdate applies incremental amendments once preferences are
// active. The step self-loops on preferences_active.
func (e *Engine) runActiveUpdate(ctx context.Context, msg datatypes.InboundMessage, rec *datatypes.PreferenceRecord) (*datatypes.TurnReply, error) {
	result := e.updates.Parse(ctx, msg.Text, rec, msg.BusinessID)

	if !result.HasUpdates {
		text := NothingParsedReply()
		if IsGeneralQuery(msg.Text) {
			text = NoChangesReply()
		}
		return &datatypes.TurnReply{Text: text, Step: rec.Step}, nil
	}

	merged := rec
	if !result.Updates.IsEmpty() {
		merged = Merge(rec, result.Updates, false)
		merged.Step = e.advance(rec.Step, TransitionFlags{})
		if err := e.upsertRecord(ctx, merged); err != nil {
			return nil, err
		}
		e.logger.Info("preferences amended",
			"sessionId", msg.SessionID, "type", string(result.UpdateType),
			"fields", result.FieldsUpdated)
		e.notifier.PreferencesUpdated(msg.SessionID, merged)
	}

	if len(result.AmbiguousMatches) > 0 {
		pendingCtx := BuildDisambiguationContext(msg, datatypes.DisambiguationUpdate, result.ExerciseIntent, result.AmbiguousMatches)
		if err := e.pending.Create(ctx, pendingCtx); err != nil {
			return nil, &PersistenceError{Op: "create_pending", Err: err}
		}
		e.metrics.DisambiguationsTotal.WithLabelValues("opened").Inc()
		return &datatypes.TurnReply{
			Text: ComposeDisambiguationMessage(pendingCtx),
			Step: merged.Step,
		}, nil
	}

	return &datatypes.TurnReply{
		Text: UpdateConfirmation(result.FieldsUpdated),
		Step: merged.Step,
	}, nil
}

// parsePreferences runs the NL parser under the configured timeout. Errors
// and timeouts degrade to an empty parse; the turn proceeds without fields.
func (e *Engine) parsePreferences(ctx context.Context, text string) datatypes.ParsedPreferences {
	pctx, cancel := context.WithTimeout(ctx, e.parseTimeout)
	defer cancel()

	start := time.Now()
	parsed, err := e.parser.Parse(pctx, text)
	e.metrics.ParseDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.ParserFailuresTotal.Inc()
		e.logger.Warn("preference parse degraded to empty", "error", err)
		return datatypes.ParsedPreferences{}
	}
	return parsed
}

// projectScalars pushes the fast scalar fields to the store and observers
// before the matcher round-trips finish. Single attempt, errors logged only.
func (e *Engine) projectScalars(ctx context.Context, msg datatypes.InboundMessage, rec *datatypes.PreferenceRecord, parsed datatypes.ParsedPreferences, isFollowUp bool) {
	if parsed.Intensity == "" && parsed.SessionGoal == "" {
		return
	}
	quick := Merge(rec, datatypes.ParsedPreferences{
		Intensity:   parsed.Intensity,
		SessionGoal: parsed.SessionGoal,
	}, isFollowUp)
	quick.UserID = msg.UserID
	quick.SessionID = msg.SessionID
	quick.BusinessID = msg.BusinessID

	if err := e.prefs.Upsert(ctx, quick); err != nil {
		e.logger.Warn("quick projection write dropped",
			"sessionId", msg.SessionID, "error", err)
		return
	}
	e.notifier.PreferencesUpdated(msg.SessionID, quick)
}

// matchPhrases resolves every phrase through the catalog matcher, in
// parallel with bounded concurrency. Result order follows phrase order.
// Matcher failures degrade to a no-match result for that phrase.
func (e *Engine) matchPhrases(ctx context.Context, businessID string, phrases []string, intent datatypes.ExerciseIntent) []datatypes.MatchResult {
	if len(phrases) == 0 {
		return nil
	}

	results := make([]datatypes.MatchResult, len(phrases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(matcherConcurrency)
	for i, phrase := range phrases {
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(gctx, e.matchTimeout)
			defer cancel()

			match, err := e.matcher.Match(mctx, businessID, phrase, intent)
			if err != nil {
				e.metrics.MatcherFailuresTotal.Inc()
				e.logger.Warn("exercise match degraded to no match",
					"phrase", phrase, "error", err)
				results[i] = datatypes.MatchResult{Phrase: phrase, Intent: intent}
				return nil
			}
			results[i] = match
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return results
}

// resolvedNames maps match results back onto the parsed exercise list:
// unique matches take the canonical catalog name, unmatched phrases stay as
// noted raw text, ambiguous phrases are withheld for disambiguation unless
// keepAmbiguous folds every candidate in.
func resolvedNames(matches []datatypes.MatchResult, keepAmbiguous bool) []string {
	if len(matches) == 0 {
		return nil
	}
	var names []string
	for _, m := range matches {
		switch {
		case m.Ambiguous():
			if keepAmbiguous {
				for _, opt := range m.Candidates {
					names = append(names, opt.Name)
				}
			}
		case len(m.Candidates) == 1:
			names = append(names, m.Candidates[0].Name)
		default:
			names = append(names, m.Phrase)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return names
}
