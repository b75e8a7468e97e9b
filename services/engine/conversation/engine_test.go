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

// fakeParser returns canned parses keyed by message text. Unknown text
// parses to nothing.
type fakeParser struct {
	byText map[string]datatypes.ParsedPreferences
	err    error
}

func (p *fakeParser) Parse(_ context.Context, text string) (datatypes.ParsedPreferences, error) {
	if p.err != nil {
		return datatypes.ParsedPreferences{}, p.err
	}
	return p.byText[text], nil
}

// memPrefs is an in-memory PreferenceStore with injectable write failures.
type memPrefs struct {
	mu       sync.Mutex
	recs     map[string]*datatypes.PreferenceRecord
	failures int
}

func newMemPrefs() *memPrefs {
	return &memPrefs{recs: map[string]*datatypes.PreferenceRecord{}}
}

func (s *memPrefs) key(userID, sessionID string) string { return userID + "/" + sessionID }

func (s *memPrefs) Get(_ context.Context, userID, sessionID string) (*datatypes.PreferenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[s.key(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (s *memPrefs) Upsert(_ context.Context, rec *datatypes.PreferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("injected write failure")
	}
	clone := *rec
	s.recs[s.key(rec.UserID, rec.SessionID)] = &clone
	return nil
}

func (s *memPrefs) Delete(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, s.key(userID, sessionID))
	return nil
}

// memPending is an in-memory DisambiguationStore enforcing the at-most-one
// pending rule.
type memPending struct {
	mu sync.Mutex
	m  map[string]*datatypes.DisambiguationContext
}

func newMemPending() *memPending {
	return &memPending{m: map[string]*datatypes.DisambiguationContext{}}
}

func (s *memPending) key(userID, sessionID string) string { return userID + "/" + sessionID }

func (s *memPending) GetPending(_ context.Context, userID, sessionID string) (*datatypes.DisambiguationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, ok := s.m[s.key(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	clone := *pending
	return &clone, nil
}

func (s *memPending) Create(_ context.Context, pending *datatypes.DisambiguationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(pending.UserID, pending.SessionID)
	if _, exists := s.m[key]; exists {
		return errors.New("pending disambiguation already exists")
	}
	clone := *pending
	s.m[key] = &clone
	return nil
}

func (s *memPending) Update(_ context.Context, pending *datatypes.DisambiguationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *pending
	s.m[s.key(pending.UserID, pending.SessionID)] = &clone
	return nil
}

func (s *memPending) Delete(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, s.key(userID, sessionID))
	return nil
}

type testHarness struct {
	engine  *Engine
	prefs   *memPrefs
	pending *memPending
}

func newTestHarness(t *testing.T, parser *fakeParser, matcher ExerciseMatcher) *testHarness {
	t.Helper()
	prefs := newMemPrefs()
	pending := newMemPending()
	engine, err := NewEngine(Config{
		Parser:  parser,
		Matcher: matcher,
		Prefs:   prefs,
		Pending: pending,
	})
	require.NoError(t, err)
	return &testHarness{engine: engine, prefs: prefs, pending: pending}
}

func inbound(text string) datatypes.InboundMessage {
	return datatypes.InboundMessage{
		SessionID:  "s1",
		UserID:     "u1",
		BusinessID: "b1",
		Channel:    datatypes.ChannelSMS,
		Text:       text,
	}
}

// TestNewEngineRequiresCoreDeps verifies construction fails without the
// required collaborators.
func TestNewEngineRequiresCoreDeps(t *testing.T) {
	_, err := NewEngine(Config{})
	assert.Error(t, err)
}

// TestCollectionToActive walks the happy path: initial message, follow-up
// question, follow-up answer, preferences active.
func TestCollectionToActive(t *testing.T) {
	parser := &fakeParser{byText: map[string]datatypes.ParsedPreferences{
		"feeling strong, go hard today": {
			Intensity:     datatypes.IntensityHigh,
			MuscleTargets: []string{"legs"},
		},
		"focus on core too": {
			MuscleTargets: []string{"core"},
		},
	}}
	h := newTestHarness(t, parser, &stubMatcher{})
	ctx := context.Background()

	reply, err := h.engine.ProcessMessage(ctx, inbound("feeling strong, go hard today"))
	require.NoError(t, err)
	// Targets are covered, so the follow-up asks about the goal and joints.
	assert.Equal(t, "Thanks! What's your training focus today - strength or stability? Also, anything we should be careful with?", reply.Text)
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)

	reply, err = h.engine.ProcessMessage(ctx, inbound("focus on core too"))
	require.NoError(t, err)
	assert.Equal(t, CollectionComplete(true), reply.Text)
	assert.Equal(t, datatypes.StepPreferencesActive, reply.Step)

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, datatypes.IntensityHigh, rec.Intensity)
	assert.Equal(t, datatypes.SourceInherited, rec.IntensitySource)
	assert.Equal(t, []string{"legs", "core"}, rec.MuscleTargets)
	assert.Equal(t, "b1", rec.BusinessID)
}

// TestDisambiguationRoundTrip verifies an ambiguous include opens a numbered
// prompt and a valid selection resolves it into the record.
func TestDisambiguationRoundTrip(t *testing.T) {
	parser := &fakeParser{byText: map[string]datatypes.ParsedPreferences{
		"I want to do squats": {IncludeExercises: []string{"squats"}},
	}}
	matcher := &stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"squats": {{ID: "e1", Name: "Back Squats"}, {ID: "e2", Name: "Front Squats"}},
	}}
	h := newTestHarness(t, parser, matcher)
	ctx := context.Background()

	reply, err := h.engine.ProcessMessage(ctx, inbound("I want to do squats"))
	require.NoError(t, err)
	assert.Equal(t, datatypes.StepDisambiguationPending, reply.Step)
	assert.Contains(t, reply.Text, "1. Back Squats")
	assert.Contains(t, reply.Text, "2. Front Squats")

	pending, err := h.pending.GetPending(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, datatypes.DisambiguationInitial, pending.Type)

	reply, err = h.engine.ProcessMessage(ctx, inbound("2"))
	require.NoError(t, err)
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)
	assert.Contains(t, reply.Text, "Perfect! I'll make sure to include Front Squats in your workout.")
	assert.Contains(t, reply.Text, "What's your training focus today")

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Front Squats"}, rec.IncludeExercises)

	pending, err = h.pending.GetPending(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

// TestDisambiguationClarifyThenAbandon verifies one clarification re-prompt,
// then abandonment on the second invalid reply.
func TestDisambiguationClarifyThenAbandon(t *testing.T) {
	parser := &fakeParser{byText: map[string]datatypes.ParsedPreferences{
		"add squats": {IncludeExercises: []string{"squats"}},
	}}
	matcher := &stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"squats": {{ID: "e1", Name: "Back Squats"}, {ID: "e2", Name: "Front Squats"}},
	}}
	h := newTestHarness(t, parser, matcher)
	ctx := context.Background()

	_, err := h.engine.ProcessMessage(ctx, inbound("add squats"))
	require.NoError(t, err)

	reply, err := h.engine.ProcessMessage(ctx, inbound("the first one"))
	require.NoError(t, err)
	assert.Equal(t, datatypes.StepDisambiguationClarifying, reply.Step)
	assert.Contains(t, reply.Text, "just the numbers of your choices (1-2)")

	pending, err := h.pending.GetPending(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 1, pending.ClarificationAttempts)

	reply, err = h.engine.ProcessMessage(ctx, inbound("whichever looks fun"))
	require.NoError(t, err)
	assert.Equal(t, AbandonmentReply(), reply.Text)
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)

	pending, err = h.pending.GetPending(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

// TestDisambiguationOutOfRangeKeepsContext verifies an out-of-range pick is
// re-asked without consuming the clarification attempt.
func TestDisambiguationOutOfRangeKeepsContext(t *testing.T) {
	parser := &fakeParser{byText: map[string]datatypes.ParsedPreferences{
		"add squats": {IncludeExercises: []string{"squats"}},
	}}
	matcher := &stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"squats": {{ID: "e1", Name: "Back Squats"}, {ID: "e2", Name: "Front Squats"}},
	}}
	h := newTestHarness(t, parser, matcher)
	ctx := context.Background()

	_, err := h.engine.ProcessMessage(ctx, inbound("add squats"))
	require.NoError(t, err)

	reply, err := h.engine.ProcessMessage(ctx, inbound("9"))
	require.NoError(t, err)
	assert.Equal(t, "Invalid selection(s): 9. Please choose from 1-2.", reply.Text)
	assert.Equal(t, datatypes.StepDisambiguationPending, reply.Step)

	pending, err := h.pending.GetPending(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, 0, pending.ClarificationAttempts)

	// The retained context still resolves.
	reply, err = h.engine.ProcessMessage(ctx, inbound("1"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Back Squats")
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)
}

// TestLostDisambiguationContextRecovers verifies a record stuck in a
// disambiguation step with no surviving context recovers to followup_sent.
func TestLostDisambiguationContextRecovers(t *testing.T) {
	h := newTestHarness(t, &fakeParser{}, &stubMatcher{})
	ctx := context.Background()

	require.NoError(t, h.prefs.Upsert(ctx, &datatypes.PreferenceRecord{
		UserID: "u1", SessionID: "s1", BusinessID: "b1",
		Step: datatypes.StepDisambiguationPending,
	}))

	reply, err := h.engine.ProcessMessage(ctx, inbound("2"))
	require.NoError(t, err)
	assert.Equal(t, "No pending exercise selection found. "+FollowUpQuestion(), reply.Text)
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)
}

// TestAmbiguityInFollowupCompletesUnresolved verifies an ambiguous phrase in
// the follow-up answer does not open a disambiguation; collection completes.
func TestAmbiguityInFollowupCompletesUnresolved(t *testing.T) {
	parser := &fakeParser{byText: map[string]datatypes.ParsedPreferences{
		"maybe some squats": {IncludeExercises: []string{"squats"}},
	}}
	matcher := &stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"squats": {{ID: "e1", Name: "Back Squats"}, {ID: "e2", Name: "Front Squats"}},
	}}
	h := newTestHarness(t, parser, matcher)
	ctx := context.Background()

	require.NoError(t, h.prefs.Upsert(ctx, &datatypes.PreferenceRecord{
		UserID: "u1", SessionID: "s1", BusinessID: "b1",
		Step: datatypes.StepFollowupSent,
	}))

	reply, err := h.engine.ProcessMessage(ctx, inbound("maybe some squats"))
	require.NoError(t, err)
	assert.Equal(t, CollectionComplete(true), reply.Text)
	assert.Equal(t, datatypes.StepPreferencesActive, reply.Step)

	pending, err := h.pending.GetPending(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

// TestActiveUpdateAddsExercise verifies an amendment in the active state
// merges into the record and confirms the change.
func TestActiveUpdateAddsExercise(t *testing.T) {
	matcher := &stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"lunges": {{ID: "e1", Name: "Walking Lunges"}},
	}}
	h := newTestHarness(t, &fakeParser{}, matcher)
	ctx := context.Background()

	require.NoError(t, h.prefs.Upsert(ctx, &datatypes.PreferenceRecord{
		UserID: "u1", SessionID: "s1", BusinessID: "b1",
		Step: datatypes.StepPreferencesActive,
	}))

	reply, err := h.engine.ProcessMessage(ctx, inbound("add lunges"))
	require.NoError(t, err)
	assert.Equal(t, "Great, I'll add those to your workout. Anything else you'd like to change?", reply.Text)
	assert.Equal(t, datatypes.StepPreferencesActive, reply.Step)

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Walking Lunges"}, rec.IncludeExercises)
}

// TestActiveGeneralQuery verifies a question in the active state changes
// nothing and answers with the current-preferences reply.
func TestActiveGeneralQuery(t *testing.T) {
	h := newTestHarness(t, &fakeParser{}, &stubMatcher{})
	ctx := context.Background()

	require.NoError(t, h.prefs.Upsert(ctx, &datatypes.PreferenceRecord{
		UserID: "u1", SessionID: "s1", BusinessID: "b1",
		Intensity: datatypes.IntensityLow, IntensitySource: datatypes.SourceExplicit,
		Step: datatypes.StepPreferencesActive,
	}))

	reply, err := h.engine.ProcessMessage(ctx, inbound("what is my plan?"))
	require.NoError(t, err)
	assert.Equal(t, NoChangesReply(), reply.Text)

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntensityLow, rec.Intensity)
	assert.Equal(t, datatypes.SourceExplicit, rec.IntensitySource)
}

// TestParserOutageDegrades verifies a parser failure still advances the
// collection conversation instead of failing the turn. With nothing
// extracted the reply re-asks the open question.
func TestParserOutageDegrades(t *testing.T) {
	h := newTestHarness(t, &fakeParser{err: errors.New("parser down")}, &stubMatcher{})

	reply, err := h.engine.ProcessMessage(context.Background(), inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, InitialPrompt(), reply.Text)
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)
}

// TestUpsertRetriesThenFails verifies transient store failures are retried
// and a persistent outage fails the turn with a PersistenceError.
func TestUpsertRetriesThenFails(t *testing.T) {
	h := newTestHarness(t, &fakeParser{}, &stubMatcher{})
	ctx := context.Background()

	h.prefs.failures = 2
	reply, err := h.engine.ProcessMessage(ctx, inbound("hello"))
	require.NoError(t, err)
	assert.Equal(t, datatypes.StepFollowupSent, reply.Step)

	h.prefs.failures = 3
	_, err = h.engine.ProcessMessage(ctx, inbound("hello again"))
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
}

// TestAvoidAmbiguityFoldsAllCandidates verifies an ambiguous avoid phrase
// keeps every candidate out of the workout without a disambiguation.
func TestAvoidAmbiguityFoldsAllCandidates(t *testing.T) {
	parser := &fakeParser{byText: map[string]datatypes.ParsedPreferences{
		"no squats today": {AvoidExercises: []string{"squats"}},
	}}
	matcher := &stubMatcher{table: map[string][]datatypes.ExerciseOption{
		"squats": {{ID: "e1", Name: "Back Squats"}, {ID: "e2", Name: "Front Squats"}},
	}}
	h := newTestHarness(t, parser, matcher)
	ctx := context.Background()

	reply, err := h.engine.ProcessMessage(ctx, inbound("no squats today"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "What's your training focus today")

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Back Squats", "Front Squats"}, rec.AvoidExercises)

	pending, err := h.pending.GetPending(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

// TestConcurrentTurnsSerialized verifies racing turns for one session are
// serialized by the per-session lock: both commit, no write is lost.
func TestConcurrentTurnsSerialized(t *testing.T) {
	parser := &fakeParser{byText: map[string]datatypes.ParsedPreferences{
		"work my legs":  {MuscleTargets: []string{"legs"}},
		"work my chest": {MuscleTargets: []string{"chest"}},
	}}
	h := newTestHarness(t, parser, &stubMatcher{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, text := range []string{"work my legs", "work my chest"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.ProcessMessage(ctx, inbound(text))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := h.prefs.Get(ctx, "u1", "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.ElementsMatch(t, []string{"legs", "chest"}, rec.MuscleTargets)
}
