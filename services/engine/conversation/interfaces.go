// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation implements the preference collection and
// disambiguation conversation engine: the step state machine, the
// preference merge rules, the disambiguation sub-protocol, the active-state
// update handler, and the flow router that picks a strategy per session.
//
// External collaborators (NL parser, exercise matcher, stores, transport)
// are consumed through the narrow interfaces in this file. The engine never
// reaches around them.
package conversation

import (
	"context"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// PreferenceParser turns free text into partial preference fields. Absent
// fields mean "not mentioned", never a forced default. Implementations must
// not fail on arbitrary text: a parse that extracts nothing returns the zero
// value and a nil error. Callers bound the call with the context deadline
// and degrade to "no fields parsed" on error.
type PreferenceParser interface {
	Parse(ctx context.Context, text string) (datatypes.ParsedPreferences, error)
}

// ExerciseMatcher resolves one free-text exercise phrase against the
// business's catalog. Zero candidates means no match; multiple candidates
// trigger disambiguation.
type ExerciseMatcher interface {
	Match(ctx context.Context, businessID, phrase string, intent datatypes.ExerciseIntent) (datatypes.MatchResult, error)
}

// PreferenceStore is the durable record per (user, session). Upsert must be
// atomic per key; the engine serializes turns per key on top of it.
type PreferenceStore interface {
	Get(ctx context.Context, userID, sessionID string) (*datatypes.PreferenceRecord, error)
	Upsert(ctx context.Context, record *datatypes.PreferenceRecord) error
	Delete(ctx context.Context, userID, sessionID string) error
}

// DisambiguationStore holds at most one pending context per (user, session).
type DisambiguationStore interface {
	GetPending(ctx context.Context, userID, sessionID string) (*datatypes.DisambiguationContext, error)
	Create(ctx context.Context, pending *datatypes.DisambiguationContext) error
	Update(ctx context.Context, pending *datatypes.DisambiguationContext) error
	Delete(ctx context.Context, userID, sessionID string) error
}

// FlowStateStore persists the cursor of a non-legacy flow.
type FlowStateStore interface {
	GetLinear(ctx context.Context, userID, sessionID string) (*datatypes.LinearFlowState, error)
	SaveLinear(ctx context.Context, userID, sessionID string, state *datatypes.LinearFlowState) error
	GetMachine(ctx context.Context, userID, sessionID string) (*datatypes.StateMachineContext, error)
	SaveMachine(ctx context.Context, userID, sessionID string, state *datatypes.StateMachineContext) error
	Delete(ctx context.Context, userID, sessionID string) error
}

// TranscriptLog records conversation messages for audit. Best effort: a
// failed write is logged and dropped, never surfaced to the turn.
type TranscriptLog interface {
	Record(ctx context.Context, entry *datatypes.TranscriptEntry) error
}

// FlowConfigSource resolves the flow template governing a session. A nil
// template (or any error) means the legacy flow.
type FlowConfigSource interface {
	FlowForSession(ctx context.Context, sessionID string) (*datatypes.FlowTemplate, error)
}

// Notifier pushes a best-effort preference projection to observers (e.g. a
// trainer dashboard). Implementations must not block; dropped notifications
// are acceptable and never affect correctness.
type Notifier interface {
	PreferencesUpdated(sessionID string, record *datatypes.PreferenceRecord)
}

// NoopNotifier is the default Notifier.
type NoopNotifier struct{}

// PreferencesUpdated implements Notifier.
func (NoopNotifier) PreferencesUpdated(string, *datatypes.PreferenceRecord) {}

// Transport delivers the outbound reply. Fire-and-forget from the engine's
// perspective: retries and delivery guarantees belong to the transport, and
// a send failure never rolls back committed preference state.
type Transport interface {
	Send(ctx context.Context, msg datatypes.InboundMessage, text string) error
}
