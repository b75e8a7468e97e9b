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

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// route picks the strategy governing this session and runs the turn through
// it. Every failure to resolve a usable template falls back to the legacy
// flow; the legacy flow is always available.
func (e *Engine) route(ctx context.Context, msg datatypes.InboundMessage) (string, *datatypes.TurnReply, error) {
	tmpl := e.flowTemplate(ctx, msg.SessionID)

	switch {
	case tmpl != nil && tmpl.FlowType == datatypes.FlowLinear && tmpl.Linear != nil:
		reply, err := e.runLinear(ctx, msg, tmpl.Linear)
		return string(datatypes.FlowLinear), reply, err
	case tmpl != nil && tmpl.FlowType == datatypes.FlowStateMachine && tmpl.StateMachine != nil:
		reply, err := e.runStateMachine(ctx, msg, tmpl.StateMachine)
		return string(datatypes.FlowStateMachine), reply, err
	}

	reply, err := e.runLegacy(ctx, msg)
	return string(datatypes.FlowLegacy), reply, err
}

// flowTemplate resolves the session's template. nil means legacy: no source
// wired, no config for the session, lookup error, or a template whose
// strategy payload is missing. Non-legacy strategies additionally need a
// flow-state store.
func (e *Engine) flowTemplate(ctx context.Context, sessionID string) *datatypes.FlowTemplate {
	if e.flows == nil {
		return nil
	}
	tmpl, err := e.flows.FlowForSession(ctx, sessionID)
	if err != nil {
		e.logger.Warn("flow template lookup failed, using legacy flow",
			"sessionId", sessionID, "error", err)
		return nil
	}
	if tmpl == nil || tmpl.FlowType == datatypes.FlowLegacy {
		return nil
	}
	if e.flowState == nil {
		e.logger.Warn("flow template configured but no flow-state store wired, using legacy flow",
			"sessionId", sessionID, "template", tmpl.Name)
		return nil
	}
	return tmpl
}
