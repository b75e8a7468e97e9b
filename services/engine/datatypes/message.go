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

// Channel identifies the transport a message arrived on.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in_app"
)

// InboundMessage is one client message entering the engine.
type InboundMessage struct {
	SessionID  string  `json:"sessionId" binding:"required"`
	UserID     string  `json:"userId" binding:"required"`
	BusinessID string  `json:"businessId" binding:"required"`
	Channel    Channel `json:"channel" binding:"required,oneof=sms in_app"`
	Text       string  `json:"text" binding:"required"`
}

// TurnReply is what the engine hands back for one processed turn. The reply
// text has already been durably recorded by the time callers see it; actual
// delivery happens asynchronously through the transport.
type TurnReply struct {
	Text     string           `json:"reply"`
	Step     ConversationStep `json:"step"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// MessageDirection distinguishes transcript rows.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// TranscriptEntry is one audited conversation message. The transcript is a
// best-effort log; losing an entry never fails a turn.
type TranscriptEntry struct {
	ID         string           `json:"id"`
	UserID     string           `json:"userId"`
	SessionID  string           `json:"sessionId"`
	BusinessID string           `json:"businessId"`
	Direction  MessageDirection `json:"direction"`
	Text       string           `json:"text"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}
