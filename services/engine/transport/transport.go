// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport delivers outbound replies to the messaging gateway.
// The engine treats delivery as fire-and-forget; everything here is about
// getting the text to the SMS/app gateway, not about conversation state.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// outboundMessage is the gateway wire format.
type outboundMessage struct {
	SessionID  string            `json:"sessionId"`
	UserID     string            `json:"userId"`
	BusinessID string            `json:"businessId"`
	Channel    datatypes.Channel `json:"channel"`
	Text       string            `json:"text"`
}

// Webhook posts replies to an HTTP gateway endpoint.
type Webhook struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhook builds a webhook transport for the given gateway URL.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Send implements conversation.Transport.
func (w *Webhook) Send(ctx context.Context, msg datatypes.InboundMessage, text string) error {
	payload, err := json.Marshal(outboundMessage{
		SessionID:  msg.SessionID,
		UserID:     msg.UserID,
		BusinessID: msg.BusinessID,
		Channel:    msg.Channel,
		Text:       text,
	})
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &conversation.ExternalServiceError{
			Service: "gateway", Err: fmt.Errorf("post to gateway: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &conversation.ExternalServiceError{
			Service: "gateway", Err: fmt.Errorf("gateway returned status %d", resp.StatusCode)}
	}
	w.logger.Debug("outbound message delivered",
		"sessionId", msg.SessionID, "channel", string(msg.Channel))
	return nil
}

// Log writes outbound messages to the log instead of a gateway. Default
// for local development when no gateway URL is configured.
type Log struct {
	logger *slog.Logger
}

// NewLog builds the logging transport.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Send implements conversation.Transport.
func (l *Log) Send(_ context.Context, msg datatypes.InboundMessage, text string) error {
	l.logger.Info("outbound message (no gateway configured)",
		"sessionId", msg.SessionID, "userId", msg.UserID,
		"channel", string(msg.Channel), "text", text)
	return nil
}
