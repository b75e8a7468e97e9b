// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package broadcast pushes live preference projections to WebSocket
// observers, typically the trainer dashboard. Delivery is best effort: a
// slow or dead subscriber is dropped, never waited on.
package broadcast

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

const (
	writeTimeout = 5 * time.Second
	// subscriberBuffer bounds queued events per connection; overflow drops
	// the subscriber.
	subscriberBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// Event is one projection pushed to subscribers.
type Event struct {
	SessionID string                      `json:"sessionId"`
	Record    *datatypes.PreferenceRecord `json:"record"`
	SentAt    time.Time                   `json:"sentAt"`
}

type subscriber struct {
	events chan Event
	// sessionID filters events; empty subscribes to every session.
	sessionID string
}

// Hub fans preference updates out to connected observers. It implements
// conversation.Notifier.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[*subscriber]struct{}), logger: logger}
}

// PreferencesUpdated implements conversation.Notifier. Never blocks: a full
// subscriber queue drops the event for that subscriber.
func (h *Hub) PreferencesUpdated(sessionID string, record *datatypes.PreferenceRecord) {
	event := Event{SessionID: sessionID, Record: record, SentAt: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.sessionID != "" && sub.sessionID != sessionID {
			continue
		}
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("subscriber queue full, event dropped", "sessionId", sessionID)
		}
	}
}

// Subscribers returns the number of connected observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// Handler upgrades the request and streams preference events until the
// client goes away. An optional sessionId query parameter filters the
// stream to one session.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sub := &subscriber{
			events:    make(chan Event, subscriberBuffer),
			sessionID: c.Query("sessionId"),
		}
		h.add(sub)
		defer h.remove(sub)
		h.logger.Info("preference observer connected", "filter", sub.sessionID)

		// Reads only matter for detecting disconnect.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				h.logger.Info("preference observer disconnected")
				return
			case event := <-sub.events:
				if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					return
				}
				if err := ws.WriteJSON(event); err != nil {
					h.logger.Warn("observer write failed, dropping connection", "error", err)
					return
				}
			}
		}
	}
}
