// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GymPulseAI/GymPulse/pkg/templates"
	"github.com/GymPulseAI/GymPulse/pkg/validation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
	enginebadger "github.com/GymPulseAI/GymPulse/services/engine/storage/badger"
)

// requireIDs answers 400 and returns the error when an ID is malformed.
// An empty userID is skipped so session-only endpoints can reuse it.
func requireIDs(c *gin.Context, sessionID, userID string) error {
	if err := validation.ValidateID("sessionId", sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return err
	}
	if userID != "" {
		if err := validation.ValidateID("userId", userID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return err
		}
	}
	return nil
}

// ListSessions returns one summary per known (user, session) pair.
func ListSessions(store *enginebadger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions, err := store.ListSessions(c.Request.Context())
		if err != nil {
			slog.Error("failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
	}
}

// GetPreferences returns the preference record for one (user, session) pair.
// userId comes from the query string.
func GetPreferences(store *enginebadger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
			return
		}
		if err := requireIDs(c, sessionID, userID); err != nil {
			return
		}

		rec, err := store.Get(c.Request.Context(), userID, sessionID)
		if err != nil {
			slog.Error("failed to load preferences", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load preferences"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no preferences for this session"})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// GetTranscript returns the session's conversation log, oldest first.
func GetTranscript(store *enginebadger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := requireIDs(c, sessionID, ""); err != nil {
			return
		}
		entries, err := store.Transcript(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("failed to load transcript", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transcript"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": entries, "count": len(entries)})
	}
}

// DeleteSession purges every stored key for a session: preferences, pending
// disambiguations, flow cursors, transcript, and flow binding.
func DeleteSession(store *enginebadger.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := requireIDs(c, sessionID, ""); err != nil {
			return
		}
		slog.Info("Received a request to delete a session", "sessionId", sessionID)

		deleted, err := store.PurgeSession(c.Request.Context(), sessionID)
		if err != nil {
			slog.Error("failed to purge session", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to purge session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": sessionID, "deleted": deleted})
	}
}

// bindFlowRequest binds a session to a flow template.
type bindFlowRequest struct {
	FlowType     datatypes.FlowType `json:"flowType" binding:"required,oneof=legacy linear stateMachine"`
	TemplateName string             `json:"templateName"`
}

// BindFlow sets the flow strategy for a session. Non-legacy strategies must
// name a loaded template.
func BindFlow(store *enginebadger.Store, registry *templates.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if err := requireIDs(c, sessionID, ""); err != nil {
			return
		}

		var req bindFlowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.FlowType != datatypes.FlowLegacy {
			if req.TemplateName == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "templateName is required for non-legacy flows"})
				return
			}
			tmpl := registry.Template(req.TemplateName)
			if tmpl == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown template " + req.TemplateName})
				return
			}
			if tmpl.FlowType != req.FlowType {
				c.JSON(http.StatusBadRequest, gin.H{"error": "template " + req.TemplateName +
					" declares flow type " + string(tmpl.FlowType)})
				return
			}
		}

		cfg := &datatypes.SessionFlowConfig{
			SessionID:    sessionID,
			FlowType:     req.FlowType,
			TemplateName: req.TemplateName,
		}
		if err := store.PutFlowBinding(c.Request.Context(), cfg); err != nil {
			slog.Error("failed to bind flow", "sessionId", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to bind flow"})
			return
		}
		c.JSON(http.StatusOK, cfg)
	}
}

// ListTemplates returns the names of the loaded flow templates.
func ListTemplates(registry *templates.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := registry.Names()
		c.JSON(http.StatusOK, gin.H{"templates": names, "count": len(names)})
	}
}
