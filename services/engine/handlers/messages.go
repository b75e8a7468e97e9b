// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers for the engine's HTTP surface.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// turnFailedReply is what the client sees when a turn cannot commit. No
// partial state exists in that case; resending the message is safe.
const turnFailedReply = "Sorry, something went wrong. Please try again."

// HandleInbound processes one inbound client message through the engine.
func HandleInbound(engine *conversation.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg datatypes.InboundMessage
		if err := c.ShouldBindJSON(&msg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := requireIDs(c, msg.SessionID, msg.UserID); err != nil {
			return
		}

		reply, err := engine.ProcessMessage(c.Request.Context(), msg)
		if err != nil {
			slog.Error("turn failed", "sessionId", msg.SessionID,
				"userId", msg.UserID, "error", err)

			var verr *conversation.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": turnFailedReply})
			return
		}
		c.JSON(http.StatusOK, reply)
	}
}
