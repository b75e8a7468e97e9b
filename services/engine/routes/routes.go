// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GymPulseAI/GymPulse/pkg/templates"
	"github.com/GymPulseAI/GymPulse/services/engine/broadcast"
	"github.com/GymPulseAI/GymPulse/services/engine/conversation"
	"github.com/GymPulseAI/GymPulse/services/engine/handlers"
	"github.com/GymPulseAI/GymPulse/services/engine/middleware"
	enginebadger "github.com/GymPulseAI/GymPulse/services/engine/storage/badger"
)

// SetupRoutes registers the engine's HTTP surface.
//
//	POST   /v1/messages/inbound                 - process one client message
//	GET    /v1/sessions                         - list known sessions
//	GET    /v1/sessions/:sessionId/preferences  - current preference record
//	GET    /v1/sessions/:sessionId/transcript   - conversation log
//	PUT    /v1/sessions/:sessionId/flow         - bind a flow template
//	DELETE /v1/sessions/:sessionId              - purge all session data
//	GET    /v1/templates                        - loaded flow templates
//	GET    /v1/preferences/ws                   - live preference stream
//	GET    /health                              - liveness
//	GET    /metrics                             - Prometheus metrics
func SetupRoutes(router *gin.Engine, engine *conversation.Engine,
	store *enginebadger.Store, hub *broadcast.Hub,
	registry *templates.Registry, authToken string) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.BearerAuth(authToken))
	{
		v1.POST("/messages/inbound", handlers.HandleInbound(engine))
		v1.GET("/templates", handlers.ListTemplates(registry))
		v1.GET("/preferences/ws", hub.Handler())

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(store))
			sessions.GET("/:sessionId/preferences", handlers.GetPreferences(store))
			sessions.GET("/:sessionId/transcript", handlers.GetTranscript(store))
			sessions.PUT("/:sessionId/flow", handlers.BindFlow(store, registry))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(store))
		}
	}
}
