// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
	"github.com/AleutianAI/truthwindow/services/orchestrator/handlers"
	"github.com/AleutianAI/truthwindow/services/orchestrator/middleware"
	"github.com/AleutianAI/truthwindow/services/orchestrator/services"
)

// Dependencies are the collaborators the routes are closed over.
type Dependencies struct {
	Chats        *services.ChatService
	Conversation *services.ConversationService

	// Gate guards every route except the exempt probes. Required.
	Gate *middleware.AccessGate

	// RateLimiter may be nil to disable limiting.
	RateLimiter *middleware.RateLimiter

	// Probes back GET /ready.
	Probes []handlers.Probe

	// Metrics serves GET /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler

	Options extensions.ServiceOptions
}

// SetupRoutes registers the HTTP surface on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	opts := deps.Options.WithDefaults()
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}

	router.Use(deps.Gate.Middleware())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(deps.Probes...))
	router.GET("/metrics", gin.WrapH(deps.Metrics))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(deps.RateLimiter.Middleware())
	{
		chats := v1.Group("/chats")
		{
			chats.POST("", handlers.CreateChat(deps.Chats))
			chats.GET("", handlers.ListChats(deps.Chats))
			chats.GET("/:id", handlers.GetChat(deps.Chats))
			chats.DELETE("/:id", handlers.DeleteChat(deps.Chats, opts.AuditLogger))
			chats.POST("/:id/messages", handlers.PostMessage(deps.Conversation))
		}
		// Store administration routes
		admin := v1.Group("/admin", middleware.RequireRole(middleware.RoleAPI))
		{
			admin.GET("/stats", handlers.GetStats(deps.Chats))
			admin.GET("/search", handlers.SearchMessages(deps.Chats))
		}
	}
}
