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

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/handlers"
	"github.com/frontera-labs/frontera/services/coach/middleware"
)

// Guards holds what the route groups are protected with.
type Guards struct {
	Auth  extensions.AuthProvider
	Authz extensions.AuthzProvider

	// Limiter throttles tenant routes per organization. Nil disables it.
	Limiter *middleware.OrgLimiter

	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics http.Handler
}

// SetupRoutes registers every route on router.
//
// /health, /metrics, the share link and the onboarding form are public.
// Tenant routes need a session with an organization; admin routes need a
// session the authz provider accepts.
func SetupRoutes(router *gin.Engine, h *handlers.Handler, g Guards) {
	router.GET("/health", handlers.HealthCheck)
	if g.Metrics != nil {
		router.GET("/metrics", gin.WrapH(g.Metrics))
	}

	api := router.Group("/api")
	{
		api.GET("/share/:token", h.GetSharedArtefact)

		onboarding := api.Group("/onboarding")
		{
			onboarding.POST("", h.CreateOnboarding)
			onboarding.GET("/:id", h.GetOnboarding)
			onboarding.PATCH("/:id", h.UpdateOnboarding)
			onboarding.POST("/:id/submit", h.SubmitOnboarding)
		}

		admin := api.Group("/admin", middleware.Auth(g.Auth))
		{
			admin.GET("/onboarding", middleware.RequireAdmin(g.Authz, "onboarding:list"), h.ListOnboarding)
			admin.POST("/onboarding/:id/review", middleware.RequireAdmin(g.Authz, "onboarding:review"), h.ReviewOnboarding)
			admin.POST("/onboarding/:id/provision", middleware.RequireAdmin(g.Authz, "onboarding:provision"), h.ProvisionOnboarding)
		}

		tenant := api.Group("", middleware.Auth(g.Auth), middleware.RequireOrg(), middleware.RateLimit(g.Limiter))
		{
			conversations := tenant.Group("/conversations")
			{
				conversations.GET("", h.ListConversations)
				conversations.POST("", h.CreateConversation)
				conversations.GET("/:id", h.GetConversation)
				conversations.PATCH("/:id", h.UpdateConversation)
				conversations.POST("/:id/phase", h.ChangePhase)
				conversations.GET("/:id/messages", h.ListMessages)
				conversations.POST("/:id/messages", h.SendMessage)
				conversations.GET("/:id/territories", h.ListTerritories)
				conversations.GET("/:id/materials", h.ListMaterials)
				conversations.POST("/:id/synthesis", h.GenerateSynthesis)
				conversations.GET("/:id/synthesis", h.GetSynthesis)
				conversations.POST("/:id/bets", h.CreateBet)
				conversations.PUT("/:id/canvas/:section", h.UpdateCanvas)
				conversations.POST("/:id/strategy-document", h.CreateStrategyDocument)
				conversations.GET("/:id/strategy-document", h.GetStrategyDocument)
			}

			tenant.POST("/territories", h.SaveTerritory)
			tenant.POST("/territories/coach-suggestion", h.CoachSuggestion)
			tenant.POST("/upload", h.Upload)
			tenant.POST("/upload/url", h.UploadURL)
			tenant.POST("/activation", h.GenerateArtefact)
			tenant.GET("/activation", h.ListArtefacts)
		}
	}
}
