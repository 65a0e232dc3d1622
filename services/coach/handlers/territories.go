// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/observability"
	"github.com/frontera-labs/frontera/services/coach/prompts"
	"github.com/frontera-labs/frontera/services/coach/research"
	"github.com/frontera-labs/frontera/services/coach/storage"
	"github.com/frontera-labs/frontera/services/llm"
)

// ListTerritories handles GET /api/conversations/:id/territories.
func (h *Handler) ListTerritories(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)
	conv, err := h.loadConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	insights, err := h.store.ListTerritoryInsights(ctx, info.OrgID, conv.ID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"insights": insights})
}

// SaveTerritory handles POST /api/territories.
//
// # Description
//
// Replaces the whole record for (conversation_id, territory, research_area);
// answers are not merged per question. Without expected_version the write
// is last-write-wins. With it, 0 means "create only" and any other value
// must equal the stored version, otherwise the reply is 409 with
// current_version.
//
// A strategy_coach conversation also gets the territory's pillar
// activated, and the area marked complete when status is "mapped".
func (h *Handler) SaveTerritory(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.SaveTerritoryRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Territory insight")
		return
	}
	req.EnsureDefaults()

	territory := research.Territory(req.Territory)
	if research.GetResearchArea(territory, req.ResearchArea) == nil {
		respondError(c, badRequest("unknown research area %s/%s", req.Territory, req.ResearchArea), "Territory insight")
		return
	}
	for i := range req.Responses {
		if !research.ValidQuestionIndex(territory, req.ResearchArea, i) {
			respondError(c, badRequest("no question %d in %s/%s", i, req.Territory, req.ResearchArea), "Territory insight")
			return
		}
	}
	for i := range req.Confidence {
		if !research.ValidQuestionIndex(territory, req.ResearchArea, i) {
			respondError(c, badRequest("confidence for unknown question %d in %s/%s", i, req.Territory, req.ResearchArea), "Territory insight")
			return
		}
	}

	conv, err := h.loadConversation(ctx, info.OrgID, req.ConversationID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	insight := &datatypes.TerritoryInsight{
		ConversationID: conv.ID,
		ClerkOrgID:     info.OrgID,
		Territory:      req.Territory,
		ResearchArea:   req.ResearchArea,
		Responses:      req.Responses,
		Confidence:     req.Confidence,
		Status:         req.Status,
	}
	if err := h.store.UpsertTerritoryInsight(ctx, insight, req.ExpectedVersion); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			err = &conflictError{msg: "Territory insight was modified", version: insight.Version}
		}
		respondError(c, err, "Territory insight")
		return
	}

	answered := 0
	for _, r := range insight.Responses {
		if strings.TrimSpace(r) != "" {
			answered++
		}
	}
	h.track(ctx, info, extensions.EventTerritorySaved, map[string]any{
		"conversation_id": conv.ID,
		"territory":       insight.Territory,
		"research_area":   insight.ResearchArea,
		"answered":        answered,
		"status":          insight.Status,
	})

	if conv.AgentType == framework.AgentStrategyCoach && answered > 0 {
		now := h.now().UTC()
		actions := []framework.Action{framework.PillarActivated{Territory: territory, At: now}}
		if insight.Status == datatypes.InsightMapped {
			actions = append(actions, framework.AreaCompleted{
				Ref: research.AreaRef{Territory: territory, Area: insight.ResearchArea},
				At:  now,
			})
		}
		change, err := h.applyActions(ctx, conv, actions, nil, true)
		if err != nil {
			slog.Warn("Failed to update pillar progress",
				"conversation_id", conv.ID,
				"error", err,
			)
		} else {
			h.trackDiff(ctx, info, conv.ID, change.Old, change.New)
		}
	}

	c.JSON(http.StatusOK, insight)
}

// CoachSuggestion handles POST /api/territories/coach-suggestion.
//
// Returns {"suggestion": text} with coaching on one research question.
func (h *Handler) CoachSuggestion(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointSuggestion
	info := session(c)

	ctx, span := h.tracer.Start(c.Request.Context(), "CoachSuggestion")
	defer span.End()

	success := false
	defer func() {
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
	}()

	var req datatypes.CoachSuggestionRequest
	if err := bindJSON(c, &req, false); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		respondError(c, err, "Conversation")
		return
	}
	conv, err := h.loadConversation(ctx, info.OrgID, req.ConversationID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	client, err := h.loadClient(ctx, info.OrgID)
	if err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
		respondError(c, err, "Client")
		return
	}

	prompt, err := prompts.CoachSuggestionPrompt(client.CompanyName, research.Territory(req.Territory),
		req.ResearchArea, req.QuestionIndex, req.CurrentAnswer)
	if err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		respondError(c, badRequest("%s", err.Error()), "Conversation")
		return
	}
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID),
		attribute.String("research.area", req.Territory+"/"+req.ResearchArea),
	)

	maxTokens := 512
	text, err := h.llm.Generate(ctx, prompt, llm.GenerationParams{MaxTokens: &maxTokens})
	if err != nil {
		span.RecordError(err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeLLMError)
		respondError(c, err, "Conversation")
		return
	}
	h.metrics.RecordTokens(llm.EstimateTokenCount(prompt), llm.EstimateTokenCount(text), "coach_suggestion")

	success = true
	c.JSON(http.StatusOK, gin.H{"suggestion": strings.TrimSpace(text)})
}
