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
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/storage"
)

// ListConversations handles GET /api/conversations.
//
// An optional ?status= narrows the list to active, archived or completed.
func (h *Handler) ListConversations(c *gin.Context) {
	info := session(c)
	status := c.Query("status")
	switch status {
	case "", datatypes.ConversationActive, datatypes.ConversationArchived, datatypes.ConversationCompleted:
	default:
		respondError(c, badRequest("status must be one of: active archived completed"), "conversation")
		return
	}

	convs, err := h.store.ListConversations(c.Request.Context(), info.OrgID, status)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// CreateConversation handles POST /api/conversations.
//
// # Description
//
// The body is optional. The title defaults to "New Strategy Session" and the
// agent type to strategy_coach. A strategy_coach conversation starts in the
// discovery phase with a version 1 framework state; every other agent type
// starts with {}.
func (h *Handler) CreateConversation(c *gin.Context) {
	info := session(c)

	var req datatypes.CreateConversationRequest
	if err := bindJSON(c, &req, true); err != nil {
		respondError(c, err, "conversation")
		return
	}
	req.EnsureDefaults()

	state := framework.Initial(req.AgentType)
	data, err := framework.Marshal(state)
	if err != nil {
		respondError(c, err, "conversation")
		return
	}

	conv := &datatypes.Conversation{
		ClerkOrgID:     info.OrgID,
		UserID:         info.UserID,
		Title:          req.Title,
		AgentType:      req.AgentType,
		Status:         datatypes.ConversationActive,
		CurrentPhase:   string(state.CurrentPhase()),
		FrameworkState: data,
	}
	if err := h.store.CreateConversation(c.Request.Context(), conv); err != nil {
		respondError(c, err, "conversation")
		return
	}

	h.track(c.Request.Context(), info, extensions.EventConversationCreate, map[string]any{
		"conversation_id": conv.ID,
		"agent_type":      conv.AgentType,
	})
	c.JSON(http.StatusCreated, conv)
}

// GetConversation handles GET /api/conversations/:id.
func (h *Handler) GetConversation(c *gin.Context) {
	info := session(c)
	conv, err := h.loadConversation(c.Request.Context(), info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

// UpdateConversation handles PATCH /api/conversations/:id.
//
// # Description
//
// Only title, status and current_phase are written; unknown fields in the
// body are ignored. A body with none of them is a 400.
//
// current_phase is written to the column as given. Phase navigation that
// should also move the framework state goes through POST .../phase.
func (h *Handler) UpdateConversation(c *gin.Context) {
	info := session(c)

	var req datatypes.UpdateConversationRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Conversation")
		return
	}
	if req.Empty() {
		respondError(c, badRequest("No valid fields to update"), "Conversation")
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			respondError(c, badRequest("title must not be blank"), "Conversation")
			return
		}
		req.Title = &title
	}

	conv, err := h.store.UpdateConversation(c.Request.Context(), info.OrgID, c.Param("id"), storage.ConversationUpdate{
		Title:        req.Title,
		Status:       req.Status,
		CurrentPhase: req.CurrentPhase,
	})
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ChangePhase handles POST /api/conversations/:id/phase.
//
// The change goes through the framework reducer: forward moves are one
// phase at a time, backward moves may skip. An expected_version that no
// longer matches is a 409 carrying the current version.
func (h *Handler) ChangePhase(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.PhaseChangeRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Conversation")
		return
	}
	conv, err := h.loadConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	if conv.AgentType != framework.AgentStrategyCoach {
		respondError(c, badRequest("%s conversations have no phases", conv.AgentType), "Conversation")
		return
	}

	phase, _ := framework.ParsePhase(req.Phase)
	change, err := h.applyActions(ctx, conv, []framework.Action{
		framework.PhaseChanged{To: phase, At: h.now().UTC()},
	}, req.ExpectedVersion, false)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	h.trackDiff(ctx, info, conv.ID, change.Old, change.New)
	c.JSON(http.StatusOK, change.Conversation)
}

// ListMessages handles GET /api/conversations/:id/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)
	conv, err := h.loadConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	msgs, err := h.store.ListMessages(ctx, info.OrgID, conv.ID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
