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
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/artefacts"
	"github.com/frontera-labs/frontera/services/coach/clientctx"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/observability"
	"github.com/frontera-labs/frontera/services/coach/prompts"
	"github.com/frontera-labs/frontera/services/coach/storage"
	"github.com/frontera-labs/frontera/services/llm"
)

// =============================================================================
// Synthesis
// =============================================================================

// GenerateSynthesis handles POST /api/conversations/:id/synthesis.
//
// One non-streaming completion over every captured answer. Output that is
// not JSON is stored as {"raw": text} with structured=false.
func (h *Handler) GenerateSynthesis(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointSynthesis
	info := session(c)

	ctx, span := h.tracer.Start(c.Request.Context(), "GenerateSynthesis")
	defer span.End()

	success := false
	defer func() {
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
	}()

	conv, err := h.loadConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	var (
		client   *clientctx.ClientContext
		insights []datatypes.TerritoryInsight
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		client, err = h.loadClient(gctx, info.OrgID)
		return err
	})
	g.Go(func() (err error) {
		insights, err = h.store.ListTerritoryInsights(gctx, info.OrgID, conv.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
		respondError(c, err, "Conversation")
		return
	}
	if !hasAnswers(insights) {
		respondError(c, badRequest("No research has been captured for this conversation yet"), "Conversation")
		return
	}

	text, err := h.generate(ctx, prompts.SynthesisPrompt(client.CompanyName, insights))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis generation failed")
		h.metrics.RecordError(endpoint, observability.ErrorCodeLLMError)
		respondError(c, err, "Conversation")
		return
	}

	out := &datatypes.SynthesisOutput{
		ConversationID: conv.ID,
		ClerkOrgID:     info.OrgID,
		CreatedBy:      info.UserID,
	}
	if obj, ok := artefacts.ExtractJSON(text); ok {
		out.Content, out.Structured = obj, true
	} else {
		out.Content = map[string]any{"raw": text}
	}
	if err := h.store.InsertSynthesis(ctx, out); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
		respondError(c, err, "Synthesis")
		return
	}

	h.track(ctx, info, extensions.EventSynthesisGenerated, map[string]any{
		"conversation_id": conv.ID,
		"structured":      out.Structured,
		"areas":           len(insights),
	})
	success = true
	c.JSON(http.StatusCreated, out)
}

// GetSynthesis handles GET /api/conversations/:id/synthesis.
func (h *Handler) GetSynthesis(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)
	conv, err := h.loadConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	out, err := h.store.LatestSynthesis(ctx, info.OrgID, conv.ID)
	if err != nil {
		respondError(c, err, "Synthesis")
		return
	}
	c.JSON(http.StatusOK, out)
}

func hasAnswers(insights []datatypes.TerritoryInsight) bool {
	for _, ti := range insights {
		for _, r := range ti.Responses {
			if strings.TrimSpace(r) != "" {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Artefacts
// =============================================================================

// GenerateArtefact handles POST /api/activation.
//
// # Description
//
// Builds the prompt for the requested artefact type from the
// conversation's bets (or the one named by betId) and latest synthesis,
// makes one non-streaming completion and stores the result with a fresh
// share token.
//
// # Outputs
//
//   - 201: {"artefact": ..., "share_url": ...}. artefact.structured is
//     false when the model output was not JSON; missing_fields lists
//     required keys the output lacked.
//   - 400 / 404 / 500 per the error taxonomy.
func (h *Handler) GenerateArtefact(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointArtefacts
	info := session(c)

	ctx, span := h.tracer.Start(c.Request.Context(), "GenerateArtefact")
	defer span.End()

	success := false
	defer func() {
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
	}()

	var req datatypes.GenerateArtefactRequest
	if err := bindJSON(c, &req, false); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		respondError(c, err, "Artefact")
		return
	}
	span.SetAttributes(attribute.String("artefact.type", req.Type))

	conv, err := h.loadConversation(ctx, info.OrgID, req.ConversationID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	var (
		client    *clientctx.ClientContext
		synthesis *datatypes.SynthesisOutput
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		client, err = h.loadClient(gctx, info.OrgID)
		return err
	})
	g.Go(func() error {
		out, err := h.store.LatestSynthesis(gctx, info.OrgID, conv.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		synthesis = out
		return err
	})
	if err := g.Wait(); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
		respondError(c, err, "Conversation")
		return
	}

	input := prompts.ArtefactInput{CompanyName: client.CompanyName, Audience: req.Audience}
	if synthesis != nil {
		input.Synthesis = synthesis.Content
	}
	state, err := framework.Parse(conv.AgentType, conv.FrameworkState)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	if cs, ok := state.(*framework.CoachState); ok {
		input.Bets = cs.Bets
		if req.BetID != "" {
			bet, found := cs.FindBet(req.BetID)
			if !found {
				respondError(c, storage.ErrNotFound, "Bet")
				return
			}
			input.Bet = &bet
		}
	} else if req.BetID != "" {
		respondError(c, storage.ErrNotFound, "Bet")
		return
	}

	prompt, err := prompts.ArtefactPrompt(req.Type, input)
	if err != nil {
		respondError(c, badRequest("%s", err.Error()), "Artefact")
		return
	}
	text, err := h.generate(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "artefact generation failed")
		h.metrics.RecordError(endpoint, observability.ErrorCodeLLMError)
		respondError(c, err, "Artefact")
		return
	}

	result := artefacts.Parse(req.Type, text)
	token, err := artefacts.NewShareToken()
	if err != nil {
		respondError(c, err, "Artefact")
		return
	}
	artefact := &datatypes.StrategicArtefact{
		ConversationID: conv.ID,
		ClerkOrgID:     info.OrgID,
		ArtefactType:   req.Type,
		BetID:          req.BetID,
		Audience:       req.Audience,
		Title:          artefacts.Title(req.Type),
		Content:        result.Content,
		Structured:     result.Structured,
		MissingFields:  result.MissingFields,
		ShareToken:     token,
		CreatedBy:      info.UserID,
	}
	if input.Bet != nil {
		artefact.Title += ": " + input.Bet.Title
	}
	if err := h.store.InsertArtefact(ctx, artefact); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
		respondError(c, err, "Artefact")
		return
	}

	h.metrics.RecordArtefact(req.Type, result.Structured, len(result.MissingFields))
	h.track(ctx, info, extensions.EventArtefactGenerated, map[string]any{
		"conversation_id": conv.ID,
		"artefact_type":   req.Type,
		"structured":      result.Structured,
		"missing_fields":  len(result.MissingFields),
		"has_bet":         req.BetID != "",
	})
	success = true
	c.JSON(http.StatusCreated, gin.H{
		"artefact":  artefact,
		"share_url": h.shareURL(token),
	})
}

// ListArtefacts handles GET /api/activation?conversationId=.
func (h *Handler) ListArtefacts(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)
	convID := c.Query("conversationId")
	if convID == "" {
		respondError(c, badRequest("conversationId is required"), "Conversation")
		return
	}
	conv, err := h.loadConversation(ctx, info.OrgID, convID)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	list, err := h.store.ListArtefacts(ctx, info.OrgID, conv.ID)
	if err != nil {
		respondError(c, err, "Artefact")
		return
	}
	c.JSON(http.StatusOK, gin.H{"artefacts": list})
}

// GetSharedArtefact handles GET /api/share/:token. It is public: anyone
// holding the token can read the artefact, nothing else.
func (h *Handler) GetSharedArtefact(c *gin.Context) {
	token := c.Param("token")
	if len(token) != 32 {
		respondError(c, storage.ErrNotFound, "Artefact")
		return
	}
	a, err := h.store.GetArtefactByShareToken(c.Request.Context(), token)
	if err != nil {
		respondError(c, err, "Artefact")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"title":         a.Title,
		"artefact_type": a.ArtefactType,
		"audience":      a.Audience,
		"content":       a.Content,
		"structured":    a.Structured,
		"created_at":    a.CreatedAt,
	})
}

// generate runs one non-streaming completion at a low temperature.
func (h *Handler) generate(ctx context.Context, prompt string) (string, error) {
	temp := float32(0.3)
	maxTokens := h.maxTokens
	return h.llm.Generate(ctx, prompt, llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
}

// =============================================================================
// Bets and canvas
// =============================================================================

// CreateBet handles POST /api/conversations/:id/bets.
func (h *Handler) CreateBet(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.CreateBetRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Conversation")
		return
	}
	conv, err := h.loadCoachConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	bet := framework.Bet{
		ID:            uuid.NewString(),
		Title:         strings.TrimSpace(req.Title),
		Hypothesis:    strings.TrimSpace(req.Hypothesis),
		Territory:     req.Territory,
		SuccessMetric: strings.TrimSpace(req.SuccessMetric),
		CreatedAt:     h.now().UTC(),
	}
	change, err := h.applyActions(ctx, conv, []framework.Action{framework.BetAdded{Bet: bet}}, req.ExpectedVersion, false)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	h.trackDiff(ctx, info, conv.ID, change.Old, change.New)
	c.JSON(http.StatusCreated, gin.H{"bet": bet, "conversation": change.Conversation})
}

// UpdateCanvas handles PUT /api/conversations/:id/canvas/:section.
func (h *Handler) UpdateCanvas(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.UpdateCanvasRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Conversation")
		return
	}
	conv, err := h.loadCoachConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	change, err := h.applyActions(ctx, conv, []framework.Action{
		framework.CanvasUpdated{Section: c.Param("section"), Content: strings.TrimSpace(req.Content), At: h.now().UTC()},
	}, req.ExpectedVersion, false)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}

	h.trackDiff(ctx, info, conv.ID, change.Old, change.New)
	c.JSON(http.StatusOK, change.Conversation)
}

func (h *Handler) loadCoachConversation(ctx context.Context, orgID, id string) (*datatypes.Conversation, error) {
	conv, err := h.loadConversation(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if conv.AgentType != framework.AgentStrategyCoach {
		return nil, badRequest("%s conversations have no strategy canvas", conv.AgentType)
	}
	return conv, nil
}

// =============================================================================
// Strategy document
// =============================================================================

// CreateStrategyDocument handles POST /api/conversations/:id/strategy-document.
//
// # Description
//
// Assembles a snapshot from the canvas, the selected bets and the latest
// synthesis. Selected IDs that match no bet are reported under
// "missing_bet_ids" in the document rather than rejected.
func (h *Handler) CreateStrategyDocument(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.CreateStrategyDocumentRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Strategy document")
		return
	}
	conv, err := h.loadCoachConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	state, err := framework.Parse(conv.AgentType, conv.FrameworkState)
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	cs := state.(*framework.CoachState)

	var (
		bets    []framework.Bet
		missing []string
	)
	for _, id := range req.SelectedBetIDs {
		if bet, ok := cs.FindBet(id); ok {
			bets = append(bets, bet)
		} else {
			missing = append(missing, id)
		}
	}

	canvas := make(map[string]any, len(cs.Canvas))
	for _, section := range framework.CanvasSections {
		if s, ok := cs.Canvas[section]; ok && s.Content != "" {
			canvas[section] = s.Content
		}
	}
	content := map[string]any{
		"canvas": canvas,
		"bets":   bets,
	}
	if len(missing) > 0 {
		content["missing_bet_ids"] = missing
	}
	synthesis, err := h.store.LatestSynthesis(ctx, info.OrgID, conv.ID)
	switch {
	case err == nil:
		content["synthesis"] = synthesis.Content
	case !errors.Is(err, storage.ErrNotFound):
		respondError(c, err, "Strategy document")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = conv.Title
	}
	doc := &datatypes.StrategyDocument{
		ConversationID:  conv.ID,
		ClerkOrgID:      info.OrgID,
		Title:           title,
		SelectedBetIDs:  req.SelectedBetIDs,
		DocumentContent: content,
		CreatedBy:       info.UserID,
	}
	if err := h.store.InsertStrategyDocument(ctx, doc); err != nil {
		respondError(c, err, "Strategy document")
		return
	}

	h.track(ctx, info, extensions.EventStrategyDocument, map[string]any{
		"conversation_id": conv.ID,
		"bets":            len(bets),
		"canvas_sections": len(canvas),
	})
	c.JSON(http.StatusCreated, doc)
}

// GetStrategyDocument handles GET /api/conversations/:id/strategy-document.
func (h *Handler) GetStrategyDocument(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)
	conv, err := h.loadConversation(ctx, info.OrgID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Conversation")
		return
	}
	doc, err := h.store.LatestStrategyDocument(ctx, info.OrgID, conv.ID)
	if err != nil {
		respondError(c, err, "Strategy document")
		return
	}
	c.JSON(http.StatusOK, doc)
}
