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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/clientctx"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/observability"
	"github.com/frontera-labs/frontera/services/coach/prompts"
	"github.com/frontera-labs/frontera/services/coach/research"
	"github.com/frontera-labs/frontera/services/coach/storage"
	"github.com/frontera-labs/frontera/services/llm"
)

// exchangeContext is everything loaded before the model is called.
type exchangeContext struct {
	client    *clientctx.ClientContext
	history   []datatypes.ConversationMessage
	materials []datatypes.UploadedMaterial
	insight   *datatypes.TerritoryInsight
}

// completedExchange is the model output of one exchange.
type completedExchange struct {
	user      *datatypes.ConversationMessage
	text      string
	toolCalls []llm.ToolCall
	captured  captureSet
	usage     *llm.Usage
	at        time.Time
}

// SendMessage handles POST /api/conversations/:id/messages.
//
// # Description
//
// Streams the coach's reply as chunked text/plain. The flow is:
//  1. Load the conversation, client context, history, materials and the
//     active research area concurrently
//  2. Empty message on an empty conversation: persist and return the
//     static opening message (no LLM call)
//  3. Persist the user message and build the system prompt
//  4. Stream tokens to the client as they arrive, accumulating the reply
//  5. After the stream completes: persist the assistant message, save
//     research captures, reduce the framework state and send analytics
//
// # Outputs
//
// HTTP Status (before the first byte):
//   - 400: Invalid body, unknown research area, or empty message on a
//     conversation that already has messages
//   - 404: Conversation not found
//   - 500: Missing client, storage or LLM failure
//
// Once streaming has started a failure closes the stream; the partial
// reply is not persisted.
//
// # Limitations
//
//   - The reply is persisted only if the client stays connected until the
//     model finishes.
func (h *Handler) SendMessage(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointMessages
	info := session(c)
	convID := c.Param("id")

	ctx, span := h.tracer.Start(c.Request.Context(), "SendMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", convID),
		attribute.String("org.id", info.OrgID),
	)

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	success := false
	defer func() {
		h.metrics.RecordRequest(endpoint, success)
		h.metrics.RecordStreamDuration(endpoint, time.Since(startTime).Seconds(), success)
	}()

	// Step 1: Parse and validate
	var req datatypes.SendMessageRequest
	if err := bindJSON(c, &req, false); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		respondError(c, err, "Conversation")
		return
	}
	message := strings.TrimSpace(req.Message)
	if rc := req.ResearchContext; rc != nil && research.GetResearchArea(research.Territory(rc.Territory), rc.ResearchArea) == nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		respondError(c, badRequest("unknown research area %s/%s", rc.Territory, rc.ResearchArea), "Conversation")
		return
	}

	conv, err := h.loadConversation(ctx, info.OrgID, convID)
	if err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeNotFound)
		respondError(c, err, "Conversation")
		return
	}
	span.SetAttributes(attribute.String("conversation.agent_type", conv.AgentType))

	// Step 2: Load context
	ec, err := h.loadExchangeContext(ctx, conv, req.ResearchContext)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "context load failed")
		h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
		h.track(ctx, info, extensions.EventMessageError, map[string]any{
			"conversation_id": conv.ID,
			"stage":           "context",
		})
		respondError(c, err, "Conversation")
		return
	}

	// Step 3: Opening message
	if message == "" {
		if len(ec.history) > 0 {
			h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
			respondError(c, badRequest("message is required"), "Conversation")
			return
		}
		if err := h.sendOpening(ctx, c, conv, ec.client); err != nil {
			h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
			respondError(c, err, "Conversation")
			return
		}
		success = true
		return
	}

	// Step 4: Persist the user message
	userMsg := &datatypes.ConversationMessage{
		ConversationID: conv.ID,
		Role:           datatypes.RoleUser,
		Content:        message,
		TokenCount:     llm.EstimateTokenCount(message),
	}
	if err := h.store.InsertMessage(ctx, userMsg); err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeStorage)
		respondError(c, err, "Conversation")
		return
	}

	// Step 5: Build the prompt
	state, err := framework.Parse(conv.AgentType, conv.FrameworkState)
	if err != nil {
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		respondError(c, err, "Conversation")
		return
	}
	researchBlock := ""
	if rc := req.ResearchContext; rc != nil {
		var responses map[int]string
		if ec.insight != nil {
			responses = ec.insight.Responses
		}
		researchBlock = research.FormatResearchContextForPrompt(research.Territory(rc.Territory), rc.ResearchArea, responses, h.captureMode)
	}
	system := prompts.BuildSystemPrompt(prompts.SystemPromptInput{
		AgentType:       conv.AgentType,
		Client:          ec.client,
		State:           state,
		Materials:       ec.materials,
		ResearchContext: researchBlock,
		Mode:            h.captureMode,
	})

	chat := make([]llm.Message, 0, len(ec.history)+1)
	for _, m := range ec.history {
		chat = append(chat, llm.Message{Role: m.Role, Content: m.Content})
	}
	chat = append(chat, llm.Message{Role: datatypes.RoleUser, Content: message})
	maxTokens := h.maxTokens
	params := llm.GenerationParams{
		System:    system,
		MaxTokens: &maxTokens,
		Tools:     h.toolsFor(state),
	}

	// Step 6: Stream
	var (
		reply      strings.Builder
		toolCalls  []llm.ToolCall
		usage      *llm.Usage
		started    bool
		firstToken time.Time
	)
	startStream := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
	}

	streamErr := h.llm.ChatStream(ctx, llm.MessagesToChatHistory(chat), params, func(ev llm.StreamEvent) error {
		switch ev.Type {
		case llm.StreamEventToken:
			if ev.Content == "" {
				return nil
			}
			startStream()
			if firstToken.IsZero() {
				firstToken = time.Now()
			}
			reply.WriteString(ev.Content)
			if _, err := c.Writer.WriteString(ev.Content); err != nil {
				return fmt.Errorf("write chunk: %w", err)
			}
			c.Writer.Flush()
		case llm.StreamEventToolCall:
			if ev.ToolCall != nil {
				toolCalls = append(toolCalls, *ev.ToolCall)
			}
		case llm.StreamEventUsage:
			usage = ev.Usage
		}
		return nil
	})

	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "LLM streaming failed")
		code := observability.ErrorCodeLLMError
		if errors.Is(streamErr, context.Canceled) {
			code = observability.ErrorCodeClientDisconnect
		}
		h.metrics.RecordError(endpoint, code)
		slog.Error("Message stream failed",
			"conversation_id", conv.ID,
			"streamed", started,
			"bytes", reply.Len(),
			"error", streamErr,
		)
		h.track(ctx, info, extensions.EventMessageError, map[string]any{
			"conversation_id": conv.ID,
			"stage":           "stream",
			"error_code":      string(code),
			"streamed":        started,
		})
		if !started {
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "Failed to generate response"})
		}
		return
	}
	startStream()

	if !firstToken.IsZero() {
		ttft := firstToken.Sub(startTime).Seconds()
		span.SetAttributes(attribute.Float64("stream.time_to_first_token_seconds", ttft))
		h.metrics.RecordTimeToFirstToken(endpoint, ttft)
	}
	span.SetAttributes(
		attribute.Int("stream.bytes", reply.Len()),
		attribute.Int("stream.tool_calls", len(toolCalls)),
	)
	success = true

	// A reply made only of tool calls still needs visible text, both for
	// the client and for the next turn's history.
	now := h.now().UTC()
	text := reply.String()
	captured := h.collectCaptures(conv, text, toolCalls, now)
	if strings.TrimSpace(text) == "" {
		if summary := captureSummary(captured); summary != "" {
			text = summary
			if _, err := c.Writer.WriteString(summary); err == nil {
				c.Writer.Flush()
			}
		}
	}

	// Step 7: Persist. The response is already committed, so the work
	// continues even if the client has gone away.
	h.finishExchange(context.WithoutCancel(ctx), info, conv, completedExchange{
		user:      userMsg,
		text:      text,
		toolCalls: toolCalls,
		captured:  captured,
		usage:     usage,
		at:        now,
	})
}

// loadExchangeContext runs the independent loads of an exchange in
// parallel.
func (h *Handler) loadExchangeContext(ctx context.Context, conv *datatypes.Conversation, rc *datatypes.ResearchContextRef) (*exchangeContext, error) {
	var ec exchangeContext
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		client, err := h.loadClient(gctx, conv.ClerkOrgID)
		ec.client = client
		return err
	})
	g.Go(func() error {
		msgs, err := h.store.ListMessages(gctx, conv.ClerkOrgID, conv.ID)
		ec.history = msgs
		return err
	})
	g.Go(func() error {
		mats, err := h.store.ListMaterials(gctx, conv.ClerkOrgID, conv.ID)
		ec.materials = mats
		return err
	})
	if rc != nil {
		g.Go(func() error {
			insight, err := h.store.GetTerritoryInsight(gctx, conv.ClerkOrgID, conv.ID, rc.Territory, rc.ResearchArea)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			ec.insight = insight
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ec, nil
}

// toolsFor returns the tools offered for state. Marker capture offers none.
func (h *Handler) toolsFor(state framework.State) []llm.ToolDefinition {
	if h.captureMode != research.ToolCapture {
		return nil
	}
	cs, ok := state.(*framework.CoachState)
	if !ok {
		return nil
	}
	tools := research.CaptureTools()
	return append(tools, framework.StrategyTools(cs.Phase)...)
}

// sendOpening persists and returns the opening message of a conversation.
func (h *Handler) sendOpening(ctx context.Context, c *gin.Context, conv *datatypes.Conversation, client *clientctx.ClientContext) error {
	content := prompts.OpeningMessage(conv.AgentType, client)
	msg := &datatypes.ConversationMessage{
		ConversationID: conv.ID,
		Role:           datatypes.RoleAssistant,
		Content:        content,
		Metadata:       map[string]any{"opening": true},
		TokenCount:     llm.EstimateTokenCount(content),
	}
	if err := h.store.InsertMessage(ctx, msg); err != nil {
		return err
	}

	_, err := h.applyActions(ctx, conv, []framework.Action{
		framework.MessageExchanged{AssistantMessages: 1, At: h.now().UTC()},
	}, nil, true)
	if err != nil {
		slog.Warn("Failed to update framework state after opening message",
			"conversation_id", conv.ID,
			"error", err,
		)
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(content))
	return nil
}

// =============================================================================
// Completion
// =============================================================================

// captureSet is what the model recorded during one reply.
type captureSet struct {
	captures  []research.Capture
	completed []research.AreaRef
	strategy  []framework.Action
	profile   string
	source    string
}

// finishExchange runs everything that happens after a successful stream.
// Failures are logged; the client already has its reply.
func (h *Handler) finishExchange(ctx context.Context, info *extensions.AuthInfo, conv *datatypes.Conversation, ex completedExchange) {
	now := ex.at

	inputTokens, outputTokens := ex.user.TokenCount, llm.EstimateTokenCount(ex.text)
	if ex.usage != nil {
		if ex.usage.InputTokens > 0 {
			inputTokens = ex.usage.InputTokens
		}
		if ex.usage.OutputTokens > 0 {
			outputTokens = ex.usage.OutputTokens
		}
	}
	h.metrics.RecordTokens(inputTokens, outputTokens, conv.AgentType)

	captured := ex.captured

	// An empty reply is not stored: the providers reject empty turns in
	// the history of later exchanges.
	assistantMessages := 0
	if strings.TrimSpace(ex.text) != "" {
		assistant := &datatypes.ConversationMessage{
			ConversationID: conv.ID,
			Role:           datatypes.RoleAssistant,
			Content:        ex.text,
			TokenCount:     outputTokens,
		}
		if n := len(captured.captures); n > 0 || len(ex.toolCalls) > 0 {
			assistant.Metadata = map[string]any{"captures": n, "tool_calls": len(ex.toolCalls)}
		}
		if err := h.store.InsertMessage(ctx, assistant); err != nil {
			slog.Error("Failed to persist assistant message",
				"conversation_id", conv.ID,
				"error", err,
			)
			h.track(ctx, info, extensions.EventMessageError, map[string]any{
				"conversation_id": conv.ID,
				"stage":           "persist",
			})
			return
		}
		assistantMessages = 1
	} else {
		slog.Warn("Model returned an empty reply",
			"conversation_id", conv.ID,
			"tool_calls", len(ex.toolCalls),
		)
	}

	if err := h.saveCaptures(ctx, conv, captured.captures, captured.completed); err != nil {
		slog.Error("Failed to save research captures",
			"conversation_id", conv.ID,
			"captures", len(captured.captures),
			"error", err,
		)
	}
	h.metrics.RecordCaptures(captured.source, len(captured.captures))

	actions := []framework.Action{
		framework.MessageExchanged{UserMessages: 1, AssistantMessages: assistantMessages, At: now},
	}
	for _, cp := range captured.captures {
		actions = append(actions, framework.ResearchCaptured{Capture: cp, At: now})
	}
	for _, ref := range captured.completed {
		actions = append(actions, framework.AreaCompleted{Ref: ref, At: now})
	}
	actions = append(actions, captured.strategy...)
	if captured.profile != "" {
		actions = append(actions, framework.ProfileSummarized{Summary: captured.profile, Complete: true, At: now})
	}

	change, err := h.applyActions(ctx, conv, actions, nil, true)
	if err != nil {
		slog.Error("Failed to update framework state",
			"conversation_id", conv.ID,
			"error", err,
		)
	}

	props := map[string]any{
		"conversation_id": conv.ID,
		"agent_type":      conv.AgentType,
		"message_length":  len(ex.user.Content),
		"response_length": len(ex.text),
		"input_tokens":    inputTokens,
		"output_tokens":   outputTokens,
	}
	if change != nil {
		props["phase"] = string(change.New.CurrentPhase())
	}
	h.track(ctx, info, extensions.EventMessageReceived, props)
	if len(captured.captures) > 0 {
		h.track(ctx, info, extensions.EventResearchCaptured, map[string]any{
			"conversation_id": conv.ID,
			"count":           len(captured.captures),
			"source":          captured.source,
		})
	}
	if change != nil {
		h.trackDiff(ctx, info, conv.ID, change.Old, change.New)
	}
}

// collectCaptures reads tool calls first and falls back to markers in the
// text. The profile summary always comes from markers.
func (h *Handler) collectCaptures(conv *datatypes.Conversation, text string, calls []llm.ToolCall, at time.Time) captureSet {
	set := captureSet{source: "tool"}

	for _, call := range calls {
		result, err := research.ParseToolCall(call.Name, call.Input)
		if err == nil {
			if result.Capture != nil {
				set.captures = append(set.captures, *result.Capture)
			}
			if result.Complete != nil {
				set.completed = append(set.completed, *result.Complete)
			}
			continue
		}
		if !errors.Is(err, research.ErrUnknownTool) {
			slog.Warn("Rejected capture tool call",
				"conversation_id", conv.ID,
				"tool", call.Name,
				"error", err,
			)
			continue
		}
		action, err := framework.ParseStrategyToolCall(call.Name, call.Input, at)
		if err != nil {
			slog.Warn("Rejected strategy tool call",
				"conversation_id", conv.ID,
				"tool", call.Name,
				"error", err,
			)
			continue
		}
		set.strategy = append(set.strategy, action)
	}

	markers := research.ParseMarkers(text)
	if len(markers.Malformed) > 0 {
		slog.Warn("Malformed capture markers in reply",
			"conversation_id", conv.ID,
			"malformed", markers.Malformed,
		)
	}
	if len(set.captures) == 0 && len(set.completed) == 0 {
		set.captures = markers.Captures
		set.completed = markers.Completed
		set.source = "marker"
	}
	set.profile = markers.ProfileSummary
	return set
}

// captureSummary describes what the model recorded, for replies that
// carried no text of their own. It returns "" when nothing was recorded.
func captureSummary(set captureSet) string {
	var parts []string
	if n := len(set.captures); n == 1 {
		parts = append(parts, "recorded 1 research answer")
	} else if n > 1 {
		parts = append(parts, fmt.Sprintf("recorded %d research answers", n))
	}
	for _, ref := range set.completed {
		title := ref.Area
		if area := research.GetResearchArea(ref.Territory, ref.Area); area != nil {
			title = area.Title
		}
		parts = append(parts, fmt.Sprintf("marked %q complete", title))
	}
	for _, action := range set.strategy {
		switch a := action.(type) {
		case framework.BetAdded:
			parts = append(parts, fmt.Sprintf("added the bet %q", a.Bet.Title))
		case framework.CanvasUpdated:
			parts = append(parts, fmt.Sprintf("updated the %s section of the canvas", a.Section))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	summary := strings.Join(parts, "; ")
	return "Noted: " + summary + "."
}

// saveCaptures writes captured answers into territory_insights, one
// read-modify-write per research area guarded by the insight's version.
func (h *Handler) saveCaptures(ctx context.Context, conv *datatypes.Conversation, captures []research.Capture, completed []research.AreaRef) error {
	type areaKey struct {
		territory string
		area      string
	}
	var order []areaKey
	byArea := make(map[areaKey][]research.Capture)
	done := make(map[areaKey]bool)
	for _, cp := range captures {
		k := areaKey{string(cp.Territory), cp.Area}
		if _, seen := byArea[k]; !seen {
			order = append(order, k)
		}
		byArea[k] = append(byArea[k], cp)
	}
	for _, ref := range completed {
		k := areaKey{string(ref.Territory), ref.Area}
		if _, seen := byArea[k]; !seen {
			order = append(order, k)
			byArea[k] = nil
		}
		done[k] = true
	}

	var errs []error
	for _, k := range order {
		err := h.mergeInsight(ctx, conv, k.territory, k.area, byArea[k], done[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", k.territory, k.area, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Handler) mergeInsight(ctx context.Context, conv *datatypes.Conversation, territory, area string, captures []research.Capture, complete bool) error {
	for attempt := 1; ; attempt++ {
		insight, err := h.store.GetTerritoryInsight(ctx, conv.ClerkOrgID, conv.ID, territory, area)
		var expected int64
		switch {
		case errors.Is(err, storage.ErrNotFound):
			insight = &datatypes.TerritoryInsight{
				ConversationID: conv.ID,
				ClerkOrgID:     conv.ClerkOrgID,
				Territory:      territory,
				ResearchArea:   area,
				Responses:      map[int]string{},
				Confidence:     map[int]string{},
			}
		case err != nil:
			return err
		default:
			expected = insight.Version
		}

		for _, cp := range captures {
			insight.Responses[cp.QuestionIndex] = cp.Answer
			if cp.Confidence != "" {
				insight.Confidence[cp.QuestionIndex] = string(cp.Confidence)
			}
		}
		switch {
		case complete:
			insight.Status = datatypes.InsightMapped
		case insight.Status == "" || insight.Status == datatypes.InsightUnexplored:
			insight.Status = datatypes.InsightInProgress
		}

		err = h.store.UpsertTerritoryInsight(ctx, insight, &expected)
		if !errors.Is(err, storage.ErrConflict) || attempt >= maxStateAttempts {
			return err
		}
	}
}
