// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the coaching service's HTTP handlers.
//
// # Error Responses
//
// Every error reply has the body {"error": "..."}; conflicts add
// "current_version". Downstream failures are logged with the raw error and
// reported to the client with a generic message.
//
//	storage.ErrNotFound           -> 404 "<resource> not found"
//	validation / bad transitions  -> 400
//	storage.ErrConflict           -> 409
//	anything else                 -> 500
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/clientctx"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/ingest"
	"github.com/frontera-labs/frontera/services/coach/middleware"
	"github.com/frontera-labs/frontera/services/coach/observability"
	"github.com/frontera-labs/frontera/services/coach/research"
	"github.com/frontera-labs/frontera/services/coach/storage"
	"github.com/frontera-labs/frontera/services/llm"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// maxStateAttempts bounds reload-and-retry on framework state conflicts.
	maxStateAttempts = 3

	// defaultMaxTokens is used when Deps.MaxTokens is unset.
	defaultMaxTokens = 4096

	genericError = "Internal server error"
)

// =============================================================================
// Handler
// =============================================================================

// Deps are the handler dependencies. Store and LLM are required.
type Deps struct {
	Store     storage.Store
	LLM       llm.LLMClient
	Analytics extensions.AnalyticsSink

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Fetcher serves POST /api/upload/url. Nil uses ingest defaults.
	Fetcher *ingest.Fetcher

	// Redactor scrubs extracted material. Nil stores text as extracted.
	Redactor *ingest.Redactor

	// StructuredCapture selects tool-based research capture. When false
	// the model is asked for bracket markers instead.
	StructuredCapture bool

	// ShareURL builds the public link for an artefact share token.
	ShareURL func(token string) string

	MaxTokens int

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Handler serves every coaching route.
//
// # Thread Safety
//
// Safe for concurrent use; it holds no per-request state.
type Handler struct {
	store     storage.Store
	llm       llm.LLMClient
	analytics extensions.AnalyticsSink
	metrics   *observability.Metrics
	fetcher   *ingest.Fetcher
	redactor  *ingest.Redactor
	loader    *clientctx.Loader
	tracer    trace.Tracer

	captureMode research.CaptureMode
	shareURL    func(string) string
	maxTokens   int
	now         func() time.Time
}

// New creates a Handler.
//
// # Limitations
//
//   - Panics when Store or LLM is nil.
func New(d Deps) *Handler {
	if d.Store == nil {
		panic("handlers.New: Store must not be nil")
	}
	if d.LLM == nil {
		panic("handlers.New: LLM must not be nil")
	}
	h := &Handler{
		store:       d.Store,
		llm:         d.LLM,
		analytics:   d.Analytics,
		metrics:     d.Metrics,
		fetcher:     d.Fetcher,
		redactor:    d.Redactor,
		loader:      clientctx.NewLoader(d.Store),
		tracer:      otel.Tracer("frontera.coach.handlers"),
		captureMode: research.MarkerCapture,
		shareURL:    d.ShareURL,
		maxTokens:   d.MaxTokens,
		now:         d.Now,
	}
	if d.StructuredCapture {
		h.captureMode = research.ToolCapture
	}
	if h.analytics == nil {
		h.analytics = &extensions.NopAnalyticsSink{}
	}
	if h.fetcher == nil {
		h.fetcher = ingest.NewFetcher(ingest.FetcherConfig{})
	}
	if h.shareURL == nil {
		h.shareURL = func(token string) string { return "/share/" + token }
	}
	if h.maxTokens <= 0 {
		h.maxTokens = defaultMaxTokens
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// =============================================================================
// Errors
// =============================================================================

// badRequestError carries a message safe to show the client.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// conflictError is a 409 with the row's current version.
type conflictError struct {
	msg     string
	version int64
}

func (e *conflictError) Error() string { return e.msg }

func (e *conflictError) Unwrap() error { return storage.ErrConflict }

// respondError writes the reply for err. resource names the entity in 404
// messages.
func respondError(c *gin.Context, err error, resource string) {
	var (
		bad      *badRequestError
		conflict *conflictError
	)
	switch {
	case errors.As(err, &bad):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: bad.msg})
	case errors.As(err, &conflict):
		v := conflict.version
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: conflict.msg, CurrentVersion: &v})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: resource + " not found"})
	case errors.Is(err, framework.ErrInvalidTransition), errors.Is(err, framework.ErrInvalidAction),
		errors.Is(err, framework.ErrUnsupportedAction):
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: err.Error()})
	case errors.Is(err, storage.ErrConflict):
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{Error: resource + " was modified or is in the wrong state"})
	default:
		slog.Error("Request failed",
			"path", c.FullPath(),
			"resource", resource,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: genericError})
	}
}

// =============================================================================
// Request helpers
// =============================================================================

// bindJSON decodes the body into dst and validates it. An empty body is
// accepted when allowEmpty is set.
func bindJSON(c *gin.Context, dst any, allowEmpty bool) error {
	if err := json.NewDecoder(c.Request.Body).Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) || !allowEmpty {
			return badRequest("Invalid request body")
		}
	}
	if err := datatypes.Validate(dst); err != nil {
		return &badRequestError{msg: err.Error()}
	}
	return nil
}

// session returns the caller's identity. Routes are mounted behind
// middleware.Auth and middleware.RequireOrg, so it is never nil there.
func session(c *gin.Context) *extensions.AuthInfo {
	if info := middleware.GetAuthInfo(c); info != nil {
		return info
	}
	return &extensions.AuthInfo{}
}

// loadConversation fetches :id (or id) for the caller's org.
func (h *Handler) loadConversation(ctx context.Context, orgID, id string) (*datatypes.Conversation, error) {
	if id == "" {
		return nil, badRequest("conversation_id is required")
	}
	return h.store.GetConversation(ctx, orgID, id)
}

// loadClient returns the org's client context. A missing client row is an
// error: no coaching route can work without one.
func (h *Handler) loadClient(ctx context.Context, orgID string) (*clientctx.ClientContext, error) {
	client, err := h.loader.Load(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load client context: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("no client provisioned for organization %s", orgID)
	}
	return client, nil
}

// track sends an analytics event. Failures never reach the caller.
func (h *Handler) track(ctx context.Context, info *extensions.AuthInfo, event string, props map[string]any) {
	h.analytics.Capture(context.WithoutCancel(ctx), extensions.AnalyticsEvent{
		Event:      event,
		DistinctID: info.UserID,
		OrgID:      info.OrgID,
		Timestamp:  h.now().UTC(),
		Properties: props,
	})
}

// trackDiff sends the events implied by a state change.
func (h *Handler) trackDiff(ctx context.Context, info *extensions.AuthInfo, convID string, oldState, newState framework.State) {
	for _, ev := range framework.Diff(oldState, newState) {
		props := map[string]any{"conversation_id": convID}
		for k, v := range ev.Properties {
			props[k] = v
		}
		h.track(ctx, info, ev.Name, props)
	}
}

// =============================================================================
// Framework state updates
// =============================================================================

// stateChange is the outcome of applying actions to a conversation.
type stateChange struct {
	Conversation *datatypes.Conversation
	Old          framework.State
	New          framework.State
}

// applyActions reduces actions over conv's framework state and writes it.
//
// # Description
//
// With expected set the write happens only if the conversation is still at
// that version; a mismatch is a conflictError and nothing is retried. With
// expected nil the write is conditional on the version conv was read at,
// and a conflict reloads the row and reapplies the actions, up to
// maxStateAttempts times.
//
// In lenient mode actions the reducer rejects are logged and skipped;
// otherwise the first rejection is returned.
func (h *Handler) applyActions(ctx context.Context, conv *datatypes.Conversation, actions []framework.Action, expected *int64, lenient bool) (*stateChange, error) {
	if expected != nil && *expected != conv.Version {
		return nil, &conflictError{msg: "Conversation was modified", version: conv.Version}
	}

	for attempt := 1; ; attempt++ {
		oldState, err := framework.Parse(conv.AgentType, conv.FrameworkState)
		if err != nil {
			return nil, fmt.Errorf("parse framework state of %s: %w", conv.ID, err)
		}

		next := oldState
		for _, action := range actions {
			reduced, err := framework.Reduce(next, action)
			if err != nil {
				if !lenient {
					return nil, err
				}
				slog.Warn("Skipping framework action",
					"conversation_id", conv.ID,
					"action", fmt.Sprintf("%T", action),
					"error", err,
				)
				continue
			}
			next = reduced
		}

		data, err := framework.Marshal(next)
		if err != nil {
			return nil, err
		}
		version := conv.Version
		upd := storage.ConversationUpdate{FrameworkState: data, ExpectedVersion: &version}
		if phase := next.CurrentPhase(); phase != "" && string(phase) != conv.CurrentPhase {
			p := string(phase)
			upd.CurrentPhase = &p
		}

		updated, err := h.store.UpdateConversation(ctx, conv.ClerkOrgID, conv.ID, upd)
		if err == nil {
			return &stateChange{Conversation: updated, Old: oldState, New: next}, nil
		}
		if !errors.Is(err, storage.ErrConflict) || updated == nil {
			return nil, err
		}
		if expected != nil {
			return nil, &conflictError{msg: "Conversation was modified", version: updated.Version}
		}
		if attempt >= maxStateAttempts {
			h.metrics.RecordStateConflict(true)
			return nil, &conflictError{msg: "Conversation is being updated concurrently, please retry", version: updated.Version}
		}
		h.metrics.RecordStateConflict(false)
		slog.Debug("Framework state conflict, retrying",
			"conversation_id", conv.ID,
			"attempt", attempt,
			"current_version", updated.Version,
		)
		conv = updated
	}
}
