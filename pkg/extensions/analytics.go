// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"time"
)

// Analytics event names emitted by the service.
const (
	EventMessageReceived    = "coaching_message_received"
	EventMessageError       = "coaching_message_error"
	EventPhaseTransition    = "coaching_phase_transition"
	EventPillarActivated    = "coaching_pillar_activated"
	EventCanvasUpdated      = "coaching_canvas_updated"
	EventBetCreated         = "coaching_bet_created"
	EventConversationCreate = "conversation_created"
	EventTerritorySaved     = "territory_research_saved"
	EventResearchCaptured   = "territory_research_captured"
	EventMaterialUploaded   = "material_uploaded"
	EventArtefactGenerated  = "artefact_generated"
	EventSynthesisGenerated = "synthesis_generated"
	EventStrategyDocument   = "strategy_document_created"
	EventOnboardingSubmit   = "onboarding_submitted"
	EventOrgProvisioned     = "organization_provisioned"
)

// AnalyticsEvent is a single product analytics event.
//
// DistinctID identifies the actor (the session's user ID); OrgID is sent as
// the group key so events can be rolled up per tenant.
type AnalyticsEvent struct {
	Event      string
	DistinctID string
	OrgID      string
	Timestamp  time.Time
	Properties map[string]any
}

// AnalyticsSink receives analytics events.
//
// Capture must not block the caller for network I/O and must never fail the
// request that emitted the event: implementations buffer and drop rather
// than return errors.
type AnalyticsSink interface {
	Capture(ctx context.Context, event AnalyticsEvent)

	// Close flushes buffered events. It is called once at shutdown.
	Close(ctx context.Context) error
}

// NopAnalyticsSink discards all events.
type NopAnalyticsSink struct{}

// Capture discards the event.
func (s *NopAnalyticsSink) Capture(_ context.Context, _ AnalyticsEvent) {}

// Close is a no-op.
func (s *NopAnalyticsSink) Close(_ context.Context) error { return nil }

var _ AnalyticsSink = (*NopAnalyticsSink)(nil)
