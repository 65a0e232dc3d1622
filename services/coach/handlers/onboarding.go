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
	"github.com/frontera-labs/frontera/services/coach/storage"
)

// Onboarding records are reached by their uuid without a session: the
// prospect filling the form has no organization yet. Review and
// provisioning are admin routes.

// CreateOnboarding handles POST /api/onboarding.
func (h *Handler) CreateOnboarding(c *gin.Context) {
	var req datatypes.OnboardingRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	o := &datatypes.ClientOnboarding{
		Status:         datatypes.OnboardingDraft,
		CompanyName:    strings.TrimSpace(req.CompanyName),
		ContactName:    strings.TrimSpace(req.ContactName),
		ContactEmail:   strings.TrimSpace(req.ContactEmail),
		Industry:       strings.TrimSpace(req.Industry),
		CompanySize:    strings.TrimSpace(req.CompanySize),
		StrategicFocus: strings.TrimSpace(req.StrategicFocus),
		PainPoints:     strings.TrimSpace(req.PainPoints),
		TargetOutcomes: strings.TrimSpace(req.TargetOutcomes),
		Tier:           req.Tier,
	}
	if err := h.store.CreateOnboarding(c.Request.Context(), o); err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	c.JSON(http.StatusCreated, o)
}

// GetOnboarding handles GET /api/onboarding/:id.
func (h *Handler) GetOnboarding(c *gin.Context) {
	o, err := h.store.GetOnboarding(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	c.JSON(http.StatusOK, o)
}

// UpdateOnboarding handles PATCH /api/onboarding/:id. Only drafts are
// editable; anything else is a 409.
func (h *Handler) UpdateOnboarding(c *gin.Context) {
	ctx := c.Request.Context()

	var req datatypes.UpdateOnboardingRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	o, err := h.store.GetOnboarding(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	if o.Status != datatypes.OnboardingDraft {
		respondError(c, storage.ErrConflict, "Onboarding")
		return
	}
	req.Apply(o)
	if err := h.store.UpdateOnboarding(ctx, o, datatypes.OnboardingDraft); err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	c.JSON(http.StatusOK, o)
}

// SubmitOnboarding handles POST /api/onboarding/:id/submit.
func (h *Handler) SubmitOnboarding(c *gin.Context) {
	ctx := c.Request.Context()
	o, err := h.store.GetOnboarding(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	if o.Status != datatypes.OnboardingDraft {
		respondError(c, storage.ErrConflict, "Onboarding")
		return
	}

	now := h.now().UTC()
	o.Status = datatypes.OnboardingSubmitted
	o.SubmittedAt = &now
	if err := h.store.UpdateOnboarding(ctx, o, datatypes.OnboardingDraft); err != nil {
		respondError(c, err, "Onboarding")
		return
	}

	h.track(ctx, &extensions.AuthInfo{UserID: "onboarding:" + o.ID}, extensions.EventOnboardingSubmit, map[string]any{
		"onboarding_id": o.ID,
		"industry":      o.Industry,
		"company_size":  o.CompanySize,
		"tier":          o.Tier,
	})
	c.JSON(http.StatusOK, o)
}

// =============================================================================
// Admin
// =============================================================================

// ListOnboarding handles GET /api/admin/onboarding?status=.
func (h *Handler) ListOnboarding(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", datatypes.OnboardingDraft, datatypes.OnboardingSubmitted, datatypes.OnboardingApproved,
		datatypes.OnboardingRejected, datatypes.OnboardingProvisioned:
	default:
		respondError(c, badRequest("unknown onboarding status %q", status), "Onboarding")
		return
	}
	list, err := h.store.ListOnboarding(c.Request.Context(), status)
	if err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	c.JSON(http.StatusOK, gin.H{"onboarding": list})
}

// ReviewOnboarding handles POST /api/admin/onboarding/:id/review.
//
// Only submitted records can be reviewed. The decision moves the record to
// approved or rejected and stamps the reviewer.
func (h *Handler) ReviewOnboarding(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.ReviewOnboardingRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	o, err := h.store.GetOnboarding(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	if o.Status != datatypes.OnboardingSubmitted {
		respondError(c, storage.ErrConflict, "Onboarding")
		return
	}

	now := h.now().UTC()
	o.Status = datatypes.OnboardingRejected
	if req.Decision == "approve" {
		o.Status = datatypes.OnboardingApproved
	}
	o.ReviewedBy = info.UserID
	o.ReviewedAt = &now
	o.ReviewNotes = strings.TrimSpace(req.Notes)
	if err := h.store.UpdateOnboarding(ctx, o, datatypes.OnboardingSubmitted); err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	c.JSON(http.StatusOK, o)
}

// ProvisionOnboarding handles POST /api/admin/onboarding/:id/provision.
//
// # Description
//
// Creates the client row for clerk_org_id from an approved record and
// marks the record provisioned, in one transaction.
//
// # Outputs
//
//   - 201: {"onboarding": ..., "client": ...}
//   - 404: Unknown onboarding id
//   - 409: The record is not approved, was already provisioned, or the
//     organization already has a client
func (h *Handler) ProvisionOnboarding(c *gin.Context) {
	ctx := c.Request.Context()
	info := session(c)

	var req datatypes.ProvisionRequest
	if err := bindJSON(c, &req, false); err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	o, err := h.store.GetOnboarding(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err, "Onboarding")
		return
	}
	if o.ProvisionedOrgID != "" || o.Status != datatypes.OnboardingApproved {
		respondError(c, storage.ErrConflict, "Onboarding")
		return
	}

	tier := req.Tier
	if tier == "" {
		tier = o.Tier
	}
	if tier == "" {
		tier = datatypes.TierPilot
	}
	client := &datatypes.Client{
		ClerkOrgID:     strings.TrimSpace(req.ClerkOrgID),
		CompanyName:    o.CompanyName,
		Industry:       o.Industry,
		CompanySize:    o.CompanySize,
		StrategicFocus: o.StrategicFocus,
		PainPoints:     o.PainPoints,
		TargetOutcomes: o.TargetOutcomes,
		Tier:           tier,
	}
	provisioned, err := h.store.ProvisionOnboarding(ctx, o.ID, client)
	if err != nil {
		respondError(c, err, "Onboarding")
		return
	}

	h.track(ctx, &extensions.AuthInfo{UserID: info.UserID, OrgID: client.ClerkOrgID}, extensions.EventOrgProvisioned, map[string]any{
		"onboarding_id": provisioned.ID,
		"tier":          client.Tier,
	})
	c.JSON(http.StatusCreated, gin.H{"onboarding": provisioned, "client": client})
}
