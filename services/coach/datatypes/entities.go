// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the coaching service.
//
// This file contains the persisted entities. Request and response bodies
// live in requests.go.
//
// Empty strings stand for NULL in optional text columns; the storage layer
// writes NULL for "" and reads NULL back as "".
package datatypes

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Enumerations
// =============================================================================

// Conversation statuses.
const (
	ConversationActive    = "active"
	ConversationArchived  = "archived"
	ConversationCompleted = "completed"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Material processing statuses.
const (
	MaterialPending    = "pending"
	MaterialProcessing = "processing"
	MaterialCompleted  = "completed"
	MaterialFailed     = "failed"
)

// Territory insight statuses.
const (
	InsightUnexplored = "unexplored"
	InsightInProgress = "in_progress"
	InsightMapped     = "mapped"
)

// Onboarding statuses.
const (
	OnboardingDraft       = "draft"
	OnboardingSubmitted   = "submitted"
	OnboardingApproved    = "approved"
	OnboardingRejected    = "rejected"
	OnboardingProvisioned = "provisioned"
)

// Client tiers.
const (
	TierPilot      = "pilot"
	TierStandard   = "standard"
	TierEnterprise = "enterprise"
)

// Artefact types.
const (
	ArtefactTeamBrief         = "team_brief"
	ArtefactGuardrails        = "guardrails"
	ArtefactOKRCascade        = "okr_cascade"
	ArtefactDecisionFramework = "decision_framework"
	ArtefactStakeholderPack   = "stakeholder_pack"
)

// ArtefactTypes lists every artefact type in display order.
var ArtefactTypes = []string{
	ArtefactTeamBrief,
	ArtefactGuardrails,
	ArtefactOKRCascade,
	ArtefactDecisionFramework,
	ArtefactStakeholderPack,
}

// =============================================================================
// Tenants
// =============================================================================

// Client is one tenant organisation.
type Client struct {
	ID                  string         `json:"id"`
	ClerkOrgID          string         `json:"clerk_org_id"`
	CompanyName         string         `json:"company_name"`
	Industry            string         `json:"industry,omitempty"`
	CompanySize         string         `json:"company_size,omitempty"`
	StrategicFocus      string         `json:"strategic_focus,omitempty"`
	PainPoints          string         `json:"pain_points,omitempty"`
	TargetOutcomes      string         `json:"target_outcomes,omitempty"`
	Tier                string         `json:"tier"`
	CoachingPreferences map[string]any `json:"coaching_preferences,omitempty"`
	OnboardingID        string         `json:"onboarding_id,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// ClientOnboarding is a pre-tenant lead-capture record.
//
// Status moves draft -> submitted -> approved|rejected, and approved ->
// provisioned. ProvisionedOrgID is set at most once.
type ClientOnboarding struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	CompanyName      string     `json:"company_name"`
	ContactName      string     `json:"contact_name,omitempty"`
	ContactEmail     string     `json:"contact_email"`
	Industry         string     `json:"industry,omitempty"`
	CompanySize      string     `json:"company_size,omitempty"`
	StrategicFocus   string     `json:"strategic_focus,omitempty"`
	PainPoints       string     `json:"pain_points,omitempty"`
	TargetOutcomes   string     `json:"target_outcomes,omitempty"`
	Tier             string     `json:"tier,omitempty"`
	ReviewNotes      string     `json:"review_notes,omitempty"`
	ReviewedBy       string     `json:"reviewed_by,omitempty"`
	ProvisionedOrgID string     `json:"provisioned_org_id,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	ProvisionedAt    *time.Time `json:"provisioned_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// =============================================================================
// Conversations
// =============================================================================

// Conversation is one coaching thread owned by an org and a user.
//
// FrameworkState is the per-agent-type state document; the framework
// package owns its shape. Version increments on every update and is the
// optimistic concurrency token.
type Conversation struct {
	ID             string          `json:"id"`
	ClerkOrgID     string          `json:"clerk_org_id"`
	UserID         string          `json:"user_id"`
	Title          string          `json:"title"`
	AgentType      string          `json:"agent_type"`
	Status         string          `json:"status"`
	CurrentPhase   string          `json:"current_phase,omitempty"`
	FrameworkState json.RawMessage `json:"framework_state"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ConversationMessage is immutable once inserted.
type ConversationMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	TokenCount     int            `json:"token_count"`
	CreatedAt      time.Time      `json:"created_at"`
}

// =============================================================================
// Materials
// =============================================================================

// ExtractedContext is the text pulled from an uploaded file or URL.
type ExtractedContext struct {
	Text           string `json:"text"`
	OriginalLength int    `json:"original_length"`
	Truncated      bool   `json:"truncated"`

	// Redactions counts spans replaced before storage.
	Redactions int `json:"redactions,omitempty"`
}

// UploadedMaterial is one uploaded file or fetched URL.
type UploadedMaterial struct {
	ID               string            `json:"id"`
	ConversationID   string            `json:"conversation_id"`
	ClerkOrgID       string            `json:"clerk_org_id"`
	UploadedBy       string            `json:"uploaded_by"`
	Filename         string            `json:"filename"`
	FileType         string            `json:"file_type"`
	FileSize         int64             `json:"file_size"`
	SourceURL        string            `json:"source_url,omitempty"`
	ProcessingStatus string            `json:"processing_status"`
	ExtractedContext *ExtractedContext `json:"extracted_context,omitempty"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// =============================================================================
// Research
// =============================================================================

// TerritoryInsight holds the answers for one research area of one
// conversation. Responses and Confidence are keyed by question index and
// are always replaced whole.
type TerritoryInsight struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ClerkOrgID     string         `json:"clerk_org_id"`
	Territory      string         `json:"territory"`
	ResearchArea   string         `json:"research_area"`
	Responses      map[int]string `json:"responses"`
	Confidence     map[int]string `json:"confidence"`
	Status         string         `json:"status"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// =============================================================================
// Generated documents
// =============================================================================

// SynthesisOutput is an LLM-generated synthesis of the research.
// The latest row by CreatedAt is current.
type SynthesisOutput struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ClerkOrgID     string         `json:"clerk_org_id"`
	Content        map[string]any `json:"content"`
	Structured     bool           `json:"structured"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

// StrategicArtefact is one generated artefact.
//
// Structured is false when the model output could not be parsed as JSON
// and Content holds {"raw": text}. MissingFields lists required keys the
// parsed content lacked.
type StrategicArtefact struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	ClerkOrgID     string         `json:"clerk_org_id"`
	ArtefactType   string         `json:"artefact_type"`
	BetID          string         `json:"bet_id,omitempty"`
	Audience       string         `json:"audience,omitempty"`
	Title          string         `json:"title"`
	Content        map[string]any `json:"content"`
	Structured     bool           `json:"structured"`
	MissingFields  []string       `json:"missing_fields,omitempty"`
	ShareToken     string         `json:"share_token"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

// StrategyDocument is the assembled strategy draft. DocumentContent is a
// snapshot; SelectedBetIDs are not enforced against the bets.
type StrategyDocument struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	ClerkOrgID      string         `json:"clerk_org_id"`
	Title           string         `json:"title"`
	SelectedBetIDs  []string       `json:"selected_bet_ids"`
	DocumentContent map[string]any `json:"document_content"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
}
