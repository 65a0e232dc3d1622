// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes caps a single chat message.
	MaxMessageContentBytes = 32 * 1024

	// MaxAnswerBytes caps one research answer.
	MaxAnswerBytes = 8 * 1024

	// DefaultConversationTitle is used when a conversation is created
	// without a title.
	DefaultConversationTitle = "New Strategy Session"

	// DefaultAgentType is used when a conversation is created without an
	// agent type.
	DefaultAgentType = "strategy_coach"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var (
	validate    *validator.Validate
	agentTypeRe = regexp.MustCompile(`^[a-z][a-z_]{0,63}$`)
)

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxMessageContentBytes
	})
	_ = validate.RegisterValidation("agenttype", func(fl validator.FieldLevel) bool {
		return agentTypeRe.MatchString(fl.Field().String())
	})
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate runs struct-tag validation on v.
//
// # Outputs
//
//   - error: nil, or an error whose message names the first failing field
//     by its JSON name and the rule it broke.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%s is required", field)
		case "oneof":
			return fmt.Errorf("%s must be one of: %s", field, fe.Param())
		case "maxbytes", "max":
			return fmt.Errorf("%s is too long", field)
		default:
			return fmt.Errorf("%s is invalid (%s)", field, fe.Tag())
		}
	}
	return err
}

// =============================================================================
// Conversations
// =============================================================================

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	Title     string `json:"title" validate:"max=200"`
	AgentType string `json:"agent_type" validate:"omitempty,agenttype"`
}

// EnsureDefaults fills the default title and agent type.
func (r *CreateConversationRequest) EnsureDefaults() {
	r.Title = strings.TrimSpace(r.Title)
	if r.Title == "" {
		r.Title = DefaultConversationTitle
	}
	if r.AgentType == "" {
		r.AgentType = DefaultAgentType
	}
}

// UpdateConversationRequest is the body of PATCH /api/conversations/:id.
//
// Only these three fields are recognised; anything else in the body is
// ignored by the JSON decoder.
type UpdateConversationRequest struct {
	Title        *string `json:"title" validate:"omitempty,min=1,max=200"`
	Status       *string `json:"status" validate:"omitempty,oneof=active archived completed"`
	CurrentPhase *string `json:"current_phase" validate:"omitempty,oneof=discovery research synthesis bets"`
}

// Empty reports whether no recognised field was supplied.
func (r UpdateConversationRequest) Empty() bool {
	return r.Title == nil && r.Status == nil && r.CurrentPhase == nil
}

// PhaseChangeRequest is the body of POST /api/conversations/:id/phase.
type PhaseChangeRequest struct {
	Phase           string `json:"phase" validate:"required,oneof=discovery research synthesis bets"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// ResearchContextRef names the research area active in the UI.
type ResearchContextRef struct {
	Territory    string `json:"territory" validate:"required,oneof=company customer competitor"`
	ResearchArea string `json:"research_area" validate:"required,max=64"`
}

// SendMessageRequest is the body of POST /api/conversations/:id/messages.
// An empty Message requests the opening message.
type SendMessageRequest struct {
	Message         string              `json:"message" validate:"maxbytes"`
	ResearchContext *ResearchContextRef `json:"research_context,omitempty"`
}

// =============================================================================
// Research
// =============================================================================

// SaveTerritoryRequest is the body of POST /api/territories. It replaces the
// whole record for its (conversation, territory, area) key.
type SaveTerritoryRequest struct {
	ConversationID  string         `json:"conversation_id" validate:"required,max=64"`
	Territory       string         `json:"territory" validate:"required,oneof=company customer competitor"`
	ResearchArea    string         `json:"research_area" validate:"required,max=64"`
	Responses       map[int]string `json:"responses" validate:"dive,max=8192"`
	Confidence      map[int]string `json:"confidence" validate:"dive,oneof=data experience guess"`
	Status          string         `json:"status" validate:"omitempty,oneof=unexplored in_progress mapped"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
}

// EnsureDefaults initialises nil maps and the status.
func (r *SaveTerritoryRequest) EnsureDefaults() {
	if r.Responses == nil {
		r.Responses = map[int]string{}
	}
	if r.Confidence == nil {
		r.Confidence = map[int]string{}
	}
	if r.Status == "" {
		r.Status = InsightInProgress
	}
}

// CoachSuggestionRequest asks for coaching on one research question.
type CoachSuggestionRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,max=64"`
	Territory      string `json:"territory" validate:"required,oneof=company customer competitor"`
	ResearchArea   string `json:"research_area" validate:"required,max=64"`
	QuestionIndex  int    `json:"question_index" validate:"min=0"`
	CurrentAnswer  string `json:"current_answer" validate:"max=8192"`
}

// =============================================================================
// Materials
// =============================================================================

// UploadURLRequest is the body of POST /api/upload/url.
type UploadURLRequest struct {
	URL            string `json:"url" validate:"required,url,max=2048"`
	ConversationID string `json:"conversation_id" validate:"required,max=64"`
}

// =============================================================================
// Strategy
// =============================================================================

// GenerateArtefactRequest is the body of POST /api/activation.
type GenerateArtefactRequest struct {
	Type           string `json:"type" validate:"required,oneof=team_brief guardrails okr_cascade decision_framework stakeholder_pack"`
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	BetID          string `json:"betId,omitempty" validate:"max=64"`
	Audience       string `json:"audience,omitempty" validate:"max=200"`
}

// CreateBetRequest is the body of POST /api/conversations/:id/bets.
type CreateBetRequest struct {
	Title           string `json:"title" validate:"required,max=200"`
	Hypothesis      string `json:"hypothesis" validate:"max=4000"`
	Territory       string `json:"territory,omitempty" validate:"omitempty,oneof=company customer competitor"`
	SuccessMetric   string `json:"success_metric,omitempty" validate:"max=1000"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// UpdateCanvasRequest is the body of PUT /api/conversations/:id/canvas/:section.
type UpdateCanvasRequest struct {
	Content         string `json:"content" validate:"max=8192"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// CreateStrategyDocumentRequest is the body of
// POST /api/conversations/:id/strategy-document.
type CreateStrategyDocumentRequest struct {
	Title          string   `json:"title" validate:"max=200"`
	SelectedBetIDs []string `json:"selected_bet_ids" validate:"required,min=1,dive,required,max=64"`
}

// =============================================================================
// Onboarding
// =============================================================================

// OnboardingRequest is the body of POST /api/onboarding.
type OnboardingRequest struct {
	CompanyName    string `json:"company_name" validate:"required,max=200"`
	ContactName    string `json:"contact_name" validate:"max=200"`
	ContactEmail   string `json:"contact_email" validate:"required,email,max=320"`
	Industry       string `json:"industry" validate:"max=200"`
	CompanySize    string `json:"company_size" validate:"max=100"`
	StrategicFocus string `json:"strategic_focus" validate:"max=4000"`
	PainPoints     string `json:"pain_points" validate:"max=4000"`
	TargetOutcomes string `json:"target_outcomes" validate:"max=4000"`
	Tier           string `json:"tier" validate:"omitempty,oneof=pilot standard enterprise"`
}

// UpdateOnboardingRequest is the body of PATCH /api/onboarding/:id.
type UpdateOnboardingRequest struct {
	CompanyName    *string `json:"company_name" validate:"omitempty,min=1,max=200"`
	ContactName    *string `json:"contact_name" validate:"omitempty,max=200"`
	ContactEmail   *string `json:"contact_email" validate:"omitempty,email,max=320"`
	Industry       *string `json:"industry" validate:"omitempty,max=200"`
	CompanySize    *string `json:"company_size" validate:"omitempty,max=100"`
	StrategicFocus *string `json:"strategic_focus" validate:"omitempty,max=4000"`
	PainPoints     *string `json:"pain_points" validate:"omitempty,max=4000"`
	TargetOutcomes *string `json:"target_outcomes" validate:"omitempty,max=4000"`
	Tier           *string `json:"tier" validate:"omitempty,oneof=pilot standard enterprise"`
}

// Apply copies every supplied field onto o.
func (r UpdateOnboardingRequest) Apply(o *ClientOnboarding) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&o.CompanyName, r.CompanyName)
	set(&o.ContactName, r.ContactName)
	set(&o.ContactEmail, r.ContactEmail)
	set(&o.Industry, r.Industry)
	set(&o.CompanySize, r.CompanySize)
	set(&o.StrategicFocus, r.StrategicFocus)
	set(&o.PainPoints, r.PainPoints)
	set(&o.TargetOutcomes, r.TargetOutcomes)
	set(&o.Tier, r.Tier)
}

// ReviewOnboardingRequest is the body of the admin review endpoint.
type ReviewOnboardingRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Notes    string `json:"notes" validate:"max=4000"`
}

// ProvisionRequest is the body of the admin provision endpoint.
type ProvisionRequest struct {
	ClerkOrgID string `json:"clerk_org_id" validate:"required,max=128"`
	Tier       string `json:"tier" validate:"omitempty,oneof=pilot standard enterprise"`
}

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error          string `json:"error"`
	CurrentVersion *int64 `json:"current_version,omitempty"`
}
