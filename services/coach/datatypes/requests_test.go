// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCreateConversationRequest_EnsureDefaults(t *testing.T) {
	var req CreateConversationRequest
	require.NoError(t, json.Unmarshal([]byte(`{}`), &req))
	require.NoError(t, Validate(req))

	req.EnsureDefaults()

	assert.Equal(t, DefaultConversationTitle, req.Title)
	assert.Equal(t, DefaultAgentType, req.AgentType)
}

func TestCreateConversationRequest_AgentTypeValidation(t *testing.T) {
	assert.NoError(t, Validate(CreateConversationRequest{AgentType: "profiling"}))
	assert.NoError(t, Validate(CreateConversationRequest{AgentType: "market_research"}))

	err := Validate(CreateConversationRequest{AgentType: "Drop Table"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_type")
}

func TestUpdateConversationRequest_IgnoresUnknownFields(t *testing.T) {
	var req UpdateConversationRequest
	require.NoError(t, json.Unmarshal([]byte(`{"title":"x","unknownField":1}`), &req))

	require.NoError(t, Validate(req))
	require.NotNil(t, req.Title)
	assert.Equal(t, "x", *req.Title)
	assert.Nil(t, req.Status)
	assert.Nil(t, req.CurrentPhase)
	assert.False(t, req.Empty())
}

func TestUpdateConversationRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     UpdateConversationRequest
		wantErr string
	}{
		{"valid status", UpdateConversationRequest{Status: strPtr("archived")}, ""},
		{"bad status", UpdateConversationRequest{Status: strPtr("deleted")}, "status must be one of"},
		{"bad phase", UpdateConversationRequest{CurrentPhase: strPtr("launch")}, "current_phase must be one of"},
		{"long title", UpdateConversationRequest{Title: strPtr(strings.Repeat("t", 201))}, "title is too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.True(t, UpdateConversationRequest{}.Empty())
}

func TestSendMessageRequest_MaxBytes(t *testing.T) {
	assert.NoError(t, Validate(SendMessageRequest{Message: ""}))
	assert.Error(t, Validate(SendMessageRequest{Message: strings.Repeat("a", MaxMessageContentBytes+1)}))

	err := Validate(SendMessageRequest{Message: "hi", ResearchContext: &ResearchContextRef{Territory: "moon", ResearchArea: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "territory")
}

func TestSaveTerritoryRequest(t *testing.T) {
	var req SaveTerritoryRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"conversation_id":"c1","territory":"customer","research_area":"needs",
		"responses":{"0":"a","2":"c"},"confidence":{"0":"data"}}`), &req))

	require.NoError(t, Validate(req))
	req.EnsureDefaults()

	assert.Equal(t, map[int]string{0: "a", 2: "c"}, req.Responses)
	assert.Equal(t, InsightInProgress, req.Status)

	req.Confidence[1] = "hunch"
	assert.Error(t, Validate(req))
}

func TestGenerateArtefactRequest_CamelCase(t *testing.T) {
	var req GenerateArtefactRequest
	require.NoError(t, json.Unmarshal([]byte(`{"type":"okr_cascade","conversationId":"c1","betId":"b1"}`), &req))

	require.NoError(t, Validate(req))
	assert.Equal(t, "c1", req.ConversationID)
	assert.Equal(t, "b1", req.BetID)

	req.Type = "memo"
	assert.Error(t, Validate(req))
}

func TestOnboardingRequest_Validation(t *testing.T) {
	ok := OnboardingRequest{CompanyName: "Acme", ContactEmail: "ceo@acme.test"}
	assert.NoError(t, Validate(ok))

	bad := ok
	bad.ContactEmail = "not-an-email"
	assert.Error(t, Validate(bad))

	missing := ok
	missing.CompanyName = ""
	err := Validate(missing)
	require.Error(t, err)
	assert.Equal(t, "company_name is required", err.Error())
}

func TestUpdateOnboardingRequest_Apply(t *testing.T) {
	o := &ClientOnboarding{CompanyName: "Acme", Industry: "Retail"}

	UpdateOnboardingRequest{Industry: strPtr(" Healthcare "), Tier: strPtr("pilot")}.Apply(o)

	assert.Equal(t, "Acme", o.CompanyName)
	assert.Equal(t, "Healthcare", o.Industry)
	assert.Equal(t, "pilot", o.Tier)
}
