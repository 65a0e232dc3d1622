// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontera-labs/frontera/pkg/extensions"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
)

func saveTerritory(t *testing.T, env *testEnv, body map[string]any) *datatypes.TerritoryInsight {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/territories", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var insight datatypes.TerritoryInsight
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &insight))
	return &insight
}

// ============================================================================
// Territories
// ============================================================================

func TestSaveTerritory_VersionedWrites(t *testing.T) {
	env := newTestEnv(t)
	conv := env.createConversation(t, framework.AgentStrategyCoach)
	body := map[string]any{
		"conversation_id":  conv.ID,
		"territory":        "company",
		"research_area":    "core_capabilities",
		"responses":        map[string]string{"0": "Firmware", "1": "Supply chain"},
		"confidence":       map[string]string{"1": "experience"},
		"expected_version": 0,
	}

	insight := saveTerritory(t, env, body)
	assert.EqualValues(t, 1, insight.Version)
	assert.Equal(t, "Firmware", insight.Responses[0])
	assert.Equal(t, "experience", insight.Confidence[1])

	// Create-only write of an existing record.
	w := env.do(t, http.MethodPost, "/api/territories", body)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	resp := decodeError(t, w)
	require.NotNil(t, resp.CurrentVersion)
	assert.EqualValues(t, 1, *resp.CurrentVersion)

	body["expected_version"] = 1
	body["status"] = "mapped"
	insight = saveTerritory(t, env, body)
	assert.EqualValues(t, 2, insight.Version)
	assert.Equal(t, datatypes.InsightMapped, insight.Status)

	// Last write wins without expected_version.
	delete(body, "expected_version")
	insight = saveTerritory(t, env, body)
	assert.EqualValues(t, 3, insight.Version)

	cs := env.coachState(t, conv.ID)
	assert.NotEmpty(t, cs.Pillars)
	assert.Contains(t, env.sink.names(), extensions.EventTerritorySaved)
}

func TestSaveTerritory_Validation(t *testing.T) {
	env := newTestEnv(t)
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown territory", map[string]any{"conversation_id": conv.ID, "territory": "market", "research_area": "x"}, http.StatusBadRequest},
		{"unknown area", map[string]any{"conversation_id": conv.ID, "territory": "company", "research_area": "x"}, http.StatusBadRequest},
		{"question out of range", map[string]any{
			"conversation_id": conv.ID, "territory": "company", "research_area": "core_capabilities",
			"responses": map[string]string{"99": "no"},
		}, http.StatusBadRequest},
		{"confidence out of range", map[string]any{
			"conversation_id": conv.ID, "territory": "company", "research_area": "core_capabilities",
			"responses":  map[string]string{"0": "Process engineering"},
			"confidence": map[string]string{"0": "data", "42": "guess"},
		}, http.StatusBadRequest},
		{"negative confidence index", map[string]any{
			"conversation_id": conv.ID, "territory": "company", "research_area": "core_capabilities",
			"confidence": map[string]string{"-1": "data"},
		}, http.StatusBadRequest},
		{"unknown conversation", map[string]any{"conversation_id": "missing", "territory": "company", "research_area": "core_capabilities"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/territories", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestCoachSuggestion(t *testing.T) {
	env := newTestEnv(t)
	env.llm.generated = "  Think about what only you can build.  "
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	w := env.do(t, http.MethodPost, "/api/territories/coach-suggestion", map[string]any{
		"conversation_id": conv.ID,
		"territory":       "company",
		"research_area":   "core_capabilities",
		"question_index":  0,
		"current_answer":  "We are good at stuff",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"suggestion":"Think about what only you can build."}`, w.Body.String())
	assert.Contains(t, env.llm.lastPrompt, "We are good at stuff")
}

// ============================================================================
// Synthesis and artefacts
// ============================================================================

func TestGenerateSynthesis(t *testing.T) {
	env := newTestEnv(t)
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	w := env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/synthesis", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "no research yet")

	w = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/synthesis", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	saveTerritory(t, env, map[string]any{
		"conversation_id": conv.ID,
		"territory":       "customer",
		"research_area":   "segments",
		"responses":       map[string]string{"0": "Mid-size plants"},
	})

	env.llm.generated = "Here you go:\n```json\n{\"key_insights\":[\"a\"],\"tensions\":[],\"opportunities\":[],\"strategic_themes\":[]}\n```"
	w = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/synthesis", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out datatypes.SynthesisOutput
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, out.Structured)
	assert.Contains(t, out.Content, "key_insights")
	assert.Contains(t, env.llm.lastPrompt, "Mid-size plants")

	w = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/synthesis", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "key_insights")
}

func TestGenerateSynthesis_LLMFailure(t *testing.T) {
	env := newTestEnv(t)
	conv := env.createConversation(t, framework.AgentStrategyCoach)
	saveTerritory(t, env, map[string]any{
		"conversation_id": conv.ID,
		"territory":       "customer",
		"research_area":   "segments",
		"responses":       map[string]string{"0": "Mid-size plants"},
	})
	env.llm.genErr = errors.New("overloaded")

	w := env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/synthesis", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, genericError, decodeError(t, w).Error)
}

type artefactResponse struct {
	Artefact datatypes.StrategicArtefact `json:"artefact"`
	ShareURL string                      `json:"share_url"`
}

func TestGenerateArtefact_RawFallbackAndShare(t *testing.T) {
	env := newTestEnv(t)
	env.llm.generated = "I could not produce JSON, but here is a brief in prose."
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	w := env.do(t, http.MethodPost, "/api/activation", map[string]any{
		"type":           datatypes.ArtefactTeamBrief,
		"conversationId": conv.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp artefactResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Artefact.Structured)
	assert.Equal(t, env.llm.generated, resp.Artefact.Content["raw"])
	assert.Len(t, resp.Artefact.ShareToken, 32)
	assert.True(t, strings.HasSuffix(resp.ShareURL, resp.Artefact.ShareToken))
	assert.Contains(t, env.sink.names(), extensions.EventArtefactGenerated)

	w = env.do(t, http.MethodGet, "/api/share/"+resp.Artefact.ShareToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var shared map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &shared))
	assert.Equal(t, "Team Brief", shared["title"])
	assert.NotContains(t, shared, "clerk_org_id")

	w = env.do(t, http.MethodGet, "/api/share/"+strings.Repeat("0", 32), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGenerateArtefact_StructuredWithMissingFields(t *testing.T) {
	env := newTestEnv(t)
	env.llm.generated = `{"summary":"Win mid-size plants","objectives":["grow"]}`
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	w := env.do(t, http.MethodPost, "/api/activation", map[string]any{
		"type":           datatypes.ArtefactTeamBrief,
		"conversationId": conv.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp artefactResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Artefact.Structured)
	assert.Equal(t, []string{"priorities", "success_metrics"}, resp.Artefact.MissingFields)

	w = env.do(t, http.MethodGet, "/api/activation?conversationId="+conv.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Artefacts []datatypes.StrategicArtefact `json:"artefacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Artefacts, 1)
}

func TestGenerateArtefact_Errors(t *testing.T) {
	env := newTestEnv(t)
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"unknown type", map[string]any{"type": "memo", "conversationId": conv.ID}, http.StatusBadRequest},
		{"missing conversation", map[string]any{"type": datatypes.ArtefactGuardrails}, http.StatusBadRequest},
		{"unknown conversation", map[string]any{"type": datatypes.ArtefactGuardrails, "conversationId": "nope"}, http.StatusNotFound},
		{"unknown bet", map[string]any{"type": datatypes.ArtefactGuardrails, "conversationId": conv.ID, "betId": "nope"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/activation", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := env.do(t, http.MethodGet, "/api/activation", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ============================================================================
// Bets, canvas and strategy document
// ============================================================================

func TestBetsCanvasAndStrategyDocument(t *testing.T) {
	env := newTestEnv(t)
	env.llm.generated = `{"principles":[],"boundaries":[],"decision_rights":[]}`
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	w := env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/bets", map[string]any{
		"title":      "Own mid-size plants",
		"hypothesis": "We believe a turnkey kit will double conversion",
		"territory":  "customer",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Bet          framework.Bet          `json:"bet"`
		Conversation datatypes.Conversation `json:"conversation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Bet.ID)
	assert.Contains(t, env.sink.names(), extensions.EventBetCreated)

	w = env.do(t, http.MethodPut, "/api/conversations/"+conv.ID+"/canvas/where_to_play", map[string]any{
		"content":          "Mid-size discrete manufacturers in the EU",
		"expected_version": created.Conversation.Version,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/conversations/"+conv.ID+"/canvas/mission", map[string]any{"content": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown canvas section")

	w = env.do(t, http.MethodPut, "/api/conversations/"+conv.ID+"/canvas/how_to_win", map[string]any{
		"content":          "Turnkey kits",
		"expected_version": created.Conversation.Version,
	})
	assert.Equal(t, http.StatusConflict, w.Code, "stale version")

	// Artefact scoped to one bet.
	w = env.do(t, http.MethodPost, "/api/activation", map[string]any{
		"type":           datatypes.ArtefactGuardrails,
		"conversationId": conv.ID,
		"betId":          created.Bet.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, env.llm.lastPrompt, "Own mid-size plants")

	w = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/strategy-document", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/strategy-document", map[string]any{
		"title":            "FY26 Strategy",
		"selected_bet_ids": []string{created.Bet.ID, "gone"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc datatypes.StrategyDocument
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "FY26 Strategy", doc.Title)
	assert.Equal(t, []any{"gone"}, doc.DocumentContent["missing_bet_ids"])
	canvas, ok := doc.DocumentContent["canvas"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Mid-size discrete manufacturers in the EU", canvas["where_to_play"])

	w = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/strategy-document", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "FY26 Strategy")
}

func TestCreateBet_Validation(t *testing.T) {
	env := newTestEnv(t)
	conv := env.createConversation(t, framework.AgentStrategyCoach)

	w := env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/bets", map[string]any{"hypothesis": "no title"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	prof := env.createConversation(t, framework.AgentProfiling)
	w = env.do(t, http.MethodPost, "/api/conversations/"+prof.ID+"/bets", map[string]any{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
