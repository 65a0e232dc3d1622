// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontera-labs/frontera/services/coach/artefacts"
	"github.com/frontera-labs/frontera/services/coach/clientctx"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/research"
)

var acme = &clientctx.ClientContext{CompanyName: "Acme", Industry: "Healthcare"}

func TestBuildSystemPrompt_Coach(t *testing.T) {
	state := &framework.CoachState{
		Version: 1,
		Phase:   framework.PhaseBets,
		Pillars: map[string]framework.PillarProgress{"customer": {Status: framework.PillarMapped, CompletedAreas: []string{"needs"}}},
		Bets:    []framework.Bet{{ID: "b1", Title: "Win clinics", Hypothesis: "We believe..."}},
	}
	rc := research.FormatResearchContextForPrompt(research.TerritoryCustomer, "needs", nil, research.ToolCapture)

	prompt := BuildSystemPrompt(SystemPromptInput{
		AgentType: framework.AgentStrategyCoach,
		Client:    acme,
		State:     state,
		Materials: []datatypes.UploadedMaterial{
			{Filename: "plan.pdf", ProcessingStatus: datatypes.MaterialCompleted,
				ExtractedContext: &datatypes.ExtractedContext{Text: "Revenue grew 20%"}},
			{Filename: "pending.docx", ProcessingStatus: datatypes.MaterialPending},
		},
		ResearchContext: rc,
		Mode:            research.ToolCapture,
	})

	assert.Contains(t, prompt, "Playing to Win")
	assert.Contains(t, prompt, "- Company: Acme")
	assert.Contains(t, prompt, "Current Phase: Strategic Bets")
	assert.Contains(t, prompt, "customer territory: mapped (completed: needs)")
	assert.Contains(t, prompt, "Bet: Win clinics")
	assert.Contains(t, prompt, framework.ToolProposeBet)
	assert.Contains(t, prompt, "### plan.pdf\nRevenue grew 20%")
	assert.NotContains(t, prompt, "pending.docx")
	assert.Contains(t, prompt, "Active Research Area")
}

func TestBuildSystemPrompt_ProfilingAndOther(t *testing.T) {
	profile := BuildSystemPrompt(SystemPromptInput{AgentType: framework.AgentProfiling, State: framework.Initial(framework.AgentProfiling)})
	assert.Contains(t, profile, "[PROFILE_SUMMARY]")
	assert.NotContains(t, profile, "Client Context")

	other := BuildSystemPrompt(SystemPromptInput{AgentType: "market_scan", State: framework.Initial("market_scan")})
	assert.True(t, strings.HasPrefix(other, genericPersona))
}

func TestBuildSystemPrompt_MaterialsCap(t *testing.T) {
	big := strings.Repeat("x", MaxMaterialsChars-10)
	prompt := BuildSystemPrompt(SystemPromptInput{
		AgentType: framework.AgentStrategyCoach,
		State:     framework.Initial(framework.AgentStrategyCoach),
		Materials: []datatypes.UploadedMaterial{
			{Filename: "a.txt", ProcessingStatus: datatypes.MaterialCompleted, ExtractedContext: &datatypes.ExtractedContext{Text: big}},
			{Filename: "b.txt", ProcessingStatus: datatypes.MaterialCompleted, ExtractedContext: &datatypes.ExtractedContext{Text: "more than ten characters"}},
		},
	})

	assert.Contains(t, prompt, "### a.txt")
	assert.NotContains(t, prompt, "### b.txt")
	assert.Contains(t, prompt, "Also uploaded (not shown): b.txt")
}

func TestOpeningMessage(t *testing.T) {
	assert.Contains(t, OpeningMessage(framework.AgentStrategyCoach, acme), "Acme's strategy")
	assert.Contains(t, OpeningMessage(framework.AgentProfiling, nil), "your organisation")
	assert.Equal(t, "Hi! How can I help Acme today?", OpeningMessage("market_scan", acme))
}

func TestArtefactPrompt(t *testing.T) {
	bets := []framework.Bet{
		{ID: "b1", Title: "Win clinics", Hypothesis: "h1", SuccessMetric: "20 clinics"},
		{ID: "b2", Title: "Exit retail"},
	}
	for _, typ := range datatypes.ArtefactTypes {
		prompt, err := ArtefactPrompt(typ, ArtefactInput{CompanyName: "Acme", Bets: bets})
		require.NoError(t, err, typ)
		for _, key := range artefacts.RequiredFields(typ) {
			assert.Contains(t, prompt, key, typ)
		}
		assert.Contains(t, prompt, "Win clinics")
	}

	one, err := ArtefactPrompt(datatypes.ArtefactTeamBrief, ArtefactInput{Bets: bets, Bet: &bets[1],
		Audience: "engineering leads", Synthesis: map[string]any{"key_insights": []any{"k"}}})
	require.NoError(t, err)
	assert.NotContains(t, one, "Win clinics")
	assert.Contains(t, one, "Exit retail")
	assert.Contains(t, one, "engineering leads")
	assert.Contains(t, one, `"key_insights"`)

	_, err = ArtefactPrompt("press_release", ArtefactInput{})
	assert.Error(t, err)
}

func TestSynthesisPrompt(t *testing.T) {
	prompt := SynthesisPrompt("Acme", []datatypes.TerritoryInsight{
		{Territory: "customer", ResearchArea: "needs", Responses: map[int]string{1: "Slow exports", 0: "Clinics", 9: "ignored"},
			Confidence: map[int]string{1: "guess"}},
		{Territory: "company", ResearchArea: "performance", Responses: map[int]string{0: "  "}},
		{Territory: "moon", ResearchArea: "x", Responses: map[int]string{0: "nope"}},
	})

	area := research.GetResearchArea(research.TerritoryCustomer, "needs")
	assert.Less(t, strings.Index(prompt, "A: Clinics"), strings.Index(prompt, "A: Slow exports"))
	assert.Contains(t, prompt, "Q: "+area.Questions[1])
	assert.Contains(t, prompt, "(confidence: guess)")
	assert.NotContains(t, prompt, "ignored")
	assert.NotContains(t, prompt, "nope")
	assert.NotContains(t, prompt, "company /")
	for _, k := range SynthesisKeys {
		assert.Contains(t, prompt, k)
	}

	assert.Contains(t, SynthesisPrompt("", nil), "(no research captured yet)")
}

func TestCoachSuggestionPrompt(t *testing.T) {
	prompt, err := CoachSuggestionPrompt("Acme", research.TerritoryCompany, "performance", 0, "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "(no answer yet)")

	_, err = CoachSuggestionPrompt("Acme", research.TerritoryCompany, "performance", 99, "")
	assert.Error(t, err)
	_, err = CoachSuggestionPrompt("Acme", research.TerritoryCompany, "nope", 0, "")
	assert.Error(t, err)
}
