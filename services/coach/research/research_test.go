// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package research

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Catalog Tests
// =============================================================================

func TestCatalog_Shape(t *testing.T) {
	cat := Catalog()

	require.Len(t, cat, 3)
	assert.Equal(t, TerritoryCompany, cat[0].ID)
	assert.Equal(t, TerritoryCustomer, cat[1].ID)
	assert.Equal(t, TerritoryCompetitor, cat[2].ID)

	seen := map[string]bool{}
	for _, terr := range cat {
		assert.Len(t, terr.Areas, 3, terr.ID)
		for _, a := range terr.Areas {
			assert.False(t, seen[a.ID], "area ids must be unique: %s", a.ID)
			seen[a.ID] = true
			assert.GreaterOrEqual(t, len(a.Questions), 3, a.ID)
			assert.LessOrEqual(t, len(a.Questions), 4, a.ID)
		}
	}
	assert.Equal(t, 9, AreaCount())
}

func TestCatalog_ReturnsCopy(t *testing.T) {
	cat := Catalog()
	cat[0].Areas[0].Title = "mutated"

	assert.NotEqual(t, "mutated", GetResearchArea(TerritoryCompany, "core_capabilities").Title)
}

func TestGetResearchArea(t *testing.T) {
	area := GetResearchArea(TerritoryCustomer, "needs")
	require.NotNil(t, area)
	assert.Equal(t, "Jobs, Needs & Pain Points", area.Title)

	assert.Nil(t, GetResearchArea(TerritoryCustomer, "landscape"), "area from another territory")
	assert.Nil(t, GetResearchArea("nowhere", "needs"))
	assert.Nil(t, GetResearchArea(TerritoryCustomer, ""))
}

func TestValidQuestionIndex(t *testing.T) {
	assert.True(t, ValidQuestionIndex(TerritoryCompany, "core_capabilities", 0))
	assert.True(t, ValidQuestionIndex(TerritoryCompany, "core_capabilities", 3))
	assert.False(t, ValidQuestionIndex(TerritoryCompany, "core_capabilities", 4))
	assert.False(t, ValidQuestionIndex(TerritoryCompany, "core_capabilities", -1))
	assert.False(t, ValidQuestionIndex(TerritoryCompany, "bogus", 0))
}

// =============================================================================
// Prompt Tests
// =============================================================================

func TestFormatResearchContextForPrompt_Markers(t *testing.T) {
	out := FormatResearchContextForPrompt(TerritoryCompany, "performance",
		map[int]string{1: "  Churn is up 4% QoQ "}, MarkerCapture)

	assert.Contains(t, out, "Company Territory / Current Performance")
	assert.Contains(t, out, "[0] Which metrics does leadership watch")
	assert.Contains(t, out, "Current answer: Churn is up 4% QoQ\n")
	assert.Equal(t, 2, strings.Count(out, "(not yet answered)"))
	assert.Contains(t, out, "1 of 3 questions answered")
	assert.Contains(t, out, "[ResearchCapture:company:performance:<index>:<answer>]")
	assert.Contains(t, out, "[AreaComplete:company:performance]")
	assert.NotContains(t, out, ToolRecordAnswer)
}

func TestFormatResearchContextForPrompt_Tools(t *testing.T) {
	out := FormatResearchContextForPrompt(TerritoryCompetitor, "trends", nil, ToolCapture)

	assert.Contains(t, out, ToolRecordAnswer)
	assert.Contains(t, out, ToolMarkComplete)
	assert.NotContains(t, out, "[ResearchCapture:")
	assert.Equal(t, 3, strings.Count(out, "(not yet answered)"))
}

func TestFormatResearchContextForPrompt_UnknownArea(t *testing.T) {
	assert.Empty(t, FormatResearchContextForPrompt(TerritoryCompany, "needs", nil, ToolCapture))
}

// =============================================================================
// Marker Tests
// =============================================================================

func TestParseMarkers(t *testing.T) {
	text := "Great, thanks.\n" +
		"[ResearchCapture:customer:needs:0:Automate month-end reconciliation]\n" +
		"[ResearchCapture:customer:needs:1:Manual exports: slow, error-prone]\n" +
		"[AreaComplete:customer:needs]\n" +
		"[PROFILE_SUMMARY]\nMid-size fintech.\n[/PROFILE_SUMMARY]"

	m := ParseMarkers(text)

	require.Len(t, m.Captures, 2)
	assert.Equal(t, Capture{Territory: TerritoryCustomer, Area: "needs", QuestionIndex: 0,
		Answer: "Automate month-end reconciliation"}, m.Captures[0])
	assert.Equal(t, "Manual exports: slow, error-prone", m.Captures[1].Answer)
	assert.Equal(t, []AreaRef{{Territory: TerritoryCustomer, Area: "needs"}}, m.Completed)
	assert.Equal(t, "Mid-size fintech.", m.ProfileSummary)
	assert.Empty(t, m.Malformed)
}

func TestParseMarkers_ReportsMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing index", "[ResearchCapture:customer:needs:Only text]"},
		{"unterminated", "ok [ResearchCapture:customer:needs:0:never closed\nmore"},
		{"unknown area", "[ResearchCapture:customer:landscape:0:x]"},
		{"index out of range", "[ResearchCapture:customer:needs:9:x]"},
		{"empty answer", "[ResearchCapture:customer:needs:0:  ]"},
		{"bad complete", "[AreaComplete:customer]"},
		{"unknown complete", "[AreaComplete:customer:nowhere]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ParseMarkers(tt.text)
			assert.Empty(t, m.Captures)
			assert.Empty(t, m.Completed)
			require.Len(t, m.Malformed, 1)
			assert.False(t, m.Empty())
		})
	}
}

func TestParseMarkers_NoMarkers(t *testing.T) {
	assert.True(t, ParseMarkers("Just a normal reply.").Empty())
}

func TestStripMarkers(t *testing.T) {
	text := "Thanks!\n\n[ResearchCapture:company:performance:0:ARR]\n\n\n[AreaComplete:company:performance]\nNext question?" +
		"[PROFILE_SUMMARY]secret[/PROFILE_SUMMARY]"

	assert.Equal(t, "Thanks!\n\nNext question?", StripMarkers(text))
}

// =============================================================================
// Tool Tests
// =============================================================================

func TestCaptureTools(t *testing.T) {
	tools := CaptureTools()

	require.Len(t, tools, 2)
	assert.Equal(t, ToolRecordAnswer, tools[0].Name)
	assert.Equal(t, ToolMarkComplete, tools[1].Name)

	raw, err := json.Marshal(tools[0].InputSchema)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"core_capabilities"`)
	assert.Contains(t, string(raw), `"question_index"`)
}

func TestParseToolCall_RecordAnswer(t *testing.T) {
	res, err := ParseToolCall(ToolRecordAnswer, json.RawMessage(
		`{"territory":"competitor","research_area":"landscape","question_index":2,"answer":" Incumbent X ","confidence":"data"}`))

	require.NoError(t, err)
	require.NotNil(t, res.Capture)
	assert.Nil(t, res.Complete)
	assert.Equal(t, Capture{Territory: TerritoryCompetitor, Area: "landscape", QuestionIndex: 2,
		Answer: "Incumbent X", Confidence: ConfidenceData}, *res.Capture)
}

func TestParseToolCall_DropsUnknownConfidence(t *testing.T) {
	res, err := ParseToolCall(ToolRecordAnswer, json.RawMessage(
		`{"territory":"company","research_area":"performance","question_index":0,"answer":"a","confidence":"vibes"}`))

	require.NoError(t, err)
	assert.Empty(t, res.Capture.Confidence)
}

func TestParseToolCall_Errors(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input string
	}{
		{"bad json", ToolRecordAnswer, `{`},
		{"bad index", ToolRecordAnswer, `{"territory":"company","research_area":"performance","question_index":7,"answer":"a"}`},
		{"empty answer", ToolRecordAnswer, `{"territory":"company","research_area":"performance","question_index":0,"answer":""}`},
		{"unknown area", ToolMarkComplete, `{"territory":"company","research_area":"needs"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToolCall(tt.tool, json.RawMessage(tt.input))
			assert.Error(t, err)
		})
	}

	_, err := ParseToolCall("web_search", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, ErrUnknownTool))
}
