// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/frontera-labs/frontera/services/llm"
)

// Capture tool names.
const (
	ToolRecordAnswer = "record_research_answer"
	ToolMarkComplete = "mark_area_complete"
)

// ErrUnknownTool is returned by ParseToolCall for tools it does not own.
var ErrUnknownTool = errors.New("unknown capture tool")

// CaptureTools returns the tool definitions offered to the model during
// the research phase.
func CaptureTools() []llm.ToolDefinition {
	territories := []any{string(TerritoryCompany), string(TerritoryCustomer), string(TerritoryCompetitor)}
	var areas []any
	for _, t := range catalog {
		for _, a := range t.Areas {
			areas = append(areas, a.ID)
		}
	}

	return []llm.ToolDefinition{
		{
			Name:        ToolRecordAnswer,
			Description: "Record the user's answer to one research question. Call once per answered question.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"territory":      map[string]any{"type": "string", "enum": territories},
					"research_area":  map[string]any{"type": "string", "enum": areas},
					"question_index": map[string]any{"type": "integer", "minimum": 0},
					"answer":         map[string]any{"type": "string", "description": "Concise factual summary of the answer."},
					"confidence": map[string]any{
						"type":        "string",
						"enum":        []any{string(ConfidenceData), string(ConfidenceExperience), string(ConfidenceGuess)},
						"description": "data: backed by evidence; experience: informed judgement; guess: speculation.",
					},
				},
				"required": []any{"territory", "research_area", "question_index", "answer"},
			},
		},
		{
			Name:        ToolMarkComplete,
			Description: "Mark a research area complete once every question has a satisfactory answer.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"territory":     map[string]any{"type": "string", "enum": territories},
					"research_area": map[string]any{"type": "string", "enum": areas},
				},
				"required": []any{"territory", "research_area"},
			},
		},
	}
}

// ToolResult is the decoded form of a capture tool call. Exactly one field
// is set.
type ToolResult struct {
	Capture  *Capture
	Complete *AreaRef
}

// ParseToolCall decodes and validates a capture tool call against the
// catalog.
//
// # Outputs
//
//   - ToolResult: The capture or completion.
//   - error: ErrUnknownTool for other tool names; a descriptive error for
//     invalid JSON, unknown areas, out-of-range indexes, or empty answers.
func ParseToolCall(name string, input json.RawMessage) (ToolResult, error) {
	switch name {
	case ToolRecordAnswer:
		var c Capture
		if err := json.Unmarshal(input, &c); err != nil {
			return ToolResult{}, fmt.Errorf("decode %s input: %w", name, err)
		}
		c.Answer = strings.TrimSpace(c.Answer)
		if !ValidQuestionIndex(c.Territory, c.Area, c.QuestionIndex) {
			return ToolResult{}, fmt.Errorf("%s: no question %s/%s/%d", name, c.Territory, c.Area, c.QuestionIndex)
		}
		if c.Answer == "" {
			return ToolResult{}, fmt.Errorf("%s: empty answer", name)
		}
		if c.Confidence != "" && !c.Confidence.Valid() {
			c.Confidence = ""
		}
		return ToolResult{Capture: &c}, nil

	case ToolMarkComplete:
		var ref AreaRef
		if err := json.Unmarshal(input, &ref); err != nil {
			return ToolResult{}, fmt.Errorf("decode %s input: %w", name, err)
		}
		if GetResearchArea(ref.Territory, ref.Area) == nil {
			return ToolResult{}, fmt.Errorf("%s: no area %s/%s", name, ref.Territory, ref.Area)
		}
		return ToolResult{Complete: &ref}, nil
	}
	return ToolResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}
