// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package framework

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/frontera-labs/frontera/services/llm"
)

// Strategy tool names, offered in the synthesis and bets phases.
const (
	ToolProposeBet   = "propose_bet"
	ToolUpdateCanvas = "update_canvas"
)

// ErrUnknownTool is returned by ParseStrategyToolCall for other tools.
var ErrUnknownTool = errors.New("unknown strategy tool")

// StrategyTools returns the tools for the given phase. Phases before
// synthesis get none.
func StrategyTools(phase Phase) []llm.ToolDefinition {
	if phase != PhaseSynthesis && phase != PhaseBets {
		return nil
	}
	sections := make([]any, len(CanvasSections))
	for i, s := range CanvasSections {
		sections[i] = s
	}
	return []llm.ToolDefinition{
		{
			Name:        ToolProposeBet,
			Description: "Record a strategic bet the user has agreed to pursue.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":          map[string]any{"type": "string"},
					"hypothesis":     map[string]any{"type": "string", "description": "We believe that ... will result in ..."},
					"territory":      map[string]any{"type": "string", "enum": []any{"company", "customer", "competitor"}},
					"success_metric": map[string]any{"type": "string"},
				},
				"required": []any{"title", "hypothesis"},
			},
		},
		{
			Name:        ToolUpdateCanvas,
			Description: "Replace one section of the strategy canvas with an agreed summary.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"section": map[string]any{"type": "string", "enum": sections},
					"content": map[string]any{"type": "string"},
				},
				"required": []any{"section", "content"},
			},
		},
	}
}

// ParseStrategyToolCall converts a strategy tool call into an Action.
// New bets get a fresh UUID.
func ParseStrategyToolCall(name string, input json.RawMessage, at time.Time) (Action, error) {
	switch name {
	case ToolProposeBet:
		var in struct {
			Title         string `json:"title"`
			Hypothesis    string `json:"hypothesis"`
			Territory     string `json:"territory"`
			SuccessMetric string `json:"success_metric"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decode %s input: %w", name, err)
		}
		return BetAdded{Bet: Bet{
			ID:            uuid.NewString(),
			Title:         in.Title,
			Hypothesis:    in.Hypothesis,
			Territory:     in.Territory,
			SuccessMetric: in.SuccessMetric,
			CreatedAt:     at,
		}}, nil

	case ToolUpdateCanvas:
		var in struct {
			Section string `json:"section"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("decode %s input: %w", name, err)
		}
		return CanvasUpdated{Section: in.Section, Content: in.Content, At: at}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
}
