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
	"fmt"
	"strings"
)

// CaptureMode selects how the model is told to report research answers.
type CaptureMode int

const (
	// ToolCapture asks the model to call the capture tools.
	ToolCapture CaptureMode = iota

	// MarkerCapture asks the model to embed bracket markers in its reply.
	MarkerCapture
)

// String returns "tools" or "markers".
func (m CaptureMode) String() string {
	if m == MarkerCapture {
		return "markers"
	}
	return "tools"
}

// FormatResearchContextForPrompt renders the active research area for the
// system prompt.
//
// # Description
//
// The block lists the territory and area, every question with its
// zero-based index and any prior answer, and instructions for reporting
// new answers in the given capture mode.
//
// # Inputs
//
//   - territory, areaID: The active research area.
//   - responses: Prior answers keyed by question index. May be nil.
//   - mode: ToolCapture or MarkerCapture.
//
// # Outputs
//
//   - string: The prompt block, or "" when the area is unknown.
func FormatResearchContextForPrompt(territory Territory, areaID string, responses map[int]string, mode CaptureMode) string {
	def := GetTerritory(territory)
	area := GetResearchArea(territory, areaID)
	if def == nil || area == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Active Research Area: %s / %s\n", def.Title, area.Title)
	fmt.Fprintf(&b, "%s\n\n", area.Description)
	b.WriteString("### Questions\n")

	answered := 0
	for i, q := range area.Questions {
		fmt.Fprintf(&b, "[%d] %s\n", i, q)
		if ans := strings.TrimSpace(responses[i]); ans != "" {
			answered++
			fmt.Fprintf(&b, "    Current answer: %s\n", ans)
		} else {
			b.WriteString("    (not yet answered)\n")
		}
	}
	fmt.Fprintf(&b, "\n%d of %d questions answered.\n\n", answered, len(area.Questions))

	b.WriteString("### Capturing answers\n")
	b.WriteString("Work through the unanswered questions one at a time, in conversation. ")
	b.WriteString("When the user has given a substantive answer, record it in a concise, factual form.\n")

	switch mode {
	case MarkerCapture:
		fmt.Fprintf(&b, "To record an answer, include this marker on its own line:\n[ResearchCapture:%s:%s:<index>:<answer>]\n", territory, area.ID)
		fmt.Fprintf(&b, "When every question has a satisfactory answer, include:\n[AreaComplete:%s:%s]\n", territory, area.ID)
		b.WriteString("Markers are hidden from the user. Do not use ']' inside an answer.\n")
	default:
		fmt.Fprintf(&b, "To record an answer, call the %s tool with territory %q, research_area %q and the question index.\n",
			ToolRecordAnswer, territory, area.ID)
		fmt.Fprintf(&b, "When every question has a satisfactory answer, call the %s tool.\n", ToolMarkComplete)
		b.WriteString("Always reply to the user in text as well; tool calls are not shown to them.\n")
	}

	return b.String()
}
