// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/frontera-labs/frontera/services/coach/artefacts"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/research"
)

// ArtefactInput is the material an artefact is generated from.
type ArtefactInput struct {
	CompanyName string
	Bets        []framework.Bet

	// Bet narrows the artefact to a single bet when set.
	Bet *framework.Bet

	// Synthesis is the latest synthesis content, or nil.
	Synthesis map[string]any
	Audience  string
}

var artefactBriefs = map[string]string{
	datatypes.ArtefactTeamBrief: `Write a one-page team brief that a delivery team can act on without further explanation.
- "summary": two or three sentences on what the team is doing and why
- "objectives": array of outcome statements
- "priorities": ordered array of what to work on first
- "success_metrics": array of measurable indicators with targets`,
	datatypes.ArtefactGuardrails: `Write strategic guardrails that let teams make decisions without escalating.
- "principles": array of short decision principles
- "boundaries": array of things teams must not do, each with the reason
- "decision_rights": array of {"decision", "owner"} objects`,
	datatypes.ArtefactOKRCascade: `Write an OKR cascade from the strategy down to teams.
- "objective": the company-level objective
- "key_results": array of measurable company key results
- "team_okrs": array of {"team", "objective", "key_results"} objects`,
	datatypes.ArtefactDecisionFramework: `Write a decision framework for trade-offs that will come up while executing the strategy.
- "criteria": ordered array of decision criteria with a one-line explanation each
- "trade_offs": array of {"choice", "favour", "because"} objects
- "escalation": when and to whom a decision should be escalated`,
	datatypes.ArtefactStakeholderPack: `Write a stakeholder communication pack.
- "narrative": the strategy story in under 200 words
- "audience_messages": array of {"audience", "message"} objects
- "faqs": array of {"question", "answer"} objects`,
}

// ArtefactPrompt builds the generation prompt for artefactType.
//
// # Outputs
//
//   - string: A prompt asking for one JSON object whose top-level keys are
//     artefacts.RequiredFields(artefactType).
//   - error: Unknown artefact type.
func ArtefactPrompt(artefactType string, in ArtefactInput) (string, error) {
	brief, ok := artefactBriefs[artefactType]
	if !ok {
		return "", fmt.Errorf("unknown artefact type %q", artefactType)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are preparing a %s for %s.\n\n", artefacts.Title(artefactType), companyOrDefault(in.CompanyName))
	b.WriteString(brief)
	b.WriteString("\n\n")

	if in.Audience != "" {
		fmt.Fprintf(&b, "The audience is: %s. Write for them.\n\n", in.Audience)
	}

	bets := in.Bets
	if in.Bet != nil {
		bets = []framework.Bet{*in.Bet}
		b.WriteString("Focus only on this strategic bet.\n")
	}
	b.WriteString("## Strategic Bets\n")
	if len(bets) == 0 {
		b.WriteString("(none recorded yet; work from the synthesis)\n")
	}
	for _, bet := range bets {
		writeBet(&b, bet)
	}

	if len(in.Synthesis) > 0 {
		data, err := json.MarshalIndent(in.Synthesis, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode synthesis: %w", err)
		}
		b.WriteString("\n## Research Synthesis\n")
		b.Write(data)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\nRespond with a single JSON object with exactly these top-level keys: %s. No prose before or after the JSON.",
		strings.Join(artefacts.RequiredFields(artefactType), ", "))
	return b.String(), nil
}

func writeBet(b *strings.Builder, bet framework.Bet) {
	fmt.Fprintf(b, "- %s", bet.Title)
	if bet.Territory != "" {
		fmt.Fprintf(b, " [%s]", bet.Territory)
	}
	b.WriteByte('\n')
	if bet.Hypothesis != "" {
		fmt.Fprintf(b, "  Hypothesis: %s\n", bet.Hypothesis)
	}
	if bet.SuccessMetric != "" {
		fmt.Fprintf(b, "  Success metric: %s\n", bet.SuccessMetric)
	}
}

// SynthesisKeys are the top-level keys a synthesis completion must carry.
var SynthesisKeys = []string{"key_insights", "tensions", "opportunities", "strategic_themes"}

// SynthesisPrompt builds the prompt that synthesises captured research.
// Unanswered questions are left out; areas with no answers are skipped.
func SynthesisPrompt(companyName string, insights []datatypes.TerritoryInsight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a strategy coach synthesising research for %s.\n\n", companyOrDefault(companyName))
	b.WriteString("## Research Findings\n")

	found := false
	for _, ti := range insights {
		area := research.GetResearchArea(research.Territory(ti.Territory), ti.ResearchArea)
		if area == nil {
			continue
		}
		indexes := make([]int, 0, len(ti.Responses))
		for i, ans := range ti.Responses {
			if strings.TrimSpace(ans) != "" && i >= 0 && i < len(area.Questions) {
				indexes = append(indexes, i)
			}
		}
		if len(indexes) == 0 {
			continue
		}
		sort.Ints(indexes)
		found = true
		fmt.Fprintf(&b, "\n### %s / %s\n", ti.Territory, area.Title)
		for _, i := range indexes {
			fmt.Fprintf(&b, "Q: %s\nA: %s", area.Questions[i], strings.TrimSpace(ti.Responses[i]))
			if c := ti.Confidence[i]; c != "" {
				fmt.Fprintf(&b, " (confidence: %s)", c)
			}
			b.WriteString("\n")
		}
	}
	if !found {
		b.WriteString("(no research captured yet)\n")
	}

	fmt.Fprintf(&b, `
Identify what the research says, where it conflicts, and where the opportunities are. Treat answers marked "guess" as hypotheses, not facts.

Respond with a single JSON object with these keys: %s. Each value is an array of short strings. No prose before or after the JSON.`,
		strings.Join(SynthesisKeys, ", "))
	return b.String()
}

// CoachSuggestionPrompt asks for coaching on a single research question.
func CoachSuggestionPrompt(companyName string, territory research.Territory, areaID string, questionIndex int, currentAnswer string) (string, error) {
	area := research.GetResearchArea(territory, areaID)
	if area == nil {
		return "", fmt.Errorf("unknown research area %s/%s", territory, areaID)
	}
	if questionIndex < 0 || questionIndex >= len(area.Questions) {
		return "", fmt.Errorf("question index %d out of range for %s/%s", questionIndex, territory, areaID)
	}

	answer := strings.TrimSpace(currentAnswer)
	if answer == "" {
		answer = "(no answer yet)"
	}
	return fmt.Sprintf(`You are a strategy coach helping %s answer a research question.

Research area: %s
Question: %s
Current answer: %s

In under 120 words: say what a strong answer would cover, point out what is missing or vague in the current answer, and suggest one source of evidence the team could check. Address the user directly.`,
		companyOrDefault(companyName), area.Title, area.Questions[questionIndex], answer), nil
}

func companyOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return "the company"
	}
	return name
}
