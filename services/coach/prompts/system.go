// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts builds every prompt the coaching service sends to the LLM.
//
// Builders are pure functions of their inputs; nothing here performs I/O.
package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/frontera-labs/frontera/services/coach/clientctx"
	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/framework"
	"github.com/frontera-labs/frontera/services/coach/research"
)

// MaxMaterialsChars caps the combined uploaded-material text placed in a
// system prompt. Materials past the cap are listed by name only.
const MaxMaterialsChars = 120_000

// SystemPromptInput carries everything BuildSystemPrompt renders.
type SystemPromptInput struct {
	AgentType string
	Client    *clientctx.ClientContext
	State     framework.State

	// Materials are the conversation's uploads; only completed ones with
	// extracted text are rendered.
	Materials []datatypes.UploadedMaterial

	// ResearchContext is the output of research.FormatResearchContextForPrompt
	// for the area active in the UI, or "".
	ResearchContext string

	Mode research.CaptureMode
}

const coachPersona = `You are Frontera, an experienced product strategy coach. You help leadership teams build a clear, evidence-based strategy using the Playing to Win cascade: winning aspiration, where to play, how to win, capabilities and management systems.

How you coach:
- Ask one focused question at a time and build on the user's previous answers.
- Push for evidence. Distinguish what the team knows from data, what it believes from experience, and what it is guessing.
- Be direct and concise. Prefer short paragraphs and plain language over frameworks jargon.
- Never invent facts about the user's company. If you need information, ask for it.`

const profilingPersona = `You are Frontera's onboarding guide. Your job is to learn enough about the user's organisation to personalise later coaching sessions: what the company does, who it serves, its size and stage, its current strategic focus, and the problems leadership most wants to solve.

Ask one question at a time and keep the conversation light. When you have a clear picture, write a short profile (5 to 10 bullet points) between [PROFILE_SUMMARY] and [/PROFILE_SUMMARY] markers, then tell the user they are ready to start a strategy session.`

const genericPersona = `You are Frontera, an AI assistant for product and strategy work. Be concise, ask clarifying questions when the request is ambiguous, and ground your answers in the context below.`

var phaseGuidance = map[framework.Phase]string{
	framework.PhaseDiscovery: `## Current Phase: Discovery
Understand the business before exploring options. Establish the company's current position, its ambitions for the next 2 to 3 years, and what is forcing a strategic conversation now. When the picture is clear, suggest moving to research.`,
	framework.PhaseResearch: `## Current Phase: Research
Guide the user through the three research territories: the company itself, its customers, and the market. Work through one research area at a time and capture answers as they are given.`,
	framework.PhaseSynthesis: `## Current Phase: Synthesis
Connect the research into insight. Surface tensions, patterns and opportunities across the territories. Draft canvas sections with the user and record them once agreed.`,
	framework.PhaseBets: `## Current Phase: Strategic Bets
Turn the synthesis into a small number of explicit, testable bets. Each bet needs a hypothesis ("We believe that ... will result in ...") and a success metric. Record a bet only when the user agrees to it.`,
}

// BuildSystemPrompt renders the system prompt for one message exchange.
//
// # Description
//
// The prompt is assembled from the persona for the agent type, the client
// context, a summary of the framework state, completed uploads and the
// active research area. Sections with no content are omitted.
//
// # Limitations
//
//   - Materials are cut at MaxMaterialsChars combined; later files are
//     listed without content.
func BuildSystemPrompt(in SystemPromptInput) string {
	var sections []string

	switch in.AgentType {
	case framework.AgentStrategyCoach:
		sections = append(sections, coachPersona)
	case framework.AgentProfiling:
		sections = append(sections, profilingPersona)
	default:
		sections = append(sections, genericPersona)
	}

	if in.Client != nil {
		sections = append(sections, strings.TrimRight(in.Client.PromptBlock(), "\n"))
	}

	if cs, ok := in.State.(*framework.CoachState); ok {
		if guidance, ok := phaseGuidance[cs.Phase]; ok {
			sections = append(sections, guidance)
		}
		if summary := stateSummary(cs); summary != "" {
			sections = append(sections, summary)
		}
		if cs.Phase == framework.PhaseSynthesis || cs.Phase == framework.PhaseBets {
			sections = append(sections, strategyToolGuidance(in.Mode))
		}
	}
	if ps, ok := in.State.(*framework.ProfileState); ok && ps.ProfileSummary != "" {
		sections = append(sections, "## Profile so far\n"+ps.ProfileSummary)
	}

	if block := materialsBlock(in.Materials); block != "" {
		sections = append(sections, block)
	}
	if rc := strings.TrimSpace(in.ResearchContext); rc != "" {
		sections = append(sections, rc)
	}

	return strings.Join(sections, "\n\n")
}

func strategyToolGuidance(mode research.CaptureMode) string {
	if mode == research.MarkerCapture {
		return "## Recording decisions\nSummarise agreed bets and canvas sections clearly in your reply so the user can save them."
	}
	return fmt.Sprintf("## Recording decisions\nWhen the user agrees to a strategic bet, call the %s tool. When a canvas section is agreed, call the %s tool with the full section text.",
		framework.ToolProposeBet, framework.ToolUpdateCanvas)
}

// stateSummary renders progress the coach should keep in mind.
func stateSummary(cs *framework.CoachState) string {
	var b strings.Builder

	territories := make([]string, 0, len(cs.Pillars))
	for t := range cs.Pillars {
		territories = append(territories, t)
	}
	sort.Strings(territories)
	for _, t := range territories {
		p := cs.Pillars[t]
		fmt.Fprintf(&b, "- %s territory: %s", t, strings.ReplaceAll(p.Status, "_", " "))
		if len(p.CompletedAreas) > 0 {
			fmt.Fprintf(&b, " (completed: %s)", strings.Join(p.CompletedAreas, ", "))
		}
		b.WriteByte('\n')
	}

	for _, section := range framework.CanvasSections {
		if c, ok := cs.Canvas[section]; ok && strings.TrimSpace(c.Content) != "" {
			fmt.Fprintf(&b, "- Canvas %s: %s\n", strings.ReplaceAll(section, "_", " "), c.Content)
		}
	}
	for _, bet := range cs.Bets {
		fmt.Fprintf(&b, "- Bet: %s", bet.Title)
		if bet.Hypothesis != "" {
			fmt.Fprintf(&b, " (%s)", bet.Hypothesis)
		}
		b.WriteByte('\n')
	}

	if b.Len() == 0 {
		return ""
	}
	return "## Progress so far\n" + strings.TrimRight(b.String(), "\n")
}

func materialsBlock(materials []datatypes.UploadedMaterial) string {
	var (
		b       strings.Builder
		used    int
		skipped []string
	)
	for _, m := range materials {
		if m.ProcessingStatus != datatypes.MaterialCompleted || m.ExtractedContext == nil {
			continue
		}
		text := strings.TrimSpace(m.ExtractedContext.Text)
		if text == "" {
			continue
		}
		if used+len(text) > MaxMaterialsChars {
			skipped = append(skipped, m.Filename)
			continue
		}
		used += len(text)
		fmt.Fprintf(&b, "### %s\n%s\n\n", m.Filename, text)
	}
	if b.Len() == 0 && len(skipped) == 0 {
		return ""
	}
	out := "## Uploaded Materials\nThe user shared these documents. Refer to them when relevant.\n\n" + b.String()
	if len(skipped) > 0 {
		out += "Also uploaded (not shown): " + strings.Join(skipped, ", ") + "\n"
	}
	return strings.TrimRight(out, "\n")
}

// OpeningMessage returns the first assistant message of a conversation.
// It is static text; no LLM call is made.
func OpeningMessage(agentType string, client *clientctx.ClientContext) string {
	company := "your organisation"
	if client != nil && strings.TrimSpace(client.CompanyName) != "" {
		company = client.CompanyName
	}

	switch agentType {
	case framework.AgentStrategyCoach:
		return fmt.Sprintf(`Welcome! I'm your Frontera strategy coach, and I'm looking forward to working through %s's strategy with you.

We'll move through four phases together: discovery, research across your company, customers and market, synthesis, and finally a small set of strategic bets.

To start, tell me in a few sentences: what does %s do today, and what's prompting you to think about strategy right now?`, company, company)
	case framework.AgentProfiling:
		return fmt.Sprintf(`Hi! Before your first strategy session I'd like to get to know %s a little. It takes about five minutes.

Let's start simple: what does %s do, and who are your main customers?`, company, company)
	default:
		return fmt.Sprintf("Hi! How can I help %s today?", company)
	}
}
