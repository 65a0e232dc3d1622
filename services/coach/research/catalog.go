// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package research holds the static research catalog used in the research
// phase of a coaching session, together with the capture protocol the
// model uses to report answers back: structured tool calls, with bracket
// markers in free text kept as a fallback.
//
// The catalog is hand-authored data. Territories and areas are fixed and
// not user-extensible; question indexes are zero-based everywhere.
package research

// Territory is one of the three fixed research domains.
type Territory string

const (
	TerritoryCompany    Territory = "company"
	TerritoryCustomer   Territory = "customer"
	TerritoryCompetitor Territory = "competitor"
)

// Valid reports whether t is a known territory.
func (t Territory) Valid() bool {
	return GetTerritory(t) != nil
}

// Confidence grades how a research answer is supported.
type Confidence string

const (
	ConfidenceData       Confidence = "data"
	ConfidenceExperience Confidence = "experience"
	ConfidenceGuess      Confidence = "guess"
)

// Valid reports whether c is one of the three confidence grades.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceData, ConfidenceExperience, ConfidenceGuess:
		return true
	}
	return false
}

// ResearchArea is a sub-topic of a territory with its fixed questions.
type ResearchArea struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Questions   []string `json:"questions"`
}

// TerritoryDef describes one territory and its areas in display order.
type TerritoryDef struct {
	ID          Territory      `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Areas       []ResearchArea `json:"areas"`
}

var catalog = []TerritoryDef{
	{
		ID:          TerritoryCompany,
		Title:       "Company Territory",
		Description: "What the organisation is uniquely able to do, and what holds it back.",
		Areas: []ResearchArea{
			{
				ID:          "core_capabilities",
				Title:       "Core Capabilities",
				Description: "The skills, assets and processes that set the company apart.",
				Questions: []string{
					"What does the company do better than anyone else it competes with?",
					"Which capabilities would be hardest for a competitor to copy, and why?",
					"Where have recent wins come from: product, sales, service or something else?",
					"Which capabilities are you currently under-investing in?",
				},
			},
			{
				ID:          "resources_constraints",
				Title:       "Resources & Constraints",
				Description: "The budget, people, technology and commitments that bound what is possible.",
				Questions: []string{
					"What are the binding constraints on growth over the next 12-18 months?",
					"Which existing commitments (contracts, platforms, partners) limit your options?",
					"Where is the team stretched thinnest today?",
				},
			},
			{
				ID:          "performance",
				Title:       "Current Performance",
				Description: "How the business is actually doing against its own goals.",
				Questions: []string{
					"Which metrics does leadership watch most closely, and how are they trending?",
					"Where is performance clearly below expectations?",
					"What did the last strategy get right, and what did it get wrong?",
				},
			},
		},
	},
	{
		ID:          TerritoryCustomer,
		Title:       "Customer Territory",
		Description: "Who the customers are, what they are trying to get done, and how they buy.",
		Areas: []ResearchArea{
			{
				ID:          "segments",
				Title:       "Customer Segments",
				Description: "The distinct groups of customers and how they differ.",
				Questions: []string{
					"Which customer segments generate most of your value today?",
					"Which segment is growing fastest, and which is shrinking?",
					"Who are you deliberately not serving?",
				},
			},
			{
				ID:          "needs",
				Title:       "Jobs, Needs & Pain Points",
				Description: "What customers are trying to achieve and where they struggle.",
				Questions: []string{
					"What job are customers hiring your product to do?",
					"What are the most painful parts of that job today?",
					"What do customers use when they do not use you?",
					"Which unmet need comes up most often in customer conversations?",
				},
			},
			{
				ID:          "buying_behaviour",
				Title:       "Buying Behaviour",
				Description: "How customers discover, evaluate and commit.",
				Questions: []string{
					"Who makes the buying decision, and who influences it?",
					"What triggers a customer to start looking for a solution?",
					"Why do customers leave, and where do they go?",
				},
			},
		},
	},
	{
		ID:          TerritoryCompetitor,
		Title:       "Market Territory",
		Description: "The competitive landscape and the forces reshaping the market.",
		Areas: []ResearchArea{
			{
				ID:          "landscape",
				Title:       "Competitive Landscape",
				Description: "Who you compete with directly and indirectly.",
				Questions: []string{
					"Who do you lose deals to most often?",
					"Which competitor is making the boldest moves right now?",
					"Where are competitors clearly stronger than you?",
				},
			},
			{
				ID:          "trends",
				Title:       "Market Trends",
				Description: "Technology, regulatory and behavioural shifts in the market.",
				Questions: []string{
					"Which trends will most change your market in the next three years?",
					"What regulatory or policy changes are on the horizon?",
					"Which emerging players or substitutes worry you most?",
				},
			},
			{
				ID:          "differentiation",
				Title:       "Differentiation",
				Description: "How the company wins against the alternatives.",
				Questions: []string{
					"Why do customers choose you over the alternatives?",
					"Which parts of your offer are becoming commoditised?",
					"What position in the market is open that nobody is claiming?",
					"If you had to pick one thing to be known for, what would it be?",
				},
			},
		},
	},
}

// Catalog returns every territory in display order.
//
// The returned slice is a copy; callers may not mutate the catalog.
func Catalog() []TerritoryDef {
	out := make([]TerritoryDef, len(catalog))
	for i, t := range catalog {
		out[i] = t
		out[i].Areas = append([]ResearchArea(nil), t.Areas...)
	}
	return out
}

// GetTerritory returns the territory definition, or nil if t is unknown.
func GetTerritory(t Territory) *TerritoryDef {
	for i := range catalog {
		if catalog[i].ID == t {
			def := catalog[i]
			return &def
		}
	}
	return nil
}

// GetResearchArea returns the area areaID of territory t, or nil when
// either is unknown.
func GetResearchArea(t Territory, areaID string) *ResearchArea {
	def := GetTerritory(t)
	if def == nil {
		return nil
	}
	for i := range def.Areas {
		if def.Areas[i].ID == areaID {
			area := def.Areas[i]
			return &area
		}
	}
	return nil
}

// ValidQuestionIndex reports whether index addresses a question of the area.
func ValidQuestionIndex(t Territory, areaID string, index int) bool {
	area := GetResearchArea(t, areaID)
	return area != nil && index >= 0 && index < len(area.Questions)
}

// AreaCount returns the total number of research areas across territories.
func AreaCount() int {
	n := 0
	for _, t := range catalog {
		n += len(t.Areas)
	}
	return n
}
