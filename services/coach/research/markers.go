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
	"regexp"
	"strconv"
	"strings"
)

// Capture is one research answer reported by the model.
type Capture struct {
	Territory     Territory  `json:"territory"`
	Area          string     `json:"research_area"`
	QuestionIndex int        `json:"question_index"`
	Answer        string     `json:"answer"`
	Confidence    Confidence `json:"confidence,omitempty"`
}

// AreaRef names one research area.
type AreaRef struct {
	Territory Territory `json:"territory"`
	Area      string    `json:"research_area"`
}

// Markers is the result of scanning model output for capture markers.
type Markers struct {
	Captures       []Capture
	Completed      []AreaRef
	ProfileSummary string

	// Malformed holds marker-like spans that could not be parsed or that
	// reference catalog entries that do not exist.
	Malformed []string
}

// Empty reports whether nothing at all was found.
func (m Markers) Empty() bool {
	return len(m.Captures) == 0 && len(m.Completed) == 0 && m.ProfileSummary == "" && len(m.Malformed) == 0
}

const (
	captureOpener  = "[ResearchCapture:"
	completeOpener = "[AreaComplete:"

	// Longest malformed snippet kept for logging.
	malformedSnippetLen = 120
)

var (
	captureRe  = regexp.MustCompile(`\[ResearchCapture:([a-z_]+):([a-z_]+):(\d+):([^\]]*)\]`)
	completeRe = regexp.MustCompile(`\[AreaComplete:([a-z_]+):([a-z_]+)\]`)
	profileRe  = regexp.MustCompile(`(?s)\[PROFILE_SUMMARY\](.*?)\[/PROFILE_SUMMARY\]`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// ParseMarkers extracts capture markers from model output.
//
// # Description
//
// Recognises three forms:
//
//	[ResearchCapture:territory:area:index:answer text]
//	[AreaComplete:territory:area]
//	[PROFILE_SUMMARY]...[/PROFILE_SUMMARY]
//
// Every "[ResearchCapture:" or "[AreaComplete:" opener that does not begin
// a well-formed marker, and every well-formed marker that names an unknown
// territory, area, or question index, is reported in Malformed.
//
// # Inputs
//
//   - text: Full model output.
//
// # Outputs
//
//   - Markers: Parsed captures in order of appearance.
func ParseMarkers(text string) Markers {
	var out Markers

	matched := make(map[int]bool)

	for _, loc := range captureRe.FindAllStringSubmatchIndex(text, -1) {
		matched[loc[0]] = true
		raw := text[loc[0]:loc[1]]
		territory := Territory(text[loc[2]:loc[3]])
		area := text[loc[4]:loc[5]]
		index, err := strconv.Atoi(text[loc[6]:loc[7]])
		answer := strings.TrimSpace(text[loc[8]:loc[9]])
		if err != nil || answer == "" || !ValidQuestionIndex(territory, area, index) {
			out.Malformed = append(out.Malformed, raw)
			continue
		}
		out.Captures = append(out.Captures, Capture{
			Territory:     territory,
			Area:          area,
			QuestionIndex: index,
			Answer:        answer,
		})
	}

	for _, loc := range completeRe.FindAllStringSubmatchIndex(text, -1) {
		matched[loc[0]] = true
		ref := AreaRef{Territory: Territory(text[loc[2]:loc[3]]), Area: text[loc[4]:loc[5]]}
		if GetResearchArea(ref.Territory, ref.Area) == nil {
			out.Malformed = append(out.Malformed, text[loc[0]:loc[1]])
			continue
		}
		out.Completed = append(out.Completed, ref)
	}

	for _, opener := range []string{captureOpener, completeOpener} {
		for offset := 0; ; {
			i := strings.Index(text[offset:], opener)
			if i < 0 {
				break
			}
			start := offset + i
			if !matched[start] {
				out.Malformed = append(out.Malformed, malformedSnippet(text[start:]))
			}
			offset = start + len(opener)
		}
	}

	if m := profileRe.FindStringSubmatch(text); m != nil {
		out.ProfileSummary = strings.TrimSpace(m[1])
	}

	return out
}

// StripMarkers removes every well-formed marker and profile block from
// text, leaving the prose the user should see.
func StripMarkers(text string) string {
	text = profileRe.ReplaceAllString(text, "")
	text = captureRe.ReplaceAllString(text, "")
	text = completeRe.ReplaceAllString(text, "")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// malformedSnippet returns s up to and including the first ']' or newline,
// capped in length.
func malformedSnippet(s string) string {
	end := len(s)
	if i := strings.IndexAny(s, "]\n"); i >= 0 {
		end = i
		if s[i] == ']' {
			end++
		}
	}
	if end > malformedSnippetLen {
		end = malformedSnippetLen
	}
	return s[:end]
}
