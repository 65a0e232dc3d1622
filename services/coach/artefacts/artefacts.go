// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artefacts turns model completions into stored artefact content.
//
// A completion is searched for the first balanced JSON object. When one is
// found it is checked against the required keys of the artefact type; when
// none is found the text is kept as {"raw": text} and the artefact is marked
// unstructured.
package artefacts

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
)

// requiredFields lists the top-level keys each artefact type must carry.
var requiredFields = map[string][]string{
	datatypes.ArtefactTeamBrief:         {"summary", "objectives", "priorities", "success_metrics"},
	datatypes.ArtefactGuardrails:        {"principles", "boundaries", "decision_rights"},
	datatypes.ArtefactOKRCascade:        {"objective", "key_results", "team_okrs"},
	datatypes.ArtefactDecisionFramework: {"criteria", "trade_offs", "escalation"},
	datatypes.ArtefactStakeholderPack:   {"narrative", "audience_messages", "faqs"},
}

var titles = map[string]string{
	datatypes.ArtefactTeamBrief:         "Team Brief",
	datatypes.ArtefactGuardrails:        "Strategic Guardrails",
	datatypes.ArtefactOKRCascade:        "OKR Cascade",
	datatypes.ArtefactDecisionFramework: "Decision Framework",
	datatypes.ArtefactStakeholderPack:   "Stakeholder Pack",
}

// Known reports whether artefactType is one of the five artefact types.
func Known(artefactType string) bool {
	_, ok := requiredFields[artefactType]
	return ok
}

// RequiredFields returns the required top-level keys for artefactType, or
// nil for an unknown type.
func RequiredFields(artefactType string) []string {
	fields := requiredFields[artefactType]
	if fields == nil {
		return nil
	}
	return append([]string(nil), fields...)
}

// Title returns the display title for artefactType.
func Title(artefactType string) string {
	if t, ok := titles[artefactType]; ok {
		return t
	}
	return artefactType
}

// Result is a parsed completion.
type Result struct {
	Content       map[string]any
	Structured    bool
	MissingFields []string
}

// Parse extracts and validates the artefact content of a completion.
func Parse(artefactType, text string) Result {
	obj, ok := ExtractJSON(text)
	if !ok {
		return Result{Content: map[string]any{"raw": text}}
	}
	return Result{Content: obj, Structured: true, MissingFields: Validate(artefactType, obj)}
}

// Validate returns the required keys content lacks, sorted. Keys present
// with a null value count as missing.
func Validate(artefactType string, content map[string]any) []string {
	var missing []string
	for _, key := range requiredFields[artefactType] {
		if v, ok := content[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// maxJSONCandidates caps how many opening braces ExtractJSON tries. Each
// try scans to the end of text in the worst case.
const maxJSONCandidates = 32

// ExtractJSON returns the first balanced {...} span of text that decodes as
// a JSON object. Braces inside JSON strings are ignored, so prose, code
// fences and trailing commentary around the object are tolerated. Only the
// first maxJSONCandidates opening braces are tried.
func ExtractJSON(text string) (map[string]any, bool) {
	tries := 0
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		if tries == maxJSONCandidates {
			break
		}
		tries++
		end := matchBrace(text, start)
		if end < 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil && obj != nil {
			return obj, true
		}
	}
	return nil, false
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// NewShareToken returns 32 lowercase hex characters from crypto/rand.
func NewShareToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
