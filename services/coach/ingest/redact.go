// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// SensitivePatterns is the built-in classification file. It is compiled
// into the binary so the rules travel with the executable.
//
//go:embed sensitive_patterns.yaml
var SensitivePatterns []byte

// Confidence grades how likely a pattern match is a true positive.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// UnmarshalYAML rejects unknown confidence levels.
func (c *Confidence) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch Confidence(s) {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		*c = Confidence(s)
		return nil
	default:
		return fmt.Errorf("invalid confidence %q", s)
	}
}

type classificationFile struct {
	Classifications []classification `yaml:"classifications"`
}

type classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []pattern `yaml:"patterns"`
}

type pattern struct {
	ID          string     `yaml:"id"`
	Description string     `yaml:"description"`
	Regex       string     `yaml:"regex"`
	Confidence  Confidence `yaml:"confidence"`

	re *regexp.Regexp
}

// Finding is one redacted span. The matched text itself is never kept.
type Finding struct {
	Classification string     `json:"classification"`
	PatternID      string     `json:"pattern_id"`
	Confidence     Confidence `json:"confidence"`
	LineNumber     int        `json:"line_number"`
}

// Redactor replaces credentials and personal data in extracted text with
// placeholders such as "[REDACTED:secret]".
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Redactor struct {
	classes []classification
}

// NewRedactor compiles a classification file.
//
// # Inputs
//
//   - spec: YAML with a top-level "classifications" list. Pass
//     SensitivePatterns for the built-in rules.
//
// # Outputs
//
//   - *Redactor: Classifications sorted from highest to lowest priority.
//   - error: Malformed YAML, an unknown confidence, or an invalid regex.
func NewRedactor(spec []byte) (*Redactor, error) {
	var file classificationFile
	if err := yaml.Unmarshal(spec, &file); err != nil {
		return nil, fmt.Errorf("parse classification file: %w", err)
	}
	for i := range file.Classifications {
		for j := range file.Classifications[i].Patterns {
			p := &file.Classifications[i].Patterns[j]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %s: %w", p.ID, err)
			}
			p.re = re
		}
	}
	sort.SliceStable(file.Classifications, func(i, j int) bool {
		return file.Classifications[i].Priority > file.Classifications[j].Priority
	})
	return &Redactor{classes: file.Classifications}, nil
}

// Redact returns text with every match replaced and one Finding per
// replaced span. Text without matches is returned unchanged.
func (r *Redactor) Redact(text string) (string, []Finding) {
	var findings []Finding
	for _, class := range r.classes {
		placeholder := "[REDACTED:" + class.Name + "]"
		for _, p := range class.Patterns {
			locs := p.re.FindAllStringIndex(text, -1)
			if len(locs) == 0 {
				continue
			}
			for _, loc := range locs {
				findings = append(findings, Finding{
					Classification: class.Name,
					PatternID:      p.ID,
					Confidence:     p.Confidence,
					LineNumber:     strings.Count(text[:loc[0]], "\n") + 1,
				})
			}
			text = p.re.ReplaceAllLiteralString(text, placeholder)
		}
	}
	return text, findings
}

// Classify returns the name of the highest priority classification with a
// match, or "public".
func (r *Redactor) Classify(text string) string {
	for _, class := range r.classes {
		for _, p := range class.Patterns {
			if p.re.MatchString(text) {
				return class.Name
			}
		}
	}
	return "public"
}
