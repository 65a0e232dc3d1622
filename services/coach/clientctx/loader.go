// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clientctx builds the flat client context used to seed prompts.
package clientctx

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/storage"
)

// ClientContext is a client row with onboarding fallbacks applied.
type ClientContext struct {
	OrgID               string         `json:"org_id"`
	CompanyName         string         `json:"company_name"`
	Industry            string         `json:"industry,omitempty"`
	CompanySize         string         `json:"company_size,omitempty"`
	StrategicFocus      string         `json:"strategic_focus,omitempty"`
	PainPoints          string         `json:"pain_points,omitempty"`
	TargetOutcomes      string         `json:"target_outcomes,omitempty"`
	Tier                string         `json:"tier"`
	CoachingPreferences map[string]any `json:"coaching_preferences,omitempty"`
}

// Source is the subset of storage.Store the loader reads.
type Source interface {
	GetClientByOrg(ctx context.Context, orgID string) (*datatypes.Client, error)
	GetOnboarding(ctx context.Context, id string) (*datatypes.ClientOnboarding, error)
	FindOnboardingByProvisionedOrg(ctx context.Context, orgID string) (*datatypes.ClientOnboarding, error)
}

// Loader loads client contexts. Nothing is cached; every call reads the
// current rows.
type Loader struct {
	source Source
}

// NewLoader creates a Loader over source.
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Load returns the context for orgID.
//
// # Description
//
// Fetches the org's client row. Empty client fields are filled from the
// onboarding record the client was provisioned from: the linked
// onboarding_id when set, otherwise the record whose provisioned_org_id is
// orgID. When both rows carry a value the client row wins.
//
// # Outputs
//
//   - *ClientContext: nil when the org has no client row. Callers treat nil
//     as a hard failure.
//   - error: Database failures only; a missing client is not an error.
func (l *Loader) Load(ctx context.Context, orgID string) (*ClientContext, error) {
	client, err := l.source.GetClientByOrg(ctx, orgID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load client for %s: %w", orgID, err)
	}

	onboarding, err := l.fallback(ctx, client)
	if err != nil {
		return nil, err
	}
	return Merge(client, onboarding), nil
}

func (l *Loader) fallback(ctx context.Context, client *datatypes.Client) (*datatypes.ClientOnboarding, error) {
	var (
		o   *datatypes.ClientOnboarding
		err error
	)
	if client.OnboardingID != "" {
		o, err = l.source.GetOnboarding(ctx, client.OnboardingID)
	} else {
		o, err = l.source.FindOnboardingByProvisionedOrg(ctx, client.ClerkOrgID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load onboarding fallback: %w", err)
	}
	return o, nil
}

// Merge combines a client row with its onboarding record. onboarding may be
// nil.
func Merge(client *datatypes.Client, onboarding *datatypes.ClientOnboarding) *ClientContext {
	cc := &ClientContext{
		OrgID:               client.ClerkOrgID,
		CompanyName:         client.CompanyName,
		Industry:            client.Industry,
		CompanySize:         client.CompanySize,
		StrategicFocus:      client.StrategicFocus,
		PainPoints:          client.PainPoints,
		TargetOutcomes:      client.TargetOutcomes,
		Tier:                client.Tier,
		CoachingPreferences: client.CoachingPreferences,
	}
	if onboarding == nil {
		return cc
	}
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&cc.CompanyName, onboarding.CompanyName)
	fill(&cc.Industry, onboarding.Industry)
	fill(&cc.CompanySize, onboarding.CompanySize)
	fill(&cc.StrategicFocus, onboarding.StrategicFocus)
	fill(&cc.PainPoints, onboarding.PainPoints)
	fill(&cc.TargetOutcomes, onboarding.TargetOutcomes)
	fill(&cc.Tier, onboarding.Tier)
	return cc
}

// PromptBlock renders the context as a prompt section. Empty fields are
// omitted.
func (c *ClientContext) PromptBlock() string {
	var b strings.Builder
	b.WriteString("## Client Context\n")
	line := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fmt.Fprintf(&b, "- %s: %s\n", label, value)
		}
	}
	line("Company", c.CompanyName)
	line("Industry", c.Industry)
	line("Company size", c.CompanySize)
	line("Strategic focus", c.StrategicFocus)
	line("Pain points", c.PainPoints)
	line("Target outcomes", c.TargetOutcomes)

	if len(c.CoachingPreferences) > 0 {
		keys := make([]string, 0, len(c.CoachingPreferences))
		for k := range c.CoachingPreferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("- Coaching preferences:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  - %s: %v\n", k, c.CoachingPreferences[k])
		}
	}
	return b.String()
}
