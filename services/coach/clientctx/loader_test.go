// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package clientctx

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontera-labs/frontera/services/coach/datatypes"
	"github.com/frontera-labs/frontera/services/coach/storage"
)

func newStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.DialectSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoad_NoClientIsNil(t *testing.T) {
	cc, err := NewLoader(newStore(t)).Load(context.Background(), "org_missing")
	require.NoError(t, err)
	assert.Nil(t, cc)
}

func TestLoad_FallbackMerge(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	o := &datatypes.ClientOnboarding{
		CompanyName:    "Acme Onboarding Name",
		ContactEmail:   "ceo@acme.test",
		Industry:       "Healthcare",
		CompanySize:    "50-200",
		StrategicFocus: "Expand into clinics",
	}
	require.NoError(t, s.CreateOnboarding(ctx, o))
	require.NoError(t, s.CreateClient(ctx, &datatypes.Client{
		ClerkOrgID:          "org_acme",
		CompanyName:         "Acme",
		CompanySize:         "200-500",
		OnboardingID:        o.ID,
		CoachingPreferences: map[string]any{"tone": "direct"},
	}))

	cc, err := NewLoader(s).Load(ctx, "org_acme")
	require.NoError(t, err)
	require.NotNil(t, cc)

	assert.Equal(t, "Healthcare", cc.Industry, "null client field falls back to onboarding")
	assert.Equal(t, "200-500", cc.CompanySize, "client value wins when both are set")
	assert.Equal(t, "Acme", cc.CompanyName)
	assert.Equal(t, "Expand into clinics", cc.StrategicFocus)
	assert.Equal(t, datatypes.TierPilot, cc.Tier)
}

func TestLoad_FallbackByProvisionedOrg(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	o := &datatypes.ClientOnboarding{CompanyName: "Beta", ContactEmail: "b@beta.test",
		Industry: "Retail", Status: datatypes.OnboardingApproved}
	require.NoError(t, s.CreateOnboarding(ctx, o))
	_, err := s.ProvisionOnboarding(ctx, o.ID, &datatypes.Client{ClerkOrgID: "org_beta"})
	require.NoError(t, err)

	cc, err := NewLoader(s).Load(ctx, "org_beta")
	require.NoError(t, err)
	require.NotNil(t, cc)
	assert.Equal(t, "Retail", cc.Industry)
	assert.Equal(t, "Beta", cc.CompanyName)
}

func TestMerge_NilOnboarding(t *testing.T) {
	cc := Merge(&datatypes.Client{ClerkOrgID: "org", CompanyName: "Solo", Tier: datatypes.TierEnterprise}, nil)
	assert.Equal(t, "Solo", cc.CompanyName)
	assert.Empty(t, cc.Industry)
	assert.Equal(t, datatypes.TierEnterprise, cc.Tier)
}

type failingSource struct {
	clientErr     error
	onboardingErr error
}

func (f *failingSource) GetClientByOrg(_ context.Context, orgID string) (*datatypes.Client, error) {
	if f.clientErr != nil {
		return nil, f.clientErr
	}
	return &datatypes.Client{ClerkOrgID: orgID, CompanyName: "X"}, nil
}

func (f *failingSource) GetOnboarding(context.Context, string) (*datatypes.ClientOnboarding, error) {
	return nil, f.onboardingErr
}

func (f *failingSource) FindOnboardingByProvisionedOrg(context.Context, string) (*datatypes.ClientOnboarding, error) {
	return nil, f.onboardingErr
}

func TestLoad_Errors(t *testing.T) {
	boom := errors.New("connection reset")

	_, err := NewLoader(&failingSource{clientErr: boom}).Load(context.Background(), "org")
	assert.ErrorIs(t, err, boom)

	_, err = NewLoader(&failingSource{onboardingErr: boom}).Load(context.Background(), "org")
	assert.ErrorIs(t, err, boom)

	cc, err := NewLoader(&failingSource{onboardingErr: storage.ErrNotFound}).Load(context.Background(), "org")
	require.NoError(t, err)
	assert.Equal(t, "X", cc.CompanyName)
}

func TestPromptBlock(t *testing.T) {
	cc := &ClientContext{
		CompanyName:         "Acme",
		Industry:            "Healthcare",
		CoachingPreferences: map[string]any{"tone": "direct", "depth": "deep"},
	}

	block := cc.PromptBlock()

	assert.Contains(t, block, "- Company: Acme\n")
	assert.Contains(t, block, "- Industry: Healthcare\n")
	assert.NotContains(t, block, "Pain points")
	assert.Less(t, strings.Index(block, "depth"), strings.Index(block, "tone"))
}
