// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	_, ok := opts.AuthProvider.(*NopAuthProvider)
	assert.True(t, ok, "AuthProvider should be *NopAuthProvider")
	_, ok = opts.AuthzProvider.(*NopAuthzProvider)
	assert.True(t, ok, "AuthzProvider should be *NopAuthzProvider")
	_, ok = opts.Analytics.(*NopAnalyticsSink)
	assert.True(t, ok, "Analytics should be *NopAnalyticsSink")
}

func TestServiceOptions_Normalize(t *testing.T) {
	custom := NewRoleAuthzProvider([]string{"admin"}, nil)
	opts := ServiceOptions{AuthzProvider: custom}.Normalize()

	assert.NotNil(t, opts.AuthProvider)
	assert.NotNil(t, opts.Analytics)
	assert.Same(t, custom, opts.AuthzProvider)
}

func TestServiceOptions_WithHelpersDoNotMutate(t *testing.T) {
	original := DefaultOptions()
	authz := NewRoleAuthzProvider(nil, []string{"u1"})

	updated := original.WithAuthz(authz)

	assert.Same(t, authz, updated.AuthzProvider)
	_, stillNop := original.AuthzProvider.(*NopAuthzProvider)
	assert.True(t, stillNop)
}

// ============================================================================
// Auth Tests
// ============================================================================

func TestNopAuthProvider_ReturnsLocalIdentity(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")

	require.NoError(t, err)
	assert.Equal(t, LocalUserID, info.UserID)
	assert.Equal(t, LocalOrgID, info.OrgID)
	assert.True(t, info.HasRole("admin"))
}

func TestRoleAuthzProvider(t *testing.T) {
	p := NewRoleAuthzProvider([]string{"admin"}, []string{"user_ops"})
	ctx := context.Background()

	tests := []struct {
		name    string
		user    *AuthInfo
		wantErr error
	}{
		{"nil user", nil, ErrUnauthorized},
		{"admin role", &AuthInfo{UserID: "u1", Roles: []string{"admin"}}, nil},
		{"listed user", &AuthInfo{UserID: "user_ops"}, nil},
		{"plain member", &AuthInfo{UserID: "u2", Roles: []string{"member"}}, ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(ctx, AuthzRequest{User: tt.user, Action: "review"})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
