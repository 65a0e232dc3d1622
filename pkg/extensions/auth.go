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
)

// ErrUnauthorized is returned when authentication or authorization fails.
// Implementations should wrap this error with additional context.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated user lacks a permission.
var ErrForbidden = errors.New("forbidden")

// AuthInfo contains identity information returned after successful authentication.
//
// Required fields (always populated):
//   - UserID: Unique identifier for the user
//
// Optional fields (may be empty):
//   - OrgID: Active organization of the session. Every tenant-scoped query
//     filters on this value; requests without it are rejected by RequireOrg.
//   - OrgRole: The user's role inside OrgID (e.g. "org:admin")
//   - Email: User's email address
//   - Roles: Platform-level roles (e.g. "admin" for onboarding review)
//
// Example:
//
//	info := &AuthInfo{
//	    UserID: "user_2abc",
//	    OrgID:  "org_2xyz",
//	    Roles:  []string{"admin"},
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// OrgID is the tenant the session is acting for.
	OrgID string

	// OrgRole is the user's membership role within OrgID.
	OrgRole string

	// Email is the user's email address.
	Email string

	// Roles contains platform roles for authorization decisions.
	Roles []string
}

// HasRole checks if the user has a specific platform role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Default Behavior
//
// NopAuthProvider always returns a fixed local user in a fixed local
// organization so the service can run without an identity provider.
//
// # Production Implementation
//
// The Clerk provider (services/coach/auth) verifies session JWTs against the
// instance's public key and maps the org claims onto AuthInfo.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - token: The session token (empty when the request carried none)
	//
	// Returns:
	//   - *AuthInfo: User identity information if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes an authorization check request.
//
// Example:
//
//	req := AuthzRequest{
//	    User:         authInfo,
//	    Action:       "provision",
//	    ResourceType: "onboarding",
//	    ResourceID:   onboardingID,
//	}
//	err := authzProvider.Authorize(ctx, req)
type AuthzRequest struct {
	// User is the authenticated user making the request.
	User *AuthInfo

	// Action is the operation being attempted.
	// Common actions: "read", "review", "provision"
	Action string

	// ResourceType is the category of resource being accessed.
	ResourceType string

	// ResourceID is the specific resource instance (optional).
	ResourceID string
}

// AuthzProvider checks if a user is authorized to perform an action.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthzProvider interface {
	// Authorize checks if the user is permitted to perform the action.
	//
	// Returns:
	//   - nil: Action is authorized
	//   - error: ErrForbidden (or wrapped) if denied
	Authorize(ctx context.Context, req AuthzRequest) error
}

// Local identity returned by NopAuthProvider.
const (
	LocalUserID = "local-user"
	LocalOrgID  = "local-org"
)

// NopAuthProvider is the default authentication provider for local development.
//
// It always returns the local user in the local organization with admin
// privileges.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns the local user. The token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID:  LocalUserID,
		OrgID:   LocalOrgID,
		OrgRole: "org:admin",
		Roles:   []string{"admin"},
	}, nil
}

// NopAuthzProvider is the default authorization provider. It allows all actions.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// RoleAuthzProvider allows an action only when the user carries one of the
// configured platform roles or is listed by user ID.
//
// Thread-safe: fields are read-only after construction.
type RoleAuthzProvider struct {
	roles   []string
	userIDs map[string]struct{}
}

// NewRoleAuthzProvider builds a RoleAuthzProvider. Either list may be empty.
func NewRoleAuthzProvider(roles []string, userIDs []string) *RoleAuthzProvider {
	ids := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			ids[id] = struct{}{}
		}
	}
	return &RoleAuthzProvider{roles: roles, userIDs: ids}
}

// Authorize returns ErrForbidden unless the user matches a role or user ID.
func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return ErrUnauthorized
	}
	if _, ok := p.userIDs[req.User.UserID]; ok {
		return nil
	}
	for _, role := range p.roles {
		if req.User.HasRole(role) {
			return nil
		}
	}
	return ErrForbidden
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
