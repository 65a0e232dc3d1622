// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth verifies Clerk session tokens.
//
// Clerk signs session JWTs with the instance's RSA key. Verification is
// networkless: the PEM public key from the Clerk dashboard is configured
// once and every token is checked locally for signature, expiry and,
// optionally, issuer and authorized party.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

// ClerkConfig configures a ClerkProvider.
type ClerkConfig struct {
	// PublicKeyPEM is the instance's PEM-encoded RSA public key.
	PublicKeyPEM string

	// Issuer, when set, must equal the token's iss claim.
	Issuer string

	// AuthorizedParties, when non-empty, restricts the azp claim.
	AuthorizedParties []string

	// Leeway tolerates clock skew on exp/nbf/iat. Default: 5s
	Leeway time.Duration
}

// ClerkClaims are the session token claims the service reads.
//
// Version 1 session tokens carry org_id/org_role at the top level; version 2
// tokens nest them under "o" with the role unprefixed.
type ClerkClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string    `json:"azp,omitempty"`
	OrgID           string    `json:"org_id,omitempty"`
	OrgRole         string    `json:"org_role,omitempty"`
	Org             *orgClaim `json:"o,omitempty"`
	Email           string    `json:"email,omitempty"`
}

type orgClaim struct {
	ID   string `json:"id"`
	Role string `json:"rol"`
	Slug string `json:"slg,omitempty"`
}

// Organization returns the active organization and the member's role,
// normalised to Clerk's "org:<role>" form.
func (c *ClerkClaims) Organization() (id, role string) {
	id, role = c.OrgID, c.OrgRole
	if c.Org != nil {
		if id == "" {
			id = c.Org.ID
		}
		if role == "" {
			role = c.Org.Role
		}
	}
	if role != "" && !strings.HasPrefix(role, "org:") {
		role = "org:" + role
	}
	return id, role
}

// ClerkProvider implements extensions.AuthProvider for Clerk sessions.
type ClerkProvider struct {
	config ClerkConfig
	parser *jwt.Parser
	key    any
}

// NewClerkProvider parses the configured public key.
//
// # Outputs
//
//   - *ClerkProvider: Ready provider.
//   - error: The PEM is missing or is not an RSA public key.
func NewClerkProvider(cfg ClerkConfig) (*ClerkProvider, error) {
	if strings.TrimSpace(cfg.PublicKeyPEM) == "" {
		return nil, errors.New("clerk public key is missing")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse clerk public key: %w", err)
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = 5 * time.Second
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &ClerkProvider{config: cfg, parser: jwt.NewParser(opts...), key: key}, nil
}

// Validate verifies token and maps its claims to AuthInfo.
//
// # Outputs
//
//   - *extensions.AuthInfo: UserID from sub; OrgID/OrgRole from the active
//     organization, empty when the session has none.
//   - error: Wraps extensions.ErrUnauthorized for every rejection.
func (p *ClerkProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no session token", extensions.ErrUnauthorized)
	}

	claims := &ClerkClaims{}
	parsed, err := p.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", extensions.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", extensions.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", extensions.ErrUnauthorized)
	}
	if len(p.config.AuthorizedParties) > 0 && !slices.Contains(p.config.AuthorizedParties, claims.AuthorizedParty) {
		return nil, fmt.Errorf("%w: unexpected authorized party %q", extensions.ErrUnauthorized, claims.AuthorizedParty)
	}

	orgID, orgRole := claims.Organization()
	return &extensions.AuthInfo{
		UserID:  claims.Subject,
		OrgID:   orgID,
		OrgRole: orgRole,
		Email:   claims.Email,
	}, nil
}

var _ extensions.AuthProvider = (*ClerkProvider)(nil)
