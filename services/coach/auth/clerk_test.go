// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

const testIssuer = "https://clerk.frontera.test"

func newKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func sign(t *testing.T, priv *rsa.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	return tok
}

func registered(sub string, exp time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    testIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(exp)),
	}
}

func TestClerkProvider_Validate(t *testing.T) {
	priv, pub := newKey(t)
	otherPriv, _ := newKey(t)

	p, err := NewClerkProvider(ClerkConfig{PublicKeyPEM: pub, Issuer: testIssuer, AuthorizedParties: []string{"https://app.frontera.test"}})
	require.NoError(t, err)

	t.Run("v1 org claims", func(t *testing.T) {
		tok := sign(t, priv, &ClerkClaims{
			RegisteredClaims: registered("user_1", time.Minute),
			AuthorizedParty:  "https://app.frontera.test",
			OrgID:            "org_1",
			OrgRole:          "org:admin",
			Email:            "a@b.test",
		})
		info, err := p.Validate(context.Background(), tok)
		require.NoError(t, err)
		assert.Equal(t, &extensions.AuthInfo{UserID: "user_1", OrgID: "org_1", OrgRole: "org:admin", Email: "a@b.test"}, info)
	})

	t.Run("v2 nested org claims", func(t *testing.T) {
		tok := sign(t, priv, &ClerkClaims{
			RegisteredClaims: registered("user_2", time.Minute),
			AuthorizedParty:  "https://app.frontera.test",
			Org:              &orgClaim{ID: "org_2", Role: "member"},
		})
		info, err := p.Validate(context.Background(), tok)
		require.NoError(t, err)
		assert.Equal(t, "org_2", info.OrgID)
		assert.Equal(t, "org:member", info.OrgRole)
	})

	t.Run("no organization", func(t *testing.T) {
		tok := sign(t, priv, &ClerkClaims{RegisteredClaims: registered("user_3", time.Minute), AuthorizedParty: "https://app.frontera.test"})
		info, err := p.Validate(context.Background(), tok)
		require.NoError(t, err)
		assert.Empty(t, info.OrgID)
	})

	rejects := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"expired", sign(t, priv, &ClerkClaims{RegisteredClaims: registered("u", -time.Minute), AuthorizedParty: "https://app.frontera.test"})},
		{"wrong key", sign(t, otherPriv, &ClerkClaims{RegisteredClaims: registered("u", time.Minute), AuthorizedParty: "https://app.frontera.test"})},
		{"no subject", sign(t, priv, &ClerkClaims{RegisteredClaims: registered("", time.Minute), AuthorizedParty: "https://app.frontera.test"})},
		{"wrong party", sign(t, priv, &ClerkClaims{RegisteredClaims: registered("u", time.Minute), AuthorizedParty: "https://evil.test"})},
		{"wrong issuer", func() string {
			rc := registered("u", time.Minute)
			rc.Issuer = "https://elsewhere.test"
			return sign(t, priv, &ClerkClaims{RegisteredClaims: rc, AuthorizedParty: "https://app.frontera.test"})
		}()},
		{"no expiry", func() string {
			rc := registered("u", time.Minute)
			rc.ExpiresAt = nil
			return sign(t, priv, &ClerkClaims{RegisteredClaims: rc, AuthorizedParty: "https://app.frontera.test"})
		}()},
		{"hs256 with public key as secret", func() string {
			tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &ClerkClaims{RegisteredClaims: registered("u", time.Minute)}).SignedString([]byte(pub))
			require.NoError(t, err)
			return tok
		}()},
	}
	for _, tt := range rejects {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			info, err := p.Validate(context.Background(), tt.token)
			assert.Nil(t, info)
			assert.ErrorIs(t, err, extensions.ErrUnauthorized)
		})
	}
}

func TestNewClerkProvider_BadKey(t *testing.T) {
	_, err := NewClerkProvider(ClerkConfig{})
	assert.Error(t, err)

	_, err = NewClerkProvider(ClerkConfig{PublicKeyPEM: "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"})
	assert.Error(t, err)
}

func TestClerkClaims_Organization(t *testing.T) {
	c := &ClerkClaims{OrgID: "top", Org: &orgClaim{ID: "nested", Role: "admin"}}
	id, role := c.Organization()
	assert.Equal(t, "top", id)
	assert.Equal(t, "org:admin", role)
}
