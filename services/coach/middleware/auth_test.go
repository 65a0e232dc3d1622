// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAuthProvider struct {
	authInfo  *extensions.AuthInfo
	err       error
	lastToken string
}

func (m *mockAuthProvider) Validate(_ context.Context, token string) (*extensions.AuthInfo, error) {
	m.lastToken = token
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(handlers...)
	router.GET("/test", func(c *gin.Context) {
		info := GetAuthInfo(c)
		c.JSON(http.StatusOK, gin.H{"user_id": info.UserID, "org_id": info.OrgID})
	})
	return router
}

func do(router *gin.Engine, mutate func(*http.Request)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if mutate != nil {
		mutate(req)
	}
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Token extraction
// =============================================================================

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer", "Bearer abc123", "", "abc123"},
		{"case insensitive", "bEaReR abc123", "", "abc123"},
		{"cookie fallback", "", "sess_1", "sess_1"},
		{"header wins", "Bearer hdr", "sess_1", "hdr"},
		{"basic ignored", "Basic abc", "", ""},
		{"empty bearer", "Bearer ", "", ""},
		{"nothing", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				c.Request.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, extractToken(c))
		})
	}
}

// =============================================================================
// Auth
// =============================================================================

func TestAuth_Success(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "user_1", OrgID: "org_1"}}
	w := do(newRouter(Auth(provider)), func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sess"})
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user_1","org_id":"org_1"}`, w.Body.String())
	assert.Equal(t, "sess", provider.lastToken)
}

func TestAuth_Unauthorized(t *testing.T) {
	providers := map[string]*mockAuthProvider{
		"rejected":       {err: extensions.ErrUnauthorized},
		"provider error": {err: errors.New("jwks unavailable")},
		"nil info":       {},
		"empty user":     {authInfo: &extensions.AuthInfo{}},
	}
	for name, p := range providers {
		t.Run(name, func(t *testing.T) {
			w := do(newRouter(Auth(p)), nil)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
		})
	}
}

func TestRequireOrg(t *testing.T) {
	noOrg := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "user_1"}}
	w := do(newRouter(Auth(noOrg), RequireOrg()), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	withOrg := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "user_1", OrgID: "org_1"}}
	w = do(newRouter(Auth(withOrg), RequireOrg()), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(newRouter(RequireOrg()), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	authz := extensions.NewRoleAuthzProvider([]string{"admin"}, []string{"user_admin"})

	admin := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "user_admin"}}
	w := do(newRouter(Auth(admin), RequireAdmin(authz, "review")), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	member := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "user_2", OrgID: "org_1"}}
	w = do(newRouter(Auth(member), RequireAdmin(authz, "review")), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"Forbidden"}`, w.Body.String())
}

// =============================================================================
// Rate limiting
// =============================================================================

func TestRateLimit_PerOrg(t *testing.T) {
	limiter := NewOrgLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	orgA := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "u", OrgID: "org_a"}}
	orgB := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "u", OrgID: "org_b"}}
	routerA := newRouter(Auth(orgA), RateLimit(limiter))
	routerB := newRouter(Auth(orgB), RateLimit(limiter))

	assert.Equal(t, http.StatusOK, do(routerA, nil).Code)
	assert.Equal(t, http.StatusOK, do(routerA, nil).Code)
	w := do(routerA, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(routerB, nil).Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, do(routerA, nil).Code)
}

func TestOrgLimiter_EvictsIdleBucketsAfterTTL(t *testing.T) {
	limiter := NewOrgLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	limiter.Allow("org_a")
	now = now.Add(limiter.ttl + time.Second)
	limiter.Allow("org_b")

	assert.NotContains(t, limiter.buckets, "org_a")
	assert.Contains(t, limiter.buckets, "org_b")
}

func TestRateLimit_NilDisables(t *testing.T) {
	p := &mockAuthProvider{authInfo: &extensions.AuthInfo{UserID: "u", OrgID: "o"}}
	router := newRouter(Auth(p), RateLimit(nil))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(router, nil).Code)
	}
}
