// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

func TestOrgLimiter_PerOrgBuckets(t *testing.T) {
	l := NewOrgLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("org_a"))
	assert.True(t, l.Allow("org_a"))
	assert.False(t, l.Allow("org_a"), "burst exhausted")
	assert.True(t, l.Allow("org_b"), "other orgs are unaffected")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("org_a"), "one token refilled")
	assert.False(t, l.Allow("org_a"))
}

func TestOrgLimiter_EvictsIdleBuckets(t *testing.T) {
	l := NewOrgLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("org_a")
	now = now.Add(5 * time.Minute)
	l.Allow("org_b")
	now = now.Add(6 * time.Minute)
	l.Allow("org_b")

	_, okA := l.buckets["org_a"]
	_, okB := l.buckets["org_b"]
	assert.False(t, okA)
	assert.True(t, okB)
}

func TestNewOrgLimiter_DefaultBurst(t *testing.T) {
	assert.Equal(t, 3, NewOrgLimiter(2.5, 0).burst)
	assert.Equal(t, 1, NewOrgLimiter(0.2, -1).burst)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewOrgLimiter(0.5, 1)

	org := "org_a"
	r := gin.New()
	r.Use(func(c *gin.Context) {
		SetAuthInfo(c, &extensions.AuthInfo{UserID: "user_1", OrgID: org})
		c.Next()
	})
	r.Use(RateLimit(l))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get().Code)
	w := get()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many requests"}`, w.Body.String())

	org = "org_b"
	assert.Equal(t, http.StatusOK, get().Code)
}

func TestRateLimit_NilLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(nil))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
