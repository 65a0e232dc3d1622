// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the coaching service.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	Auth
//	   │
//	   ├─► Token from "Authorization: Bearer <token>" or the __session cookie
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       RequireOrg ─► RateLimit ─► Handler (GetAuthInfo)
//
// # Local Development
//
// With NopAuthProvider every request is authenticated as the local user
// acting for the local org, so the API is usable without Clerk.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/frontera-labs/frontera/pkg/extensions"
)

// =============================================================================
// Context Keys
// =============================================================================

const authInfoKey = "frontera_auth_info"

// SessionCookie is the cookie Clerk's frontend SDK stores the session in.
const SessionCookie = "__session"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated user info in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: User info, or nil if not authenticated.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Middleware
// =============================================================================

// Auth authenticates requests with provider.
//
// # Description
//
// Every failure, whether a missing token, a bad signature or a provider
// error, aborts with 401 and the body {"error":"Unauthorized"}. The
// reason is not disclosed to the caller.
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Auth(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil || authInfo == nil || authInfo.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireOrg rejects sessions with no active organization with 403. It
// must run after Auth.
func RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if info.OrgID == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "No organization selected"})
			return
		}
		c.Next()
	}
}

// RequireAdmin asks authz whether the session may perform action on the
// admin resource; denial is 403. It must run after Auth.
func RequireAdmin(authz extensions.AuthzProvider, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		err := authz.Authorize(c.Request.Context(), extensions.AuthzRequest{
			User:         info,
			Action:       action,
			ResourceType: "admin",
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractToken returns the bearer token, falling back to the session
// cookie. The "Bearer" prefix is case-insensitive per RFC 7235.
func extractToken(c *gin.Context) string {
	if token := extractBearerToken(c); token != "" {
		return token
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
