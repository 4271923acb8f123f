// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Access Flow
//
//	Request
//	   │
//	   ▼
//	AccessGate.Middleware
//	   │
//	   ├─► exempt path (/health, /ready, /metrics) → next
//	   │
//	   ├─► Origin in allowlist → AuthInfo{role: browser}
//	   │
//	   ├─► "Authorization: Bearer <t>" or "X-API-Key: <t>" in token set
//	   │       → AuthInfo{role: api}
//	   │
//	   └─► otherwise 401 before any handler runs
//	           │
//	           ▼
//	       RateLimiter → Handler (retrieves identity via GetAuthInfo)
//
// When no tokens and no origins are configured the gate runs open and every
// request is admitted as an anonymous caller.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
)

// =============================================================================
// Context Keys
// =============================================================================

// authInfoKey is the gin context key for the caller's AuthInfo.
const authInfoKey = "truthwindow_auth_info"

// Roles assigned by the gate.
const (
	RoleAPI       = "api"
	RoleBrowser   = "browser"
	RoleAnonymous = "anonymous"
)

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated caller in the Gin context.
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated caller from the Gin context.
//
// # Outputs
//
//   - *extensions.AuthInfo: Caller info, or nil if the request never
//     passed the gate (exempt paths, or a stored value of the wrong type).
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// RequireRole admits only callers the gate tagged with one of roles.
//
// # Description
//
// Used on the admin group so that a browser on an allowed origin cannot
// read store statistics. Anonymous callers pass when the gate is open.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetAuthInfo(c)
		if info != nil {
			if info.HasRole(RoleAnonymous) {
				c.Next()
				return
			}
			for _, r := range roles {
				if info.HasRole(r) {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, datatypes.ErrorResponse{Error: "forbidden"})
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// # Description
//
// Parses "Authorization: Bearer <token>". The scheme is case-insensitive
// per RFC 7235. Returns "" when the header is missing or malformed.
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

// extractToken prefers the bearer token and falls back to X-API-Key.
func extractToken(c *gin.Context) string {
	if token := extractBearerToken(c); token != "" {
		return token
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}

// normalizeOrigin trims whitespace and trailing slashes.
func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}
