// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext(headers map[string]string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	for k, v := range headers {
		c.Request.Header.Set(k, v)
	}
	return c
}

// =============================================================================
// Token extraction
// =============================================================================

func TestExtractBearerToken_ValidToken(t *testing.T) {
	c := newTestContext(map[string]string{"Authorization": "Bearer abc123"})
	assert.Equal(t, "abc123", extractBearerToken(c))
}

func TestExtractBearerToken_MissingHeader(t *testing.T) {
	assert.Empty(t, extractBearerToken(newTestContext(nil)))
}

func TestExtractBearerToken_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "abc123"},
		{"basic auth", "Basic abc123"},
		{"empty bearer", "Bearer "},
		{"only bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext(map[string]string{"Authorization": tt.header})
			assert.Empty(t, extractBearerToken(c))
		})
	}
}

func TestExtractBearerToken_CaseInsensitive(t *testing.T) {
	for _, header := range []string{"bearer abc123", "BEARER abc123", "BeArEr abc123"} {
		t.Run(header, func(t *testing.T) {
			c := newTestContext(map[string]string{"Authorization": header})
			assert.Equal(t, "abc123", extractBearerToken(c))
		})
	}
}

func TestExtractToken_FallsBackToAPIKey(t *testing.T) {
	c := newTestContext(map[string]string{"X-API-Key": " key-1 "})
	assert.Equal(t, "key-1", extractToken(c))

	c = newTestContext(map[string]string{"X-API-Key": "key-1", "Authorization": "Bearer key-2"})
	assert.Equal(t, "key-2", extractToken(c))
}

func TestNormalizeOrigin(t *testing.T) {
	assert.Equal(t, "https://a.org", normalizeOrigin("https://a.org/"))
	assert.Equal(t, "https://a.org", normalizeOrigin(" https://a.org// "))
	assert.Equal(t, "", normalizeOrigin(""))
}

// =============================================================================
// Context helpers
// =============================================================================

func TestGetAuthInfo(t *testing.T) {
	c := newTestContext(nil)
	assert.Nil(t, GetAuthInfo(c))

	info := &extensions.AuthInfo{UserID: "key:1"}
	SetAuthInfo(c, info)
	assert.Same(t, info, GetAuthInfo(c))

	c.Set(authInfoKey, "not an auth info")
	assert.Nil(t, GetAuthInfo(c))
}

// =============================================================================
// RequireRole
// =============================================================================

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name string
		info *extensions.AuthInfo
		want int
	}{
		{"api caller", &extensions.AuthInfo{UserID: "key:1", Roles: []string{RoleAPI}}, http.StatusOK},
		{"browser caller", &extensions.AuthInfo{UserID: "origin:x", Roles: []string{RoleBrowser}}, http.StatusForbidden},
		{"open gate", anonymous(), http.StatusOK},
		{"no identity", nil, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(func(c *gin.Context) {
				if tt.info != nil {
					SetAuthInfo(c, tt.info)
				}
			})
			router.GET("/admin", RequireRole(RoleAPI), func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/admin", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
