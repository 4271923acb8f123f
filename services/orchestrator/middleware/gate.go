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
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/observability"
)

// DefaultExemptPaths bypass the gate.
var DefaultExemptPaths = []string{"/health", "/ready", "/metrics"}

// Gate decision reasons, used as the metric label.
const (
	reasonOpen          = "open"
	reasonOrigin        = "origin"
	reasonToken         = "token"
	reasonExempt        = "exempt"
	reasonInvalidToken  = "invalid_token"
	reasonNoCredentials = "no_credentials"
	reasonProviderError = "provider_error"
)

// Credentials is the reloadable part of the gate configuration.
type Credentials struct {
	// Tokens are accepted as "Authorization: Bearer <t>" or "X-API-Key: <t>".
	Tokens []string `yaml:"tokens"`

	// AllowedOrigins are compared exactly against the Origin header after
	// trailing slashes are trimmed from both.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GateConfig configures NewAccessGate.
type GateConfig struct {
	Credentials Credentials

	// ExemptPaths bypass the gate. Defaults to DefaultExemptPaths.
	ExemptPaths []string

	// Provider, when set, validates tokens the static set does not know,
	// e.g. keys issued by an external identity service. It is never
	// consulted in open mode.
	Provider extensions.AuthProvider

	Metrics *observability.Metrics
	Audit   extensions.AuditLogger
	Logger  *slog.Logger
}

// credentialSet is an immutable snapshot swapped atomically on reload.
type credentialSet struct {
	tokens  [][]byte
	origins map[string]struct{}
}

func newCredentialSet(c Credentials) *credentialSet {
	set := &credentialSet{origins: make(map[string]struct{}, len(c.AllowedOrigins))}
	for _, t := range c.Tokens {
		if t != "" {
			set.tokens = append(set.tokens, []byte(t))
		}
	}
	for _, o := range c.AllowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			set.origins[o] = struct{}{}
		}
	}
	return set
}

func (s *credentialSet) open() bool {
	return len(s.tokens) == 0 && len(s.origins) == 0
}

// matchToken compares token against every configured token in constant
// time per comparison and never short-circuits on a match.
func (s *credentialSet) matchToken(token string) bool {
	candidate := []byte(token)
	matched := 0
	for _, t := range s.tokens {
		matched |= subtle.ConstantTimeCompare(candidate, t)
	}
	return matched == 1
}

// AccessGate admits requests from allowed origins or with a known token.
//
// # Description
//
// A request is allowed when its Origin header is in the allowlist OR its
// bearer/API-key token is in the token set. Otherwise it is answered with
// 401 before any handler runs. With both sets empty the gate is open.
//
// AccessGate also implements extensions.AuthProvider for token validation.
//
// # Thread Safety
//
// Safe for concurrent use. Update swaps the credential snapshot atomically;
// in-flight requests finish against the snapshot they loaded.
type AccessGate struct {
	creds    atomic.Pointer[credentialSet]
	exempt   map[string]struct{}
	provider extensions.AuthProvider
	metrics  *observability.Metrics
	audit    extensions.AuditLogger
	logger   *slog.Logger
	openWarn sync.Once
}

var _ extensions.AuthProvider = (*AccessGate)(nil)

// NewAccessGate builds a gate from cfg and warns once when it runs open.
func NewAccessGate(cfg GateConfig) *AccessGate {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics(nil)
	}
	if cfg.Audit == nil {
		cfg.Audit = &extensions.NopAuditLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ExemptPaths == nil {
		cfg.ExemptPaths = DefaultExemptPaths
	}

	g := &AccessGate{
		exempt:   make(map[string]struct{}, len(cfg.ExemptPaths)),
		provider: cfg.Provider,
		metrics:  cfg.Metrics,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
	}
	for _, p := range cfg.ExemptPaths {
		g.exempt[p] = struct{}{}
	}
	g.Update(cfg.Credentials)
	return g
}

// Update replaces the credential set.
func (g *AccessGate) Update(c Credentials) {
	set := newCredentialSet(c)
	g.creds.Store(set)
	if set.open() {
		g.openWarn.Do(func() {
			g.logger.Warn("access gate is open: no API keys or allowed origins configured")
		})
		return
	}
	g.logger.Info("access gate credentials loaded",
		"tokens", len(set.tokens), "origins", len(set.origins))
}

// Open reports whether the gate currently admits everyone.
func (g *AccessGate) Open() bool {
	return g.creds.Load().open()
}

// Validate implements extensions.AuthProvider.
func (g *AccessGate) Validate(ctx context.Context, token string) (*extensions.AuthInfo, error) {
	set := g.creds.Load()
	if set.open() {
		return anonymous(), nil
	}
	if token == "" {
		return nil, fmt.Errorf("no token: %w", extensions.ErrUnauthorized)
	}
	if !set.matchToken(token) {
		if g.provider != nil {
			return g.provider.Validate(ctx, token)
		}
		return nil, fmt.Errorf("unknown token: %w", extensions.ErrUnauthorized)
	}
	return &extensions.AuthInfo{
		UserID:   "key:" + Fingerprint(token),
		Roles:    []string{RoleAPI},
		Metadata: extensions.NewMetadata().Set("method", "token"),
	}, nil
}

// Middleware returns the gin handler enforcing the gate.
func (g *AccessGate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := g.exempt[c.Request.URL.Path]; ok {
			g.metrics.RecordGateDecision(true, reasonExempt)
			c.Next()
			return
		}

		set := g.creds.Load()
		if set.open() {
			g.metrics.RecordGateDecision(true, reasonOpen)
			SetAuthInfo(c, anonymous())
			c.Next()
			return
		}

		if origin := normalizeOrigin(c.GetHeader("Origin")); origin != "" {
			if _, ok := set.origins[origin]; ok {
				g.metrics.RecordGateDecision(true, reasonOrigin)
				SetAuthInfo(c, &extensions.AuthInfo{
					UserID:   "origin:" + origin,
					Roles:    []string{RoleBrowser},
					Metadata: extensions.NewMetadata().Set("method", "origin").Set("origin", origin),
				})
				c.Next()
				return
			}
		}

		token := extractToken(c)
		info, err := g.Validate(c.Request.Context(), token)
		if err == nil {
			g.metrics.RecordGateDecision(true, reasonToken)
			SetAuthInfo(c, info)
			c.Next()
			return
		}

		reason := reasonInvalidToken
		switch {
		case token == "":
			reason = reasonNoCredentials
		case !errors.Is(err, extensions.ErrUnauthorized):
			g.logger.Error("auth provider failed", "error", err)
			reason = reasonProviderError
		}
		g.deny(c, reason)
	}
}

func (g *AccessGate) deny(c *gin.Context, reason string) {
	g.metrics.RecordGateDecision(false, reason)
	g.logger.Warn("access denied",
		"path", c.Request.URL.Path,
		"method", c.Request.Method,
		"client_ip", c.ClientIP(),
		"reason", reason)
	_ = g.audit.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:    "auth.denied",
		Action:       c.Request.Method,
		ResourceType: "route",
		ResourceID:   c.FullPath(),
		Outcome:      "denied",
		Metadata: extensions.NewMetadata().
			Set("reason", reason).
			Set("ip_address", c.ClientIP()),
	})
	c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorResponse{Error: "unauthorized"})
}

func anonymous() *extensions.AuthInfo {
	return &extensions.AuthInfo{
		UserID: extensions.AnonymousUserID,
		Roles:  []string{RoleAnonymous},
	}
}

// Fingerprint returns a short non-reversible identifier for a token, safe
// to log.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:4])
}
