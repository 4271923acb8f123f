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

// ErrUnauthorized is returned when a caller cannot be authenticated.
// Implementations wrap it with context:
//
//	return nil, fmt.Errorf("unknown api key: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AnonymousUserID identifies callers admitted without credentials.
const AnonymousUserID = "anonymous"

// AuthInfo contains identity information returned after authentication.
//
// Required fields (always populated):
//   - UserID: Stable identifier for the caller. For API keys this is a
//     fingerprint, never the key itself.
//
// Optional fields:
//   - Roles: Role memberships used by route guards
//   - Metadata: Provider-specific claims (e.g. "origin")
//
// Example:
//
//	info := &AuthInfo{
//	    UserID:   "key:3f2a9c1b",
//	    Roles:    []string{"api"},
//	    Metadata: NewMetadata().Set("method", "bearer"),
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated caller.
	// This is the only required field and must never be empty.
	UserID string

	// Roles contains the caller's role memberships.
	Roles []string

	// Metadata holds additional claims from the provider.
	Metadata Metadata
}

// HasRole checks if the caller has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns caller identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the caller's
	// identity. Invalid tokens yield ErrUnauthorized (or a wrap of it);
	// other errors signal provider failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider admits every caller as anonymous.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns the anonymous caller. The token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: AnonymousUserID,
		Roles:  []string{AnonymousUserID},
	}, nil
}

// Compile-time interface compliance check.
var _ AuthProvider = (*NopAuthProvider)(nil)
