// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/AleutianGuard/pkg/secrets"
)

// ErrUnauthorized is returned when a token is missing or unknown.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated caller may not perform an
// action.
var ErrForbidden = errors.New("forbidden")

// Roles understood by RoleAuthzProvider.
const (
	// RoleAdmin may do everything, including loading rules and learning.
	RoleAdmin = "admin"

	// RoleValidator may validate content and read rules, metrics and alerts.
	RoleValidator = "validator"

	// RoleViewer may only read.
	RoleViewer = "viewer"
)

// Actions checked by the guard API.
const (
	ActionRead     = "read"
	ActionValidate = "validate"
	ActionWrite    = "write"
)

// AuthInfo is the identity returned after successful authentication.
//
// Example:
//
//	info := &AuthInfo{Subject: "ci-pipeline", Roles: []string{RoleValidator}}
type AuthInfo struct {
	// Subject identifies the caller. Never empty.
	Subject string `json:"subject"`

	// Roles are the caller's role memberships.
	Roles []string `json:"roles"`
}

// HasRole checks if the caller has a specific role.
//
//	if !info.HasRole(RoleAdmin) {
//	    return ErrForbidden
//	}
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates bearer tokens and returns the caller's identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default NopAuthProvider returns a "local-user" admin for any token,
// so a local server needs no credentials.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// Returns:
	//   - *AuthInfo: identity if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token, including the empty one.
type NopAuthProvider struct{}

// Validate always returns a local admin.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{Subject: "local-user", Roles: []string{RoleAdmin}}, nil
}

// Token is one static API token. The token value stays sealed until
// NewTokenAuthProvider hashes it; validate min and max apply to its length
// once secrets.RegisterValidation has been called.
type Token struct {
	Token   *secrets.Secret `yaml:"token" json:"-" validate:"required,min=16"`
	Subject string          `yaml:"subject" json:"subject" validate:"required"`
	Roles   []string        `yaml:"roles" json:"roles" validate:"required,dive,oneof=admin validator viewer"`
}

// TokenAuthProvider authenticates against a fixed token list.
//
// # Description
//
// Tokens are compared by SHA-256 digest in constant time so lookup timing
// does not reveal how much of a guess matched.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type TokenAuthProvider struct {
	entries []tokenEntry
}

type tokenEntry struct {
	digest [sha256.Size]byte
	info   AuthInfo
}

// NewTokenAuthProvider builds a provider from tokens.
//
// # Outputs
//
//   - *TokenAuthProvider: Ready provider.
//   - error: Non-nil when a token is empty or repeated.
func NewTokenAuthProvider(tokens []Token) (*TokenAuthProvider, error) {
	p := &TokenAuthProvider{entries: make([]tokenEntry, 0, len(tokens))}
	seen := make(map[[sha256.Size]byte]bool, len(tokens))
	for _, t := range tokens {
		if t.Token.IsZero() {
			return nil, fmt.Errorf("token for %q is empty", t.Subject)
		}
		var d [sha256.Size]byte
		if err := t.Token.Open(func(b []byte) error {
			d = sha256.Sum256(b)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("token for %q: %w", t.Subject, err)
		}
		if seen[d] {
			return nil, fmt.Errorf("token for %q is configured twice", t.Subject)
		}
		seen[d] = true
		p.entries = append(p.entries, tokenEntry{
			digest: d,
			info:   AuthInfo{Subject: t.Subject, Roles: slices.Clone(t.Roles)},
		})
	}
	return p, nil
}

// Validate returns the identity bound to token.
func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing bearer token: %w", ErrUnauthorized)
	}
	d := sha256.Sum256([]byte(token))
	var match *AuthInfo
	for i := range p.entries {
		if subtle.ConstantTimeCompare(d[:], p.entries[i].digest[:]) == 1 {
			match = &p.entries[i].info
		}
	}
	if match == nil {
		return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	info := *match
	info.Roles = slices.Clone(match.Roles)
	return &info, nil
}

// AuthzRequest describes an authorization check as (subject, action, resource).
type AuthzRequest struct {
	User     *AuthInfo
	Action   string
	Resource string
}

// AuthzProvider checks if a caller may perform an action.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthzProvider interface {
	// Authorize returns nil when allowed and ErrForbidden (or wrapped) when not.
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthzProvider allows every action.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// RoleAuthzProvider maps roles to permitted actions.
//
//	admin:     read, validate, write
//	validator: read, validate
//	viewer:    read
type RoleAuthzProvider struct{}

var rolePermissions = map[string][]string{
	RoleAdmin:     {ActionRead, ActionValidate, ActionWrite},
	RoleValidator: {ActionRead, ActionValidate},
	RoleViewer:    {ActionRead},
}

// Authorize allows the action if any of the caller's roles permits it.
func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return fmt.Errorf("no identity: %w", ErrUnauthorized)
	}
	for _, role := range req.User.Roles {
		if slices.Contains(rolePermissions[role], req.Action) {
			return nil
		}
	}
	return fmt.Errorf("%s cannot %s %s: %w", req.User.Subject, req.Action, req.Resource, ErrForbidden)
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = (*TokenAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
