// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable access-control and audit points
// of the guard HTTP API.
//
// # Default Behavior
//
// DefaultOptions returns no-op implementations: every caller is a local
// admin, every action is allowed and audit events are discarded. Configured
// API tokens switch the server to TokenAuthProvider with RoleAuthzProvider.
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions bundles the extension implementations used by the API.
//
// Example:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(tokens).
//	    WithAuthz(&extensions.RoleAuthzProvider{})
type ServiceOptions struct {
	// AuthProvider validates bearer tokens.
	// Default: NopAuthProvider
	AuthProvider AuthProvider

	// AuthzProvider checks permissions.
	// Default: NopAuthzProvider
	AuthzProvider AuthzProvider

	// AuditLogger records rule loads, alert resolutions, learning passes
	// and denials.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
		AuditLogger:   &NopAuditLogger{},
	}
}

// WithDefaults fills nil fields with the no-op implementations.
func (opts ServiceOptions) WithDefaults() ServiceOptions {
	d := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = d.AuthProvider
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = d.AuthzProvider
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = d.AuditLogger
	}
	return opts
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy of opts with the given AuthzProvider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
