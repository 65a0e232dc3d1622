// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable seams of the Frontera service.
//
// Hosted collaborators (the identity provider, the product-analytics
// pipeline) are reached through the interfaces in this package so that the
// HTTP layer never depends on a concrete vendor client. Local development
// and tests run with the no-op defaults.
//
// # Extension Categories
//
//   - auth.go: Authentication and authorization (AuthProvider, AuthzProvider)
//   - analytics.go: Fire-and-forget product analytics (AnalyticsSink)
//
// # Usage
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(clerkProvider).
//	    WithAnalytics(posthogSink)
//	svc, err := coach.New(cfg, &opts)
//
// # Thread Safety
//
// All interface implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups all extension points for service configuration.
//
// All fields are optional; nil values are replaced with no-op defaults
// by Normalize.
type ServiceOptions struct {
	// AuthProvider validates session tokens.
	// Default: NopAuthProvider (always returns the local user and org)
	AuthProvider AuthProvider

	// AuthzProvider checks platform-level permissions (admin routes).
	// Default: NopAuthzProvider (always allows)
	AuthzProvider AuthzProvider

	// Analytics receives product analytics events.
	// Default: NopAnalyticsSink (discards)
	Analytics AnalyticsSink
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
		Analytics:     &NopAnalyticsSink{},
	}
}

// Normalize returns a copy of opts with every nil field replaced by its
// no-op default.
func (opts ServiceOptions) Normalize() ServiceOptions {
	defaults := DefaultOptions()
	if opts.AuthProvider == nil {
		opts.AuthProvider = defaults.AuthProvider
	}
	if opts.AuthzProvider == nil {
		opts.AuthzProvider = defaults.AuthzProvider
	}
	if opts.Analytics == nil {
		opts.Analytics = defaults.Analytics
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

// WithAnalytics returns a copy of opts with the given AnalyticsSink.
func (opts ServiceOptions) WithAnalytics(sink AnalyticsSink) ServiceOptions {
	opts.Analytics = sink
	return opts
}
