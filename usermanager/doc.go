// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package usermanager implements lifecycle.IdentityProvider on top of an
// oidc.Provider and a session.Store.
//
// The Manager persists a PKCE protected login request before sending the user
// agent to the provider and consumes it exactly once when the callback
// arrives.  Renewal uses the refresh_token grant.  Every call to the provider
// is bounded by the configured timeout, a deadline is reported as
// lifecycle.ErrProviderTimeout.
package usermanager
