// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import "errors"

var (
	// ErrConfiguration means the controller can't run at all, for example
	// because a required collaborator is missing.
	ErrConfiguration = errors.New("configuration error")

	// ErrCallbackExchange means the login callback could not be turned into
	// a session (invalid, consumed or missing authorization response).
	ErrCallbackExchange = errors.New("callback exchange failed")

	// ErrSilentRenewal means the provider refused a non-interactive renewal.
	ErrSilentRenewal = errors.New("silent renewal failed")

	// ErrLoginRedirect means the redirect to the login page could not be
	// issued.
	ErrLoginRedirect = errors.New("login redirect failed")

	// ErrLogoutInitiation means the redirect to the logout page could not be
	// issued.  The held session is left unchanged.
	ErrLogoutInitiation = errors.New("logout initiation failed")

	// ErrProviderTimeout is wrapped with one of the errors above when a
	// provider interaction did not complete in time.
	ErrProviderTimeout = errors.New("identity provider timed out")

	errUnusableSession = errors.New("provider returned an unusable session")
)
