// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"net/url"

	"github.com/hashicorp/cap-session/session"
)

// SigninResponse is the result of a completed login callback.
type SigninResponse struct {
	Session *session.Session

	// ReturnTo is the application path the user started the login from.
	ReturnTo string
}

// Renewer renews a session without user interaction.
type Renewer interface {
	SilentRenew(ctx context.Context) (*session.Session, error)
}

// IdentityProvider is the contract the controller needs from an OIDC client.
// Implementations apply their own bounded timeouts and report a deadline as
// ErrProviderTimeout.
type IdentityProvider interface {
	Renewer

	// CurrentSession returns the persisted session or nil when there is none.
	CurrentSession(ctx context.Context) (*session.Session, error)

	// CompleteCallback exchanges the authorization response carried by the
	// callback location.  It fails for an invalid, consumed or missing
	// response.
	CompleteCallback(ctx context.Context, callback *url.URL) (*SigninResponse, error)

	// RedirectToLogin sends the user agent to the login page.  returnTo is
	// restored after the callback.
	RedirectToLogin(ctx context.Context, returnTo string) error

	// RedirectToLogout sends the user agent to the logout page.
	RedirectToLogout(ctx context.Context) error
}

// Navigator is the user agent's location.
type Navigator interface {
	// Location returns the current location.
	Location() *url.URL

	// ReplaceState rewrites the current location to path (which may carry a
	// query) without a navigation or a new history entry.
	ReplaceState(path string)

	// Navigate sends the user agent to target.  After a successful call the
	// current load should be treated as finished.
	Navigate(ctx context.Context, target string) error
}
