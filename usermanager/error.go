// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package usermanager

import "errors"

var (
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNoSession        = errors.New("no session")

	// ErrNoRefreshToken means the stored session can't be renewed without
	// user interaction.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrNoExpiry means the provider's token response has no expires_in and
	// the access token has no exp claim.
	ErrNoExpiry = errors.New("token has no expiry")

	// ErrAuthenticationResponse means the provider answered the login with
	// an error response (for example access_denied).
	ErrAuthenticationResponse = errors.New("authentication error response")
)
