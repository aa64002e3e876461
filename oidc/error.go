// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import "errors"

var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrNilParameter              = errors.New("nil parameter")
	ErrInvalidCACert             = errors.New("invalid CA certificate")
	ErrInvalidIssuer             = errors.New("invalid issuer")
	ErrIDGeneratorFailed         = errors.New("id generation failed")
	ErrExpiredRequest            = errors.New("request is expired")
	ErrInvalidResponseState      = errors.New("invalid response state")
	ErrMissingIDToken            = errors.New("id_token is missing")
	ErrMissingAccessToken        = errors.New("access_token is missing")
	ErrMissingRefreshToken       = errors.New("refresh_token is missing")
	ErrIDTokenVerificationFailed = errors.New("id_token verification failed")
	ErrExpiredToken              = errors.New("token is expired")
	ErrInvalidNonce              = errors.New("invalid id_token nonce")
	ErrInvalidAudience           = errors.New("invalid id_token audiences")
	ErrUnsupportedAlg            = errors.New("unsupported signing algorithm")
	ErrUnsupported               = errors.New("unsupported by provider")
	ErrNotFound                  = errors.New("not found")
	ErrUserInfoFailed            = errors.New("user info failed")
)
