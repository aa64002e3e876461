// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is the relying-party side of an OpenID Connect authorization code
flow for native and browser-style clients.

Primary types provided by the package:

  - Request: represents one OIDC authentication attempt for a user. It carries
    the state, nonce, PKCE verifier and the application path to return to once
    the provider redirects back. A Request is persisted while the user is away
    at the provider and consumed exactly once by the callback.

  - Token: represents an OIDC id_token, as well as an Oauth2 access_token and
    refresh_token (including the access_token expiry).

  - Config: provides the configuration for the flow (client ID/secret, issuer,
    redirect and post-logout URLs, supported signing algorithms, scopes).

  - Provider: integration with the identity provider. It discovers the
    provider's endpoints, generates auth URLs, exchanges codes for tokens,
    refreshes tokens non-interactively, builds end-session URLs and requests
    user info.

Signature verification of id_tokens is delegated to github.com/coreos/go-oidc
and the oauth2 protocol exchanges to golang.org/x/oauth2.

TestProvider is an in-process identity provider for tests.
*/
package oidc
