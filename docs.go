// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// capsession (client authentication session) bootstraps the OIDC session of a
// client application: it adopts a stored session, renews an expired one,
// completes a login callback or starts a new login, exactly once per
// application load.
//
// The packages, bottom up:
//
//   - storage: the key/value backends (memory, file, redis)
//   - session: the Session value, its Store and the in-memory Holder
//   - oidc: the relying party (discovery, code exchange, refresh, logout)
//   - usermanager: the identity provider client used by lifecycle
//   - lifecycle: the Controller, its Outcome and error taxonomy
//   - browser: the user agent's location, the loopback callback server
//   - transport, api: the backend client carrying the current token
//   - config: environment configuration
//
// See cmd/gladview for a complete application.
package capsession
