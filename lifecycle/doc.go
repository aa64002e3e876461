// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package lifecycle decides, once per application load, how the application
obtains its session.

Controller.Initialize works through these steps in priority order:

 1. The current location is the login callback: complete the authorization
    code exchange exactly once, strip the code and state from the location and
    report StateAuthenticated.  A failed exchange is logged and reported as
    StateNeedsLogin without issuing a redirect, so a broken provider response
    can't turn into a redirect loop.
 2. A stored session exists: a valid one is adopted, an expired one is renewed
    without user interaction.
 3. Otherwise the user agent is sent to the provider's login page, which ends
    the load.

The identity provider and the user agent are reached through the
IdentityProvider and Navigator interfaces, see the usermanager and browser
packages for implementations.

Example:

	holder := session.NewHolder()
	c, err := lifecycle.NewController(manager, location,
		lifecycle.WithHolder(holder),
		lifecycle.WithCallbackPath("/callback"),
		lifecycle.WithLogger(logger),
	)
	if err != nil {
		// handle err
	}
	switch out := c.Initialize(ctx); out.State {
	case lifecycle.StateAuthenticated:
		// mount the application, holder.Token() is the bearer token
	case lifecycle.StateNeedsLogin:
		// a redirect was issued, or out.Err explains why the callback failed
	case lifecycle.StateFailed:
		// out.Err
	}
*/
package lifecycle
