// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package transport decorates outgoing requests to the application's backend
with the bearer token of the current session.

The token is read from a TokenSource for every request, so a renewed session
is used by the next request without rebuilding the client.  Requests to any
other origin, most importantly the identity provider, are sent untouched.

	tr, err := transport.NewBearerTransport(cfg.APIURL, holder)
	if err != nil {
		// handle error
	}
	client := &http.Client{Transport: tr}
*/
package transport
