// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package api is a client for the application's backend.  It's built on an
// http.Client whose transport adds the session's bearer token, see the
// transport package.
package api
