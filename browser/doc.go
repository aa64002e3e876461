// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package browser models the user agent for a native client.
//
// Location is the current address of the application and implements
// lifecycle.Navigator.  A navigation to the provider is delegated to an
// Opener, by default Open which launches the system browser.
// CallbackServer receives the provider's redirect back to the application on
// a loopback address and turns it into the next application load.
package browser
