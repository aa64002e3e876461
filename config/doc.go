// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package config loads the application's configuration from the environment.

A .env file in the working directory is read first when present, variables
set in the process environment take precedence over it.  Load validates
everything it read and reports every problem at once in a single
*ConfigurationError.

	cfg, err := config.Load()
	if err != nil {
		// errors.Is(err, config.ErrConfiguration) is true
	}
	logger := cfg.Logger("gladview")
	kv, err := cfg.KV(ctx)
*/
package config
