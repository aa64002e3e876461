// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// ErrConfiguration is wrapped by every *ConfigurationError.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError lists every problem found while loading the
// configuration.
type ConfigurationError struct {
	problems *multierror.Error
}

// Problems returns the individual problems.
func (e *ConfigurationError) Problems() []error {
	if e == nil || e.problems == nil {
		return nil
	}
	return e.problems.WrappedErrors()
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e == nil || e.problems == nil {
		return ErrConfiguration.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.problems)
}

// Unwrap returns ErrConfiguration followed by every problem.
func (e *ConfigurationError) Unwrap() []error {
	return append([]error{ErrConfiguration}, e.Problems()...)
}

func problemsFormat(es []error) string {
	if len(es) == 1 {
		return es[0].Error()
	}
	s := fmt.Sprintf("%d problems:", len(es))
	for _, err := range es {
		s += "\n\t* " + err.Error()
	}
	return s
}
