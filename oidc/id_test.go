// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		opt        []Option
		wantLen    int
		wantPrefix string
	}{
		{
			name:    "no-prefix",
			wantLen: DefaultIDLength,
		},
		{
			name:       "with-prefix",
			opt:        []Option{WithPrefix("st")},
			wantLen:    DefaultIDLength + len("st_"),
			wantPrefix: "st_",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewID(tt.opt...)
			require.NoError(err)
			assert.Len(got, tt.wantLen)
			assert.True(strings.HasPrefix(got, tt.wantPrefix))

			again, err := NewID(tt.opt...)
			require.NoError(err)
			assert.NotEqual(got, again)
		})
	}
}
