// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
)

// KV is a durable key/value store.  A ttl of zero means the value never
// expires.  Get and Take return ErrNotFound for a missing or expired key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Take returns the value and removes the key.  Concurrent callers can't
	// both succeed for the same value.
	Take(ctx context.Context, key string) ([]byte, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// DefaultDirName is the directory created under the user's home directory by
// DefaultDir.
const DefaultDirName = ".gladview"

// DefaultDir returns the default FileKV directory: $HOME/.gladview
func DefaultDir() (string, error) {
	const op = "storage.DefaultDir"
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("%s: unable to find home directory: %w", op, err)
	}
	return filepath.Join(home, DefaultDirName), nil
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is empty: %w", ErrInvalidParameter)
	}
	return nil
}
