// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-uuid"
)

const fileExt = ".json"

// fileEntry is the on disk format of a FileKV value.
type fileEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// FileKV stores each key in its own file under a directory only readable by
// the current user.  Values survive process restarts, which makes FileKV the
// default backend for the CLI.
type FileKV struct {
	dir     string
	nowFunc func() time.Time
}

var _ KV = (*FileKV)(nil)

// NewFileKV creates a FileKV rooted at dir, creating the directory if needed.
// Supported options: WithNow
func NewFileKV(dir string, opt ...Option) (*FileKV, error) {
	const op = "storage.NewFileKV"
	if dir == "" {
		return nil, fmt.Errorf("%s: dir is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create %q: %w", op, dir, err)
	}
	opts := getOpts(opt...)
	return &FileKV{
		dir:     dir,
		nowFunc: opts.withNowFunc,
	}, nil
}

// Dir returns the directory the store writes to.
func (f *FileKV) Dir() string { return f.dir }

func (f *FileKV) now() time.Time {
	if f.nowFunc != nil {
		return f.nowFunc()
	}
	return time.Now()
}

// path hex encodes the key so any key maps to a safe file name.
func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, hex.EncodeToString([]byte(key))+fileExt)
}

func (f *FileKV) read(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var e fileEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("corrupt entry %q: %w", path, err)
	}
	if !e.ExpiresAt.IsZero() && !f.now().Before(e.ExpiresAt) {
		_ = os.Remove(path)
		return nil, ErrNotFound
	}
	return e.Value, nil
}

// Get implements KV.Get
func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	const op = "FileKV.Get"
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	v, err := f.read(f.path(key))
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", op, key, err)
	}
	return v, nil
}

// Set implements KV.Set.  The value is written to a temporary file which is
// then renamed over the key's file, so readers never see a partial write.
func (f *FileKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "FileKV.Set"
	if err := validKey(key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ttl < 0 {
		return fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = f.now().Add(ttl)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Take implements KV.Take.  The key's file is renamed before it's read, only
// one caller can win the rename.
func (f *FileKV) Take(_ context.Context, key string) ([]byte, error) {
	const op = "FileKV.Take"
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	taken := filepath.Join(f.dir, ".taken-"+suffix)
	if err := os.Rename(f.path(key), taken); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer os.Remove(taken)
	v, err := f.read(taken)
	if err != nil {
		return nil, fmt.Errorf("%s: %q: %w", op, key, err)
	}
	return v, nil
}

// Delete implements KV.Delete
func (f *FileKV) Delete(_ context.Context, key string) error {
	const op = "FileKV.Delete"
	if err := validKey(key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
