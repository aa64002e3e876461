// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKV is a process local KV.  It is safe for concurrent use.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFunc func() time.Time
}

var _ KV = (*MemoryKV)(nil)

// NewMemoryKV creates a MemoryKV. Supported options: WithNow
func NewMemoryKV(opt ...Option) *MemoryKV {
	opts := getOpts(opt...)
	return &MemoryKV{
		entries: map[string]memoryEntry{},
		nowFunc: opts.withNowFunc,
	}
}

func (m *MemoryKV) now() time.Time {
	if m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}

// get must be called with m.mu held.
func (m *MemoryKV) get(key string) ([]byte, bool) {
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true
}

// Get implements KV.Get
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	const op = "MemoryKV.Get"
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(key)
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	return v, nil
}

// Set implements KV.Set
func (m *MemoryKV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	const op = "MemoryKV.Set"
	if err := validKey(key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ttl < 0 {
		return fmt.Errorf("%s: negative ttl: %w", op, ErrInvalidParameter)
	}
	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Take implements KV.Take
func (m *MemoryKV) Take(_ context.Context, key string) ([]byte, error) {
	const op = "MemoryKV.Take"
	if err := validKey(key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(key)
	if !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, key, ErrNotFound)
	}
	delete(m.entries, key)
	return v, nil
}

// Delete implements KV.Delete
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	const op = "MemoryKV.Delete"
	if err := validKey(key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
