// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"sync"
	"time"
)

// Holder owns the single in-memory Session of the running application.  It
// hands out copies, so callers can't mutate the held value.  It's safe for
// concurrent use.
type Holder struct {
	mu      sync.RWMutex
	s       *Session
	nowFunc func() time.Time
}

// NewHolder creates an empty Holder.  Supported options: WithNow
func NewHolder(opt ...Option) *Holder {
	opts := getOpts(opt...)
	return &Holder{nowFunc: opts.withNowFunc}
}

func (h *Holder) now() time.Time {
	if h.nowFunc != nil {
		return h.nowFunc()
	}
	return time.Now()
}

// Current returns a copy of the held session, or nil when there's no session
// or it is no longer valid.
func (h *Holder) Current() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.s.Valid(h.now()) {
		return nil
	}
	return h.s.Clone()
}

// Peek returns a copy of the held session even when it has expired.
func (h *Holder) Peek() *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.s.Clone()
}

// Set replaces the held session.
func (h *Holder) Set(s *Session) {
	cp := s.Clone()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s = cp
}

// Clear drops the held session.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s = nil
}

// Token returns the access token of the current session, or an empty string.
// It's read on every call.
func (h *Holder) Token() string {
	if s := h.Current(); s != nil {
		return s.AccessToken
	}
	return ""
}
