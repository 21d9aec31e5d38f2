// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tokens bounds the number of concurrent activities per category.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/sched"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// Category is a pool of tokens.
type Category int

const (
	// CatClient bounds the downloads started on behalf of local requests.
	CatClient Category = iota
	// CatUnlimited is never exhausted.
	CatUnlimited
)

func (c Category) String() string {
	switch c {
	case CatClient:
		return "client"
	case CatUnlimited:
		return "unlimited"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// ErrNoResource is returned when a category has no free token.
var ErrNoResource = errors.New("tokens: category full")

const defaultClientLimit = 8

type Options struct {
	ClientLimit int64
}

type Manager struct {
	pools   map[Category]*pool
	logger  logging.Logger
	metrics metrics
}

type pool struct {
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

func New(logger logging.Logger, o Options) *Manager {
	if o.ClientLimit <= 0 {
		o.ClientLimit = defaultClientLimit
	}
	return &Manager{
		pools: map[Category]*pool{
			CatClient:    {sem: semaphore.NewWeighted(o.ClientLimit)},
			CatUnlimited: {},
		},
		logger:  logger,
		metrics: newMetrics(),
	}
}

// TryAcquire returns a token of the category without blocking.
func (m *Manager) TryAcquire(cat Category, reason string) (*Token, error) {
	p, err := m.pool(cat)
	if err != nil {
		return nil, err
	}
	if p.sem != nil && !p.sem.TryAcquire(1) {
		m.metrics.Exhausted.WithLabelValues(cat.String()).Inc()
		return nil, ErrNoResource
	}
	return m.newToken(cat, p, reason), nil
}

// Acquire blocks until a token of the category is available or ctx is
// done.
func (m *Manager) Acquire(ctx context.Context, cat Category, reason string) (*Token, error) {
	p, err := m.pool(cat)
	if err != nil {
		return nil, err
	}
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	return m.newToken(cat, p, reason), nil
}

// InUse returns the number of tokens of the category held.
func (m *Manager) InUse(cat Category) int64 {
	p, ok := m.pools[cat]
	if !ok {
		return 0
	}
	return p.inUse.Load()
}

func (m *Manager) pool(cat Category) (*pool, error) {
	p, ok := m.pools[cat]
	if !ok {
		return nil, fmt.Errorf("tokens: unknown %s", cat)
	}
	return p, nil
}

func (m *Manager) newToken(cat Category, p *pool, reason string) *Token {
	n := p.inUse.Inc()
	m.metrics.InUse.WithLabelValues(cat.String()).Set(float64(n))
	m.logger.Tracef("tokens: acquired %s token for %s", cat, reason)
	return &Token{m: m, p: p, cat: cat, reason: reason}
}

// Token is a permit of a category. A download holds one for its lifetime.
type Token struct {
	m      *Manager
	p      *pool
	cat    Category
	reason string

	mu   sync.Mutex
	prio sched.Priority
	done bool
}

func (t *Token) Category() Category { return t.cat }

func (t *Token) Reason() string { return t.reason }

func (t *Token) Priority() sched.Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prio
}

// SetPriority changes the priority of the activity holding the token and
// returns the previous one.
func (t *Token) SetPriority(p sched.Priority) sched.Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.prio
	t.prio = p
	return prev
}

// Release returns the token to its category. Further calls do nothing.
func (t *Token) Release() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.mu.Unlock()

	if t.p.sem != nil {
		t.p.sem.Release(1)
	}
	n := t.p.inUse.Dec()
	t.m.metrics.InUse.WithLabelValues(t.cat.String()).Set(float64(n))
	t.m.logger.Tracef("tokens: released %s token for %s", t.cat, t.reason)
}
