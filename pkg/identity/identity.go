// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package identity maps device identities to the users owning them.
//
// Lookups go through an in-memory LRU, then the state store, and finally ask
// the device itself. Concurrent lookups of the same device share a single
// remote resolution.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/statestore"
	lru "github.com/hashicorp/golang-lru/v2"
	"resenje.org/singleflight"
)

const keyPrefix = "identity_"

var ErrUnresolved = errors.New("device owner unresolved")

// Resolver asks a device for the user owning it.
type Resolver interface {
	ResolveUser(ctx context.Context, did ids.DID) (ids.UserID, error)
}

// EvictionListener is called with the devices dropped from the memory cache.
type EvictionListener func(did ids.DID)

type Options struct {
	CacheSize int
	LocalDID  ids.DID
	LocalUser ids.UserID
}

type Mapper struct {
	cache  *lru.Cache[ids.DID, ids.UserID]
	store  statestore.StateStorer
	local  ids.DID
	user   ids.UserID
	logger logging.Logger

	flight singleflight.Group[ids.DID, ids.UserID]

	mu        sync.Mutex
	resolver  Resolver
	listeners []EvictionListener

	metrics metrics
}

func New(store statestore.StateStorer, logger logging.Logger, o Options) (*Mapper, error) {
	if o.CacheSize <= 0 {
		o.CacheSize = 1024
	}
	m := &Mapper{
		store:   store,
		local:   o.LocalDID,
		user:    o.LocalUser,
		logger:  logger,
		metrics: newMetrics(),
	}
	cache, err := lru.NewWithEvict(o.CacheSize, m.evicted)
	if err != nil {
		return nil, fmt.Errorf("identity cache: %w", err)
	}
	m.cache = cache
	m.cache.Add(o.LocalDID, o.LocalUser)
	return m, nil
}

// SetResolver installs the remote resolver used for cold entries.
func (m *Mapper) SetResolver(r Resolver) {
	m.mu.Lock()
	m.resolver = r
	m.mu.Unlock()
}

// AddEvictionListener registers fn for every future cache eviction.
func (m *Mapper) AddEvictionListener(fn EvictionListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Local returns the identity of this device.
func (m *Mapper) Local() (ids.DID, ids.UserID) {
	return m.local, m.user
}

// Cached returns the owner of did without blocking on storage or the network.
// It does not refresh the recency of the entry.
func (m *Mapper) Cached(did ids.DID) (ids.UserID, bool) {
	return m.cache.Peek(did)
}

// Put records an authenticated mapping.
func (m *Mapper) Put(did ids.DID, user ids.UserID) error {
	if err := m.store.Put(keyPrefix+did.String(), string(user)); err != nil {
		return fmt.Errorf("store identity %s: %w", did.Short(), err)
	}
	m.cache.Add(did, user)
	return nil
}

// Get returns the user owning did.
func (m *Mapper) Get(ctx context.Context, did ids.DID) (ids.UserID, error) {
	if u, ok := m.cache.Get(did); ok {
		m.metrics.CacheHits.Inc()
		return u, nil
	}

	var s string
	err := m.store.Get(keyPrefix+did.String(), &s)
	switch {
	case err == nil:
		m.metrics.StoreHits.Inc()
		m.cache.Add(did, ids.UserID(s))
		return ids.UserID(s), nil
	case !errors.Is(err, statestore.ErrNotFound):
		return "", fmt.Errorf("load identity %s: %w", did.Short(), err)
	}

	m.mu.Lock()
	r := m.resolver
	m.mu.Unlock()
	if r == nil {
		return "", ErrUnresolved
	}

	u, shared, err := m.flight.Do(ctx, did, func(ctx context.Context) (ids.UserID, error) {
		m.metrics.RemoteResolutions.Inc()
		u, err := r.ResolveUser(ctx, did)
		if err != nil {
			return "", err
		}
		if err := m.Put(did, u); err != nil {
			return "", err
		}
		return u, nil
	})
	if err != nil {
		m.logger.Debugf("identity: resolve %s: %v", did.Short(), err)
		return "", fmt.Errorf("%w: %s: %w", ErrUnresolved, did.Short(), err)
	}
	if shared {
		m.logger.Tracef("identity: shared resolution of %s", did.Short())
	}
	return u, nil
}

func (m *Mapper) evicted(did ids.DID, _ ids.UserID) {
	m.metrics.Evictions.Inc()

	m.mu.Lock()
	listeners := append([]EvictionListener(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(did)
	}
}
