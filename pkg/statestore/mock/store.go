// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mock provides a map backed statestore.
package mock

import (
	"sort"
	"strings"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/statestore"
)

var _ statestore.StateStorer = (*store)(nil)

type store struct {
	store map[string][]byte
	mtx   sync.RWMutex
}

func NewStateStore() statestore.StateStorer {
	return &store{
		store: make(map[string][]byte),
	}
}

func (s *store) Get(key string, i interface{}) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	data, ok := s.store[key]
	if !ok {
		return statestore.ErrNotFound
	}
	return statestore.Unmarshal(data, i)
}

func (s *store) Put(key string, i interface{}) error {
	b, err := statestore.Marshal(i)
	if err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.store[key] = b
	return nil
}

func (s *store) Delete(key string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	delete(s.store, key)
	return nil
}

// Iterate visits matching keys in lexicographic order, as leveldb does.
func (s *store) Iterate(prefix string, iterFunc statestore.StateIterFunc) error {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	keys := make([]string, 0, len(s.store))
	for k := range s.store {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		stop, err := iterFunc([]byte(k), append([]byte(nil), s.store[k]...))
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

func (s *store) Close() error {
	return nil
}
