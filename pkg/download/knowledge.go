// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package download

import (
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

// Versions gives the local versions of a component.
type Versions interface {
	AllLocalVersions(socid ids.SOCID) (version.Vector, error)
	ResolveAlias(soid ids.SOID) ids.SOID
}

// Knowledge remembers the versions announced by other devices, to tell
// whether a component is missing updates.
type Knowledge struct {
	versions Versions

	mu    sync.Mutex
	known map[ids.SOCID]version.Vector
}

func NewKnowledge(v Versions) *Knowledge {
	return &Knowledge{
		versions: v,
		known:    make(map[ids.SOCID]version.Vector),
	}
}

// Learn records that a device holds version v of socid.
func (k *Knowledge) Learn(socid ids.SOCID, v version.Vector) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if cur, ok := k.known[socid]; ok {
		k.known[socid] = cur.Add(v)
		return
	}
	k.known[socid] = v.Copy()
}

// Known returns the union of the versions announced for socid.
func (k *Knowledge) Known(socid ids.SOCID) version.Vector {
	k.mu.Lock()
	defer k.mu.Unlock()
	if v, ok := k.known[socid]; ok {
		return v.Copy()
	}
	return version.New()
}

// Outstanding reports whether some announced version of socid is not
// known locally. Components found up to date are forgotten.
func (k *Knowledge) Outstanding(socid ids.SOCID) (bool, error) {
	k.mu.Lock()
	known, ok := k.known[socid]
	k.mu.Unlock()
	if !ok {
		return false, nil
	}

	resolved := ids.NewSOCID(k.versions.ResolveAlias(socid.SOID()), socid.CID)
	local, err := k.versions.AllLocalVersions(resolved)
	if err != nil {
		return false, err
	}
	if !known.IsDominatedBy(local) {
		return true, nil
	}

	k.mu.Lock()
	if cur, ok := k.known[socid]; ok && cur.IsDominatedBy(local) {
		delete(k.known, socid)
	}
	k.mu.Unlock()
	return false, nil
}
