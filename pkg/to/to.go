// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package to selects the device to contact for a request.
//
// A To is either bound to a store, in which case every online member of the
// store is a candidate, or pinned to explicitly added devices. Devices that
// failed are avoided for the lifetime of the To unless added back
// explicitly. When no candidate is left, a store bound To may fall back to a
// single maxcast to the whole store before it reports exhaustion.
package to

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
)

var ErrNoAvailDevice = errors.New("no available device")

// Mode is the selection policy among candidates.
type Mode int

const (
	Anycast Mode = iota
	Randcast
)

func (m Mode) String() string {
	if m == Randcast {
		return "randcast"
	}
	return "anycast"
}

// Devices is the view of online devices the selector ranks.
type Devices interface {
	Get(did ids.DID) (devices.Device, bool)
	OnlineMembers(sidx ids.SIndex) []ids.DID
}

// Target is the result of Pick.
type Target struct {
	DID     ids.DID
	Maxcast bool
	SIdx    ids.SIndex
}

func (t Target) String() string {
	if t.Maxcast {
		return fmt.Sprintf("maxcast:%s", t.SIdx)
	}
	return t.DID.Short()
}

type Options struct {
	MaxcastEnabled bool
	// Seed of the process lifetime tiebreak. Zero picks a random seed.
	Seed int64
}

// Factory creates destination selectors sharing one tiebreak table.
type Factory struct {
	devices Devices
	maxcast bool

	mu       sync.Mutex
	rnd      *rand.Rand
	tiebreak map[ids.DID]int64
}

func NewFactory(d Devices, o Options) *Factory {
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{
		devices:  d,
		maxcast:  o.MaxcastEnabled,
		rnd:      rand.New(rand.NewSource(seed)),
		tiebreak: make(map[ids.DID]int64),
	}
}

// Create returns an anycast selector over the online members of the store.
func (f *Factory) Create(sidx ids.SIndex) *To {
	return f.newTo(sidx, true, Anycast)
}

// CreateRandcast returns a selector picking uniformly among the online
// members of the store.
func (f *Factory) CreateRandcast(sidx ids.SIndex) *To {
	return f.newTo(sidx, true, Randcast)
}

// CreateFor returns a selector pinned to the given devices.
func (f *Factory) CreateFor(dids ...ids.DID) *To {
	t := f.newTo(0, false, Anycast)
	for _, did := range dids {
		t.Add(did)
	}
	return t
}

func (f *Factory) newTo(sidx ids.SIndex, store bool, mode Mode) *To {
	return &To{
		f:        f,
		sidx:     sidx,
		store:    store,
		mode:     mode,
		explicit: make(map[ids.DID]struct{}),
		avoid:    make(map[ids.DID]struct{}),
	}
}

func (f *Factory) rank(did ids.DID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.tiebreak[did]
	if !ok {
		r = f.rnd.Int63()
		f.tiebreak[did] = r
	}
	return r
}

func (f *Factory) intn(n int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rnd.Intn(n)
}

type To struct {
	f     *Factory
	sidx  ids.SIndex
	store bool
	mode  Mode

	mu          sync.Mutex
	explicit    map[ids.DID]struct{}
	avoid       map[ids.DID]struct{}
	maxcastUsed bool
}

// Add makes did a candidate, removing it from the avoid set.
func (t *To) Add(did ids.DID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.explicit[did] = struct{}{}
	delete(t.avoid, did)
}

// Avoid excludes did from future picks.
func (t *To) Avoid(did ids.DID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.avoid[did] = struct{}{}
	delete(t.explicit, did)
}

func (t *To) Avoided(did ids.DID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.avoid[did]
	return ok
}

// Merge adds the explicit candidates of o to t.
func (t *To) Merge(o *To) {
	if o == nil || o == t {
		return
	}
	o.mu.Lock()
	dids := make([]ids.DID, 0, len(o.explicit))
	for did := range o.explicit {
		dids = append(dids, did)
	}
	o.mu.Unlock()

	for _, did := range dids {
		t.Add(did)
	}
}

func (t *To) Mode() Mode { return t.mode }

// Candidates returns the online candidates in preference order.
func (t *To) Candidates() []ids.DID {
	type candidate struct {
		did  ids.DID
		pref int
		rank int64
	}

	t.mu.Lock()
	seen := make(map[ids.DID]struct{})
	var dids []ids.DID
	for did := range t.explicit {
		seen[did] = struct{}{}
		dids = append(dids, did)
	}
	if t.store {
		for _, did := range t.f.devices.OnlineMembers(t.sidx) {
			if _, ok := seen[did]; !ok {
				dids = append(dids, did)
			}
		}
	}
	var cs []candidate
	for _, did := range dids {
		if _, ok := t.avoid[did]; ok {
			continue
		}
		d, ok := t.f.devices.Get(did)
		if !ok {
			continue
		}
		cs = append(cs, candidate{did: did, pref: d.Preference(), rank: t.f.rank(did)})
	}
	t.mu.Unlock()

	sort.Slice(cs, func(i, j int) bool {
		if cs[i].pref != cs[j].pref {
			return cs[i].pref < cs[j].pref
		}
		if cs[i].rank != cs[j].rank {
			return cs[i].rank < cs[j].rank
		}
		return cs[i].did.Compare(cs[j].did) < 0
	})
	out := make([]ids.DID, len(cs))
	for i, c := range cs {
		out[i] = c.did
	}
	return out
}

// Pick returns the next destination. It returns ErrNoAvailDevice once every
// candidate is avoided and maxcast, if allowed, was already used.
func (t *To) Pick() (Target, error) {
	cs := t.Candidates()
	if len(cs) > 0 {
		did := cs[0]
		if t.mode == Randcast {
			did = cs[t.f.intn(len(cs))]
		}
		return Target{DID: did, SIdx: t.sidx}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.store && t.f.maxcast && !t.maxcastUsed {
		t.maxcastUsed = true
		return Target{Maxcast: true, SIdx: t.sidx}, nil
	}
	return Target{}, ErrNoAvailDevice
}

func (t *To) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.store {
		return fmt.Sprintf("%s(store %s, %d explicit, %d avoided)", t.mode, t.sidx, len(t.explicit), len(t.avoid))
	}
	return fmt.Sprintf("%s(%d explicit, %d avoided)", t.mode, len(t.explicit), len(t.avoid))
}
