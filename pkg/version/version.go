// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version implements the version vectors that record the causal
// history of replicated components. A vector maps devices to monotonically
// increasing ticks. Vectors are compared by component-wise dominance only.
package version

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
)

// Tick is a per-device counter.
type Tick uint64

// Vector is a version vector. The zero value is an empty vector ready to use
// for reads; use New or Copy before writing.
type Vector map[ids.DID]Tick

// New returns an empty vector.
func New() Vector { return make(Vector) }

// Of builds a vector from alternating DID and Tick arguments. It is meant for
// tests and literals.
func Of(pairs ...interface{}) Vector {
	if len(pairs)%2 != 0 {
		panic("version: odd number of arguments")
	}
	v := New()
	for i := 0; i < len(pairs); i += 2 {
		did := pairs[i].(ids.DID)
		switch t := pairs[i+1].(type) {
		case int:
			v[did] = Tick(t)
		case Tick:
			v[did] = t
		case uint64:
			v[did] = Tick(t)
		default:
			panic(fmt.Sprintf("version: unsupported tick type %T", t))
		}
	}
	return v
}

// Get returns the tick of did, zero when absent.
func (v Vector) Get(did ids.DID) Tick { return v[did] }

// Set records tick t for did. A device's tick never decreases.
func (v Vector) Set(did ids.DID, t Tick) {
	if cur, ok := v[did]; ok && t < cur {
		panic(fmt.Sprintf("version: tick of %s decreases from %d to %d", did.Short(), cur, t))
	}
	if t == 0 {
		delete(v, did)
		return
	}
	v[did] = t
}

// IsZero reports whether the vector has no non-zero entry.
func (v Vector) IsZero() bool {
	for _, t := range v {
		if t != 0 {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of v.
func (v Vector) Copy() Vector {
	c := make(Vector, len(v))
	for d, t := range v {
		if t != 0 {
			c[d] = t
		}
	}
	return c
}

// Add returns the component-wise maximum of v and o.
func (v Vector) Add(o Vector) Vector {
	r := v.Copy()
	for d, t := range o {
		if t > r[d] {
			r[d] = t
		}
	}
	return r
}

// Sub returns the entries of v whose tick is greater than the tick of the
// same device in o.
func (v Vector) Sub(o Vector) Vector {
	r := New()
	for d, t := range v {
		if t > o[d] {
			r[d] = t
		}
	}
	return r
}

// IsDominatedBy reports whether every entry of v is covered by o.
func (v Vector) IsDominatedBy(o Vector) bool {
	return v.Sub(o).IsZero()
}

// Equal reports whether both vectors hold the same non-zero entries.
func (v Vector) Equal(o Vector) bool {
	return v.Sub(o).IsZero() && o.Sub(v).IsZero()
}

// Without returns a copy of v lacking the entry of did.
func (v Vector) Without(did ids.DID) Vector {
	r := v.Copy()
	delete(r, did)
	return r
}

// DIDs returns the devices present in v in ascending order.
func (v Vector) DIDs() []ids.DID {
	dids := make([]ids.DID, 0, len(v))
	for d, t := range v {
		if t != 0 {
			dids = append(dids, d)
		}
	}
	sort.Slice(dids, func(i, j int) bool { return dids[i].Compare(dids[j]) < 0 })
	return dids
}

// MaxDID returns the lexicographically largest device present in v. The
// second return value is false for a zero vector.
func (v Vector) MaxDID() (ids.DID, bool) {
	var (
		max   ids.DID
		found bool
	)
	for d, t := range v {
		if t == 0 {
			continue
		}
		if !found || d.Compare(max) > 0 {
			max = d
			found = true
		}
	}
	return max, found
}

// AssertDisjoint panics when v and o share a device. Ticks that belong to
// different branches of the same component must never overlap.
func (v Vector) AssertDisjoint(o Vector) {
	for d, t := range v {
		if t != 0 && o[d] != 0 {
			panic(fmt.Sprintf("version: vectors %s and %s are not disjoint", v, o))
		}
	}
}

func (v Vector) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, d := range v.DIDs() {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%d", d.Short(), v[d])
	}
	b.WriteByte('}')
	return b.String()
}

// ToPB encodes v with its entries sorted by device.
func (v Vector) ToPB() *pb.Vector {
	m := &pb.Vector{}
	for _, d := range v.DIDs() {
		m.Ticks = append(m.Ticks, &pb.Tick{Did: d.Bytes(), Tick: uint64(v[d])})
	}
	return m
}

// FromPB decodes a wire vector. A nil message decodes to an empty vector.
func FromPB(m *pb.Vector) (Vector, error) {
	v := New()
	for _, t := range m.GetTicks() {
		did, err := ids.DIDFromBytes(t.Did)
		if err != nil {
			return nil, fmt.Errorf("decode vector: %w", err)
		}
		if t.Tick > uint64(v[did]) {
			v[did] = Tick(t.Tick)
		}
	}
	return v, nil
}
