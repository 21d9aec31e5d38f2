// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// SOID identifies an object across stores.
type SOID struct {
	SIdx SIndex
	OID  OID
}

func NewSOID(sidx SIndex, oid OID) SOID { return SOID{SIdx: sidx, OID: oid} }

func (s SOID) String() string { return s.SIdx.String() + ":" + s.OID.Short() }

func (s SOID) Compare(o SOID) int {
	switch {
	case s.SIdx < o.SIdx:
		return -1
	case s.SIdx > o.SIdx:
		return 1
	}
	return s.OID.Compare(o.OID)
}

// SOCID identifies one replicated component of an object. It is the key of
// download sessions.
type SOCID struct {
	SIdx SIndex
	OID  OID
	CID  CID
}

func NewSOCID(soid SOID, cid CID) SOCID {
	return SOCID{SIdx: soid.SIdx, OID: soid.OID, CID: cid}
}

func (s SOCID) SOID() SOID { return SOID{SIdx: s.SIdx, OID: s.OID} }

func (s SOCID) String() string {
	return s.SIdx.String() + ":" + s.OID.Short() + ":" + strconv.Itoa(int(s.CID))
}

// Key returns the lossless string form accepted by ParseSOCID.
func (s SOCID) Key() string {
	return s.SIdx.String() + ":" + s.OID.String() + ":" + strconv.Itoa(int(s.CID))
}

func (s SOCID) Compare(o SOCID) int {
	if c := s.SOID().Compare(o.SOID()); c != 0 {
		return c
	}
	switch {
	case s.CID < o.CID:
		return -1
	case s.CID > o.CID:
		return 1
	}
	return 0
}

// ParseSOCID parses the representation returned by SOCID.Key.
func ParseSOCID(v string) (SOCID, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return SOCID{}, fmt.Errorf("socid %q: malformed", v)
	}
	sidx, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return SOCID{}, fmt.Errorf("socid %q: store index: %w", v, err)
	}
	oid, err := ParseOID(parts[1])
	if err != nil {
		return SOCID{}, fmt.Errorf("socid %q: %w", v, err)
	}
	cid, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return SOCID{}, fmt.Errorf("socid %q: component: %w", v, err)
	}
	return SOCID{SIdx: SIndex(sidx), OID: oid, CID: CID(cid)}, nil
}

// SOCKID identifies one branch of a component.
type SOCKID struct {
	SOCID
	KIdx KIndex
}

func NewSOCKID(socid SOCID, kidx KIndex) SOCKID { return SOCKID{SOCID: socid, KIdx: kidx} }

func (s SOCKID) String() string { return s.SOCID.String() + ":" + s.KIdx.String() }

func (s SOCKID) Compare(o SOCKID) int {
	if c := s.SOCID.Compare(o.SOCID); c != 0 {
		return c
	}
	switch {
	case s.KIdx < o.KIdx:
		return -1
	case s.KIdx > o.KIdx:
		return 1
	}
	return 0
}
