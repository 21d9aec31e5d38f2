// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldbstore

import (
	"errors"
	"fmt"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

func (s *Store) putOA(t *Tx, oa *storage.OA) error {
	b, err := encodeOA(oa)
	if err != nil {
		return err
	}
	t.put(oaKey(oa.SOID), b)
	return nil
}

func (s *Store) checkParent(t *Tx, sidx ids.SIndex, parent ids.OID) error {
	oa, err := s.GetOA(t, ids.NewSOID(sidx, parent))
	if err != nil {
		return fmt.Errorf("parent %s: %w", parent.Short(), err)
	}
	if oa.Type != storage.TypeDir {
		return fmt.Errorf("parent %s is not a directory", parent.Short())
	}
	return nil
}

func (s *Store) checkName(t *Tx, soid ids.SOID, parent ids.OID, name string) error {
	other, err := s.Lookup(t, soid.SIdx, parent, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return err
	case other.SOID == soid:
		return nil
	}
	return &storage.ExistsError{Existing: other.SOID, Name: name}
}

func (s *Store) CreateObject(tx storage.Tx, soid ids.SOID, typ storage.ObjectType, parent ids.OID, name string) error {
	t, err := s.tx(tx)
	if err != nil {
		return err
	}
	if _, err := s.GetOA(t, soid); err == nil {
		return fmt.Errorf("create %s: object exists", soid)
	}
	if err := s.checkParent(t, soid.SIdx, parent); err != nil {
		return err
	}
	if err := s.checkName(t, soid, parent, name); err != nil {
		return err
	}
	t.put(childKey(soid.SIdx, parent, name), soid.OID.Bytes())
	return s.putOA(t, &storage.OA{SOID: soid, Type: typ, Parent: parent, Name: name})
}

func (s *Store) MoveObject(tx storage.Tx, soid ids.SOID, parent ids.OID, name string) error {
	t, err := s.tx(tx)
	if err != nil {
		return err
	}
	oa, err := s.GetOA(t, soid)
	if err != nil {
		return err
	}
	if oa.Parent == parent && oa.Name == name {
		return nil
	}
	if err := s.checkParent(t, soid.SIdx, parent); err != nil {
		return err
	}
	if err := s.checkName(t, soid, parent, name); err != nil {
		return err
	}
	t.delete(childKey(soid.SIdx, oa.Parent, oa.Name))
	t.put(childKey(soid.SIdx, parent, name), soid.OID.Bytes())
	oa.Parent, oa.Name = parent, name
	return s.putOA(t, oa)
}

func (s *Store) Alias(tx storage.Tx, alias, target ids.SOID) error {
	t, err := s.tx(tx)
	if err != nil {
		return err
	}
	if alias == target {
		return fmt.Errorf("alias %s to itself", alias)
	}
	t.put(aliasKey(alias), target.OID.Bytes())
	return nil
}

func (s *Store) SetExpelled(tx storage.Tx, soid ids.SOID, expelled bool) error {
	t, err := s.tx(tx)
	if err != nil {
		return err
	}
	oa, err := s.GetOA(t, soid)
	if err != nil {
		return err
	}
	if expelled {
		oa.Flags |= storage.FlagExpelled
	} else {
		oa.Flags &^= storage.FlagExpelled
	}
	return s.putOA(t, oa)
}

func (s *Store) AddLocalVersion(tx storage.Tx, sockid ids.SOCKID, v version.Vector) error {
	t, err := s.tx(tx)
	if err != nil {
		return err
	}
	cur, err := s.localVersion(t, sockid)
	if err != nil {
		return err
	}
	b, err := encodeVector(cur.Add(v))
	if err != nil {
		return err
	}
	t.put(versionKey(sockid), b)
	return nil
}

func (s *Store) DeleteLocalVersion(tx storage.Tx, sockid ids.SOCKID) error {
	t, err := s.tx(tx)
	if err != nil {
		return err
	}
	t.delete(versionKey(sockid))
	return nil
}

// IncrementVersion gives the branch a tick of the local device greater than
// any tick of the local device on the component.
func (s *Store) IncrementVersion(tx storage.Tx, sockid ids.SOCKID) (version.Vector, error) {
	t, err := s.tx(tx)
	if err != nil {
		return nil, err
	}
	all, err := s.AllLocalVersions(sockid.SOCID)
	if err != nil {
		return nil, err
	}
	cur, err := s.localVersion(t, sockid)
	if err != nil {
		return nil, err
	}
	tick := all.Get(s.local)
	if c := cur.Get(s.local); c > tick {
		tick = c
	}
	next := cur.Copy()
	next.Set(s.local, tick+1)

	b, err := encodeVector(next)
	if err != nil {
		return nil, err
	}
	t.put(versionKey(sockid), b)
	return next, nil
}
