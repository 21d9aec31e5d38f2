// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldbstore

import (
	"fmt"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
)

// CreateStore registers a store and its root directory.
func (s *Store) CreateStore(sidx ids.SIndex) error {
	if s.StoreExists(sidx) {
		return nil
	}
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.End()
	t := tx.(*Tx)

	root := &storage.OA{SOID: ids.NewSOID(sidx, ids.RootOID), Type: storage.TypeDir, Parent: ids.RootOID}
	if err := s.putOA(t, root); err != nil {
		return err
	}
	t.put(storeKey(sidx), []byte{1})
	return tx.Commit()
}

// CreateLocal records an object created on this device.
func (s *Store) CreateLocal(soid ids.SOID, typ storage.ObjectType, parent ids.OID, name string) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.End()

	if err := s.CreateObject(tx, soid, typ, parent, name); err != nil {
		return err
	}
	if _, err := s.IncrementVersion(tx, ids.NewSOCKID(ids.NewSOCID(soid, ids.CIDMeta), ids.KMaster)); err != nil {
		return err
	}
	return tx.Commit()
}

// MoveLocal records a rename or move made on this device.
func (s *Store) MoveLocal(soid ids.SOID, parent ids.OID, name string) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.End()

	if err := s.MoveObject(tx, soid, parent, name); err != nil {
		return err
	}
	if _, err := s.IncrementVersion(tx, ids.NewSOCKID(ids.NewSOCID(soid, ids.CIDMeta), ids.KMaster)); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteLocal replaces the master branch of a file with data written on this
// device.
func (s *Store) WriteLocal(soid ids.SOID, data []byte, mtime int64) error {
	sockid := ids.NewSOCKID(ids.NewSOCID(soid, ids.CIDContent), ids.KMaster)
	if err := s.DeletePrefix(sockid); err != nil {
		return err
	}
	p, err := s.OpenPrefix(sockid)
	if err != nil {
		return err
	}
	if _, err := p.Write(data); err != nil {
		_ = p.Close()
		return fmt.Errorf("write %s: %w", soid, err)
	}
	if err := p.Close(); err != nil {
		return err
	}

	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.End()

	if _, err := s.ApplyPrefix(tx, sockid, mtime); err != nil {
		return err
	}
	if _, err := s.IncrementVersion(tx, sockid); err != nil {
		return err
	}
	return tx.Commit()
}
