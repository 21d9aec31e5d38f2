// Copyright 2022 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leveldbstore is a storage.Store keeping metadata and version
// vectors in leveldb and content in files of an afero filesystem.
package leveldbstore

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
	"github.com/spf13/afero"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	ldbStorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/vmihailenco/msgpack/v5"
)

const separator = "/"

var _ storage.Store = (*Store)(nil)

type Options struct {
	// Path of the leveldb database. Empty runs leveldb in memory.
	Path string
	// Fs holds content and prefix files.
	Fs afero.Fs
	// Local is the device incrementing versions on local changes.
	Local ids.DID
}

type Store struct {
	db     *leveldb.DB
	fs     afero.Fs
	local  ids.DID
	logger logging.Logger

	// serializes transactions
	txMu sync.Mutex
}

// New opens the store. A corrupted database is recovered.
func New(logger logging.Logger, o Options) (*Store, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if o.Path == "" {
		db, err = leveldb.Open(ldbStorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(o.Path, nil)
		if ldbErrors.IsCorrupted(err) {
			logger.Warningf("leveldbstore: open failed, attempting recovery: %v", err)
			db, err = leveldb.RecoverFile(o.Path, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: %w", err)
	}
	if o.Fs == nil {
		o.Fs = afero.NewMemMapFs()
	}
	return &Store{
		db:     db,
		fs:     o.Fs,
		local:  o.Local,
		logger: logger,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type oaRecord struct {
	Type     int32          `msgpack:"t"`
	Parent   []byte         `msgpack:"p"`
	Name     string         `msgpack:"n"`
	Flags    uint32         `msgpack:"f"`
	Branches []branchRecord `msgpack:"b"`
}

type branchRecord struct {
	KIdx   int32  `msgpack:"k"`
	Length uint64 `msgpack:"l"`
	Mtime  int64  `msgpack:"m"`
	Hash   []byte `msgpack:"h"`
}

type tickRecord struct {
	DID  []byte `msgpack:"d"`
	Tick uint64 `msgpack:"t"`
}

func storeKey(sidx ids.SIndex) string {
	return "store" + separator + sidx.String()
}

func oaKey(soid ids.SOID) string {
	return "oa" + separator + soid.SIdx.String() + separator + soid.OID.String()
}

func childKey(sidx ids.SIndex, parent ids.OID, name string) string {
	return "child" + separator + sidx.String() + separator + parent.String() + separator + name
}

func aliasKey(soid ids.SOID) string {
	return "alias" + separator + soid.SIdx.String() + separator + soid.OID.String()
}

func versionKey(sockid ids.SOCKID) string {
	return "ver" + separator + sockid.SIdx.String() + separator + sockid.OID.String() +
		separator + strconv.Itoa(int(sockid.CID)) + separator + sockid.KIdx.String()
}

func prefixVersionKey(sockid ids.SOCKID) string {
	return "pfx" + separator + sockid.SIdx.String() + separator + sockid.OID.String() + separator + sockid.KIdx.String()
}

func contentPath(sockid ids.SOCKID) string {
	return path.Join("content", sockid.SIdx.String(), sockid.OID.String(), sockid.KIdx.String())
}

func prefixPath(sockid ids.SOCKID) string {
	return path.Join("prefix", sockid.SIdx.String(), sockid.OID.String(), sockid.KIdx.String())
}

func encodeOA(oa *storage.OA) ([]byte, error) {
	r := oaRecord{
		Type:   int32(oa.Type),
		Parent: oa.Parent.Bytes(),
		Name:   oa.Name,
		Flags:  oa.Flags,
	}
	for _, b := range oa.Branches {
		r.Branches = append(r.Branches, branchRecord{KIdx: int32(b.KIdx), Length: b.Length, Mtime: b.Mtime, Hash: b.Hash})
	}
	return msgpack.Marshal(&r)
}

func decodeOA(soid ids.SOID, b []byte) (*storage.OA, error) {
	var r oaRecord
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode oa %s: %w", soid, err)
	}
	parent, err := ids.OIDFromBytes(r.Parent)
	if err != nil {
		return nil, fmt.Errorf("decode oa %s: %w", soid, err)
	}
	oa := &storage.OA{
		SOID:   soid,
		Type:   storage.ObjectType(r.Type),
		Parent: parent,
		Name:   r.Name,
		Flags:  r.Flags,
	}
	for _, br := range r.Branches {
		oa.Branches = append(oa.Branches, storage.Branch{KIdx: ids.KIndex(br.KIdx), Length: br.Length, Mtime: br.Mtime, Hash: br.Hash})
	}
	oa.SortBranches()
	return oa, nil
}

func encodeVector(v version.Vector) ([]byte, error) {
	var rs []tickRecord
	for _, did := range v.DIDs() {
		rs = append(rs, tickRecord{DID: did.Bytes(), Tick: uint64(v[did])})
	}
	return msgpack.Marshal(rs)
}

func decodeVector(b []byte) (version.Vector, error) {
	var rs []tickRecord
	if err := msgpack.Unmarshal(b, &rs); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	v := version.New()
	for _, r := range rs {
		did, err := ids.DIDFromBytes(r.DID)
		if err != nil {
			return nil, fmt.Errorf("decode version: %w", err)
		}
		v[did] = version.Tick(r.Tick)
	}
	return v, nil
}

// get reads a key through the transaction overlay, if any.
func (s *Store) get(tx storage.Tx, key string) ([]byte, error) {
	if t, ok := tx.(*Tx); ok && t != nil {
		if v, found := t.overlay[key]; found {
			if v == nil {
				return nil, storage.ErrNotFound
			}
			return v, nil
		}
	}
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	return v, err
}

func (s *Store) StoreExists(sidx ids.SIndex) bool {
	ok, err := s.db.Has([]byte(storeKey(sidx)), nil)
	return err == nil && ok
}

// Stores returns the indices of every local store.
func (s *Store) Stores() ([]ids.SIndex, error) {
	var out []ids.SIndex
	prefix := "store" + separator
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		n, err := strconv.Atoi(strings.TrimPrefix(string(iter.Key()), prefix))
		if err != nil {
			return nil, err
		}
		out = append(out, ids.SIndex(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, iter.Error()
}

func (s *Store) GetOA(tx storage.Tx, soid ids.SOID) (*storage.OA, error) {
	b, err := s.get(tx, oaKey(soid))
	if err != nil {
		return nil, err
	}
	return decodeOA(soid, b)
}

func (s *Store) Lookup(tx storage.Tx, sidx ids.SIndex, parent ids.OID, name string) (*storage.OA, error) {
	b, err := s.get(tx, childKey(sidx, parent, name))
	if err != nil {
		return nil, err
	}
	oid, err := ids.OIDFromBytes(b)
	if err != nil {
		return nil, err
	}
	return s.GetOA(tx, ids.NewSOID(sidx, oid))
}

func (s *Store) ResolveAlias(soid ids.SOID) ids.SOID {
	for i := 0; i < 16; i++ {
		b, err := s.get(nil, aliasKey(soid))
		if err != nil {
			return soid
		}
		oid, err := ids.OIDFromBytes(b)
		if err != nil {
			return soid
		}
		soid = ids.NewSOID(soid.SIdx, oid)
	}
	return soid
}

func (s *Store) Path(soid ids.SOID) (string, error) {
	var parts []string
	for !soid.OID.IsRoot() {
		oa, err := s.GetOA(nil, soid)
		if err != nil {
			return "", fmt.Errorf("path of %s: %w", soid, err)
		}
		parts = append(parts, oa.Name)
		soid = ids.NewSOID(soid.SIdx, oa.Parent)
		if len(parts) > 1024 {
			return "", fmt.Errorf("path of %s: cycle", soid)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/"), nil
}

func (s *Store) LocalVersion(sockid ids.SOCKID) (version.Vector, error) {
	return s.localVersion(nil, sockid)
}

func (s *Store) localVersion(tx storage.Tx, sockid ids.SOCKID) (version.Vector, error) {
	b, err := s.get(tx, versionKey(sockid))
	if errors.Is(err, storage.ErrNotFound) {
		return version.New(), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeVector(b)
}

func (s *Store) AllLocalVersions(socid ids.SOCID) (version.Vector, error) {
	prefix := "ver" + separator + socid.SIdx.String() + separator + socid.OID.String() +
		separator + strconv.Itoa(int(socid.CID)) + separator
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	all := version.New()
	for iter.Next() {
		v, err := decodeVector(iter.Value())
		if err != nil {
			return nil, err
		}
		all = all.Add(v)
	}
	return all, iter.Error()
}
