// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage defines the contracts between the replication core and
// the local object store: the directory of objects, their version vectors,
// physical content and transactions.
package storage

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

var (
	ErrNotFound      = errors.New("storage: not found")
	ErrStoreNotFound = errors.New("storage: store not found")
	ErrTxDone        = errors.New("storage: transaction already done")
	ErrNoSpace       = errors.New("storage: no space left")
)

// ObjectType is the kind of an object.
type ObjectType int32

const (
	TypeFile ObjectType = iota
	TypeDir
)

func (t ObjectType) String() string {
	if t == TypeDir {
		return "dir"
	}
	return "file"
}

// FlagExpelled marks an object excluded from synchronization.
const FlagExpelled uint32 = 1 << 0

// Branch holds the attributes of one content branch.
type Branch struct {
	KIdx   ids.KIndex
	Length uint64
	Mtime  int64
	Hash   []byte
}

// OA holds the attributes of an object.
type OA struct {
	SOID     ids.SOID
	Type     ObjectType
	Parent   ids.OID
	Name     string
	Flags    uint32
	Branches []Branch
}

func (oa *OA) IsExpelled() bool { return oa.Flags&FlagExpelled != 0 }

// Branch returns the branch with index k.
func (oa *OA) Branch(k ids.KIndex) (Branch, bool) {
	for _, b := range oa.Branches {
		if b.KIdx == k {
			return b, true
		}
	}
	return Branch{}, false
}

// SortBranches orders branches by index, master first.
func (oa *OA) SortBranches() {
	sort.Slice(oa.Branches, func(i, j int) bool { return oa.Branches[i].KIdx < oa.Branches[j].KIdx })
}

// ExistsError is returned when a create or move collides with another
// object of the same name under the same parent.
type ExistsError struct {
	Existing ids.SOID
	Name     string
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("storage: name %q already used by %s", e.Name, e.Existing)
}

// Tx is a storage transaction. End without Commit discards every change.
type Tx interface {
	Commit() error
	End()
}

type TransactionManager interface {
	Begin() (Tx, error)
}

// DirectoryService resolves object attributes. A nil tx reads committed
// state; a non nil tx also sees the changes of the transaction.
type DirectoryService interface {
	StoreExists(sidx ids.SIndex) bool
	GetOA(tx Tx, soid ids.SOID) (*OA, error)
	Lookup(tx Tx, sidx ids.SIndex, parent ids.OID, name string) (*OA, error)
	// ResolveAlias returns the object soid was aliased to, or soid itself.
	ResolveAlias(soid ids.SOID) ids.SOID
	Path(soid ids.SOID) (string, error)
}

// VersionControl keeps the version vectors of components and branches.
type VersionControl interface {
	LocalVersion(sockid ids.SOCKID) (version.Vector, error)
	// AllLocalVersions returns the union of the versions of every branch.
	AllLocalVersions(socid ids.SOCID) (version.Vector, error)
	AddLocalVersion(tx Tx, sockid ids.SOCKID, v version.Vector) error
	DeleteLocalVersion(tx Tx, sockid ids.SOCKID) error
	// IncrementVersion bumps the tick of the local device.
	IncrementVersion(tx Tx, sockid ids.SOCKID) (version.Vector, error)
}

// Prefix is a partially downloaded content branch.
type Prefix interface {
	io.WriteCloser
	Length() int64
	Truncate(size int64) error
}

// PhysicalStorage holds content bytes.
type PhysicalStorage interface {
	OpenPrefix(sockid ids.SOCKID) (Prefix, error)
	// PrefixVersion returns the version the prefix was downloaded for and
	// its length.
	PrefixVersion(sockid ids.SOCKID) (version.Vector, int64, error)
	SetPrefixVersion(sockid ids.SOCKID, v version.Vector) error
	DeletePrefix(sockid ids.SOCKID) error
	// ApplyPrefix turns the prefix into the content of the branch when tx
	// commits, dropping the prefix version bookkeeping.
	ApplyPrefix(tx Tx, sockid ids.SOCKID, mtime int64) (Branch, error)
	DeleteBranch(tx Tx, sockid ids.SOCKID) error
	OpenContent(sockid ids.SOCKID) (io.ReadCloser, Branch, error)
}

// ObjectMutator changes the object tree.
type ObjectMutator interface {
	CreateObject(tx Tx, soid ids.SOID, typ ObjectType, parent ids.OID, name string) error
	MoveObject(tx Tx, soid ids.SOID, parent ids.OID, name string) error
	// Alias merges alias into target. Later references to alias resolve to
	// target.
	Alias(tx Tx, alias, target ids.SOID) error
	SetExpelled(tx Tx, soid ids.SOID, expelled bool) error
}

// Store is the full set of collaborators.
type Store interface {
	TransactionManager
	DirectoryService
	VersionControl
	PhysicalStorage
	ObjectMutator
}
