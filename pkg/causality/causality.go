// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package causality decides whether a remote update is new, stale or
// conflicting with the local state, and applies it.
//
// Metadata conflicts are settled by a tie-break that every replica computes
// identically: the side whose delta holds the greatest device id wins.
// Content conflicts that cannot be merged are kept side by side as
// branches.
package causality

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

var (
	ErrNoNewUpdate       = errors.New("no new update")
	ErrUpdateInProgress  = errors.New("local update in progress")
	ErrAborted           = errors.New("aborted")
	ErrExpelled          = errors.New("object expelled")
	ErrNoSpace           = storage.ErrNoSpace
	ErrIncrementalFailed = errors.New("incremental transfer failed")
	ErrStoreNotFound     = storage.ErrStoreNotFound
)

// DepType tells why an update depends on another object.
type DepType int

const (
	DepUnspecified DepType = iota
	DepParent
	DepNameConflict
)

func (t DepType) String() string {
	switch t {
	case DepParent:
		return "parent"
	case DepNameConflict:
		return "name conflict"
	}
	return "unspecified"
}

// DependsOnError is returned when an update cannot be applied before the
// dependency is synchronized.
type DependsOnError struct {
	Dep  ids.SOCID
	Type DepType
}

func (e *DependsOnError) Error() string {
	return fmt.Sprintf("depends on %s (%s)", e.Dep, e.Type)
}

// RemoteMeta is the metadata sent by a peer.
type RemoteMeta struct {
	Type   storage.ObjectType
	Parent ids.OID
	Name   string
	Flags  uint32
}

// RemoteContent describes the content sent by a peer.
type RemoteContent struct {
	Length       uint64
	Mtime        int64
	Hash         []byte
	PrefixOffset uint64
}

// Body yields the content bytes of an update. Next returns io.EOF at the
// end.
type Body interface {
	Next(ctx context.Context) ([]byte, error)
}

type bytesBody struct {
	b    []byte
	done bool
}

// NewBytesBody returns a Body yielding b in a single chunk.
func NewBytesBody(b []byte) Body {
	return &bytesBody{b: b}
}

func (b *bytesBody) Next(context.Context) ([]byte, error) {
	if b.done || len(b.b) == 0 {
		return nil, io.EOF
	}
	b.done = true
	return b.b, nil
}

// Update is a component received from a peer.
type Update struct {
	From     ids.DID
	SOCID    ids.SOCID
	Version  version.Vector
	MetaDiff int32
	Meta     *RemoteMeta
	Content  *RemoteContent
	Body     Body
}

// Result is the outcome of the content causality computation.
type Result struct {
	// Target is the branch the update applies to.
	Target ids.KIndex
	// VAddLocal is added to the version of the target.
	VAddLocal version.Vector
	// KIdxsToDelete are branches made obsolete by the update.
	KIdxsToDelete []ids.KIndex
	// IncrementVersion is set when applying merges concurrent versions.
	IncrementVersion bool
	Hash             []byte
	// VLocal is the version of the target when the computation ran.
	VLocal version.Vector

	branch    storage.Branch
	hasBranch bool
}

// MetaDecision is the outcome of the metadata causality computation.
type MetaDecision struct {
	Apply     bool
	VAddLocal version.Vector
	// Conflict is set for true conflicts, whether or not the remote won.
	Conflict bool
}

// Store is what the resolver needs from local storage.
type Store interface {
	storage.TransactionManager
	storage.DirectoryService
	storage.VersionControl
	storage.PhysicalStorage
	storage.ObjectMutator
}

type Resolver struct {
	store   Store
	logger  logging.Logger
	metrics metrics
}

func New(store Store, logger logging.Logger) *Resolver {
	return &Resolver{
		store:   store,
		logger:  logger,
		metrics: newMetrics(),
	}
}

// ComputeMeta compares the local and remote versions of a metadata
// component.
func ComputeMeta(local, remote version.Vector, metaDiff int32, localExists bool) (MetaDecision, error) {
	rl := remote.Sub(local)
	lr := local.Sub(remote)
	rl.AssertDisjoint(lr)

	switch {
	case rl.IsZero():
		if !localExists && lr.IsZero() {
			return MetaDecision{Apply: true, VAddLocal: rl}, nil
		}
		return MetaDecision{}, ErrNoNewUpdate
	case lr.IsZero():
		return MetaDecision{Apply: true, VAddLocal: rl}, nil
	case metaDiff == 0:
		// only the histories differ
		return MetaDecision{Apply: true, VAddLocal: rl, Conflict: true}, nil
	}
	return MetaDecision{Apply: RemoteWins(rl, lr), VAddLocal: rl, Conflict: true}, nil
}

// RemoteWins breaks a true metadata conflict given the deltas R-L and L-R:
// the delta holding the greatest device id wins.
func RemoteWins(rl, lr version.Vector) bool {
	rmax, _ := rl.MaxDID()
	lmax, _ := lr.MaxDID()
	return rmax.Compare(lmax) > 0
}

// ComputeContent picks the branch a remote content version applies to.
// Branches are visited master first then by ascending index.
func (r *Resolver) ComputeContent(socid ids.SOCID, remote version.Vector, remoteHash []byte) (*Result, error) {
	oa, err := r.store.GetOA(nil, socid.SOID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &DependsOnError{Dep: ids.NewSOCID(socid.SOID(), ids.CIDMeta), Type: DepUnspecified}
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Target: ids.KInvalid, Hash: remoteHash}
	maxKIdx := ids.KInvalid
	for _, br := range oa.Branches {
		if br.KIdx > maxKIdx {
			maxKIdx = br.KIdx
		}
		local, err := r.store.LocalVersion(ids.NewSOCKID(socid, br.KIdx))
		if err != nil {
			return nil, err
		}
		rl := remote.Sub(local)
		lr := local.Sub(remote)
		rl.AssertDisjoint(lr)

		switch {
		case rl.IsZero():
			return nil, ErrNoNewUpdate
		case lr.IsZero():
			if res.Target == ids.KInvalid {
				res.setTarget(br, local, rl)
			} else if sameHash(br.Hash, remoteHash) {
				res.KIdxsToDelete = append(res.KIdxsToDelete, br.KIdx)
			}
		default:
			if res.Target == ids.KInvalid && sameHash(br.Hash, remoteHash) {
				res.setTarget(br, local, rl)
				res.IncrementVersion = true
			}
		}
	}

	if res.Target == ids.KInvalid {
		res.Target = maxKIdx.Next()
		res.VLocal = version.New()
		res.VAddLocal = remote.Copy()
	}
	return res, nil
}

func (res *Result) setTarget(br storage.Branch, local, rl version.Vector) {
	res.Target = br.KIdx
	res.VLocal = local.Copy()
	res.VAddLocal = rl
	res.branch = br
	res.hasBranch = true
}

func sameHash(a, b []byte) bool {
	return len(a) > 0 && bytes.Equal(a, b)
}

// ReceiveAndApplyUpdate applies a remote update. requested is the
// component the download was started for; probed holds the objects whose
// remote state was already fetched during the download.
func (r *Resolver) ReceiveAndApplyUpdate(ctx context.Context, upd *Update, requested ids.SOCID, probed map[ids.SOID]struct{}) error {
	if !r.store.StoreExists(upd.SOCID.SIdx) {
		return ErrStoreNotFound
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}

	if upd.SOCID.CID.IsMeta() {
		err := r.ApplyMeta(ctx, upd, requested, probed)
		r.count(err)
		return err
	}

	socid := ids.NewSOCID(r.store.ResolveAlias(upd.SOCID.SOID()), upd.SOCID.CID)
	var hash []byte
	if upd.Content != nil {
		hash = upd.Content.Hash
	}
	res, err := r.ComputeContent(socid, upd.Version, hash)
	if err != nil {
		r.count(err)
		return err
	}
	err = r.ApplyContent(ctx, upd, socid, res)
	r.count(err)
	return err
}

func (r *Resolver) count(err error) {
	switch {
	case err == nil:
		r.metrics.Applied.Inc()
	case errors.Is(err, ErrNoNewUpdate):
		r.metrics.NoNewUpdate.Inc()
	}
}
