// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

// ApplyContent downloads the content of upd into a prefix and applies it to
// the branch selected by res.
func (r *Resolver) ApplyContent(ctx context.Context, upd *Update, socid ids.SOCID, res *Result) error {
	if upd.Content == nil {
		return fmt.Errorf("apply content %s: missing content", socid)
	}
	soid := socid.SOID()
	oa, err := r.store.GetOA(nil, soid)
	if errors.Is(err, storage.ErrNotFound) {
		return &DependsOnError{Dep: ids.NewSOCID(soid, ids.CIDMeta), Type: DepUnspecified}
	}
	if err != nil {
		return err
	}
	if oa.IsExpelled() {
		return ErrExpelled
	}
	if oa.Type != storage.TypeFile {
		return fmt.Errorf("apply content %s: not a file", socid)
	}

	key := ids.NewSOCKID(socid, res.Target)
	if err := r.writePrefix(ctx, key, upd); err != nil {
		if errors.Is(err, ErrIncrementalFailed) {
			r.dropPrefixes(socid)
		}
		return err
	}

	// the local branch may have changed while the content was transferred
	oa, err = r.store.GetOA(nil, soid)
	if err != nil {
		return err
	}
	if oa.IsExpelled() {
		return ErrExpelled
	}
	br, ok := oa.Branch(res.Target)
	if ok != res.hasBranch || (ok && (br.Length != res.branch.Length || br.Mtime != res.branch.Mtime)) {
		return ErrUpdateInProgress
	}
	cur, err := r.store.LocalVersion(key)
	if err != nil {
		return err
	}
	if !cur.Equal(res.VLocal) {
		return ErrUpdateInProgress
	}

	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.End()

	applied, err := r.store.ApplyPrefix(tx, key, upd.Content.Mtime)
	if err != nil {
		return err
	}
	if len(upd.Content.Hash) > 0 && !bytes.Equal(applied.Hash, upd.Content.Hash) {
		r.dropPrefixes(socid)
		return fmt.Errorf("%w: hash mismatch on %s", ErrIncrementalFailed, key)
	}
	if err := r.store.AddLocalVersion(tx, key, res.VAddLocal); err != nil {
		return err
	}
	for _, k := range res.KIdxsToDelete {
		obsolete := ids.NewSOCKID(socid, k)
		if err := r.store.DeleteBranch(tx, obsolete); err != nil {
			return err
		}
		if err := r.store.DeleteLocalVersion(tx, obsolete); err != nil {
			return err
		}
	}
	if res.IncrementVersion {
		if _, err := r.store.IncrementVersion(tx, key); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if !res.hasBranch && len(oa.Branches) > 0 {
		r.metrics.ConflictBranches.Inc()
	}
	return nil
}

func (r *Resolver) writePrefix(ctx context.Context, key ids.SOCKID, upd *Update) error {
	pv, plen, err := r.store.PrefixVersion(key)
	if err != nil {
		return err
	}
	offset := int64(upd.Content.PrefixOffset)
	if offset == 0 {
		if plen > 0 || !pv.IsZero() {
			if err := r.store.DeletePrefix(key); err != nil {
				return err
			}
		}
	} else if offset != plen || !pv.Equal(upd.Version) {
		return fmt.Errorf("%w: prefix of %s holds %d bytes, peer resumed at %d", ErrIncrementalFailed, key, plen, offset)
	}
	if err := r.store.SetPrefixVersion(key, upd.Version); err != nil {
		return err
	}

	p, err := r.store.OpenPrefix(key)
	if err != nil {
		return err
	}
	defer p.Close()

	if upd.Body != nil {
		for {
			b, err := upd.Body.Next(ctx)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %w", ErrAborted, err)
				}
				return err
			}
			if _, err := p.Write(b); err != nil {
				return err
			}
		}
	}
	if n := p.Length(); uint64(n) != upd.Content.Length {
		return fmt.Errorf("received %d of %d bytes for %s: %w", n, upd.Content.Length, key, io.ErrUnexpectedEOF)
	}
	return nil
}

// Prefix returns the partially downloaded content of socid, if any, so
// that a transfer can resume where the previous one stopped.
func (r *Resolver) Prefix(socid ids.SOCID) (version.Vector, uint64, error) {
	for _, k := range r.prefixCandidates(socid) {
		v, n, err := r.store.PrefixVersion(ids.NewSOCKID(socid, k))
		if err != nil {
			return nil, 0, err
		}
		if n > 0 && !v.IsZero() {
			return v, uint64(n), nil
		}
	}
	return version.New(), 0, nil
}

func (r *Resolver) dropPrefixes(socid ids.SOCID) {
	for _, k := range r.prefixCandidates(socid) {
		if err := r.store.DeletePrefix(ids.NewSOCKID(socid, k)); err != nil {
			r.logger.Debugf("causality: delete prefix %s/%s: %v", socid, k, err)
		}
	}
}

// prefixCandidates lists the branches a prefix may be kept for: the
// existing ones and the next free index.
func (r *Resolver) prefixCandidates(socid ids.SOCID) []ids.KIndex {
	oa, err := r.store.GetOA(nil, socid.SOID())
	if err != nil {
		return []ids.KIndex{ids.KMaster}
	}
	ks := make([]ids.KIndex, 0, len(oa.Branches)+1)
	next := ids.KMaster
	for _, b := range oa.Branches {
		ks = append(ks, b.KIdx)
		if b.KIdx >= next {
			next = b.KIdx.Next()
		}
	}
	return append(ks, next)
}
