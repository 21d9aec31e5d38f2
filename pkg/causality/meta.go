// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality

import (
	"context"
	"errors"
	"fmt"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

// maxRenameAttempts bounds the number of name conflicts resolved while
// applying a single update.
const maxRenameAttempts = 8

// ApplyMeta applies a remote metadata update.
func (r *Resolver) ApplyMeta(ctx context.Context, upd *Update, requested ids.SOCID, probed map[ids.SOID]struct{}) error {
	if upd.Meta == nil {
		return fmt.Errorf("apply meta %s: missing metadata", upd.SOCID)
	}
	soid := r.store.ResolveAlias(upd.SOCID.SOID())
	metaKey := ids.NewSOCKID(ids.NewSOCID(soid, ids.CIDMeta), ids.KMaster)

	oa, err := r.store.GetOA(nil, soid)
	exists := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if exists && oa.IsExpelled() {
		return ErrExpelled
	}

	local, err := r.store.LocalVersion(metaKey)
	if err != nil {
		return err
	}
	dec, err := ComputeMeta(local, upd.Version, upd.MetaDiff, exists)
	if err != nil {
		return err
	}
	if dec.Conflict {
		r.metrics.Conflicts.Inc()
	}
	if !dec.Apply {
		// the local metadata is kept, its version absorbs the remote one so
		// that the peer adopts it
		r.logger.Debugf("causality: local meta of %s wins over %s from %s", soid, upd.Version, upd.From.Short())
		return r.absorb(metaKey, dec.VAddLocal)
	}

	parent := ids.NewSOID(soid.SIdx, upd.Meta.Parent)
	if parent.OID == soid.OID {
		return fmt.Errorf("apply meta %s: object is its own parent", soid)
	}
	if _, err := r.store.GetOA(nil, parent); errors.Is(err, storage.ErrNotFound) {
		return &DependsOnError{Dep: ids.NewSOCID(parent, ids.CIDMeta), Type: DepParent}
	} else if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}

	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.End()

	target := soid
	name := upd.Meta.Name
	renamed := false
	for i := 0; ; i++ {
		if exists {
			err = r.store.MoveObject(tx, soid, parent.OID, name)
		} else {
			err = r.store.CreateObject(tx, soid, upd.Meta.Type, parent.OID, name)
		}
		var ee *storage.ExistsError
		if !errors.As(err, &ee) {
			break
		}
		if i == maxRenameAttempts {
			return fmt.Errorf("apply meta %s: %w", soid, err)
		}

		c, cerr := r.ResolveNameConflict(tx, soid, upd.Meta.Type, exists, parent.OID, ee.Existing, requested, probed)
		if cerr != nil {
			return cerr
		}
		if c.Alias {
			target = ee.Existing
			err = nil
			break
		}
		if c.Name != "" {
			name = c.Name
			renamed = true
		}
	}
	if err != nil {
		return err
	}

	targetKey := ids.NewSOCKID(ids.NewSOCID(target, ids.CIDMeta), ids.KMaster)
	if err := r.store.AddLocalVersion(tx, targetKey, dec.VAddLocal); err != nil {
		return err
	}
	if renamed {
		// the local name differs from the remote one, advertise it
		if _, err := r.store.IncrementVersion(tx, targetKey); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Resolver) absorb(key ids.SOCKID, v version.Vector) error {
	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.End()
	if err := r.store.AddLocalVersion(tx, key, v); err != nil {
		return err
	}
	return tx.Commit()
}

// NameConflict is the resolution of a name conflict.
type NameConflict struct {
	// Alias is set when the remote object was merged into the local one.
	Alias bool
	// Name is the name to apply the remote object under. It is empty when
	// the local object was moved out of the way instead.
	Name string
}

// ResolveNameConflict settles the conflict between the remote object soid
// and the local object existing that holds the same name under parent.
// Conflicts are resolved identically on every device: the object with the
// greater id keeps the name.
func (r *Resolver) ResolveNameConflict(tx storage.Tx, soid ids.SOID, typ storage.ObjectType, exists bool, parent ids.OID, existing ids.SOID, requested ids.SOCID, probed map[ids.SOID]struct{}) (NameConflict, error) {
	if _, ok := probed[existing]; !ok && existing != requested.SOID() {
		return NameConflict{}, &DependsOnError{Dep: ids.NewSOCID(existing, ids.CIDMeta), Type: DepNameConflict}
	}

	other, err := r.store.GetOA(tx, existing)
	if err != nil {
		return NameConflict{}, err
	}
	if !exists && other.Type == typ {
		if err := r.store.Alias(tx, soid, existing); err != nil {
			return NameConflict{}, err
		}
		r.metrics.Aliases.Inc()
		r.logger.Debugf("causality: aliased %s to %s", soid, existing)
		return NameConflict{Alias: true}, nil
	}

	free, err := r.freeName(tx, soid.SIdx, parent, other.Name)
	if err != nil {
		return NameConflict{}, err
	}
	r.metrics.Renames.Inc()
	if soid.OID.Compare(existing.OID) > 0 {
		r.logger.Debugf("causality: renaming local %s to %q", existing, free)
		return NameConflict{}, r.store.MoveObject(tx, existing, parent, free)
	}
	r.logger.Debugf("causality: renaming remote %s to %q", soid, free)
	return NameConflict{Name: free}, nil
}

func (r *Resolver) freeName(tx storage.Tx, sidx ids.SIndex, parent ids.OID, name string) (string, error) {
	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s (%d)", name, n)
		_, err := r.store.Lookup(tx, sidx, parent, cand)
		if errors.Is(err, storage.ErrNotFound) {
			return cand, nil
		}
		if err != nil {
			return "", err
		}
	}
}
