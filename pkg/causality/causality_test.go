// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/storage/leveldbstore"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/sha3"
)

const sidx ids.SIndex = 1

var (
	devA  = ids.MustParseDID("0000000000000000000000000000000a")
	devB  = ids.MustParseDID("0000000000000000000000000000000b")
	local = ids.MustParseDID("000000000000000000000000000000ff")
	oid1  = ids.MustParseOID("00000000000000000000000000000001")
	oid2  = ids.MustParseOID("00000000000000000000000000000002")
)

func newResolver(t *testing.T) (*causality.Resolver, *leveldbstore.Store) {
	t.Helper()

	logger := logging.New(io.Discard, logrus.ErrorLevel)
	s, err := leveldbstore.New(logger, leveldbstore.Options{Fs: afero.NewMemMapFs(), Local: local})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.CreateStore(sidx); err != nil {
		t.Fatal(err)
	}
	return causality.New(s, logger), s
}

func metaOf(soid ids.SOID) ids.SOCID { return ids.NewSOCID(soid, ids.CIDMeta) }

func contentOf(soid ids.SOID) ids.SOCID { return ids.NewSOCID(soid, ids.CIDContent) }

func metaUpdate(soid ids.SOID, v version.Vector, typ storage.ObjectType, parent ids.OID, name string) *causality.Update {
	return &causality.Update{
		From:     devB,
		SOCID:    metaOf(soid),
		Version:  v,
		MetaDiff: 1,
		Meta:     &causality.RemoteMeta{Type: typ, Parent: parent, Name: name},
	}
}

func contentUpdate(soid ids.SOID, v version.Vector, data []byte, withHash bool) *causality.Update {
	c := &causality.RemoteContent{Length: uint64(len(data)), Mtime: 42}
	if withHash {
		h := sha3.Sum256(data)
		c.Hash = h[:]
	}
	return &causality.Update{
		From:    devB,
		SOCID:   contentOf(soid),
		Version: v,
		Content: c,
		Body:    causality.NewBytesBody(data),
	}
}

func localVersion(t *testing.T, s *leveldbstore.Store, socid ids.SOCID, k ids.KIndex) version.Vector {
	t.Helper()

	v, err := s.LocalVersion(ids.NewSOCKID(socid, k))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func readContent(t *testing.T, s *leveldbstore.Store, soid ids.SOID, k ids.KIndex) string {
	t.Helper()

	rc, _, err := s.OpenContent(ids.NewSOCKID(contentOf(soid), k))
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestComputeMeta(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name        string
		local       version.Vector
		remote      version.Vector
		metaDiff    int32
		localExists bool
		want        causality.MetaDecision
		wantErr     error
	}{
		{
			name:        "remote dominates",
			local:       version.Of(devA, 1),
			remote:      version.Of(devA, 1, devB, 1),
			metaDiff:    1,
			localExists: true,
			want:        causality.MetaDecision{Apply: true, VAddLocal: version.Of(devB, 1)},
		},
		{
			name:        "equal",
			local:       version.Of(devA, 1),
			remote:      version.Of(devA, 1),
			localExists: true,
			wantErr:     causality.ErrNoNewUpdate,
		},
		{
			name:        "local dominates",
			local:       version.Of(devA, 2),
			remote:      version.Of(devA, 1),
			metaDiff:    1,
			localExists: true,
			wantErr:     causality.ErrNoNewUpdate,
		},
		{
			name:   "absent locally",
			local:  version.New(),
			remote: version.New(),
			want:   causality.MetaDecision{Apply: true, VAddLocal: version.New()},
		},
		{
			name:        "false conflict",
			local:       version.Of(devA, 2),
			remote:      version.Of(devA, 1, devB, 1),
			metaDiff:    0,
			localExists: true,
			want:        causality.MetaDecision{Apply: true, VAddLocal: version.Of(devB, 1), Conflict: true},
		},
		{
			name:        "remote holds the greatest device",
			local:       version.Of(devA, 2),
			remote:      version.Of(devA, 1, devB, 1),
			metaDiff:    1,
			localExists: true,
			want:        causality.MetaDecision{Apply: true, VAddLocal: version.Of(devB, 1), Conflict: true},
		},
		{
			name:        "local holds the greatest device",
			local:       version.Of(devA, 1, devB, 1),
			remote:      version.Of(devA, 2),
			metaDiff:    1,
			localExists: true,
			want:        causality.MetaDecision{Apply: false, VAddLocal: version.Of(devA, 2), Conflict: true},
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := causality.ComputeMeta(tc.local, tc.remote, tc.metaDiff, tc.localExists)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got error %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("decision mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Both devices must reach the same verdict when they see each other's
// version of a conflicting update.
func TestTieBreakIsSymmetric(t *testing.T) {
	t.Parallel()

	va := version.Of(devA, 2)
	vb := version.Of(devA, 1, devB, 1)

	onA, err := causality.ComputeMeta(va, vb, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	onB, err := causality.ComputeMeta(vb, va, 1, true)
	if err != nil {
		t.Fatal(err)
	}
	if !onA.Apply || onB.Apply {
		t.Fatalf("got apply on A %v and on B %v, want the update of B to win on both", onA.Apply, onB.Apply)
	}
}

func TestApplyNewObject(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	ctx := context.Background()
	soid := ids.NewSOID(sidx, ids.NewOID())
	upd := metaUpdate(soid, version.Of(devB, 1), storage.TypeFile, ids.RootOID, "a.txt")

	if err := r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, nil); err != nil {
		t.Fatal(err)
	}
	oa, err := s.Lookup(nil, sidx, ids.RootOID, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if oa.SOID != soid {
		t.Fatalf("got %s, want %s", oa.SOID, soid)
	}
	if diff := cmp.Diff(version.Of(devB, 1), localVersion(t, s, metaOf(soid), ids.KMaster)); diff != "" {
		t.Fatalf("version mismatch (-want +got):\n%s", diff)
	}

	// applying the same update again changes nothing
	err = r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, nil)
	if !errors.Is(err, causality.ErrNoNewUpdate) {
		t.Fatalf("got error %v, want %v", err, causality.ErrNoNewUpdate)
	}
}

func TestApplyMissingParent(t *testing.T) {
	t.Parallel()

	r, _ := newResolver(t)
	soid := ids.NewSOID(sidx, ids.NewOID())
	parent := ids.NewOID()
	upd := metaUpdate(soid, version.Of(devB, 1), storage.TypeFile, parent, "a.txt")

	err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, nil)
	var dep *causality.DependsOnError
	if !errors.As(err, &dep) {
		t.Fatalf("got error %v, want dependency", err)
	}
	if dep.Type != causality.DepParent || dep.Dep != metaOf(ids.NewSOID(sidx, parent)) {
		t.Fatalf("got dependency %v", dep)
	}
}

func TestApplyUnknownStore(t *testing.T) {
	t.Parallel()

	r, _ := newResolver(t)
	upd := metaUpdate(ids.NewSOID(7, ids.NewOID()), version.Of(devB, 1), storage.TypeFile, ids.RootOID, "a")

	err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, nil)
	if !errors.Is(err, causality.ErrStoreNotFound) {
		t.Fatalf("got error %v, want %v", err, causality.ErrStoreNotFound)
	}
}

func TestApplyExpelled(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "a"); err != nil {
		t.Fatal(err)
	}
	tx, err := s.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetExpelled(tx, soid, true); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	upd := metaUpdate(soid, version.Of(local, 1, devB, 1), storage.TypeFile, ids.RootOID, "b")
	err = r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, nil)
	if !errors.Is(err, causality.ErrExpelled) {
		t.Fatalf("got error %v, want %v", err, causality.ErrExpelled)
	}
}

// setupNameConflict creates the local object localOID named foo and the
// object remoteOID named bar, then returns the update of a concurrent
// rename of remoteOID to foo.
func setupNameConflict(t *testing.T, s *leveldbstore.Store, localOID, remoteOID ids.OID) *causality.Update {
	t.Helper()

	if err := s.CreateLocal(ids.NewSOID(sidx, remoteOID), storage.TypeFile, ids.RootOID, "bar"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateLocal(ids.NewSOID(sidx, localOID), storage.TypeFile, ids.RootOID, "foo"); err != nil {
		t.Fatal(err)
	}
	return metaUpdate(ids.NewSOID(sidx, remoteOID), version.Of(local, 1, devB, 1), storage.TypeFile, ids.RootOID, "foo")
}

func TestNameConflictRemoteWins(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	ctx := context.Background()
	upd := setupNameConflict(t, s, oid1, oid2)
	localSOID := ids.NewSOID(sidx, oid1)

	err := r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, nil)
	var dep *causality.DependsOnError
	if !errors.As(err, &dep) || dep.Type != causality.DepNameConflict || dep.Dep != metaOf(localSOID) {
		t.Fatalf("got error %v, want name conflict dependency on %s", err, localSOID)
	}

	probed := map[ids.SOID]struct{}{localSOID: {}}
	if err := r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, probed); err != nil {
		t.Fatal(err)
	}

	oa, err := s.Lookup(nil, sidx, ids.RootOID, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if oa.SOID.OID != oid2 {
		t.Fatalf("foo is %s, want %s", oa.SOID, oid2)
	}
	oa, err = s.Lookup(nil, sidx, ids.RootOID, "foo (2)")
	if err != nil {
		t.Fatal(err)
	}
	if oa.SOID != localSOID {
		t.Fatalf("foo (2) is %s, want %s", oa.SOID, localSOID)
	}
	if diff := cmp.Diff(version.Of(local, 1), localVersion(t, s, metaOf(localSOID), ids.KMaster)); diff != "" {
		t.Fatalf("local version mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(version.Of(local, 1, devB, 1), localVersion(t, s, upd.SOCID, ids.KMaster)); diff != "" {
		t.Fatalf("remote version mismatch (-want +got):\n%s", diff)
	}
}

func TestNameConflictRemoteLoses(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	upd := setupNameConflict(t, s, oid2, oid1)
	probed := map[ids.SOID]struct{}{ids.NewSOID(sidx, oid2): {}}

	if err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, probed); err != nil {
		t.Fatal(err)
	}

	oa, err := s.Lookup(nil, sidx, ids.RootOID, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if oa.SOID.OID != oid2 {
		t.Fatalf("foo is %s, want %s", oa.SOID, oid2)
	}
	oa, err = s.Lookup(nil, sidx, ids.RootOID, "foo (2)")
	if err != nil {
		t.Fatal(err)
	}
	if oa.SOID.OID != oid1 {
		t.Fatalf("foo (2) is %s, want %s", oa.SOID, oid1)
	}
	// the rename is a local change the peer has to learn about
	if diff := cmp.Diff(version.Of(local, 2, devB, 1), localVersion(t, s, upd.SOCID, ids.KMaster)); diff != "" {
		t.Fatalf("remote version mismatch (-want +got):\n%s", diff)
	}
}

func TestNameConflictAlias(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	localSOID := ids.NewSOID(sidx, oid1)
	remoteSOID := ids.NewSOID(sidx, oid2)
	if err := s.CreateLocal(localSOID, storage.TypeDir, ids.RootOID, "photos"); err != nil {
		t.Fatal(err)
	}
	upd := metaUpdate(remoteSOID, version.Of(devB, 1), storage.TypeDir, ids.RootOID, "photos")
	probed := map[ids.SOID]struct{}{localSOID: {}}

	if err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, probed); err != nil {
		t.Fatal(err)
	}
	if got := s.ResolveAlias(remoteSOID); got != localSOID {
		t.Fatalf("got alias target %s, want %s", got, localSOID)
	}
	if diff := cmp.Diff(version.Of(local, 1, devB, 1), localVersion(t, s, metaOf(localSOID), ids.KMaster)); diff != "" {
		t.Fatalf("version mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyContent(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	ctx := context.Background()
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteLocal(soid, []byte("hello"), 1); err != nil {
		t.Fatal(err)
	}

	upd := contentUpdate(soid, version.Of(local, 1, devB, 1), []byte("hello world"), true)
	if err := r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, nil); err != nil {
		t.Fatal(err)
	}
	if got := readContent(t, s, soid, ids.KMaster); got != "hello world" {
		t.Fatalf("got content %q", got)
	}
	if diff := cmp.Diff(version.Of(local, 1, devB, 1), localVersion(t, s, contentOf(soid), ids.KMaster)); diff != "" {
		t.Fatalf("version mismatch (-want +got):\n%s", diff)
	}

	upd = contentUpdate(soid, version.Of(local, 1, devB, 1), []byte("hello world"), true)
	err := r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, nil)
	if !errors.Is(err, causality.ErrNoNewUpdate) {
		t.Fatalf("got error %v, want %v", err, causality.ErrNoNewUpdate)
	}
}

func TestContentConflictBranch(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteLocal(soid, []byte("mine"), 1); err != nil {
		t.Fatal(err)
	}

	upd := contentUpdate(soid, version.Of(devB, 1), []byte("theirs"), true)
	if err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, nil); err != nil {
		t.Fatal(err)
	}
	if got := readContent(t, s, soid, ids.KMaster); got != "mine" {
		t.Fatalf("got master %q", got)
	}
	if got := readContent(t, s, soid, 1); got != "theirs" {
		t.Fatalf("got branch %q", got)
	}
	if diff := cmp.Diff(version.Of(devB, 1), localVersion(t, s, contentOf(soid), 1)); diff != "" {
		t.Fatalf("branch version mismatch (-want +got):\n%s", diff)
	}
}

func TestContentConflictSameHashMerges(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteLocal(soid, []byte("same"), 1); err != nil {
		t.Fatal(err)
	}

	upd := contentUpdate(soid, version.Of(devB, 1), []byte("same"), true)
	if err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, nil); err != nil {
		t.Fatal(err)
	}
	oa, err := s.GetOA(nil, soid)
	if err != nil {
		t.Fatal(err)
	}
	if len(oa.Branches) != 1 {
		t.Fatalf("got %d branches, want 1", len(oa.Branches))
	}
	if diff := cmp.Diff(version.Of(local, 2, devB, 1), localVersion(t, s, contentOf(soid), ids.KMaster)); diff != "" {
		t.Fatalf("version mismatch (-want +got):\n%s", diff)
	}
}

func TestIncrementalFailed(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "a.txt"); err != nil {
		t.Fatal(err)
	}

	upd := contentUpdate(soid, version.Of(devB, 1), []byte("tail"), false)
	upd.Content.PrefixOffset = 3
	upd.Content.Length = 7
	err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, nil)
	if !errors.Is(err, causality.ErrIncrementalFailed) {
		t.Fatalf("got error %v, want %v", err, causality.ErrIncrementalFailed)
	}
}

func TestResumePrefix(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	ctx := context.Background()
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "a.txt"); err != nil {
		t.Fatal(err)
	}
	v := version.Of(devB, 1)

	// the first transfer is cut short
	upd := contentUpdate(soid, v, []byte("hello"), false)
	upd.Content.Length = 11
	if err := r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, nil); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got error %v, want %v", err, io.ErrUnexpectedEOF)
	}

	pv, n, err := r.Prefix(contentOf(soid))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || !pv.Equal(v) {
		t.Fatalf("got prefix of %d bytes at %s", n, pv)
	}

	upd = contentUpdate(soid, v, []byte(" world"), false)
	upd.Content.Length = 11
	upd.Content.PrefixOffset = n
	if err := r.ReceiveAndApplyUpdate(ctx, upd, upd.SOCID, nil); err != nil {
		t.Fatal(err)
	}
	if got := readContent(t, s, soid, ids.KMaster); got != "hello world" {
		t.Fatalf("got content %q", got)
	}
}

func TestComputeContentDominatedBranch(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteLocal(soid, []byte("v1"), 1); err != nil {
		t.Fatal(err)
	}

	res, err := r.ComputeContent(contentOf(soid), version.Of(local, 1, devB, 3), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Target != ids.KMaster || res.IncrementVersion {
		t.Fatalf("got target %s increment %v", res.Target, res.IncrementVersion)
	}
	if diff := cmp.Diff(version.Of(devB, 3), res.VAddLocal); diff != "" {
		t.Fatalf("delta mismatch (-want +got):\n%s", diff)
	}
}

func TestMetaConflictLocalWins(t *testing.T) {
	t.Parallel()

	r, s := newResolver(t)
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := s.CreateLocal(soid, storage.TypeFile, ids.RootOID, "x"); err != nil {
		t.Fatal(err)
	}

	// the local device id is greater than the one of the remote device
	upd := metaUpdate(soid, version.Of(devB, 1), storage.TypeFile, ids.RootOID, "y")
	if err := r.ReceiveAndApplyUpdate(context.Background(), upd, upd.SOCID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Lookup(nil, sidx, ids.RootOID, "x"); err != nil {
		t.Fatalf("local name lost: %v", err)
	}
	if diff := cmp.Diff(version.Of(local, 1, devB, 1), localVersion(t, s, metaOf(soid), ids.KMaster)); diff != "" {
		t.Fatalf("version mismatch (-want +got):\n%s", diff)
	}
}
