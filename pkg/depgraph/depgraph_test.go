// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package depgraph_test

import (
	"errors"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/depgraph"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/google/go-cmp/cmp"
)

func socid() ids.SOCID {
	return ids.NewSOCID(ids.NewSOID(1, ids.NewOID()), ids.CIDMeta)
}

func TestDeadlock(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	a, b, c := socid(), socid(), socid()

	if err := g.AddEdge(a, b, causality.DepParent); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(b, c, causality.DepNameConflict); err != nil {
		t.Fatal(err)
	}
	before := g.Edges()

	err := g.AddEdge(c, a, causality.DepUnspecified)
	var de *depgraph.DeadlockError
	if !errors.As(err, &de) {
		t.Fatalf("got error %v, want deadlock", err)
	}
	if diff := cmp.Diff(before, de.Edges); diff != "" {
		t.Fatalf("reported edges mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before, g.Edges()); diff != "" {
		t.Fatalf("graph mutated (-want +got):\n%s", diff)
	}
	if g.PathExists(c, a) {
		t.Fatal("path from c to a after refused edge")
	}
}

func TestSelfEdge(t *testing.T) {
	t.Parallel()

	a := socid()
	var de *depgraph.DeadlockError
	if err := depgraph.New().AddEdge(a, a, causality.DepParent); !errors.As(err, &de) {
		t.Fatalf("got error %v, want deadlock", err)
	}
}

func TestDuplicateEdge(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	a, b := socid(), socid()
	if err := g.AddEdge(a, b, causality.DepParent); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(a, b, causality.DepParent); !errors.Is(err, depgraph.ErrDuplicateEdge) {
		t.Fatalf("got error %v, want %v", err, depgraph.ErrDuplicateEdge)
	}
}

func TestRemoveEdge(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	a, b := socid(), socid()
	if err := g.AddEdge(a, b, causality.DepParent); err != nil {
		t.Fatal(err)
	}
	if !g.PathExists(a, b) {
		t.Fatal("no path from a to b")
	}
	if err := g.RemoveEdge(a, b); err != nil {
		t.Fatal(err)
	}
	if g.PathExists(a, b) {
		t.Fatal("path from a to b after removal")
	}
	if err := g.RemoveEdge(a, b); !errors.Is(err, depgraph.ErrEdgeNotFound) {
		t.Fatalf("got error %v, want %v", err, depgraph.ErrEdgeNotFound)
	}
	// the reverse wait is allowed once the first one is gone
	if err := g.AddEdge(b, a, causality.DepParent); err != nil {
		t.Fatal(err)
	}
}

func TestPathExistsDiamond(t *testing.T) {
	t.Parallel()

	g := depgraph.New()
	a, b, c, d := socid(), socid(), socid(), socid()
	for _, e := range [][2]ids.SOCID{{a, b}, {a, c}, {b, d}, {c, d}} {
		if err := g.AddEdge(e[0], e[1], causality.DepUnspecified); err != nil {
			t.Fatal(err)
		}
	}
	if !g.PathExists(a, d) {
		t.Fatal("no path from a to d")
	}
	if g.PathExists(d, a) {
		t.Fatal("path from d to a")
	}
}
