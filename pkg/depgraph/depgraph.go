// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package depgraph records which downloads synchronously wait on which, so
// that a wait closing a cycle is refused before it blocks forever.
package depgraph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
)

var (
	ErrDuplicateEdge = errors.New("depgraph: duplicate edge")
	ErrEdgeNotFound  = errors.New("depgraph: edge not found")
)

// Edge means that Src cannot complete before Dst.
type Edge struct {
	Src  ids.SOCID
	Dst  ids.SOCID
	Type causality.DepType
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s (%s)", e.Src, e.Dst, e.Type)
}

// DeadlockError is returned when an edge would close a cycle. Edges is the
// graph at the time of the attempt.
type DeadlockError struct {
	Edge  Edge
	Edges []Edge
}

func (e *DeadlockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "depgraph: deadlock adding %s, existing edges:", e.Edge)
	for _, x := range e.Edges {
		b.WriteString("\n\t")
		b.WriteString(x.String())
	}
	return b.String()
}

type Graph struct {
	mu  sync.Mutex
	adj map[ids.SOCID]map[ids.SOCID]causality.DepType
}

func New() *Graph {
	return &Graph{adj: make(map[ids.SOCID]map[ids.SOCID]causality.DepType)}
}

// AddEdge records that src waits on dst. The graph is left untouched when
// an error is returned.
func (g *Graph) AddEdge(src, dst ids.SOCID, typ causality.DepType) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	e := Edge{Src: src, Dst: dst, Type: typ}
	if _, ok := g.adj[src][dst]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEdge, e)
	}
	if src == dst || g.pathExists(dst, src) {
		return &DeadlockError{Edge: e, Edges: g.edges()}
	}

	out, ok := g.adj[src]
	if !ok {
		out = make(map[ids.SOCID]causality.DepType)
		g.adj[src] = out
	}
	out[dst] = typ
	return nil
}

// RemoveEdge forgets that src waits on dst.
func (g *Graph) RemoveEdge(src, dst ids.SOCID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	out, ok := g.adj[src]
	if !ok {
		return ErrEdgeNotFound
	}
	if _, ok := out[dst]; !ok {
		return ErrEdgeNotFound
	}
	delete(out, dst)
	if len(out) == 0 {
		delete(g.adj, src)
	}
	return nil
}

// PathExists reports whether dst is reachable from src.
func (g *Graph) PathExists(src, dst ids.SOCID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pathExists(src, dst)
}

// pathExists walks the graph breadth first.
func (g *Graph) pathExists(src, dst ids.SOCID) bool {
	visited := map[ids.SOCID]struct{}{src: {}}
	queue := []ids.SOCID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range g.adj[cur] {
			if next == dst {
				return true
			}
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return false
}

// Edges returns a copy of the edges, sorted.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.edges()
}

func (g *Graph) edges() []Edge {
	var es []Edge
	for src, out := range g.adj {
		for dst, typ := range out {
			es = append(es, Edge{Src: src, Dst: dst, Type: typ})
		}
	}
	sort.Slice(es, func(i, j int) bool {
		if c := es[i].Src.Compare(es[j].Src); c != 0 {
			return c < 0
		}
		return es[i].Dst.Compare(es[j].Dst) < 0
	})
	return es
}
