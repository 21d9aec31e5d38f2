// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package download replicates components from other devices. Downloads
// keeps at most one Download per component; a Download that depends on
// another component downloads it synchronously, and the dependency graph
// refuses waits that would never end.
package download

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/depgraph"
	"github.com/aer0ss/aerofs-sub003/pkg/dlstate"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/sched"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
	"github.com/aer0ss/aerofs-sub003/pkg/tokens"
	"github.com/aer0ss/aerofs-sub003/pkg/tracing"
)

var (
	// ErrNoResource is returned by DownloadAsync when no token is available.
	ErrNoResource = tokens.ErrNoResource
	// ErrClosed is wrapped, along with causality.ErrAborted, by the
	// errors of downloads requested after Close.
	ErrClosed = errors.New("downloads closed")
)

// ProgressFunc is called as content bytes arrive.
type ProgressFunc func(peer ids.DID, done, total uint64)

// Fetcher requests a component from one of the devices of t.
type Fetcher interface {
	GetComponent(ctx context.Context, socid ids.SOCID, t *to.To, progress ProgressFunc) (*causality.Update, error)
}

// Applier applies a remote update locally.
type Applier interface {
	ReceiveAndApplyUpdate(ctx context.Context, upd *causality.Update, requested ids.SOCID, probed map[ids.SOID]struct{}) error
}

// Directory tells whether an object can still be synchronized.
type Directory interface {
	StoreExists(sidx ids.SIndex) bool
	GetOA(tx storage.Tx, soid ids.SOID) (*storage.OA, error)
	ResolveAlias(soid ids.SOID) ids.SOID
}

type Options struct {
	UpdateInProgressBackoff time.Duration
	NoResourceBackoff       time.Duration
	// Category is the token pool of asynchronous downloads.
	Category tokens.Category
}

const (
	defaultUpdateInProgressBackoff = 3 * time.Second
	defaultNoResourceBackoff       = 1 * time.Second
)

type Downloads struct {
	fetcher   Fetcher
	applier   Applier
	dir       Directory
	knowledge *Knowledge
	factory   *to.Factory
	tokens    *tokens.Manager
	tracker   *dlstate.Tracker
	graph     *depgraph.Graph
	tracer    *tracing.Tracer
	logger    logging.Logger
	metrics   metrics
	o         Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	ongoing map[ids.SOCID]*Download
	closed  bool
}

func New(fetcher Fetcher, applier Applier, dir Directory, knowledge *Knowledge, factory *to.Factory, tk *tokens.Manager, tracker *dlstate.Tracker, graph *depgraph.Graph, logger logging.Logger, tracer *tracing.Tracer, o Options) *Downloads {
	if o.UpdateInProgressBackoff <= 0 {
		o.UpdateInProgressBackoff = defaultUpdateInProgressBackoff
	}
	if o.NoResourceBackoff <= 0 {
		o.NoResourceBackoff = defaultNoResourceBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Downloads{
		fetcher:   fetcher,
		applier:   applier,
		dir:       dir,
		knowledge: knowledge,
		factory:   factory,
		tokens:    tk,
		tracker:   tracker,
		graph:     graph,
		tracer:    tracer,
		logger:    logger,
		metrics:   newMetrics(),
		o:         o,
		ctx:       ctx,
		cancel:    cancel,
		ongoing:   make(map[ids.SOCID]*Download),
	}
}

// DownloadAsync starts downloading socid from the devices of t, or joins
// the download already in progress. A nil tk makes the download acquire a
// token of its own; ErrNoResource is returned if none is available. Each
// download runs in its own goroutine, bounded by the tokens.
func (ds *Downloads) DownloadAsync(socid ids.SOCID, t *to.To, l Listener, tk *tokens.Token, prio sched.Priority) (*Download, error) {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", causality.ErrAborted, ErrClosed)
	}
	if d, ok := ds.ongoing[socid]; ok {
		d.join(t, l, prio)
		ds.mu.Unlock()
		ds.metrics.Joined.Inc()
		return d, nil
	}

	owns := false
	if tk == nil {
		var err error
		tk, err = ds.tokens.TryAcquire(ds.o.Category, "download "+socid.String())
		if err != nil {
			ds.mu.Unlock()
			return nil, err
		}
		owns = true
	}
	d := newDownload(ds, socid, t, tk, owns, prio)
	if l != nil {
		d.listeners = append(d.listeners, l)
	}
	ds.ongoing[socid] = d
	ds.tracker.Enqueued(socid)
	ds.metrics.Ongoing.Set(float64(len(ds.ongoing)))
	ds.wg.Add(1)
	ds.mu.Unlock()

	go func() {
		defer ds.wg.Done()
		d.run(ds.ctx)
	}()
	return d, nil
}

// DownloadSync downloads socid on behalf of the download of dependent and
// waits for the outcome. It fails with a *depgraph.DeadlockError if
// dependent is, directly or not, awaited by socid. The caller's token is
// lent to a download created by the call.
func (ds *Downloads) DownloadSync(ctx context.Context, socid ids.SOCID, t *to.To, tk *tokens.Token, dependent ids.SOCID, typ causality.DepType) (ids.DID, error) {
	if err := ds.graph.AddEdge(dependent, socid, typ); err != nil {
		return ids.DID{}, err
	}
	defer func() {
		if err := ds.graph.RemoveEdge(dependent, socid); err != nil {
			ds.logger.Warningf("download: remove wait %s -> %s: %v", dependent, socid, err)
		}
	}()

	c := newCompletion()
	prio := tk.Priority()

	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return ids.DID{}, fmt.Errorf("%w: %w", causality.ErrAborted, ErrClosed)
	}
	d, ok := ds.ongoing[socid]
	if ok {
		d.join(t, c, prio)
	} else {
		d = newDownload(ds, socid, t, tk, false, prio)
		d.listeners = append(d.listeners, c)
		ds.ongoing[socid] = d
		ds.tracker.Enqueued(socid)
		ds.metrics.Ongoing.Set(float64(len(ds.ongoing)))
	}
	ds.mu.Unlock()

	// run it here unless a worker already does
	if d.claim() {
		d.execute(ctx)
	}

	select {
	case <-c.done:
		return c.from, c.err
	case <-ctx.Done():
		return ids.DID{}, fmt.Errorf("%w: %w", causality.ErrAborted, ctx.Err())
	}
}

// Close aborts the running downloads and waits until their listeners were
// told. Later requests fail with ErrClosed.
func (ds *Downloads) Close() error {
	ds.mu.Lock()
	ds.closed = true
	ds.mu.Unlock()

	ds.cancel()
	ds.wg.Wait()
	return nil
}

// IsOngoing reports whether socid is being downloaded.
func (ds *Downloads) IsOngoing(socid ids.SOCID) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	_, ok := ds.ongoing[socid]
	return ok
}

// Ongoing returns the components being downloaded, sorted.
func (ds *Downloads) Ongoing() []ids.SOCID {
	ds.mu.Lock()
	socids := make([]ids.SOCID, 0, len(ds.ongoing))
	for socid := range ds.ongoing {
		socids = append(socids, socid)
	}
	ds.mu.Unlock()

	sort.Slice(socids, func(i, j int) bool { return socids[i].Compare(socids[j]) < 0 })
	return socids
}

// Knowledge returns the versions announced by other devices.
func (ds *Downloads) Knowledge() *Knowledge { return ds.knowledge }

func (ds *Downloads) remove(d *Download, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if cur, ok := ds.ongoing[d.socid]; ok && cur == d {
		delete(ds.ongoing, d.socid)
	}
	ds.tracker.Ended(d.socid, err)
	ds.metrics.Ongoing.Set(float64(len(ds.ongoing)))
}

// completion is the listener of a synchronous download.
type completion struct {
	done chan struct{}
	from ids.DID
	err  error
}

func newCompletion() *completion {
	return &completion{done: make(chan struct{})}
}

func (c *completion) OnOK(_ ids.SOCID, from ids.DID) {
	c.from = from
	close(c.done)
}

func (c *completion) OnError(_ ids.SOCID, err error) {
	c.err = err
	close(c.done)
}

// IsDeadlock reports whether err is a refused synchronous wait.
func IsDeadlock(err error) bool {
	var de *depgraph.DeadlockError
	return errors.As(err, &de)
}
