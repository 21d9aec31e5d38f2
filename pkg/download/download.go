// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/depgraph"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/sched"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
	"github.com/aer0ss/aerofs-sub003/pkg/tokens"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Listener is told the outcome of a download, once.
type Listener interface {
	OnOK(socid ids.SOCID, from ids.DID)
	OnError(socid ids.SOCID, err error)
}

// Download drives the replication of one component until it is up to date
// or fails.
type Download struct {
	ds    *Downloads
	socid ids.SOCID
	to    *to.To

	tk        *tokens.Token
	ownsToken bool
	origPrio  sched.Priority

	claimed atomic.Bool
	done    chan struct{}

	mu        sync.Mutex
	prio      sched.Priority
	listeners []Listener
	from      ids.DID
	err       error

	// probed holds the objects whose remote state was fetched by a
	// dependency of this download.
	probed map[ids.SOID]struct{}
	deps   map[ids.SOCID]int
}

// maxDependencyRounds bounds how many times the same dependency is
// downloaded by one download.
const maxDependencyRounds = 3

func newDownload(ds *Downloads, socid ids.SOCID, t *to.To, tk *tokens.Token, owns bool, prio sched.Priority) *Download {
	return &Download{
		ds:        ds,
		socid:     socid,
		to:        t,
		tk:        tk,
		ownsToken: owns,
		origPrio:  tk.Priority(),
		prio:      prio,
		done:      make(chan struct{}),
		probed:    make(map[ids.SOID]struct{}),
		deps:      make(map[ids.SOCID]int),
	}
}

func (d *Download) SOCID() ids.SOCID { return d.socid }

func (d *Download) Priority() sched.Priority {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prio
}

// Done is closed once the listeners were told the outcome.
func (d *Download) Done() <-chan struct{} { return d.done }

// Result returns the outcome of a finished download.
func (d *Download) Result() (ids.DID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.from, d.err
}

// join merges the request of another caller into the download. The
// priority is raised, never lowered.
func (d *Download) join(t *to.To, l Listener, prio sched.Priority) {
	d.to.Merge(t)

	d.mu.Lock()
	defer d.mu.Unlock()
	if l != nil {
		d.listeners = append(d.listeners, l)
	}
	if prio > d.prio {
		d.prio = prio
		d.tk.SetPriority(prio)
	}
}

// claim reports whether the caller is the one to run the download.
func (d *Download) claim() bool {
	return d.claimed.CompareAndSwap(false, true)
}

// run is the entry point of the goroutine started by DownloadAsync.
func (d *Download) run(ctx context.Context) {
	if !d.claim() {
		return
	}
	d.execute(ctx)
}

func (d *Download) execute(ctx context.Context) {
	span, logger, ctx := d.ds.tracer.StartSpanFromContext(ctx, "download", d.ds.logger, opentracing.Tag{Key: "socid", Value: d.socid.String()})
	defer span.Finish()

	d.tk.SetPriority(d.Priority())
	d.ds.tracker.Started(d.socid)
	d.ds.metrics.Started.Inc()

	from, err := d.loop(ctx, logger)
	if err != nil {
		span.SetTag("error", true)
		span.LogKV("error", err.Error())
	}
	d.finish(from, err)
}

func (d *Download) loop(ctx context.Context, logger *logrus.Entry) (ids.DID, error) {
	var from ids.DID
	for attempt := 1; ; attempt++ {
		if err := d.checkLocal(); err != nil {
			return from, err
		}

		res := d.attempt(ctx, attempt)
		if !res.From.IsZero() {
			from = res.From
		}
		d.ds.metrics.Outcomes.WithLabelValues(res.Outcome.String()).Inc()
		logger.Debugf("download: %s attempt %d: %s: %v", d.socid, attempt, res.Outcome, res.Err)

		switch res.Outcome {
		case OutcomeApplied, OutcomeNoNewUpdate:
			more, err := d.ds.knowledge.Outstanding(d.socid)
			if err != nil {
				return from, err
			}
			if !more {
				return from, nil
			}
			if res.Outcome == OutcomeNoNewUpdate && !res.From.IsZero() {
				d.to.Avoid(res.From)
			}

		case OutcomeDependsOn:
			if err := d.resolve(ctx, res.Dep, from); err != nil {
				return from, err
			}

		case OutcomeIncrementalFailed:
			// the partial content was dropped, the next request fetches it whole

		case OutcomeUpdateInProgress:
			if err := sleep(ctx, d.ds.o.UpdateInProgressBackoff); err != nil {
				return from, fmt.Errorf("%w: %w", causality.ErrAborted, err)
			}

		case OutcomeNoResource:
			if err := sleep(ctx, d.ds.o.NoResourceBackoff); err != nil {
				return from, fmt.Errorf("%w: %w", causality.ErrAborted, err)
			}

		case OutcomeDeviceFailed:
			if !res.From.IsZero() {
				d.to.Avoid(res.From)
			}

		case OutcomeExhausted, OutcomeTerminal:
			return from, res.Err
		}
	}
}

// checkLocal fails the download once the object can no longer be
// synchronized.
func (d *Download) checkLocal() error {
	if !d.ds.dir.StoreExists(d.socid.SIdx) {
		return causality.ErrStoreNotFound
	}
	oa, err := d.ds.dir.GetOA(nil, d.ds.dir.ResolveAlias(d.socid.SOID()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if oa.IsExpelled() {
		return causality.ErrExpelled
	}
	return nil
}

func (d *Download) attempt(ctx context.Context, n int) Result {
	span, _, ctx := d.ds.tracer.StartSpanFromContext(ctx, "download-attempt", nil, opentracing.Tag{Key: "attempt", Value: n})
	defer span.Finish()

	upd, err := d.ds.fetcher.GetComponent(ctx, d.socid, d.to, d.progress)
	if err != nil {
		return Classify(err)
	}
	if c, ok := upd.Body.(io.Closer); ok {
		defer c.Close()
	}
	d.ds.knowledge.Learn(d.socid, upd.Version)

	err = d.ds.applier.ReceiveAndApplyUpdate(ctx, upd, d.socid, d.probedCopy())
	res := Classify(err)
	res.From = upd.From
	return res
}

func (d *Download) progress(peer ids.DID, done, total uint64) {
	d.ds.tracker.Ongoing(d.socid, peer, done, total)
}

func (d *Download) probedCopy() map[ids.SOID]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := make(map[ids.SOID]struct{}, len(d.probed))
	for k := range d.probed {
		m[k] = struct{}{}
	}
	return m
}

// resolve downloads the dependency of the current attempt, asking the
// device that reported it first.
func (d *Download) resolve(ctx context.Context, dep *causality.DependsOnError, from ids.DID) error {
	d.deps[dep.Dep]++
	if d.deps[dep.Dep] > maxDependencyRounds {
		return fmt.Errorf("dependency %s still unresolved: %w", dep.Dep, dep)
	}

	t := d.ds.factory.Create(dep.Dep.SIdx)
	if !from.IsZero() {
		t.Add(from)
	}

	_, err := d.ds.DownloadSync(ctx, dep.Dep, t, d.tk, d.socid, dep.Type)
	var dl *depgraph.DeadlockError
	if errors.As(err, &dl) {
		panic(dl)
	}
	if err != nil {
		r := Classify(err)
		if r.Outcome == OutcomeTerminal {
			return err
		}
		if dep.Type != causality.DepNameConflict {
			return fmt.Errorf("dependency %s: %w", dep.Dep, err)
		}
		// the peer state of the conflicting object is known even if
		// nothing could be applied
	}

	d.mu.Lock()
	d.probed[dep.Dep.SOID()] = struct{}{}
	d.mu.Unlock()
	return nil
}

// finish reports the outcome to every listener. Joins go through the
// ongoing map, so the listeners are final once the download is removed
// from it.
func (d *Download) finish(from ids.DID, err error) {
	d.ds.remove(d, err)
	d.tk.SetPriority(d.origPrio)
	if d.ownsToken {
		d.tk.Release()
	}
	if err != nil {
		d.ds.metrics.Failed.Inc()
		d.ds.logger.Debugf("download: %s failed: %v", d.socid, err)
	} else {
		d.ds.metrics.Succeeded.Inc()
	}

	d.mu.Lock()
	d.from, d.err = from, err
	ls := d.listeners
	d.listeners = nil
	d.mu.Unlock()

	for _, l := range ls {
		if err != nil {
			l.OnError(d.socid, err)
		} else {
			l.OnOK(d.socid, from)
		}
	}
	close(d.done)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
