// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reacher runs background liveness probes against devices that
// failed to answer a request in time.
package reacher

import (
	"context"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"golang.org/x/time/rate"
)

const (
	pingTimeoutMin = time.Second * 2
	pingTimeoutMax = time.Second * 5
	maxAttempts    = 3
)

// Notifier receives probe state changes.
type Notifier interface {
	Probing(did ids.DID)
	Reachable(did ids.DID, ok bool)
}

type Options struct {
	// Rate bounds the number of probes started per second.
	Rate  rate.Limit
	Burst int
}

type reacher struct {
	mu      sync.Mutex
	queue   []ids.DID
	pending map[ids.DID]struct{}

	quit chan struct{}
	run  chan struct{}

	pinger   p2p.Pinger
	notifier Notifier
	limiter  *rate.Limiter

	wg sync.WaitGroup
}

func New(pinger p2p.Pinger, notifier Notifier, o *Options) *reacher {
	if o == nil {
		o = &Options{Rate: 10, Burst: 10}
	}

	r := &reacher{
		pending:  make(map[ids.DID]struct{}),
		quit:     make(chan struct{}),
		run:      make(chan struct{}, 1),
		pinger:   pinger,
		notifier: notifier,
		limiter:  rate.NewLimiter(o.Rate, o.Burst),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

func (r *reacher) worker() {
	defer r.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.quit
		cancel()
	}()

	for {
		select {
		case <-r.quit:
			return
		case <-r.run:
			r.ping(ctx)
		}
	}
}

func (r *reacher) ping(ctx context.Context) {
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.mu.Unlock()
			return
		}
		did := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		if err := r.limiter.Wait(ctx); err != nil {
			return
		}

		ok := r.probe(ctx, did)
		if ctx.Err() != nil {
			return
		}

		r.mu.Lock()
		delete(r.pending, did)
		r.mu.Unlock()

		r.notifier.Reachable(did, ok)
	}
}

func (r *reacher) probe(ctx context.Context, did ids.DID) bool {
	timeout := pingTimeoutMin
	for attempts := 1; ; attempts++ {
		ctxd, cancel := context.WithTimeout(ctx, timeout)
		_, err := r.pinger.Ping(ctxd, did)
		cancel()

		if err == nil {
			return true
		}
		if attempts == maxAttempts || ctx.Err() != nil {
			return false
		}

		timeout *= 2
		if timeout > pingTimeoutMax {
			timeout = pingTimeoutMax
		}
	}
}

// Probe queues the device for a liveness check. A device already queued or
// being probed is not queued again.
func (r *reacher) Probe(did ids.DID) {
	r.mu.Lock()
	if _, ok := r.pending[did]; ok {
		r.mu.Unlock()
		return
	}
	r.pending[did] = struct{}{}
	r.queue = append(r.queue, did)
	r.mu.Unlock()

	r.notifier.Probing(did)

	select {
	case r.run <- struct{}{}:
	default:
	}
}

// Pending reports whether the device is queued or being probed.
func (r *reacher) Pending(did ids.DID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[did]
	return ok
}

func (r *reacher) Close() error {
	close(r.quit)
	r.wg.Wait()
	return nil
}
