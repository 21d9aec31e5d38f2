// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sched runs events from a bounded priority queue on a small pool
// of workers, and defers events that must run later.
package sched

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/logging"
)

// Priority orders queued events. Greater values run first.
type Priority int32

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return "custom"
}

// Event is a unit of work. The context is cancelled when the queue closes.
// Events still queued at that time run once with the cancelled context so
// that they can unwind.
type Event func(ctx context.Context)

var ErrClosed = errors.New("sched: closed")

const (
	defaultCapacity = 1024
	defaultWorkers  = 4
)

type Options struct {
	Capacity int
	Workers  int
}

type item struct {
	ev   Event
	prio Priority
	seq  uint64
}

// itemHeap keeps events of equal priority in insertion order.
type itemHeap []item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio > h[j].prio
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = item{}
	*h = old[:n-1]
	return it
}

type Queue struct {
	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	capacity int
	closed   bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger  logging.Logger
	metrics metrics
}

// NewQueue starts the workers of a queue.
func NewQueue(logger logging.Logger, o Options) *Queue {
	if o.Capacity <= 0 {
		o.Capacity = defaultCapacity
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		capacity: o.Capacity,
		wake:     make(chan struct{}, o.Workers),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		metrics:  newMetrics(),
	}
	q.wg.Add(o.Workers)
	for i := 0; i < o.Workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue adds ev to the queue. It returns false if the queue is full or
// closed.
func (q *Queue) Enqueue(ev Event, prio Priority) bool {
	q.mu.Lock()
	if q.closed || len(q.items) >= q.capacity {
		q.mu.Unlock()
		q.metrics.Rejected.Inc()
		return false
	}
	q.seq++
	heap.Push(&q.items, item{ev: ev, prio: prio, seq: q.seq})
	q.metrics.Queued.Set(float64(len(q.items)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of events waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) next() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(item)
	q.metrics.Queued.Set(float64(len(q.items)))
	return it.ev, true
}

// worker runs events until the queue is closed and empty. Events left
// when the queue closes run with the cancelled context.
func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		ev, ok := q.next()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}
		q.metrics.Executed.Inc()
		ev(q.ctx)
	}
}

// Close stops the workers once the running events return. Events still
// queued run with the cancelled context before Close returns.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	items := q.items
	q.items = nil
	q.metrics.Queued.Set(0)
	q.mu.Unlock()

	sort.Sort(items)
	for _, it := range items {
		it.ev(q.ctx)
	}
	if len(items) > 0 {
		q.logger.Debugf("sched: unwound %d queued events", len(items))
	}
	return nil
}
