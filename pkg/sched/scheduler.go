// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	"context"
	"sync"
	"time"
)

// retryDelay is how long an event waits before another attempt to enqueue
// it into a full queue.
const retryDelay = 50 * time.Millisecond

// Scheduler enqueues events after a delay.
type Scheduler struct {
	q *Queue

	mu     sync.Mutex
	timers map[*time.Timer]Event
	closed bool
}

func NewScheduler(q *Queue) *Scheduler {
	return &Scheduler{
		q:      q,
		timers: make(map[*time.Timer]Event),
	}
}

// Schedule enqueues ev once delay elapses. An event that finds the queue
// full is retried until it is accepted. It returns ErrClosed, without
// running ev, if the scheduler or its queue is closed. An accepted event
// that can no longer be queued runs with a cancelled context.
func (s *Scheduler) Schedule(ev Event, prio Priority, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.q.isClosed() {
		return ErrClosed
	}
	s.schedule(ev, prio, delay)
	return nil
}

// schedule must be called with s.mu held.
func (s *Scheduler) schedule(ev Event, prio Priority, delay time.Duration) {
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if _, ok := s.timers[t]; !ok {
			// Close already took the event over
			s.mu.Unlock()
			return
		}
		delete(s.timers, t)
		s.mu.Unlock()

		if s.q.Enqueue(ev, prio) {
			return
		}
		if s.q.isClosed() {
			unwind(ev)
			return
		}

		s.mu.Lock()
		closed := s.closed
		if !closed {
			s.schedule(ev, prio, retryDelay)
		}
		s.mu.Unlock()
		if closed {
			unwind(ev)
		}
	})
	s.timers[t] = ev
}

// Run enqueues ev now, or defers it if the queue is momentarily full. It
// returns ErrClosed, without running ev, once the queue or the scheduler
// is closed.
func (s *Scheduler) Run(ev Event, prio Priority) error {
	if s.q.Enqueue(ev, prio) {
		return nil
	}
	if err := s.Schedule(ev, prio, retryDelay); err != nil {
		return err
	}
	s.q.metrics.Deferred.Inc()
	return nil
}

// Pending returns the number of events waiting for their delay.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops the timers of the deferred events and runs them with a
// cancelled context. An event belongs to whoever removes its timer from
// the map, Close or the timer callback.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	var evs []Event
	for t, ev := range s.timers {
		t.Stop()
		evs = append(evs, ev)
	}
	s.timers = make(map[*time.Timer]Event)
	s.mu.Unlock()

	for _, ev := range evs {
		unwind(ev)
	}
	return nil
}

func unwind(ev Event) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ev(ctx)
}
