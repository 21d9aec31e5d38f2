// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dlstate publishes the progress of downloads.
package dlstate

import (
	"fmt"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
)

type Kind int

const (
	Enqueued Kind = iota
	Started
	Ongoing
	Ended
)

func (k Kind) String() string {
	switch k {
	case Enqueued:
		return "enqueued"
	case Started:
		return "started"
	case Ongoing:
		return "ongoing"
	case Ended:
		return "ended"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// State of a download. Peer, Done and Total are set while Ongoing, OK and
// Err once Ended.
type State struct {
	Kind  Kind    `json:"state"`
	Peer  ids.DID `json:"-"`
	Done  uint64  `json:"done,omitempty"`
	Total uint64  `json:"total,omitempty"`
	OK    bool    `json:"ok,omitempty"`
	Err   string  `json:"error,omitempty"`
}

func (s State) String() string {
	switch s.Kind {
	case Ongoing:
		return fmt.Sprintf("ongoing from %s %d/%d", s.Peer.Short(), s.Done, s.Total)
	case Ended:
		if s.OK {
			return "ended ok"
		}
		return "ended: " + s.Err
	}
	return s.Kind.String()
}

// Listener is called on every transition, in order, for a given object.
type Listener func(socid ids.SOCID, s State)

type Tracker struct {
	mu        sync.Mutex
	states    map[ids.SOCID]State
	listeners []Listener

	logger  logging.Logger
	metrics metrics
}

func New(logger logging.Logger) *Tracker {
	return &Tracker{
		states:  make(map[ids.SOCID]State),
		logger:  logger,
		metrics: newMetrics(),
	}
}

func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *Tracker) Enqueued(socid ids.SOCID) {
	t.transition(socid, State{Kind: Enqueued})
}

func (t *Tracker) Started(socid ids.SOCID) {
	t.transition(socid, State{Kind: Started})
}

func (t *Tracker) Ongoing(socid ids.SOCID, peer ids.DID, done, total uint64) {
	t.transition(socid, State{Kind: Ongoing, Peer: peer, Done: done, Total: total})
}

func (t *Tracker) Ended(socid ids.SOCID, err error) {
	s := State{Kind: Ended, OK: err == nil}
	if err != nil {
		s.Err = err.Error()
	}
	t.transition(socid, s)
}

// allowed reports whether a download may move from prev to next. present
// is false when the download is not tracked.
func allowed(prev State, present bool, next Kind) bool {
	switch next {
	case Enqueued:
		return !present
	case Started:
		return present && prev.Kind == Enqueued
	case Ongoing:
		return present && (prev.Kind == Started || prev.Kind == Ongoing)
	case Ended:
		return present
	}
	return false
}

func (t *Tracker) transition(socid ids.SOCID, s State) {
	t.mu.Lock()
	prev, present := t.states[socid]
	if !allowed(prev, present, s.Kind) {
		t.mu.Unlock()
		panic(fmt.Sprintf("dlstate: %s cannot go from %s to %s", socid, prev.Kind, s.Kind))
	}
	if s.Kind == Ended {
		delete(t.states, socid)
		if s.OK {
			t.metrics.Succeeded.Inc()
		} else {
			t.metrics.Failed.Inc()
		}
	} else {
		t.states[socid] = s
	}
	t.metrics.Tracked.Set(float64(len(t.states)))
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	t.logger.Tracef("dlstate: %s %s", socid, s)
	for _, l := range listeners {
		l(socid, s)
	}
}

// Get returns the state of a tracked download.
func (t *Tracker) Get(socid ids.SOCID) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[socid]
	return s, ok
}

// Snapshot returns a copy of the states of all tracked downloads.
func (t *Tracker) Snapshot() map[ids.SOCID]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := make(map[ids.SOCID]State, len(t.states))
	for k, v := range t.states {
		m[k] = v
	}
	return m
}
