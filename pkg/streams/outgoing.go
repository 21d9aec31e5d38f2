// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streams

import (
	"context"
	"fmt"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"go.uber.org/atomic"
)

// Outgoing is the registry of streams sent to devices.
type Outgoing struct {
	mu      sync.Mutex
	streams map[StreamKey]*OutStream
	nextID  *atomic.Uint32

	ctl     *controller
	logger  logging.Logger
	metrics outgoingMetrics
}

func NewOutgoing(logger logging.Logger) *Outgoing {
	out := &Outgoing{
		streams: make(map[StreamKey]*OutStream),
		nextID:  atomic.NewUint32(0),
		logger:  logger,
		metrics: newOutgoingMetrics(),
	}
	out.ctl = &controller{
		logger:  logger,
		onQueue: func(n int) { out.metrics.Deferred.Set(float64(n)) },
	}
	return out
}

// Begin opens a stream to did carrying first as chunk 0. Deferred
// notifications are retried first.
func (out *Outgoing) Begin(ctx context.Context, tp p2p.Transport, did ids.DID, first []byte) (*OutStream, error) {
	out.ctl.flush()

	key := StreamKey{DID: did, ID: p2p.StreamID(out.nextID.Inc())}
	s := &OutStream{key: key, tp: tp, parent: out}

	out.mu.Lock()
	out.streams[key] = s
	out.metrics.Active.Inc()
	out.mu.Unlock()

	if err := tp.BeginStream(ctx, did, key.ID, first); err != nil {
		out.remove(key)
		return nil, fmt.Errorf("begin stream %s: %w", key, err)
	}
	out.metrics.Begun.Inc()
	return s, nil
}

// Aborted handles the receiver ending or invalidating a stream. The next
// Send returns an *InvalidatedError.
func (out *Outgoing) Aborted(key StreamKey, reason p2p.InvalidationReason) {
	out.mu.Lock()
	s, ok := out.streams[key]
	out.mu.Unlock()
	if !ok {
		out.logger.Debugf("streams: abort of unknown outgoing stream %s", key)
		return
	}
	if s.finish(&InvalidatedError{Reason: reason}) {
		out.remove(key)
		out.logger.Debugf("streams: outgoing %s invalidated by receiver: %s", key, reason)
	}
}

// Offline invalidates every stream sent to the device.
func (out *Outgoing) Offline(did ids.DID) {
	out.mu.Lock()
	var gone []*OutStream
	for k, s := range out.streams {
		if k.DID == did {
			gone = append(gone, s)
		}
	}
	out.mu.Unlock()

	for _, s := range gone {
		if s.finish(&InvalidatedError{Reason: p2p.ReasonAbortedByReceiver}) {
			out.remove(s.key)
		}
	}
}

func (out *Outgoing) Len() int {
	out.mu.Lock()
	defer out.mu.Unlock()
	return len(out.streams)
}

// Deferred returns the number of notifications waiting for the carrier.
func (out *Outgoing) Deferred() int {
	return out.ctl.queued()
}

func (out *Outgoing) remove(key StreamKey) {
	out.mu.Lock()
	defer out.mu.Unlock()
	if _, ok := out.streams[key]; ok {
		delete(out.streams, key)
		out.metrics.Active.Dec()
	}
}

// OutStream is the sending side of a stream.
type OutStream struct {
	key    StreamKey
	tp     p2p.Transport
	parent *Outgoing

	mu   sync.Mutex
	seq  uint32
	done bool
	err  error
}

func (s *OutStream) Key() StreamKey { return s.key }

// Send transmits the next chunk.
func (s *OutStream) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	if s.done {
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if err := s.tp.SendChunk(ctx, s.key.DID, s.key.ID, seq, payload); err != nil {
		s.Abort(p2p.ReasonInternalError)
		return fmt.Errorf("send chunk %d of %s: %w", seq, s.key, err)
	}
	return nil
}

// End closes the stream normally.
func (s *OutStream) End() {
	if !s.finish(nil) {
		return
	}
	s.parent.remove(s.key)
	s.parent.ctl.do(control{tp: s.tp, key: s.key, kind: endOutgoing})
}

// Abort invalidates the stream and tells the receiver.
func (s *OutStream) Abort(reason p2p.InvalidationReason) {
	if !s.finish(&InvalidatedError{Reason: reason}) {
		return
	}
	s.parent.remove(s.key)
	s.parent.metrics.Aborted.Inc()
	s.parent.ctl.do(control{tp: s.tp, key: s.key, kind: abortOutgoing, reason: reason})
}

func (s *OutStream) finish(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	s.err = err
	return true
}
