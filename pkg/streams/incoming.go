// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streams

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
)

const (
	DefaultChunkTimeout = 30 * time.Second
	DefaultBufferSize   = 64
)

type IncomingOptions struct {
	// ChunkTimeout bounds the wait for each chunk in Read.
	ChunkTimeout time.Duration
	// BufferSize is the number of chunks held for a slow reader before the
	// stream is aborted.
	BufferSize int
}

// Incoming is the registry of streams received from devices.
type Incoming struct {
	mu      sync.Mutex
	streams map[StreamKey]*InStream

	ctl     *controller
	opts    IncomingOptions
	logger  logging.Logger
	metrics incomingMetrics
}

func NewIncoming(logger logging.Logger, o IncomingOptions) *Incoming {
	if o.ChunkTimeout <= 0 {
		o.ChunkTimeout = DefaultChunkTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	in := &Incoming{
		streams: make(map[StreamKey]*InStream),
		opts:    o,
		logger:  logger,
		metrics: newIncomingMetrics(),
	}
	in.ctl = &controller{
		logger:  logger,
		onQueue: func(n int) { in.metrics.Deferred.Set(float64(n)) },
	}
	return in
}

// Begun registers a new stream whose chunk 0 was already consumed by the
// caller. Deferred notifications are retried first.
func (in *Incoming) Begun(tp p2p.Transport, key StreamKey) (*InStream, error) {
	in.ctl.flush()

	in.mu.Lock()
	defer in.mu.Unlock()

	if _, ok := in.streams[key]; ok {
		return nil, ErrStreamExists
	}
	s := &InStream{
		key:    key,
		tp:     tp,
		parent: in,
		chunks: make(chan []byte, in.opts.BufferSize),
		done:   make(chan struct{}),
	}
	in.streams[key] = s
	in.metrics.Active.Inc()
	in.metrics.Begun.Inc()
	return s, nil
}

// Chunk delivers chunk seq of the stream. A chunk out of sequence aborts
// the stream and tells the sender.
func (in *Incoming) Chunk(key StreamKey, seq uint32, payload []byte) {
	s := in.get(key)
	if s == nil {
		in.logger.Debugf("streams: chunk %d for unknown incoming stream %s", seq, key)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if seq != s.lastSeq+1 {
		s.mu.Unlock()
		in.metrics.OutOfOrder.Inc()
		in.logger.Warningf("streams: %s: chunk %d out of order, expected %d", key, seq, s.lastSeq+1)
		s.Abort(p2p.ReasonOutOfOrder)
		return
	}
	s.lastSeq = seq
	select {
	case s.chunks <- payload:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		in.logger.Warningf("streams: %s: reader too slow, dropping stream", key)
		s.Abort(p2p.ReasonInternalError)
	}
}

// Aborted handles the sender ending the stream. ReasonEnded lets the reader
// drain buffered chunks before io.EOF.
func (in *Incoming) Aborted(key StreamKey, reason p2p.InvalidationReason) {
	s := in.get(key)
	if s == nil {
		return
	}
	in.remove(key)

	if reason == p2p.ReasonEnded {
		s.close(nil)
		return
	}
	s.invalidate(reason)
}

// Offline invalidates every stream received from the device.
func (in *Incoming) Offline(did ids.DID) {
	in.mu.Lock()
	var gone []*InStream
	for k, s := range in.streams {
		if k.DID == did {
			gone = append(gone, s)
		}
	}
	in.mu.Unlock()

	for _, s := range gone {
		in.remove(s.key)
		s.invalidate(p2p.ReasonAbortedBySender)
	}
}

// Len returns the number of active streams.
func (in *Incoming) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.streams)
}

// Deferred returns the number of notifications waiting for the carrier.
func (in *Incoming) Deferred() int {
	return in.ctl.queued()
}

func (in *Incoming) get(key StreamKey) *InStream {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.streams[key]
}

func (in *Incoming) remove(key StreamKey) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.streams[key]; !ok {
		return false
	}
	delete(in.streams, key)
	in.metrics.Active.Dec()
	return true
}

// InStream is the receiving side of a stream.
type InStream struct {
	key    StreamKey
	tp     p2p.Transport
	parent *Incoming
	chunks chan []byte

	mu      sync.Mutex
	lastSeq uint32
	closed  bool
	err     error
	done    chan struct{}
}

func (s *InStream) Key() StreamKey { return s.key }

// Read returns the next chunk, io.EOF once the sender ended the stream, or
// an *InvalidatedError. A chunk that does not arrive within the chunk
// timeout aborts the stream.
func (s *InStream) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-s.done:
		return nil, s.Err()
	default:
	}

	timer := time.NewTimer(s.parent.opts.ChunkTimeout)
	defer timer.Stop()

	select {
	case b, ok := <-s.chunks:
		if !ok {
			if err := s.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return b, nil
	case <-s.done:
		return nil, s.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		s.Abort(p2p.ReasonStreamTimeout)
		return nil, s.Err()
	}
}

// Err returns the invalidation error, if any.
func (s *InStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// End releases the stream once the receiver is done with it. The sender is
// told unless it already ended the stream.
func (s *InStream) End() {
	open := s.close(nil)
	s.parent.remove(s.key)
	if open {
		s.parent.ctl.do(control{tp: s.tp, key: s.key, kind: endIncoming})
	}
}

// Abort invalidates the stream and tells the sender. Only the first call
// on an open stream has an effect.
func (s *InStream) Abort(reason p2p.InvalidationReason) {
	if !s.close(&InvalidatedError{Reason: reason}) {
		return
	}
	s.parent.remove(s.key)
	s.parent.metrics.Aborted.Inc()
	s.parent.ctl.do(control{tp: s.tp, key: s.key, kind: abortIncoming, reason: reason})
}

func (s *InStream) invalidate(reason p2p.InvalidationReason) {
	if s.close(&InvalidatedError{Reason: reason}) {
		s.parent.metrics.Aborted.Inc()
	}
}

// close marks the stream closed, with err if it was invalidated. It reports
// whether the stream was still open.
func (s *InStream) close(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.chunks)
	if err != nil {
		s.err = err
		close(s.done)
	}
	return true
}
