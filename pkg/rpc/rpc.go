// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc correlates replies with the requests waiting for them.
//
// Every request carries a fresh id. The caller blocks until the matching
// reply is delivered, the context is done or the timeout expires; on
// timeout the contacted device is queued for a liveness probe, avoided, and
// the request is sent to the next candidate.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/protobuf"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/streams"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
	"go.uber.org/atomic"
)

const DefaultTimeout = 30 * time.Second

var ErrTimeout = errors.New("rpc timeout")

// Sender puts encoded requests on the wire.
type Sender interface {
	SendUnicast(ctx context.Context, did ids.DID, payload []byte) error
	SendMaxcast(ctx context.Context, sidx ids.SIndex, payload []byte) error
}

// Prober re-checks the liveness of devices that failed to reply in time.
type Prober interface {
	Probe(did ids.DID)
}

// Reply is a message correlated with a request.
type Reply struct {
	From ids.DID
	Msg  *pb.Core
	// Trailer holds the bytes that followed the message in its datagram or
	// in the first chunk of its stream.
	Trailer []byte
	// Stream carries the rest of a streamed reply.
	Stream *streams.InStream
}

// Close releases the stream of a streamed reply.
func (r *Reply) Close() {
	if r != nil && r.Stream != nil {
		r.Stream.End()
	}
}

type Options struct {
	Timeout time.Duration
}

type RPC struct {
	sender  Sender
	prober  Prober
	timeout time.Duration
	logger  logging.Logger
	metrics metrics

	nextID *atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan *Reply
}

func New(sender Sender, prober Prober, logger logging.Logger, o Options) *RPC {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return &RPC{
		sender:  sender,
		prober:  prober,
		timeout: o.Timeout,
		logger:  logger,
		metrics: newMetrics(),
		nextID:  atomic.NewUint32(0),
		pending: make(map[uint32]chan *Reply),
	}
}

// Do sends msg to the destinations picked from t until one replies. A zero
// timeout uses the default. The returned reply must be closed.
func (r *RPC) Do(ctx context.Context, msg *pb.Core, t *to.To, timeout time.Duration) (*Reply, error) {
	var lastErr error
	for {
		target, err := t.Pick()
		if err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("%s: %w", msg.Type, lastErr)
			}
			return nil, fmt.Errorf("%s: %w", msg.Type, err)
		}

		reply, err := r.attempt(ctx, msg, target, timeout)
		switch {
		case err == nil:
			return reply, nil
		case errors.Is(err, ErrTimeout):
			lastErr = err
			if !target.Maxcast {
				t.Avoid(target.DID)
			}
		case ctx.Err() != nil:
			return nil, err
		case isException(err):
			return nil, err
		default:
			r.logger.Debugf("rpc: %s to %s: %v", msg.Type, target, err)
			lastErr = err
			if !target.Maxcast {
				t.Avoid(target.DID)
			}
		}
	}
}

// DoTo sends msg to a single device.
func (r *RPC) DoTo(ctx context.Context, msg *pb.Core, did ids.DID, timeout time.Duration) (*Reply, error) {
	return r.attempt(ctx, msg, to.Target{DID: did}, timeout)
}

func (r *RPC) attempt(ctx context.Context, msg *pb.Core, target to.Target, timeout time.Duration) (*Reply, error) {
	if timeout <= 0 {
		timeout = r.timeout
	}

	id := r.nextID.Inc()
	msg.RpcId = id
	payload, err := protobuf.Encode(msg, nil)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	ch := make(chan *Reply, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.metrics.Pending.Set(float64(len(r.pending)))
	r.mu.Unlock()
	defer func() {
		r.forget(id)
		// a reply delivered as the wait ended has nobody to read it
		select {
		case reply := <-ch:
			r.metrics.SpuriousReplies.Inc()
			reply.Close()
		default:
		}
	}()

	r.metrics.Requests.Inc()
	if target.Maxcast {
		err = r.sender.SendMaxcast(ctx, target.SIdx, payload)
	} else {
		err = r.sender.SendUnicast(ctx, target.DID, payload)
	}
	if err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", msg.Type, target, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if ex := reply.Msg.GetException(); ex != nil {
			reply.Close()
			r.metrics.Exceptions.Inc()
			return nil, &ExceptionError{From: reply.From, Type: ex.Type, Message: ex.Message}
		}
		return reply, nil
	case <-timer.C:
		r.metrics.Timeouts.Inc()
		r.logger.Debugf("rpc: %s %d to %s timed out after %s", msg.Type, id, target, timeout)
		if !target.Maxcast && r.prober != nil {
			r.prober.Probe(target.DID)
		}
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RPC) forget(id uint32) {
	r.mu.Lock()
	delete(r.pending, id)
	r.metrics.Pending.Set(float64(len(r.pending)))
	r.mu.Unlock()
}

// Deliver hands a reply to the request waiting for it. Replies nobody waits
// for are dropped.
func (r *RPC) Deliver(reply *Reply) {
	id := reply.Msg.RpcId

	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
		r.metrics.Pending.Set(float64(len(r.pending)))
		// buffered, and only the remover of id sends on it
		ch <- reply
	}
	r.mu.Unlock()

	if !ok {
		r.metrics.SpuriousReplies.Inc()
		r.logger.Debugf("rpc: dropping reply %d from %s: no pending request", id, reply.From.Short())
		reply.Close()
	}
}

// Pending returns the number of requests waiting for a reply.
func (r *RPC) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
