// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/protobuf"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/rpc"
	"github.com/aer0ss/aerofs-sub003/pkg/sched"
	"github.com/aer0ss/aerofs-sub003/pkg/streams"
	"github.com/aer0ss/aerofs-sub003/pkg/tracing"
	"github.com/opentracing/opentracing-go"
)

// Handler serves one type of message. An error returned for a request is
// sent back as an exception.
type Handler func(ctx context.Context, p p2p.Peer, msg *pb.Core) error

// OnlineHandler runs on the scheduler each time a carrier reports a device
// online.
type OnlineHandler func(ctx context.Context, p p2p.Peer)

// Presence records the devices carriers report online.
type Presence interface {
	Online(did ids.DID, transport string, stores []ids.SIndex)
	Offline(did ids.DID, transport string)
	Devices
}

// Dispatcher receives the events of the carriers. Replies are handed to the
// rpc layer on the carrier goroutine; requests and notifications run on the
// scheduler.
type Dispatcher struct {
	presence  Presence
	sender    *Sender
	rpc       *rpc.RPC
	incoming  *streams.Incoming
	outgoing  *streams.Outgoing
	scheduler *sched.Scheduler
	tracer    *tracing.Tracer
	logger    logging.Logger
	metrics   dispatcherMetrics

	mu       sync.RWMutex
	handlers map[pb.Type]Handler
	online   []OnlineHandler
}

var _ p2p.Receiver = (*Dispatcher)(nil)

func NewDispatcher(presence Presence, sender *Sender, r *rpc.RPC, incoming *streams.Incoming, outgoing *streams.Outgoing, scheduler *sched.Scheduler, tracer *tracing.Tracer, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		presence:  presence,
		sender:    sender,
		rpc:       r,
		incoming:  incoming,
		outgoing:  outgoing,
		scheduler: scheduler,
		tracer:    tracer,
		logger:    logger,
		metrics:   newDispatcherMetrics(),
		handlers:  make(map[pb.Type]Handler),
	}
}

// Handle installs the handler of a message type.
func (d *Dispatcher) Handle(t pb.Type, h Handler) {
	d.mu.Lock()
	d.handlers[t] = h
	d.mu.Unlock()
}

// HandleOnline adds h to the handlers of devices coming online.
func (d *Dispatcher) HandleOnline(h OnlineHandler) {
	d.mu.Lock()
	d.online = append(d.online, h)
	d.mu.Unlock()
}

func (d *Dispatcher) ReceiveDatagram(p p2p.Peer, payload []byte) {
	msg := new(pb.Core)
	rest, err := protobuf.Decode(payload, msg)
	if err != nil {
		d.metrics.Malformed.Inc()
		d.logger.Debugf("protocol: malformed datagram from %s: %v", p.DID.Short(), err)
		return
	}
	d.metrics.Received.WithLabelValues(msg.Type.String()).Inc()

	if msg.Type == pb.Type_REPLY {
		d.rpc.Deliver(&rpc.Reply{From: p.DID, Msg: msg, Trailer: rest})
		return
	}
	d.dispatch(p, msg)
}

// ReceiveStreamBegun accepts streamed replies. Requests never need a
// stream, a stream carrying one is aborted.
func (d *Dispatcher) ReceiveStreamBegun(p p2p.Peer, id p2p.StreamID, payload []byte) {
	tp, err := d.sender.Transport(p)
	if err != nil {
		d.logger.Debugf("protocol: stream %d from %s: %v", id, p.DID.Short(), err)
		return
	}
	s, err := d.incoming.Begun(tp, streams.StreamKey{DID: p.DID, ID: id})
	if err != nil {
		d.logger.Warningf("protocol: stream %d from %s: %v", id, p.DID.Short(), err)
		return
	}

	msg := new(pb.Core)
	rest, err := protobuf.Decode(payload, msg)
	if err != nil {
		d.metrics.Malformed.Inc()
		d.logger.Debugf("protocol: malformed stream header from %s: %v", p.DID.Short(), err)
		s.Abort(p2p.ReasonInternalError)
		return
	}
	d.metrics.Received.WithLabelValues(msg.Type.String()).Inc()
	if msg.Type != pb.Type_REPLY {
		d.metrics.ProtocolErrors.Inc()
		d.logger.Warningf("protocol: %s from %s: %v", msg.Type, p.DID.Short(), fmt.Errorf("%w: streamed %s", ErrProtocol, msg.Type))
		s.Abort(p2p.ReasonInternalError)
		return
	}
	d.rpc.Deliver(&rpc.Reply{From: p.DID, Msg: msg, Trailer: rest, Stream: s})
}

func (d *Dispatcher) ReceiveStreamChunk(p p2p.Peer, id p2p.StreamID, seq uint32, payload []byte) {
	d.incoming.Chunk(streams.StreamKey{DID: p.DID, ID: id}, seq, payload)
}

func (d *Dispatcher) ReceiveStreamAborted(p p2p.Peer, id p2p.StreamID, reason p2p.InvalidationReason) {
	d.incoming.Aborted(streams.StreamKey{DID: p.DID, ID: id}, reason)
}

func (d *Dispatcher) ReceiveOutgoingAborted(p p2p.Peer, id p2p.StreamID, reason p2p.InvalidationReason) {
	d.outgoing.Aborted(streams.StreamKey{DID: p.DID, ID: id}, reason)
}

func (d *Dispatcher) DeviceOnline(p p2p.Peer, stores []ids.SIndex) {
	d.presence.Online(p.DID, p.Transport, stores)

	d.mu.RLock()
	hs := append([]OnlineHandler(nil), d.online...)
	d.mu.RUnlock()
	for _, h := range hs {
		h := h
		if err := d.run(func(ctx context.Context) { h(ctx, p) }); err != nil {
			d.logger.Debugf("protocol: %s online: %v", p.DID.Short(), err)
		}
	}
}

// DeviceOffline drops the streams of a device no carrier reaches anymore.
func (d *Dispatcher) DeviceOffline(p p2p.Peer) {
	d.presence.Offline(p.DID, p.Transport)
	if _, ok := d.presence.Get(p.DID); ok {
		return
	}
	d.incoming.Offline(p.DID)
	d.outgoing.Offline(p.DID)
}

func (d *Dispatcher) dispatch(p p2p.Peer, msg *pb.Core) {
	d.mu.RLock()
	h, ok := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !ok {
		d.metrics.ProtocolErrors.Inc()
		err := fmt.Errorf("%w: unexpected %s", ErrProtocol, msg.Type)
		d.logger.Warningf("protocol: message from %s: %v", p.DID.Short(), err)
		if msg.RpcId != 0 {
			rerr := d.run(func(ctx context.Context) {
				if err := d.sender.ReplyError(ctx, p, msg, err); err != nil {
					d.logger.Debugf("protocol: reply to %s: %v", p.DID.Short(), err)
				}
			})
			if rerr != nil {
				d.logger.Debugf("protocol: %s from %s: %v", msg.Type, p.DID.Short(), rerr)
			}
		}
		return
	}

	err := d.run(func(ctx context.Context) {
		ctx, err := d.tracer.WithContextFromCore(ctx, msg)
		if err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
			d.logger.Debugf("protocol: trace of %s from %s: %v", msg.Type, p.DID.Short(), err)
		}
		span, logger, ctx := d.tracer.StartSpanFromContext(ctx, "handle-"+msg.Type.String(), d.logger, opentracing.Tag{Key: "peer", Value: p.DID.String()})
		defer span.Finish()

		err = h(ctx, p, msg)
		if err == nil {
			return
		}
		span.SetTag("error", true)
		logger.Debugf("protocol: %s from %s: %v", msg.Type, p.DID.Short(), err)
		if !isRequest(msg.Type) {
			return
		}
		d.metrics.Exceptions.Inc()
		if err := d.sender.ReplyError(ctx, p, msg, err); err != nil {
			logger.Debugf("protocol: reply to %s: %v", p.DID.Short(), err)
		}
	})
	if err != nil {
		d.logger.Debugf("protocol: %s from %s: %v", msg.Type, p.DID.Short(), err)
	}
}

// run queues ev on the scheduler. Events that only run once the scheduler
// shuts down see a cancelled context and are dropped.
func (d *Dispatcher) run(ev sched.Event) error {
	err := d.scheduler.Run(func(ctx context.Context) {
		if ctx.Err() != nil {
			d.metrics.Dropped.Inc()
			return
		}
		ev(ctx)
	}, sched.PriorityNormal)
	if err != nil {
		d.metrics.Dropped.Inc()
	}
	return err
}

func isRequest(t pb.Type) bool {
	switch t {
	case pb.Type_GET_COMPONENT_REQUEST, pb.Type_GET_VERSIONS_REQUEST, pb.Type_RESOLVE_USER_REQUEST:
		return true
	}
	return false
}
