// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package p2p defines the contract between the replication core and the
// physical carriers. Carriers deliver unreliable unicast datagrams, store
// scoped multicast and sequenced chunk streams. The core never depends on a
// concrete carrier.
package p2p

import (
	"context"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
)

// StreamID identifies a stream among the streams exchanged with one peer.
type StreamID uint32

// Peer is the remote end of an inbound event.
type Peer struct {
	DID       ids.DID
	Transport string
}

// Transport is a carrier able to reach devices.
type Transport interface {
	// Name is a stable identifier of the carrier, e.g. "ws" or "mock".
	Name() string
	// Preference orders carriers; lower is preferred.
	Preference() int
	// MaxUnicastSize is the largest datagram payload accepted by SendUnicast.
	MaxUnicastSize() int

	SendUnicast(ctx context.Context, did ids.DID, payload []byte) error
	SendMaxcast(ctx context.Context, sidx ids.SIndex, payload []byte) error

	// BeginStream opens an outgoing stream with the first chunk (sequence 0).
	BeginStream(ctx context.Context, did ids.DID, id StreamID, payload []byte) error
	SendChunk(ctx context.Context, did ids.DID, id StreamID, seq uint32, payload []byte) error
	EndOutgoing(did ids.DID, id StreamID) error
	AbortOutgoing(did ids.DID, id StreamID, reason InvalidationReason) error

	// EndIncoming tells the sender of an incoming stream that the receiver
	// is done with it.
	EndIncoming(did ids.DID, id StreamID) error
	AbortIncoming(did ids.DID, id StreamID, reason InvalidationReason) error

	Pinger

	SetReceiver(Receiver)
}

// Pinger measures round trip time to a device.
type Pinger interface {
	Ping(ctx context.Context, did ids.DID) (rtt time.Duration, err error)
}

// Receiver consumes the events delivered by carriers.
type Receiver interface {
	ReceiveDatagram(p Peer, payload []byte)
	ReceiveStreamBegun(p Peer, id StreamID, payload []byte)
	ReceiveStreamChunk(p Peer, id StreamID, seq uint32, payload []byte)
	// ReceiveStreamAborted reports that the sender ended (ReasonEnded) or
	// invalidated an incoming stream.
	ReceiveStreamAborted(p Peer, id StreamID, reason InvalidationReason)
	// ReceiveOutgoingAborted reports that the receiver invalidated or ended an
	// outgoing stream.
	ReceiveOutgoingAborted(p Peer, id StreamID, reason InvalidationReason)
	DeviceOnline(p Peer, stores []ids.SIndex)
	DeviceOffline(p Peer)
}

// InvalidationReason explains why a stream ended early.
type InvalidationReason int32

const (
	ReasonEnded InvalidationReason = iota
	ReasonOutOfOrder
	ReasonUpdateInProgress
	ReasonStreamTimeout
	ReasonInternalError
	ReasonAbortedByReceiver
	ReasonAbortedBySender
)

func (r InvalidationReason) String() string {
	switch r {
	case ReasonEnded:
		return "ended"
	case ReasonOutOfOrder:
		return "out of order"
	case ReasonUpdateInProgress:
		return "update in progress"
	case ReasonStreamTimeout:
		return "stream timeout"
	case ReasonInternalError:
		return "internal error"
	case ReasonAbortedByReceiver:
		return "aborted by receiver"
	case ReasonAbortedBySender:
		return "aborted by sender"
	}
	return "unknown"
}
