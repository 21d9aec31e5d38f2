// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mock provides an in-memory network of carriers. Events addressed to
// a node are delivered in order by a single goroutine per node.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
)

const (
	transportName         = "mock"
	defaultMaxUnicastSize = 16 * 1024
	inboxSize             = 4096
)

var ErrClosed = errors.New("mock transport closed")

// Event kinds recorded by Transport.Records.
const (
	KindUnicast = iota
	KindMaxcast
	KindBegin
	KindChunk
	KindEndOutgoing
	KindAbortOutgoing
	KindEndIncoming
	KindAbortIncoming
)

type Record struct {
	Kind    int
	To      ids.DID
	Store   ids.SIndex
	Stream  p2p.StreamID
	Seq     uint32
	Reason  p2p.InvalidationReason
	Payload []byte
}

type Network struct {
	mu             sync.Mutex
	nodes          map[ids.DID]*Transport
	partitions     map[[2]ids.DID]struct{}
	maxUnicastSize int
	pingRTT        time.Duration
}

type Option func(*Network)

// WithMaxUnicastSize sets the datagram limit of every carrier of the network.
func WithMaxUnicastSize(size int) Option {
	return func(n *Network) { n.maxUnicastSize = size }
}

func WithPingRTT(rtt time.Duration) Option {
	return func(n *Network) { n.pingRTT = rtt }
}

func NewNetwork(opts ...Option) *Network {
	n := &Network{
		nodes:          make(map[ids.DID]*Transport),
		partitions:     make(map[[2]ids.DID]struct{}),
		maxUnicastSize: defaultMaxUnicastSize,
		pingRTT:        time.Millisecond,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Join adds a node that is a member of the given stores.
func (n *Network) Join(did ids.DID, stores ...ids.SIndex) *Transport {
	t := &Transport{
		net:    n,
		did:    did,
		stores: stores,
		inbox:  make(chan func(p2p.Receiver), inboxSize),
		quit:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.deliver()

	n.mu.Lock()
	n.nodes[did] = t
	n.mu.Unlock()
	return t
}

// Connect announces every node to every other node it is not partitioned
// from, as a presence service would.
func (n *Network) Connect() {
	n.mu.Lock()
	nodes := make([]*Transport, 0, len(n.nodes))
	for _, t := range n.nodes {
		nodes = append(nodes, t)
	}
	n.mu.Unlock()

	for _, a := range nodes {
		for _, b := range nodes {
			if a == b || n.partitioned(a.did, b.did) {
				continue
			}
			b := b
			a.enqueue(func(r p2p.Receiver) {
				r.DeviceOnline(p2p.Peer{DID: b.did, Transport: transportName}, b.stores)
			})
		}
	}
}

// Partition makes a and b unreachable from each other and reports each one
// offline to the other.
func (n *Network) Partition(a, b ids.DID) {
	n.mu.Lock()
	n.partitions[pairKey(a, b)] = struct{}{}
	ta, tb := n.nodes[a], n.nodes[b]
	n.mu.Unlock()

	if ta != nil {
		ta.enqueue(func(r p2p.Receiver) { r.DeviceOffline(p2p.Peer{DID: b, Transport: transportName}) })
	}
	if tb != nil {
		tb.enqueue(func(r p2p.Receiver) { r.DeviceOffline(p2p.Peer{DID: a, Transport: transportName}) })
	}
}

// Heal removes a partition created with Partition.
func (n *Network) Heal(a, b ids.DID) {
	n.mu.Lock()
	delete(n.partitions, pairKey(a, b))
	n.mu.Unlock()
}

// Close stops all delivery goroutines.
func (n *Network) Close() error {
	n.mu.Lock()
	nodes := n.nodes
	n.nodes = make(map[ids.DID]*Transport)
	n.mu.Unlock()
	for _, t := range nodes {
		t.close()
	}
	return nil
}

func (n *Network) partitioned(a, b ids.DID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.partitions[pairKey(a, b)]
	return ok
}

func (n *Network) node(from, to ids.DID) (*Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.partitions[pairKey(from, to)]; ok {
		return nil, p2p.ErrDeviceOffline
	}
	t, ok := n.nodes[to]
	if !ok {
		return nil, p2p.ErrDeviceOffline
	}
	return t, nil
}

func pairKey(a, b ids.DID) [2]ids.DID {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return [2]ids.DID{a, b}
}

// Transport is the carrier of one node of the Network.
type Transport struct {
	net    *Network
	did    ids.DID
	stores []ids.SIndex

	mu           sync.Mutex
	receiver     p2p.Receiver
	records      []Record
	backPressure bool
	dropUnicast  func(to ids.DID, payload []byte) bool

	inbox chan func(p2p.Receiver)
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

var _ p2p.Transport = (*Transport)(nil)

func (t *Transport) Name() string        { return transportName }
func (t *Transport) Preference() int     { return 0 }
func (t *Transport) MaxUnicastSize() int { return t.net.maxUnicastSize }

func (t *Transport) SetReceiver(r p2p.Receiver) {
	t.mu.Lock()
	t.receiver = r
	t.mu.Unlock()
}

// SetBackPressure makes every end and abort operation fail with
// p2p.ErrBackPressure while on.
func (t *Transport) SetBackPressure(on bool) {
	t.mu.Lock()
	t.backPressure = on
	t.mu.Unlock()
}

// SetDropUnicast installs a filter; datagrams for which it returns true are
// silently lost.
func (t *Transport) SetDropUnicast(f func(to ids.DID, payload []byte) bool) {
	t.mu.Lock()
	t.dropUnicast = f
	t.mu.Unlock()
}

// Records returns a copy of the operations issued by this carrier.
func (t *Transport) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.records...)
}

// Count returns the number of recorded operations of the given kind.
func (t *Transport) Count(kind int) int {
	n := 0
	for _, r := range t.Records() {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func (t *Transport) SendUnicast(ctx context.Context, did ids.DID, payload []byte) error {
	if len(payload) > t.net.maxUnicastSize {
		return p2p.ErrMessageTooLarge
	}
	t.record(Record{Kind: KindUnicast, To: did, Payload: payload})
	dst, err := t.net.node(t.did, did)
	if err != nil {
		return err
	}
	t.mu.Lock()
	drop := t.dropUnicast
	t.mu.Unlock()
	if drop != nil && drop(did, payload) {
		return nil
	}
	from := t.peer()
	return dst.enqueue(func(r p2p.Receiver) { r.ReceiveDatagram(from, payload) })
}

func (t *Transport) SendMaxcast(ctx context.Context, sidx ids.SIndex, payload []byte) error {
	if len(payload) > t.net.maxUnicastSize {
		return p2p.ErrMessageTooLarge
	}
	t.record(Record{Kind: KindMaxcast, Store: sidx, Payload: payload})

	t.net.mu.Lock()
	var targets []*Transport
	for did, n := range t.net.nodes {
		if did == t.did {
			continue
		}
		if _, ok := t.net.partitions[pairKey(t.did, did)]; ok {
			continue
		}
		for _, s := range n.stores {
			if s == sidx {
				targets = append(targets, n)
				break
			}
		}
	}
	t.net.mu.Unlock()

	from := t.peer()
	for _, dst := range targets {
		_ = dst.enqueue(func(r p2p.Receiver) { r.ReceiveDatagram(from, payload) })
	}
	return nil
}

func (t *Transport) BeginStream(ctx context.Context, did ids.DID, id p2p.StreamID, payload []byte) error {
	t.record(Record{Kind: KindBegin, To: did, Stream: id, Payload: payload})
	dst, err := t.net.node(t.did, did)
	if err != nil {
		return err
	}
	from := t.peer()
	return dst.enqueue(func(r p2p.Receiver) { r.ReceiveStreamBegun(from, id, payload) })
}

func (t *Transport) SendChunk(ctx context.Context, did ids.DID, id p2p.StreamID, seq uint32, payload []byte) error {
	t.record(Record{Kind: KindChunk, To: did, Stream: id, Seq: seq, Payload: payload})
	dst, err := t.net.node(t.did, did)
	if err != nil {
		return err
	}
	from := t.peer()
	return dst.enqueue(func(r p2p.Receiver) { r.ReceiveStreamChunk(from, id, seq, payload) })
}

func (t *Transport) EndOutgoing(did ids.DID, id p2p.StreamID) error {
	return t.control(Record{Kind: KindEndOutgoing, To: did, Stream: id, Reason: p2p.ReasonEnded}, func(from p2p.Peer) func(p2p.Receiver) {
		return func(r p2p.Receiver) { r.ReceiveStreamAborted(from, id, p2p.ReasonEnded) }
	})
}

func (t *Transport) AbortOutgoing(did ids.DID, id p2p.StreamID, reason p2p.InvalidationReason) error {
	return t.control(Record{Kind: KindAbortOutgoing, To: did, Stream: id, Reason: reason}, func(from p2p.Peer) func(p2p.Receiver) {
		return func(r p2p.Receiver) { r.ReceiveStreamAborted(from, id, reason) }
	})
}

func (t *Transport) EndIncoming(did ids.DID, id p2p.StreamID) error {
	return t.control(Record{Kind: KindEndIncoming, To: did, Stream: id, Reason: p2p.ReasonEnded}, func(from p2p.Peer) func(p2p.Receiver) {
		return func(r p2p.Receiver) { r.ReceiveOutgoingAborted(from, id, p2p.ReasonEnded) }
	})
}

func (t *Transport) AbortIncoming(did ids.DID, id p2p.StreamID, reason p2p.InvalidationReason) error {
	return t.control(Record{Kind: KindAbortIncoming, To: did, Stream: id, Reason: reason}, func(from p2p.Peer) func(p2p.Receiver) {
		return func(r p2p.Receiver) { r.ReceiveOutgoingAborted(from, id, reason) }
	})
}

func (t *Transport) Ping(ctx context.Context, did ids.DID) (time.Duration, error) {
	if _, err := t.net.node(t.did, did); err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(t.net.pingRTT):
	}
	return t.net.pingRTT, nil
}

func (t *Transport) control(rec Record, event func(p2p.Peer) func(p2p.Receiver)) error {
	t.mu.Lock()
	bp := t.backPressure
	t.mu.Unlock()
	if bp {
		return p2p.ErrBackPressure
	}
	t.record(rec)
	dst, err := t.net.node(t.did, rec.To)
	if err != nil {
		return err
	}
	return dst.enqueue(event(t.peer()))
}

func (t *Transport) peer() p2p.Peer {
	return p2p.Peer{DID: t.did, Transport: transportName}
}

func (t *Transport) record(r Record) {
	t.mu.Lock()
	t.records = append(t.records, r)
	t.mu.Unlock()
}

func (t *Transport) enqueue(ev func(p2p.Receiver)) error {
	select {
	case <-t.quit:
		return ErrClosed
	default:
	}
	select {
	case t.inbox <- ev:
		return nil
	case <-t.quit:
		return ErrClosed
	}
}

func (t *Transport) deliver() {
	defer t.wg.Done()
	for {
		select {
		case <-t.quit:
			return
		case ev := <-t.inbox:
			t.mu.Lock()
			r := t.receiver
			t.mu.Unlock()
			if r != nil {
				ev(r)
			}
		}
	}
}

func (t *Transport) close() {
	t.once.Do(func() { close(t.quit) })
	t.wg.Wait()
}
