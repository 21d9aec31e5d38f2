// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/mock"
	"github.com/aer0ss/aerofs-sub003/pkg/spinlock"
)

type event struct {
	kind   string
	from   ids.DID
	seq    uint32
	reason p2p.InvalidationReason
	data   string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) get() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) ReceiveDatagram(p p2p.Peer, b []byte) {
	r.add(event{kind: "datagram", from: p.DID, data: string(b)})
}

func (r *recorder) ReceiveStreamBegun(p p2p.Peer, _ p2p.StreamID, b []byte) {
	r.add(event{kind: "begun", from: p.DID, data: string(b)})
}

func (r *recorder) ReceiveStreamChunk(p p2p.Peer, _ p2p.StreamID, seq uint32, b []byte) {
	r.add(event{kind: "chunk", from: p.DID, seq: seq, data: string(b)})
}

func (r *recorder) ReceiveStreamAborted(p p2p.Peer, _ p2p.StreamID, reason p2p.InvalidationReason) {
	r.add(event{kind: "aborted", from: p.DID, reason: reason})
}

func (r *recorder) ReceiveOutgoingAborted(p p2p.Peer, _ p2p.StreamID, reason p2p.InvalidationReason) {
	r.add(event{kind: "outgoing-aborted", from: p.DID, reason: reason})
}

func (r *recorder) DeviceOnline(p p2p.Peer, _ []ids.SIndex) { r.add(event{kind: "online", from: p.DID}) }
func (r *recorder) DeviceOffline(p p2p.Peer)                { r.add(event{kind: "offline", from: p.DID}) }

func TestNetworkDelivery(t *testing.T) {
	t.Parallel()

	net := mock.NewNetwork(mock.WithMaxUnicastSize(8))
	t.Cleanup(func() { _ = net.Close() })

	a, b := ids.NewDID(), ids.NewDID()
	ta := net.Join(a, 1)
	tb := net.Join(b, 1)
	rb := &recorder{}
	ta.SetReceiver(&recorder{})
	tb.SetReceiver(rb)

	ctx := context.Background()
	if err := ta.SendUnicast(ctx, b, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := ta.SendUnicast(ctx, b, []byte("too large!")); !errors.Is(err, p2p.ErrMessageTooLarge) {
		t.Fatalf("got %v, want %v", err, p2p.ErrMessageTooLarge)
	}
	if err := ta.BeginStream(ctx, b, 1, []byte("h")); err != nil {
		t.Fatal(err)
	}
	if err := ta.SendChunk(ctx, b, 1, 1, []byte("c")); err != nil {
		t.Fatal(err)
	}
	if err := ta.EndOutgoing(b, 1); err != nil {
		t.Fatal(err)
	}

	if err := spinlock.Wait(time.Second, func() bool { return len(rb.get()) == 4 }); err != nil {
		t.Fatalf("got %d events", len(rb.get()))
	}
	got := rb.get()
	want := []string{"datagram", "begun", "chunk", "aborted"}
	for i, k := range want {
		if got[i].kind != k {
			t.Fatalf("event %d: got %q, want %q", i, got[i].kind, k)
		}
	}
	if got[3].reason != p2p.ReasonEnded {
		t.Fatalf("got reason %v, want %v", got[3].reason, p2p.ReasonEnded)
	}
}

func TestPartitionAndBackPressure(t *testing.T) {
	t.Parallel()

	net := mock.NewNetwork()
	t.Cleanup(func() { _ = net.Close() })

	a, b := ids.NewDID(), ids.NewDID()
	ta := net.Join(a, 1)
	tb := net.Join(b, 1)
	tb.SetReceiver(&recorder{})

	ctx := context.Background()
	net.Partition(a, b)
	if err := ta.SendUnicast(ctx, b, []byte("x")); !errors.Is(err, p2p.ErrDeviceOffline) {
		t.Fatalf("got %v, want %v", err, p2p.ErrDeviceOffline)
	}
	if _, err := ta.Ping(ctx, b); !errors.Is(err, p2p.ErrDeviceOffline) {
		t.Fatalf("got %v, want %v", err, p2p.ErrDeviceOffline)
	}
	net.Heal(a, b)
	if _, err := ta.Ping(ctx, b); err != nil {
		t.Fatal(err)
	}

	ta.SetBackPressure(true)
	if err := ta.AbortIncoming(b, 3, p2p.ReasonOutOfOrder); !errors.Is(err, p2p.ErrBackPressure) {
		t.Fatalf("got %v, want %v", err, p2p.ErrBackPressure)
	}
	if n := ta.Count(mock.KindAbortIncoming); n != 0 {
		t.Fatalf("got %d aborts recorded, want 0", n)
	}
	ta.SetBackPressure(false)
	if err := ta.AbortIncoming(b, 3, p2p.ReasonOutOfOrder); err != nil {
		t.Fatal(err)
	}
	if n := ta.Count(mock.KindAbortIncoming); n != 1 {
		t.Fatalf("got %d aborts recorded, want 1", n)
	}
}

func TestMaxcastReachesStoreMembers(t *testing.T) {
	t.Parallel()

	net := mock.NewNetwork()
	t.Cleanup(func() { _ = net.Close() })

	a, b, c := ids.NewDID(), ids.NewDID(), ids.NewDID()
	ta := net.Join(a, 1)
	rb, rc := &recorder{}, &recorder{}
	net.Join(b, 1).SetReceiver(rb)
	net.Join(c, 2).SetReceiver(rc)

	if err := ta.SendMaxcast(context.Background(), 1, []byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := spinlock.Wait(time.Second, func() bool { return len(rb.get()) == 1 }); err != nil {
		t.Fatal("member did not receive maxcast")
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(rc.get()); n != 0 {
		t.Fatalf("non member received %d events", n)
	}
}
