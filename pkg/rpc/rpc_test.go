// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/protobuf"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/rpc"
	"github.com/aer0ss/aerofs-sub003/pkg/streams"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
	"github.com/sirupsen/logrus"
)

var logger = logging.New(io.Discard, logrus.ErrorLevel)

type transport struct {
	p2p.Transport
}

func (transport) Name() string    { return "fake" }
func (transport) Preference() int { return 0 }

// peer answers requests addressed to the devices in answer.
type peer struct {
	mu      sync.Mutex
	r       *rpc.RPC
	answer  map[ids.DID]func(req *pb.Core) *pb.Core
	sent    []ids.DID
	maxcast int
	// now replies before the request is even sent back to the caller
	now func(did ids.DID, req *pb.Core) *rpc.Reply
}

func (p *peer) SendUnicast(_ context.Context, did ids.DID, payload []byte) error {
	req := new(pb.Core)
	if _, err := protobuf.Decode(payload, req); err != nil {
		return err
	}
	p.mu.Lock()
	p.sent = append(p.sent, did)
	f := p.answer[did]
	now := p.now
	p.mu.Unlock()
	if now != nil {
		p.r.Deliver(now(did, req))
		return nil
	}
	if f != nil {
		go p.r.Deliver(&rpc.Reply{From: did, Msg: f(req)})
	}
	return nil
}

func (p *peer) SendMaxcast(context.Context, ids.SIndex, []byte) error {
	p.mu.Lock()
	p.maxcast++
	p.mu.Unlock()
	return nil
}

type prober struct {
	mu     sync.Mutex
	probed []ids.DID
}

func (p *prober) Probe(did ids.DID) {
	p.mu.Lock()
	p.probed = append(p.probed, did)
	p.mu.Unlock()
}

func reply(req *pb.Core) *pb.Core {
	return &pb.Core{
		Type:                pb.Type_REPLY,
		RpcId:               req.RpcId,
		ReplyType:           pb.Type_RESOLVE_USER_RESPONSE,
		ResolveUserResponse: &pb.ResolveUserResponse{User: "alice"},
	}
}

var (
	devA = ids.MustParseDID("0000000000000000000000000000000a")
	devB = ids.MustParseDID("0000000000000000000000000000000b")
)

func setup(t *testing.T, maxcast bool) (*rpc.RPC, *peer, *prober, *to.Factory) {
	t.Helper()

	d := devices.New(logger, transport{})
	d.Online(devA, "fake", []ids.SIndex{1})
	d.Online(devB, "fake", []ids.SIndex{1})

	p := &peer{answer: make(map[ids.DID]func(*pb.Core) *pb.Core)}
	pr := &prober{}
	r := rpc.New(p, pr, logger, rpc.Options{Timeout: 50 * time.Millisecond})
	p.r = r
	return r, p, pr, to.NewFactory(d, to.Options{MaxcastEnabled: maxcast, Seed: 1})
}

func request() *pb.Core {
	return &pb.Core{Type: pb.Type_RESOLVE_USER_REQUEST, ResolveUserRequest: &pb.ResolveUserRequest{}}
}

func TestDo(t *testing.T) {
	t.Parallel()

	r, p, _, f := setup(t, false)
	p.answer[devA] = reply
	p.answer[devB] = reply

	got, err := r.Do(context.Background(), request(), f.Create(1), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer got.Close()
	if u := got.Msg.GetResolveUserResponse().User; u != "alice" {
		t.Fatalf("got user %q, want alice", u)
	}
	if r.Pending() != 0 {
		t.Fatalf("got %d pending, want 0", r.Pending())
	}
}

func TestTimeoutRetargets(t *testing.T) {
	t.Parallel()

	r, p, pr, f := setup(t, false)
	tt := f.Create(1)
	first, err := tt.Pick()
	if err != nil {
		t.Fatal(err)
	}
	second := devA
	if first.DID == devA {
		second = devB
	}
	p.answer[second] = reply

	got, err := r.Do(context.Background(), request(), tt, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.From != second {
		t.Fatalf("reply from %s, want %s", got.From, second)
	}
	if len(pr.probed) != 1 || pr.probed[0] != first.DID {
		t.Fatalf("got probes %v, want [%s]", pr.probed, first.DID)
	}
	if !tt.Avoided(first.DID) {
		t.Fatal("timed out device not avoided")
	}
}

func TestTimeoutExhaustsDestinations(t *testing.T) {
	t.Parallel()

	r, p, pr, f := setup(t, true)

	_, err := r.Do(context.Background(), request(), f.Create(1), 0)
	if !errors.Is(err, rpc.ErrTimeout) {
		t.Fatalf("got %v, want %v", err, rpc.ErrTimeout)
	}
	if len(pr.probed) != 2 {
		t.Fatalf("got %d probes, want 2", len(pr.probed))
	}
	if p.maxcast != 1 {
		t.Fatalf("got %d maxcasts, want 1", p.maxcast)
	}
}

func TestException(t *testing.T) {
	t.Parallel()

	r, p, _, f := setup(t, false)
	p.answer[devA] = func(req *pb.Core) *pb.Core {
		return &pb.Core{
			Type:      pb.Type_REPLY,
			RpcId:     req.RpcId,
			Exception: &pb.Exception{Type: pb.Exception_NO_PERM, Message: "denied"},
		}
	}

	_, err := r.DoTo(context.Background(), request(), devA, 0)
	if !rpc.IsException(err, pb.Exception_NO_PERM) {
		t.Fatalf("got %v, want NO_PERM exception", err)
	}
	var ex *rpc.ExceptionError
	if !errors.As(err, &ex) || ex.From != devA {
		t.Fatalf("exception does not name the sender: %v", err)
	}

	// exceptions are not retried on other destinations
	_, err = r.Do(context.Background(), request(), f.CreateFor(devA, devB), 0)
	if !rpc.IsException(err, pb.Exception_NO_PERM) {
		t.Fatalf("got %v, want NO_PERM exception", err)
	}
}

func TestSpuriousReplyDropped(t *testing.T) {
	t.Parallel()

	r, _, _, _ := setup(t, false)
	r.Deliver(&rpc.Reply{From: devA, Msg: &pb.Core{Type: pb.Type_REPLY, RpcId: 12345}})
	if r.Pending() != 0 {
		t.Fatalf("got %d pending, want 0", r.Pending())
	}
}

func TestContextCancel(t *testing.T) {
	t.Parallel()

	r, _, _, _ := setup(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.DoTo(ctx, request(), devA, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want %v", err, context.Canceled)
	}
	if r.Pending() != 0 {
		t.Fatalf("got %d pending, want 0", r.Pending())
	}
}

// endTransport counts the streams the receiver ended.
type endTransport struct {
	transport

	mu    sync.Mutex
	ended int
}

func (tp *endTransport) EndIncoming(ids.DID, p2p.StreamID) error {
	tp.mu.Lock()
	tp.ended++
	tp.mu.Unlock()
	return nil
}

func TestUnreadStreamedReplyEnded(t *testing.T) {
	t.Parallel()

	const rounds = 32

	r, p, _, _ := setup(t, false)
	tp := &endTransport{}
	in := streams.NewIncoming(logger, streams.IncomingOptions{})
	var next p2p.StreamID
	p.now = func(did ids.DID, req *pb.Core) *rpc.Reply {
		next++
		s, err := in.Begun(tp, streams.StreamKey{DID: did, ID: next})
		if err != nil {
			t.Error(err)
			return &rpc.Reply{From: did, Msg: reply(req)}
		}
		return &rpc.Reply{From: did, Msg: reply(req), Stream: s}
	}

	for i := 0; i < rounds; i++ {
		// the reply and the cancellation are both ready when the wait starts
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		got, err := r.DoTo(ctx, request(), devA, time.Minute)
		switch {
		case err == nil:
			got.Close()
		case !errors.Is(err, context.Canceled):
			t.Fatalf("got %v, want %v", err, context.Canceled)
		}
		if n := in.Len(); n != 0 {
			t.Fatalf("round %d: %d streams left open", i, n)
		}
	}

	tp.mu.Lock()
	defer tp.mu.Unlock()
	if tp.ended != rounds {
		t.Fatalf("got %d ended streams, want %d", tp.ended, rounds)
	}
	if r.Pending() != 0 {
		t.Fatalf("got %d pending, want 0", r.Pending())
	}
}
