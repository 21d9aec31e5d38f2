// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devices_test

import (
	"io"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

type transport struct {
	p2p.Transport
	name string
	pref int
}

func (t transport) Name() string    { return t.name }
func (t transport) Preference() int { return t.pref }

func newRegistry() *devices.Registry {
	return devices.New(logging.New(io.Discard, logrus.ErrorLevel),
		transport{name: "ws", pref: 10},
		transport{name: "relay", pref: 20},
	)
}

func TestOnlineOffline(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	a, b := ids.MustParseDID("00000000000000000000000000000001"), ids.MustParseDID("00000000000000000000000000000002")

	r.Online(a, "relay", []ids.SIndex{1, 2})
	r.Online(a, "ws", []ids.SIndex{1, 2})
	r.Online(b, "relay", []ids.SIndex{2})

	d, ok := r.Get(a)
	if !ok {
		t.Fatal("device not found")
	}
	if got := d.Transport.Name(); got != "ws" {
		t.Fatalf("got transport %q, want ws", got)
	}
	if got := d.Preference(); got != 10 {
		t.Fatalf("got preference %d, want 10", got)
	}
	if diff := cmp.Diff([]ids.DID{a, b}, r.OnlineMembers(2)); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ids.DID{a}, r.OnlineMembers(1)); diff != "" {
		t.Fatalf("members mismatch (-want +got):\n%s", diff)
	}

	r.Offline(a, "ws")
	d, _ = r.Get(a)
	if got := d.Transport.Name(); got != "relay" {
		t.Fatalf("got transport %q, want relay", got)
	}
	r.Offline(a, "relay")
	if _, ok := r.Get(a); ok {
		t.Fatal("device still online")
	}
	if got := r.OnlineMembers(1); len(got) != 0 {
		t.Fatalf("got members %v", got)
	}
}

func TestProbing(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	a := ids.NewDID()
	r.Online(a, "ws", []ids.SIndex{1})

	r.Probing(a)
	d, _ := r.Get(a)
	if got, want := d.Preference(), 10+devices.ProbingPenalty; got != want {
		t.Fatalf("got preference %d, want %d", got, want)
	}

	r.Reachable(a, true)
	d, _ = r.Get(a)
	if d.Probing || d.Preference() != 10 {
		t.Fatalf("probe not cleared: %+v", d)
	}

	r.Reachable(a, false)
	if _, ok := r.Get(a); ok {
		t.Fatal("unreachable device still online")
	}
}

func TestUnknownTransportIgnored(t *testing.T) {
	t.Parallel()

	r := newRegistry()
	r.Online(ids.NewDID(), "carrier-pigeon", []ids.SIndex{1})
	if got := r.All(); len(got) != 0 {
		t.Fatalf("got %d devices, want 0", len(got))
	}
}
