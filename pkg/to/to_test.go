// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package to_test

import (
	"errors"
	"io"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
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

var (
	devA = ids.MustParseDID("0000000000000000000000000000000a")
	devB = ids.MustParseDID("0000000000000000000000000000000b")
	devC = ids.MustParseDID("0000000000000000000000000000000c")
)

func newDevices() *devices.Registry {
	return devices.New(logging.New(io.Discard, logrus.ErrorLevel),
		transport{name: "fast", pref: 1},
		transport{name: "slow", pref: 5},
	)
}

func TestAnycastRanksByPreference(t *testing.T) {
	t.Parallel()

	d := newDevices()
	d.Online(devA, "slow", []ids.SIndex{1})
	d.Online(devB, "fast", []ids.SIndex{1})
	d.Online(devC, "slow", []ids.SIndex{2})

	f := to.NewFactory(d, to.Options{Seed: 1})
	tt := f.Create(1)

	got, err := tt.Pick()
	if err != nil {
		t.Fatal(err)
	}
	if got.DID != devB {
		t.Fatalf("got %s, want %s", got.DID, devB)
	}

	tt.Avoid(devB)
	got, err = tt.Pick()
	if err != nil {
		t.Fatal(err)
	}
	if got.DID != devA {
		t.Fatalf("got %s, want %s", got.DID, devA)
	}

	tt.Avoid(devA)
	if _, err := tt.Pick(); !errors.Is(err, to.ErrNoAvailDevice) {
		t.Fatalf("got %v, want %v", err, to.ErrNoAvailDevice)
	}

	// explicit add lifts the avoidance
	tt.Add(devA)
	got, err = tt.Pick()
	if err != nil {
		t.Fatal(err)
	}
	if got.DID != devA {
		t.Fatalf("got %s, want %s", got.DID, devA)
	}
}

func TestTiebreakIsStable(t *testing.T) {
	t.Parallel()

	d := newDevices()
	for _, did := range []ids.DID{devA, devB, devC} {
		d.Online(did, "fast", []ids.SIndex{1})
	}

	f := to.NewFactory(d, to.Options{Seed: 42})
	first := f.Create(1).Candidates()
	for i := 0; i < 10; i++ {
		if diff := cmp.Diff(first, f.Create(1).Candidates()); diff != "" {
			t.Fatalf("order changed (-want +got):\n%s", diff)
		}
	}
	if len(first) != 3 {
		t.Fatalf("got %d candidates, want 3", len(first))
	}
}

func TestMaxcastFallbackOnce(t *testing.T) {
	t.Parallel()

	d := newDevices()
	f := to.NewFactory(d, to.Options{MaxcastEnabled: true})
	tt := f.Create(7)

	got, err := tt.Pick()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(to.Target{Maxcast: true, SIdx: 7}, got); diff != "" {
		t.Fatalf("target mismatch (-want +got):\n%s", diff)
	}
	if _, err := tt.Pick(); !errors.Is(err, to.ErrNoAvailDevice) {
		t.Fatalf("got %v, want %v", err, to.ErrNoAvailDevice)
	}

	disabled := to.NewFactory(d, to.Options{}).Create(7)
	if _, err := disabled.Pick(); !errors.Is(err, to.ErrNoAvailDevice) {
		t.Fatalf("got %v, want %v", err, to.ErrNoAvailDevice)
	}
}

func TestPinnedIgnoresStoreMembers(t *testing.T) {
	t.Parallel()

	d := newDevices()
	d.Online(devA, "fast", []ids.SIndex{1})
	d.Online(devB, "slow", []ids.SIndex{1})

	f := to.NewFactory(d, to.Options{MaxcastEnabled: true})
	tt := f.CreateFor(devB, devC)

	if diff := cmp.Diff([]ids.DID{devB}, tt.Candidates()); diff != "" {
		t.Fatalf("candidates mismatch (-want +got):\n%s", diff)
	}
	tt.Avoid(devB)
	if _, err := tt.Pick(); !errors.Is(err, to.ErrNoAvailDevice) {
		t.Fatalf("got %v, want %v", err, to.ErrNoAvailDevice)
	}
}

func TestRandcastPicksCandidate(t *testing.T) {
	t.Parallel()

	d := newDevices()
	d.Online(devA, "fast", []ids.SIndex{1})
	d.Online(devB, "slow", []ids.SIndex{1})

	tt := to.NewFactory(d, to.Options{Seed: 3}).CreateRandcast(1)
	seen := make(map[ids.DID]bool)
	for i := 0; i < 64; i++ {
		got, err := tt.Pick()
		if err != nil {
			t.Fatal(err)
		}
		seen[got.DID] = true
	}
	if !seen[devA] || !seen[devB] {
		t.Fatalf("randcast did not spread picks: %v", seen)
	}
}
