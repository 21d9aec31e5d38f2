// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package version_test

import (
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
	"github.com/google/go-cmp/cmp"
)

var (
	didA = ids.MustParseDID("0a000000000000000000000000000000")
	didB = ids.MustParseDID("0b000000000000000000000000000000")
	didC = ids.MustParseDID("0c000000000000000000000000000000")
)

func TestAddSub(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name    string
		l, r    version.Vector
		wantAdd version.Vector
		wantRL  version.Vector
		wantLR  version.Vector
	}{
		{
			name:    "remote dominates",
			l:       version.Of(didA, 1),
			r:       version.Of(didA, 1, didB, 1),
			wantAdd: version.Of(didA, 1, didB, 1),
			wantRL:  version.Of(didB, 1),
			wantLR:  version.New(),
		},
		{
			name:    "equal",
			l:       version.Of(didA, 3),
			r:       version.Of(didA, 3),
			wantAdd: version.Of(didA, 3),
			wantRL:  version.New(),
			wantLR:  version.New(),
		},
		{
			name:    "conflict",
			l:       version.Of(didA, 2, didC, 1),
			r:       version.Of(didA, 1, didB, 4),
			wantAdd: version.Of(didA, 2, didB, 4, didC, 1),
			wantRL:  version.Of(didB, 4),
			wantLR:  version.Of(didA, 2, didC, 1),
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(tc.wantAdd, tc.l.Add(tc.r)); diff != "" {
				t.Errorf("add mismatch (-want +have):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantRL, tc.r.Sub(tc.l)); diff != "" {
				t.Errorf("r-l mismatch (-want +have):\n%s", diff)
			}
			if diff := cmp.Diff(tc.wantLR, tc.l.Sub(tc.r)); diff != "" {
				t.Errorf("l-r mismatch (-want +have):\n%s", diff)
			}
		})
	}
}

func TestMaxDID(t *testing.T) {
	t.Parallel()

	if _, ok := version.New().MaxDID(); ok {
		t.Fatal("empty vector has no max did")
	}
	got, ok := version.Of(didB, 1, didC, 2, didA, 9).MaxDID()
	if !ok || got != didC {
		t.Fatalf("got %s, want %s", got, didC)
	}
}

func TestSetNeverDecreases(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on decreasing tick")
		}
	}()
	v := version.Of(didA, 5)
	v.Set(didA, 4)
}

func TestPBRoundtrip(t *testing.T) {
	t.Parallel()

	v := version.Of(didA, 1, didB, 7)
	got, err := version.FromPB(v.ToPB())
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(v) {
		t.Fatalf("got %s, want %s", got, v)
	}
}
