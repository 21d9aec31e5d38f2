// Copyright 2022 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spinlock_test

import (
	"errors"
	"testing"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/spinlock"
	"go.uber.org/atomic"
)

func TestWait(t *testing.T) {
	t.Parallel()

	t.Run("timed out", func(t *testing.T) {
		t.Parallel()

		start := time.Now()
		err := spinlock.Wait(20*time.Millisecond, func() bool { return false })
		if !errors.Is(err, spinlock.ErrTimedOut) {
			t.Fatalf("got error %v, want %v", err, spinlock.ErrTimedOut)
		}
		if d := time.Since(start); d < 20*time.Millisecond {
			t.Errorf("returned after %s", d)
		}
	})

	t.Run("already satisfied", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := spinlock.Wait(time.Second, func() bool {
			calls++
			return true
		})
		if err != nil {
			t.Fatal(err)
		}
		if calls != 1 {
			t.Errorf("condition called %d times, want 1", calls)
		}
	})

	t.Run("eventually satisfied", func(t *testing.T) {
		t.Parallel()

		var ready atomic.Bool
		time.AfterFunc(30*time.Millisecond, func() { ready.Store(true) })

		if err := spinlock.Wait(time.Second, ready.Load); err != nil {
			t.Fatal(err)
		}
	})
}
