// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aer0ss/aerofs-sub003/cmd/replicad/cmd"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/google/go-cmp/cmp"
)

func TestStartMissingUserID(t *testing.T) {
	err := newCommand(t,
		cmd.WithArgs("start", "--data-dir", "", "--verbosity", "silent"),
		cmd.WithOutput(io.Discard),
	).Execute()
	if !errors.Is(err, cmd.ErrMissingUserID) {
		t.Fatalf("got error %v, want %v", err, cmd.ErrMissingUserID)
	}
}

func TestStartInvalidVerbosity(t *testing.T) {
	err := newCommand(t,
		cmd.WithArgs("start", "--verbosity", "loud"),
		cmd.WithOutput(io.Discard),
	).Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown verbosity level") {
		t.Fatalf("got error %v, want unknown verbosity level", err)
	}
}

func TestDeviceID(t *testing.T) {
	t.Parallel()

	t.Run("explicit", func(t *testing.T) {
		t.Parallel()

		want := ids.MustParseDID("0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a")
		got, err := cmd.DeviceID(want.String(), t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		if _, err := cmd.DeviceID("not hex", ""); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("in memory", func(t *testing.T) {
		t.Parallel()

		a, err := cmd.DeviceID("", "")
		if err != nil {
			t.Fatal(err)
		}
		b, err := cmd.DeviceID("", "")
		if err != nil {
			t.Fatal(err)
		}
		if a == b {
			t.Errorf("got the same device id twice: %s", a)
		}
	})

	t.Run("persisted", func(t *testing.T) {
		t.Parallel()

		dir := filepath.Join(t.TempDir(), "data")
		first, err := cmd.DeviceID("", dir)
		if err != nil {
			t.Fatal(err)
		}
		if first.IsZero() {
			t.Fatal("zero device id")
		}
		if _, err := os.Stat(filepath.Join(dir, "device-id")); err != nil {
			t.Fatal(err)
		}

		second, err := cmd.DeviceID("", dir)
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Errorf("got %s after restart, want %s", second, first)
		}
	})
}

func TestParseStores(t *testing.T) {
	t.Parallel()

	got, err := cmd.ParseStores([]string{"1", " 7", "42"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]ids.SIndex{1, 7, 42}, got); diff != "" {
		t.Errorf("stores mismatch (-want +got):\n%s", diff)
	}

	if _, err := cmd.ParseStores([]string{"one"}); err == nil {
		t.Fatal("expected error")
	}
}
