// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldb_test

import (
	"io"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/statestore"
	"github.com/aer0ss/aerofs-sub003/pkg/statestore/leveldb"
	"github.com/aer0ss/aerofs-sub003/pkg/statestore/test"
	"github.com/sirupsen/logrus"
)

func TestPersistentStateStore(t *testing.T) {
	t.Parallel()

	logger := logging.New(io.Discard, logrus.ErrorLevel)

	test.Run(t, func(t *testing.T) statestore.StateStorer {
		t.Helper()

		store, err := leveldb.NewStateStore(t.TempDir(), logger)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})

	test.RunPersist(t, func(t *testing.T, dir string) statestore.StateStorer {
		t.Helper()

		store, err := leveldb.NewStateStore(dir, logger)
		if err != nil {
			t.Fatal(err)
		}
		return store
	})
}

func TestInMemoryStateStore(t *testing.T) {
	t.Parallel()

	test.Run(t, func(t *testing.T) statestore.StateStorer {
		t.Helper()

		store, err := leveldb.NewInMemoryStateStore(logging.New(io.Discard, logrus.ErrorLevel))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
