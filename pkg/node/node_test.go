// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp"
	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp/jsonhttptest"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/node"
	"github.com/aer0ss/aerofs-sub003/pkg/spinlock"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/sirupsen/logrus"
)

const sidx ids.SIndex = 1

var (
	didA = ids.MustParseDID("0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a")
	didB = ids.MustParseDID("0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
)

func newReplicad(t *testing.T, did ids.DID, user ids.UserID, peers ...string) *node.Replicad {
	t.Helper()

	b, err := node.NewReplicad(node.Options{
		DeviceID:     did,
		UserID:       user,
		Stores:       []ids.SIndex{sidx},
		ListenAddr:   "127.0.0.1:0",
		Peers:        peers,
		DialInterval: 50 * time.Millisecond,
		DebugAPIAddr: "127.0.0.1:0",
		Logger:       logging.New(io.Discard, logrus.ErrorLevel),
		RPCTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := b.Shutdown(); err != nil && !errors.Is(err, node.ErrShutdownInProgress) {
			t.Errorf("shutdown: %v", err)
		}
	})
	return b
}

func newConnectedPair(t *testing.T) (a, b *node.Replicad) {
	t.Helper()

	a = newReplicad(t, didA, "alice@example.com")
	b = newReplicad(t, didB, "bob@example.com", "ws://"+a.CarrierAddr().String()+node.CarrierPath)

	err := spinlock.Wait(5*time.Second, func() bool {
		_, okA := a.Devices().Get(didB)
		_, okB := b.Devices().Get(didA)
		return okA && okB
	})
	if err != nil {
		t.Fatal("devices not connected")
	}
	return a, b
}

func TestReplicate(t *testing.T) {
	t.Parallel()

	a, b := newConnectedPair(t)

	data := bytes.Repeat([]byte("replicated content "), 8192)
	soid := ids.NewSOID(sidx, ids.NewOID())
	if err := a.Store().CreateLocal(soid, storage.TypeFile, ids.RootOID, "report.txt"); err != nil {
		t.Fatal(err)
	}
	if err := a.Store().WriteLocal(soid, data, 1700000000); err != nil {
		t.Fatal(err)
	}

	client := new(http.Client)
	meta := ids.NewSOCID(soid, ids.CIDMeta)
	jsonhttptest.Request(t, client, http.MethodPost, "http://"+b.DebugAPIAddr().String()+"/downloads/"+meta.Key(), http.StatusAccepted,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: http.StatusText(http.StatusAccepted),
			Code:    http.StatusAccepted,
		}),
	)
	err := spinlock.Wait(10*time.Second, func() bool {
		oa, err := b.Store().GetOA(nil, soid)
		return err == nil && oa.Name == "report.txt"
	})
	if err != nil {
		t.Fatal("metadata not replicated")
	}

	if err := b.Request(ids.NewSOCID(soid, ids.CIDContent)); err != nil {
		t.Fatal(err)
	}
	var got []byte
	err = spinlock.Wait(10*time.Second, func() bool {
		rc, _, err := b.Store().OpenContent(ids.NewSOCKID(ids.NewSOCID(soid, ids.CIDContent), ids.KMaster))
		if err != nil {
			return false
		}
		defer rc.Close()
		got, err = io.ReadAll(rc)
		return err == nil && len(got) == len(data)
	})
	if err != nil {
		t.Fatal("content not replicated")
	}
	if !bytes.Equal(got, data) {
		t.Error("replicated content differs")
	}
}

func TestOwnersResolvedOnConnect(t *testing.T) {
	t.Parallel()

	a, b := newConnectedPair(t)

	err := spinlock.Wait(5*time.Second, func() bool {
		ua, okA := a.Users().Cached(didB)
		ub, okB := b.Users().Cached(didA)
		return okA && okB && ua == "bob@example.com" && ub == "alice@example.com"
	})
	if err != nil {
		ua, _ := a.Users().Cached(didB)
		ub, _ := b.Users().Cached(didA)
		t.Fatalf("got owners %q and %q after connecting", ua, ub)
	}
}

func TestRequestUnknownStore(t *testing.T) {
	t.Parallel()

	b := newReplicad(t, didB, "bob@example.com")

	err := b.Request(ids.SOCID{SIdx: 7, OID: ids.NewOID(), CID: ids.CIDMeta})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("got error %v, want %v", err, storage.ErrNotFound)
	}
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	a, b := newConnectedPair(t)

	if err := b.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := b.Shutdown(); !errors.Is(err, node.ErrShutdownInProgress) {
		t.Fatalf("got error %v, want %v", err, node.ErrShutdownInProgress)
	}

	err := spinlock.Wait(5*time.Second, func() bool {
		_, ok := a.Devices().Get(didB)
		return !ok
	})
	if err != nil {
		t.Fatal("device still online after shutdown")
	}
}
