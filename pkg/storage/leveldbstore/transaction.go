// Copyright 2022 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldbstore

import (
	"errors"
	"fmt"

	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/hashicorp/go-multierror"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var errForeignTx = errors.New("leveldbstore: transaction of another store")

// Tx buffers writes in a leveldb batch, visible to reads made through the
// transaction, and applies them atomically on Commit. File operations run
// after the batch is written.
type Tx struct {
	s        *Store
	overlay  map[string][]byte
	batch    *leveldb.Batch
	onCommit []func() error
	done     bool
}

// Begin starts a transaction. Transactions are serialized; Begin blocks
// while another one is open.
func (s *Store) Begin() (storage.Tx, error) {
	s.txMu.Lock()
	return &Tx{
		s:       s,
		overlay: make(map[string][]byte),
		batch:   new(leveldb.Batch),
	}, nil
}

func (s *Store) tx(tx storage.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t == nil || t.s != s {
		return nil, errForeignTx
	}
	if t.done {
		return nil, storage.ErrTxDone
	}
	return t, nil
}

func (t *Tx) put(key string, value []byte) {
	t.overlay[key] = value
	t.batch.Put([]byte(key), value)
}

func (t *Tx) delete(key string) {
	t.overlay[key] = nil
	t.batch.Delete([]byte(key))
}

func (t *Tx) Commit() error {
	if t.done {
		return storage.ErrTxDone
	}
	defer t.release()

	if err := t.s.db.Write(t.batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	var errs *multierror.Error
	for _, fn := range t.onCommit {
		if err := fn(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		t.s.logger.Errorf("leveldbstore: post commit file operations: %v", err)
		return err
	}
	return nil
}

// End discards the transaction unless it was committed.
func (t *Tx) End() {
	if t.done {
		return
	}
	t.release()
}

func (t *Tx) release() {
	t.done = true
	t.overlay = nil
	t.batch = nil
	t.onCommit = nil
	t.s.txMu.Unlock()
}
