// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package statestore defines a small key/value store for daemon state that
// outlives the process, such as resolved device owners.
package statestore

import (
	"encoding"
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrNotFound = errors.New("statestore: not found")

// StateIterFunc is called for every entry matching an Iterate prefix.
type StateIterFunc func(key, value []byte) (stop bool, err error)

// StateStorer persists values under string keys. Values implementing
// encoding.BinaryMarshaler are stored as returned; all others are msgpack
// encoded.
type StateStorer interface {
	io.Closer
	Get(key string, i interface{}) error
	Put(key string, i interface{}) error
	Delete(key string) error
	Iterate(prefix string, iterFunc StateIterFunc) error
}

// Marshal encodes a value the way every StateStorer does.
func Marshal(i interface{}) ([]byte, error) {
	if marshaler, ok := i.(encoding.BinaryMarshaler); ok {
		return marshaler.MarshalBinary()
	}
	return msgpack.Marshal(i)
}

// Unmarshal decodes a value stored with Marshal.
func Unmarshal(data []byte, i interface{}) error {
	if unmarshaler, ok := i.(encoding.BinaryUnmarshaler); ok {
		return unmarshaler.UnmarshalBinary(data)
	}
	return msgpack.Unmarshal(data, i)
}
