// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ids contains the identities of devices, users, stores and
// replicated objects. All identities are immutable values that can be
// used as map keys and are totally ordered.
package ids

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const uniqueIDSize = 16

var (
	ErrInvalidLength = errors.New("invalid identifier length")
)

// DID identifies a device.
type DID [uniqueIDSize]byte

// ZeroDID is a device identifier that has no value.
var ZeroDID DID

// NewDID returns a new random device identifier.
func NewDID() DID {
	return DID(uuid.New())
}

// ParseDID returns a DID from its hex-encoded string representation.
func ParseDID(s string) (DID, error) {
	var d DID
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, err
	}
	if len(b) != uniqueIDSize {
		return d, fmt.Errorf("did %q: %w", s, ErrInvalidLength)
	}
	copy(d[:], b)
	return d, nil
}

// MustParseDID is like ParseDID but panics on error.
func MustParseDID(s string) DID {
	d, err := ParseDID(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DIDFromBytes returns a DID holding a copy of b.
func DIDFromBytes(b []byte) (DID, error) {
	var d DID
	if len(b) != uniqueIDSize {
		return d, ErrInvalidLength
	}
	copy(d[:], b)
	return d, nil
}

func (d DID) String() string { return hex.EncodeToString(d[:]) }

// Short returns an abbreviated representation suitable for log lines.
func (d DID) Short() string { return hex.EncodeToString(d[:3]) }

func (d DID) Bytes() []byte { return append([]byte(nil), d[:]...) }

func (d DID) IsZero() bool { return d == ZeroDID }

// Compare returns -1, 0 or 1 comparing the byte representations.
func (d DID) Compare(o DID) int { return bytes.Compare(d[:], o[:]) }

// UserID identifies the authenticated owner of a device.
type UserID string

func (u UserID) String() string { return string(u) }

// SIndex is the local index of a store.
type SIndex int32

func (s SIndex) String() string { return fmt.Sprintf("%d", int32(s)) }

// OID identifies an object within a store. The zero OID is the store root.
type OID [uniqueIDSize]byte

var RootOID OID

// NewOID returns a new random object identifier.
func NewOID() OID {
	return OID(uuid.New())
}

// ParseOID returns an OID from its hex-encoded string representation.
func ParseOID(s string) (OID, error) {
	var o OID
	b, err := hex.DecodeString(s)
	if err != nil {
		return o, err
	}
	if len(b) != uniqueIDSize {
		return o, fmt.Errorf("oid %q: %w", s, ErrInvalidLength)
	}
	copy(o[:], b)
	return o, nil
}

// MustParseOID is like ParseOID but panics on error.
func MustParseOID(s string) OID {
	o, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return o
}

// OIDFromBytes returns an OID holding a copy of b.
func OIDFromBytes(b []byte) (OID, error) {
	var o OID
	if len(b) != uniqueIDSize {
		return o, ErrInvalidLength
	}
	copy(o[:], b)
	return o, nil
}

func (o OID) String() string { return hex.EncodeToString(o[:]) }

func (o OID) Short() string { return hex.EncodeToString(o[:3]) }

func (o OID) Bytes() []byte { return append([]byte(nil), o[:]...) }

func (o OID) IsRoot() bool { return o == RootOID }

func (o OID) Compare(p OID) int { return bytes.Compare(o[:], p[:]) }

// CID identifies a component of an object.
type CID int32

const (
	CIDMeta    CID = 0
	CIDContent CID = 1
)

func (c CID) IsMeta() bool { return c == CIDMeta }

func (c CID) String() string {
	switch c {
	case CIDMeta:
		return "meta"
	case CIDContent:
		return "content"
	}
	return fmt.Sprintf("cid(%d)", int32(c))
}

// KIndex identifies a content branch. KMaster is the branch the user sees,
// higher indices hold conflicting copies.
type KIndex int32

const (
	KMaster  KIndex = 0
	KInvalid KIndex = -1
)

func (k KIndex) IsMaster() bool { return k == KMaster }

// Next returns the index following k.
func (k KIndex) Next() KIndex { return k + 1 }

func (k KIndex) String() string { return fmt.Sprintf("%d", int32(k)) }
