// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package p2p

import "errors"

var (
	// ErrBackPressure is returned by carriers whose outbound queue is full.
	// Control messages hitting it must be retried later, not dropped.
	ErrBackPressure = errors.New("carrier back pressure")
	// ErrDeviceOffline is returned when the carrier has no session with the device.
	ErrDeviceOffline = errors.New("device offline")
	// ErrMessageTooLarge is returned for datagrams above MaxUnicastSize.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrUnknownStream is returned for stream operations on an unknown stream.
	ErrUnknownStream = errors.New("unknown stream")
)

// DisconnectError is an error that is specifically handled by carriers. If
// returned by a receiver it causes the session with the peer to be dropped.
type DisconnectError struct {
	err error
}

// Disconnect wraps error and creates a special error that is treated specially
// by carriers.
func Disconnect(err error) error {
	return &DisconnectError{
		err: err,
	}
}

// Unwrap returns an underlying error.
func (e *DisconnectError) Unwrap() error { return e.err }

// Error implements function of the standard go error interface.
func (e *DisconnectError) Error() string {
	return e.err.Error()
}
