// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package streams manages chunked byte streams exchanged with devices when a
// message does not fit in a single datagram.
//
// A stream is identified by the remote device and a stream id chosen by the
// sender. Chunks are numbered from zero, the first one travelling with the
// begin event. End and abort notifications that the carrier refuses because
// of back pressure are kept and retried whenever a new stream is created, so
// the remote end eventually learns about them.
package streams

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
)

var (
	ErrStreamExists = errors.New("stream already exists")
	ErrClosed       = errors.New("stream closed")
)

// StreamKey identifies one stream.
type StreamKey struct {
	DID ids.DID
	ID  p2p.StreamID
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s:%d", k.DID.Short(), k.ID)
}

// InvalidatedError is returned by operations on a stream that was ended
// early by either side.
type InvalidatedError struct {
	Reason p2p.InvalidationReason
}

func (e *InvalidatedError) Error() string {
	return "stream invalidated: " + e.Reason.String()
}

// IsInvalidated reports whether err is an InvalidatedError with the reason.
func IsInvalidated(err error, reason p2p.InvalidationReason) bool {
	var e *InvalidatedError
	return errors.As(err, &e) && e.Reason == reason
}

type controlKind int

const (
	endOutgoing controlKind = iota
	abortOutgoing
	endIncoming
	abortIncoming
)

type control struct {
	tp     p2p.Transport
	key    StreamKey
	kind   controlKind
	reason p2p.InvalidationReason
}

func (c control) send() error {
	switch c.kind {
	case endOutgoing:
		return c.tp.EndOutgoing(c.key.DID, c.key.ID)
	case abortOutgoing:
		return c.tp.AbortOutgoing(c.key.DID, c.key.ID, c.reason)
	case endIncoming:
		return c.tp.EndIncoming(c.key.DID, c.key.ID)
	default:
		return c.tp.AbortIncoming(c.key.DID, c.key.ID, c.reason)
	}
}

// controller delivers end and abort notifications, holding back the ones
// refused with p2p.ErrBackPressure.
type controller struct {
	mu      sync.Mutex
	pending []control
	logger  logging.Logger
	onQueue func(n int)
}

func (c *controller) do(ctl control) {
	err := ctl.send()
	if err == nil {
		return
	}
	if !errors.Is(err, p2p.ErrBackPressure) {
		c.logger.Debugf("streams: notify %s: %v", ctl.key, err)
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, ctl)
	n := len(c.pending)
	c.mu.Unlock()
	c.onQueue(n)
	c.logger.Debugf("streams: notification for %s deferred by back pressure", ctl.key)
}

func (c *controller) flush() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	var keep []control
	for _, ctl := range pending {
		err := ctl.send()
		if errors.Is(err, p2p.ErrBackPressure) {
			keep = append(keep, ctl)
			continue
		}
		if err != nil {
			c.logger.Debugf("streams: deferred notify %s: %v", ctl.key, err)
		}
	}

	c.mu.Lock()
	c.pending = append(keep, c.pending...)
	n := len(c.pending)
	c.mu.Unlock()
	c.onQueue(n)
}

func (c *controller) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
