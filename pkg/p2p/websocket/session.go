// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/websocket/pb"
	"github.com/gorilla/websocket"
)

// session is the connection with one device. Frames are written by a
// single goroutine from a bounded queue and read by another one, which
// delivers them to the receiver in order.
type session struct {
	t      *Transport
	did    ids.DID
	stores []ids.SIndex
	conn   *websocket.Conn

	out  chan *pb.Frame
	quit chan struct{}
	once sync.Once
}

func newSession(t *Transport, did ids.DID, stores []ids.SIndex, conn *websocket.Conn) *session {
	return &session{
		t:      t,
		did:    did,
		stores: stores,
		conn:   conn,
		out:    make(chan *pb.Frame, t.o.QueueSize),
		quit:   make(chan struct{}),
	}
}

func (s *session) peer() p2p.Peer {
	return p2p.Peer{DID: s.did, Transport: transportName}
}

func (s *session) member(sidx ids.SIndex) bool {
	for _, m := range s.stores {
		if m == sidx {
			return true
		}
	}
	return false
}

// send queues f, waiting for room in the queue.
func (s *session) send(ctx context.Context, f *pb.Frame) error {
	select {
	case s.out <- f:
		return nil
	case <-s.quit:
		return fmt.Errorf("%s: %w", s.did.Short(), p2p.ErrDeviceOffline)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues f or fails with p2p.ErrBackPressure if the queue is full.
func (s *session) post(f *pb.Frame) error {
	select {
	case <-s.quit:
		return fmt.Errorf("%s: %w", s.did.Short(), p2p.ErrDeviceOffline)
	default:
	}
	select {
	case s.out <- f:
		return nil
	default:
		s.t.metrics.BackPressure.Inc()
		return p2p.ErrBackPressure
	}
}

func (s *session) close() {
	s.once.Do(func() { close(s.quit) })
}

func (s *session) writeLoop() {
	defer s.t.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case f := <-s.out:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.t.logger.Debugf("websocket: set write deadline %s: %v", s.did.Short(), err)
				s.close()
				return
			}
			if err := writeMsg(s.conn, f); err != nil {
				s.t.logger.Debugf("websocket: write %s to %s: %v", f.Kind, s.did.Short(), err)
				s.close()
				return
			}
			s.t.metrics.FramesSent.WithLabelValues(f.Kind.String()).Inc()
			s.t.metrics.BytesSent.Add(float64(len(f.Payload)))

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.close()
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.t.logger.Debugf("websocket: ping %s: %v", s.did.Short(), err)
				s.close()
				return
			}

		case <-s.quit:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err == nil {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			}
			return
		}
	}
}

func (s *session) readLoop() {
	defer s.t.wg.Done()
	defer s.t.remove(s)
	defer s.close()

	peer := s.peer()
	if r := s.t.getReceiver(); r != nil {
		r.DeviceOnline(peer, s.stores)
	}

	extend := func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	s.conn.SetPongHandler(extend)

	for {
		if err := extend(""); err != nil {
			return
		}
		f := new(pb.Frame)
		if err := readMsg(s.conn, f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.t.logger.Debugf("websocket: read from %s: %v", s.did.Short(), err)
			}
			return
		}
		s.t.metrics.FramesReceived.WithLabelValues(f.Kind.String()).Inc()
		s.t.metrics.BytesReceived.Add(float64(len(f.Payload)))
		s.handle(peer, f)
	}
}

func (s *session) handle(peer p2p.Peer, f *pb.Frame) {
	switch f.Kind {
	case pb.Frame_PING:
		if err := s.post(&pb.Frame{Kind: pb.Frame_PONG, Nonce: f.Nonce}); err != nil {
			s.t.logger.Debugf("websocket: pong %s: %v", s.did.Short(), err)
		}
		return
	case pb.Frame_PONG:
		s.t.pong(f.Nonce)
		return
	}

	r := s.t.getReceiver()
	if r == nil {
		return
	}
	id := p2p.StreamID(f.Stream)
	reason := p2p.InvalidationReason(f.Reason)
	switch f.Kind {
	case pb.Frame_DATAGRAM:
		r.ReceiveDatagram(peer, f.Payload)
	case pb.Frame_MAXCAST:
		if !s.t.member(ids.SIndex(f.Store)) {
			return
		}
		r.ReceiveDatagram(peer, f.Payload)
	case pb.Frame_BEGIN:
		r.ReceiveStreamBegun(peer, id, f.Payload)
	case pb.Frame_CHUNK:
		r.ReceiveStreamChunk(peer, id, f.Seq, f.Payload)
	case pb.Frame_END_OUTGOING:
		r.ReceiveStreamAborted(peer, id, p2p.ReasonEnded)
	case pb.Frame_ABORT_OUTGOING:
		r.ReceiveStreamAborted(peer, id, reason)
	case pb.Frame_END_INCOMING:
		r.ReceiveOutgoingAborted(peer, id, p2p.ReasonEnded)
	case pb.Frame_ABORT_INCOMING:
		r.ReceiveOutgoingAborted(peer, id, reason)
	default:
		s.t.logger.Debugf("websocket: unknown frame %s from %s", f.Kind, s.did.Short())
	}
}
