// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package websocket implements a p2p carrier over websocket connections.
//
// Each connection starts with a hello exchange carrying the device id, the
// stores of the device and its protocol version; peers whose version is not
// compatible are refused. Every later websocket message holds one length
// delimited frame.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/protobuf"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/websocket/pb"
	"github.com/coreos/go-semver/semver"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

const (
	transportName = "ws"

	DefaultMaxUnicastSize = 64 * 1024
	defaultQueueSize      = 256

	// frame fields around a payload
	frameOverhead = 64
	// control frames carry at most 125 bytes, two of them for the code
	maxCloseText = 123

	handshakeTimeout = 10 * time.Second
	writeDeadline    = 4 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrClosed       = errors.New("websocket transport closed")
	ErrIncompatible = errors.New("incompatible protocol version")
	ErrSelf         = errors.New("connection to self")
	ErrDuplicate    = errors.New("device already connected")
)

type Options struct {
	Local  ids.DID
	Stores []ids.SIndex
	// ProtocolVersion is a semantic version. Peers are compatible when the
	// major versions match, and for major version zero the minor ones too.
	ProtocolVersion string
	MaxUnicastSize  int
	// QueueSize bounds the frames waiting to be written to each peer.
	QueueSize int
	// Preference orders this carrier among the others; lower is preferred.
	Preference int
}

type Transport struct {
	local   ids.DID
	stores  []ids.SIndex
	version *semver.Version
	o       Options
	logger  logging.Logger
	metrics metrics

	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	mu       sync.RWMutex
	sessions map[ids.DID]*session
	receiver p2p.Receiver
	closed   bool

	nonce  *atomic.Uint64
	pingMu sync.Mutex
	pings  map[uint64]chan struct{}

	wg sync.WaitGroup
}

var _ p2p.Transport = (*Transport)(nil)

func New(logger logging.Logger, o Options) (*Transport, error) {
	v, err := semver.NewVersion(o.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("protocol version: %w", err)
	}
	if o.MaxUnicastSize <= 0 {
		o.MaxUnicastSize = DefaultMaxUnicastSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	return &Transport{
		local:   o.Local,
		stores:  o.Stores,
		version: v,
		o:       o,
		logger:  logger,
		metrics: newMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  o.MaxUnicastSize,
			WriteBufferSize: o.MaxUnicastSize,
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   o.MaxUnicastSize,
			WriteBufferSize:  o.MaxUnicastSize,
		},
		sessions: make(map[ids.DID]*session),
		nonce:    atomic.NewUint64(0),
		pings:    make(map[uint64]chan struct{}),
	}, nil
}

func (t *Transport) Name() string        { return transportName }
func (t *Transport) Preference() int     { return t.o.Preference }
func (t *Transport) MaxUnicastSize() int { return t.o.MaxUnicastSize }

func (t *Transport) SetReceiver(r p2p.Receiver) {
	t.mu.Lock()
	t.receiver = r
	t.mu.Unlock()
}

func (t *Transport) getReceiver() p2p.Receiver {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.receiver
}

// ServeHTTP accepts connections from peers.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Debugf("websocket: upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	if _, err := t.start(conn); err != nil {
		t.logger.Debugf("websocket: session with %s: %v", r.RemoteAddr, err)
	}
}

// Connect dials a peer listening at url and returns its device id.
func (t *Transport) Connect(ctx context.Context, url string) (ids.DID, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return ids.DID{}, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	s, err := t.start(conn)
	if err != nil {
		return ids.DID{}, fmt.Errorf("session with %s: %w", url, err)
	}
	return s.did, nil
}

// start runs the hello exchange and registers the session.
func (t *Transport) start(conn *websocket.Conn) (*session, error) {
	conn.SetReadLimit(int64(t.o.MaxUnicastSize + frameOverhead))

	hello, err := t.handshake(conn)
	if err != nil {
		t.metrics.HandshakeErrors.Inc()
		closeWith(conn, websocket.ClosePolicyViolation, err)
		return nil, err
	}
	did, err := ids.DIDFromBytes(hello.Did)
	if err != nil {
		t.metrics.HandshakeErrors.Inc()
		closeWith(conn, websocket.ClosePolicyViolation, err)
		return nil, err
	}
	if did == t.local {
		closeWith(conn, websocket.ClosePolicyViolation, ErrSelf)
		return nil, ErrSelf
	}
	stores := make([]ids.SIndex, 0, len(hello.Stores))
	for _, s := range hello.Stores {
		stores = append(stores, ids.SIndex(s))
	}

	s := newSession(t, did, stores, conn)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		closeWith(conn, websocket.CloseGoingAway, ErrClosed)
		return nil, ErrClosed
	}
	if _, ok := t.sessions[did]; ok {
		t.mu.Unlock()
		closeWith(conn, websocket.ClosePolicyViolation, ErrDuplicate)
		return nil, fmt.Errorf("%s: %w", did.Short(), ErrDuplicate)
	}
	t.sessions[did] = s
	t.wg.Add(2)
	t.mu.Unlock()

	t.metrics.Sessions.Inc()
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

func (t *Transport) handshake(conn *websocket.Conn) (*pb.Hello, error) {
	stores := make([]int32, 0, len(t.stores))
	for _, s := range t.stores {
		stores = append(stores, int32(s))
	}
	local := &pb.Hello{
		Did:             t.local.Bytes(),
		Stores:          stores,
		ProtocolVersion: t.version.String(),
	}

	if err := conn.SetWriteDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, err
	}
	if err := writeMsg(conn, local); err != nil {
		return nil, fmt.Errorf("write hello: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, err
	}
	remote := new(pb.Hello)
	if err := readMsg(conn, remote); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}

	v, err := semver.NewVersion(remote.ProtocolVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrIncompatible, remote.ProtocolVersion, err)
	}
	if !compatible(t.version, v) {
		return nil, fmt.Errorf("%w: local %s, remote %s", ErrIncompatible, t.version, v)
	}
	return remote, nil
}

func compatible(local, remote *semver.Version) bool {
	if local.Major != remote.Major {
		return false
	}
	if local.Major == 0 {
		return local.Minor == remote.Minor
	}
	return true
}

func (t *Transport) session(did ids.DID) (*session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, ErrClosed
	}
	s, ok := t.sessions[did]
	if !ok {
		return nil, fmt.Errorf("%s: %w", did.Short(), p2p.ErrDeviceOffline)
	}
	return s, nil
}

// remove unregisters s and reports its device offline.
func (t *Transport) remove(s *session) {
	t.mu.Lock()
	cur, ok := t.sessions[s.did]
	if ok && cur == s {
		delete(t.sessions, s.did)
	}
	t.mu.Unlock()
	if !ok || cur != s {
		return
	}
	t.metrics.Sessions.Dec()
	if r := t.getReceiver(); r != nil {
		r.DeviceOffline(s.peer())
	}
}

func (t *Transport) member(sidx ids.SIndex) bool {
	for _, s := range t.stores {
		if s == sidx {
			return true
		}
	}
	return false
}

// Peers returns the devices with an open session.
func (t *Transport) Peers() []ids.DID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dids := make([]ids.DID, 0, len(t.sessions))
	for did := range t.sessions {
		dids = append(dids, did)
	}
	return dids
}

func (t *Transport) SendUnicast(ctx context.Context, did ids.DID, payload []byte) error {
	if len(payload) > t.o.MaxUnicastSize {
		return p2p.ErrMessageTooLarge
	}
	s, err := t.session(did)
	if err != nil {
		return err
	}
	return s.send(ctx, &pb.Frame{Kind: pb.Frame_DATAGRAM, Payload: payload})
}

// SendMaxcast sends payload to every connected member of the store.
func (t *Transport) SendMaxcast(ctx context.Context, sidx ids.SIndex, payload []byte) error {
	if len(payload) > t.o.MaxUnicastSize {
		return p2p.ErrMessageTooLarge
	}
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrClosed
	}
	var members []*session
	for _, s := range t.sessions {
		if s.member(sidx) {
			members = append(members, s)
		}
	}
	t.mu.RUnlock()

	for _, s := range members {
		if err := s.post(&pb.Frame{Kind: pb.Frame_MAXCAST, Store: int32(sidx), Payload: payload}); err != nil {
			t.logger.Debugf("websocket: maxcast to %s: %v", s.did.Short(), err)
		}
	}
	return nil
}

func (t *Transport) BeginStream(ctx context.Context, did ids.DID, id p2p.StreamID, payload []byte) error {
	if len(payload) > t.o.MaxUnicastSize {
		return p2p.ErrMessageTooLarge
	}
	s, err := t.session(did)
	if err != nil {
		return err
	}
	return s.send(ctx, &pb.Frame{Kind: pb.Frame_BEGIN, Stream: uint32(id), Payload: payload})
}

func (t *Transport) SendChunk(ctx context.Context, did ids.DID, id p2p.StreamID, seq uint32, payload []byte) error {
	if len(payload) > t.o.MaxUnicastSize {
		return p2p.ErrMessageTooLarge
	}
	s, err := t.session(did)
	if err != nil {
		return err
	}
	return s.send(ctx, &pb.Frame{Kind: pb.Frame_CHUNK, Stream: uint32(id), Seq: seq, Payload: payload})
}

func (t *Transport) EndOutgoing(did ids.DID, id p2p.StreamID) error {
	return t.control(did, &pb.Frame{Kind: pb.Frame_END_OUTGOING, Stream: uint32(id)})
}

func (t *Transport) AbortOutgoing(did ids.DID, id p2p.StreamID, reason p2p.InvalidationReason) error {
	return t.control(did, &pb.Frame{Kind: pb.Frame_ABORT_OUTGOING, Stream: uint32(id), Reason: int32(reason)})
}

func (t *Transport) EndIncoming(did ids.DID, id p2p.StreamID) error {
	return t.control(did, &pb.Frame{Kind: pb.Frame_END_INCOMING, Stream: uint32(id)})
}

func (t *Transport) AbortIncoming(did ids.DID, id p2p.StreamID, reason p2p.InvalidationReason) error {
	return t.control(did, &pb.Frame{Kind: pb.Frame_ABORT_INCOMING, Stream: uint32(id), Reason: int32(reason)})
}

// control queues a stream control frame. A full queue is reported as
// p2p.ErrBackPressure for the caller to retry.
func (t *Transport) control(did ids.DID, f *pb.Frame) error {
	s, err := t.session(did)
	if err != nil {
		return err
	}
	return s.post(f)
}

// Ping measures the round trip of a ping frame.
func (t *Transport) Ping(ctx context.Context, did ids.DID) (time.Duration, error) {
	s, err := t.session(did)
	if err != nil {
		return 0, err
	}

	nonce := t.nonce.Inc()
	pong := make(chan struct{})
	t.pingMu.Lock()
	t.pings[nonce] = pong
	t.pingMu.Unlock()
	defer func() {
		t.pingMu.Lock()
		delete(t.pings, nonce)
		t.pingMu.Unlock()
	}()

	start := time.Now()
	if err := s.send(ctx, &pb.Frame{Kind: pb.Frame_PING, Nonce: nonce}); err != nil {
		return 0, err
	}
	select {
	case <-pong:
		rtt := time.Since(start)
		t.metrics.PingRTT.Observe(rtt.Seconds())
		return rtt, nil
	case <-s.quit:
		return 0, fmt.Errorf("%s: %w", did.Short(), p2p.ErrDeviceOffline)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *Transport) pong(nonce uint64) {
	t.pingMu.Lock()
	defer t.pingMu.Unlock()
	if c, ok := t.pings[nonce]; ok {
		close(c)
		delete(t.pings, nonce)
	}
}

// Close ends every session and waits for their goroutines.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessions := make([]*session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	t.wg.Wait()
	return nil
}

func writeMsg(conn *websocket.Conn, msg protobuf.Message) error {
	w, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if err := protobuf.NewWriter(w).WriteMsg(msg); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func readMsg(conn *websocket.Conn, msg protobuf.Message) error {
	typ, r, err := conn.NextReader()
	if err != nil {
		return err
	}
	if typ != websocket.BinaryMessage {
		return fmt.Errorf("unexpected message type %d", typ)
	}
	return protobuf.NewReader(r).ReadMsg(msg)
}

func closeWith(conn *websocket.Conn, code int, err error) {
	text := err.Error()
	if len(text) > maxCloseText {
		text = text[:maxCloseText]
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
	_ = conn.Close()
}
