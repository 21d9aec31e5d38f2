// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protocol implements the messages exchanged between devices:
// component and version requests, update notifications and device owner
// resolution.
//
// Every message is a pb.Core envelope. Requests carry an rpc id and are
// answered with a REPLY of the same id, either in a single datagram or, when
// the reply does not fit, in a stream whose first chunk holds the envelope.
package protocol

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/rpc"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/streams"
	"github.com/aer0ss/aerofs-sub003/pkg/tracing"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

const (
	DefaultChunkSize = 8 * 1024
)

// ErrProtocol is returned for messages that do not follow the protocol.
var ErrProtocol = errors.New("protocol error")

// Store is the local state served to other devices.
type Store interface {
	storage.DirectoryService
	storage.VersionControl
	storage.PhysicalStorage
}

// Prefixes finds partially downloaded content to resume.
type Prefixes interface {
	Prefix(socid ids.SOCID) (version.Vector, uint64, error)
}

// Learner records the versions other devices announce.
type Learner interface {
	Learn(socid ids.SOCID, v version.Vector)
}

// Users knows the owners of devices.
type Users interface {
	Local() (ids.DID, ids.UserID)
	Cached(did ids.DID) (ids.UserID, bool)
	Get(ctx context.Context, did ids.DID) (ids.UserID, error)
}

// UpdateListener is told about the components a device announced as
// updated.
type UpdateListener interface {
	NewUpdates(from ids.DID, sidx ids.SIndex, socids []ids.SOCID)
}

type Options struct {
	// Timeout of requests, zero uses the rpc default.
	Timeout time.Duration
	// ChunkSize is the size of the chunks of streamed replies.
	ChunkSize int
}

type Service struct {
	store     Store
	prefixes  Prefixes
	knowledge Learner
	users     Users
	rpc       *rpc.RPC
	sender    *Sender
	outgoing  *streams.Outgoing
	tracer    *tracing.Tracer
	logger    logging.Logger
	o         Options
	metrics   metrics

	filters *senderFilters

	mu       sync.Mutex
	listener UpdateListener
}

func New(store Store, prefixes Prefixes, knowledge Learner, users Users, r *rpc.RPC, sender *Sender, outgoing *streams.Outgoing, tracer *tracing.Tracer, logger logging.Logger, o Options) *Service {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	return &Service{
		store:     store,
		prefixes:  prefixes,
		knowledge: knowledge,
		users:     users,
		rpc:       r,
		sender:    sender,
		outgoing:  outgoing,
		tracer:    tracer,
		logger:    logger,
		o:         o,
		metrics:   newMetrics(),
		filters:   newSenderFilters(),
	}
}

// SetUpdateListener installs the listener of update notifications.
func (s *Service) SetUpdateListener(l UpdateListener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Register installs the request and notification handlers of the service.
func (s *Service) Register(d *Dispatcher) {
	d.Handle(pb.Type_GET_COMPONENT_REQUEST, s.handleGetComponent)
	d.Handle(pb.Type_GET_VERSIONS_REQUEST, s.handleGetVersions)
	d.Handle(pb.Type_NEW_UPDATES, s.handleNewUpdates)
	d.Handle(pb.Type_UPDATE_SENDER_FILTER, s.handleUpdateSenderFilter)
	d.Handle(pb.Type_RESOLVE_USER_REQUEST, s.handleResolveUser)
	d.HandleOnline(s.deviceOnline)
}

func (s *Service) request(ctx context.Context, msg *pb.Core) {
	if err := s.tracer.InjectCore(ctx, msg); err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
		s.logger.Debugf("protocol: inject trace into %s: %v", msg.Type, err)
	}
}

// exception converts the error of a request handler into the exception
// reported to the requester.
func exception(err error) *pb.Exception {
	e := &pb.Exception{Type: pb.Exception_INTERNAL, Message: err.Error()}
	var inv *streams.InvalidatedError
	switch {
	case errors.Is(err, causality.ErrNoNewUpdate):
		e.Type = pb.Exception_NO_NEW_UPDATE
	case errors.Is(err, causality.ErrUpdateInProgress),
		errors.As(err, &inv) && inv.Reason == p2p.ReasonUpdateInProgress:
		e.Type = pb.Exception_UPDATE_IN_PROGRESS
	case errors.Is(err, causality.ErrExpelled):
		e.Type = pb.Exception_EXPELLED
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrStoreNotFound):
		e.Type = pb.Exception_NOT_FOUND
	case errors.Is(err, os.ErrPermission):
		e.Type = pb.Exception_NO_PERM
	case errors.Is(err, ErrProtocol):
		e.Type = pb.Exception_PROTOCOL_ERROR
	case errors.Is(err, causality.ErrAborted),
		errors.Is(err, context.Canceled):
		e.Type = pb.Exception_ABORTED
	}
	return e
}
