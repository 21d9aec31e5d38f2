// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"context"
	"fmt"

	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/protobuf"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/hashicorp/go-multierror"
)

// Devices locates online devices.
type Devices interface {
	Get(did ids.DID) (devices.Device, bool)
}

// Sender puts messages on the carriers: unicast over the preferred carrier
// of the device, maxcast over every carrier.
type Sender struct {
	devices    Devices
	transports map[string]p2p.Transport
	order      []p2p.Transport
}

func NewSender(d Devices, transports ...p2p.Transport) *Sender {
	s := &Sender{
		devices:    d,
		transports: make(map[string]p2p.Transport, len(transports)),
		order:      transports,
	}
	for _, tp := range transports {
		s.transports[tp.Name()] = tp
	}
	return s
}

func (s *Sender) SendUnicast(ctx context.Context, did ids.DID, payload []byte) error {
	d, ok := s.devices.Get(did)
	if !ok || d.Transport == nil {
		return fmt.Errorf("%s: %w", did.Short(), p2p.ErrDeviceOffline)
	}
	return d.Transport.SendUnicast(ctx, did, payload)
}

// SendMaxcast sends payload to the members of the store on every carrier.
// It fails only if no carrier accepted it.
func (s *Sender) SendMaxcast(ctx context.Context, sidx ids.SIndex, payload []byte) error {
	var (
		errs *multierror.Error
		sent bool
	)
	for _, tp := range s.order {
		if err := tp.SendMaxcast(ctx, sidx, payload); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", tp.Name(), err))
			continue
		}
		sent = true
	}
	if sent {
		return nil
	}
	return errs.ErrorOrNil()
}

// Transport returns the carrier an inbound event came from, or the
// preferred carrier of the device if that one is gone.
func (s *Sender) Transport(p p2p.Peer) (p2p.Transport, error) {
	if tp, ok := s.transports[p.Transport]; ok {
		return tp, nil
	}
	d, ok := s.devices.Get(p.DID)
	if !ok || d.Transport == nil {
		return nil, fmt.Errorf("%s: %w", p.DID.Short(), p2p.ErrDeviceOffline)
	}
	return d.Transport, nil
}

// Reply answers req in a single datagram.
func (s *Sender) Reply(ctx context.Context, p p2p.Peer, req *pb.Core, replyType pb.Type, resp *pb.Core) error {
	payload, err := encodeReply(req, replyType, resp)
	if err != nil {
		return err
	}
	tp, err := s.Transport(p)
	if err != nil {
		return err
	}
	return tp.SendUnicast(ctx, p.DID, payload)
}

// ReplyError answers req with the exception matching err.
func (s *Sender) ReplyError(ctx context.Context, p p2p.Peer, req *pb.Core, err error) error {
	return s.Reply(ctx, p, req, pb.Type_UNKNOWN, &pb.Core{Exception: exception(err)})
}

func encodeReply(req *pb.Core, replyType pb.Type, resp *pb.Core) ([]byte, error) {
	resp.Type = pb.Type_REPLY
	resp.RpcId = req.RpcId
	resp.ReplyType = replyType
	b, err := protobuf.Encode(resp, nil)
	if err != nil {
		return nil, fmt.Errorf("encode reply to %s: %w", req.Type, err)
	}
	return b, nil
}
