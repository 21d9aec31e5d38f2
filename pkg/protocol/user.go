// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"context"
	"fmt"

	"github.com/aer0ss/aerofs-sub003/pkg/identity"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
)

var _ identity.Resolver = (*Service)(nil)

// ResolveUser asks did for the user owning it.
func (s *Service) ResolveUser(ctx context.Context, did ids.DID) (ids.UserID, error) {
	msg := &pb.Core{
		Type:               pb.Type_RESOLVE_USER_REQUEST,
		ResolveUserRequest: &pb.ResolveUserRequest{Did: did.Bytes()},
	}
	s.request(ctx, msg)

	reply, err := s.rpc.DoTo(ctx, msg, did, s.o.Timeout)
	if err != nil {
		return "", err
	}
	defer reply.Close()

	resp := reply.Msg.GetResolveUserResponse()
	if resp == nil || reply.Msg.ReplyType != pb.Type_RESOLVE_USER_RESPONSE {
		return "", fmt.Errorf("%w: %s in reply to user resolution", ErrProtocol, reply.Msg.ReplyType)
	}
	got, err := ids.DIDFromBytes(resp.Did)
	if err != nil || got != did || resp.User == "" {
		return "", fmt.Errorf("%w: owner of %s resolved as %q for %x", ErrProtocol, did.Short(), resp.User, resp.Did)
	}
	return ids.UserID(resp.User), nil
}

func (s *Service) handleResolveUser(ctx context.Context, p p2p.Peer, msg *pb.Core) error {
	req := msg.ResolveUserRequest
	if req == nil {
		return fmt.Errorf("%w: empty user resolution", ErrProtocol)
	}
	did, err := ids.DIDFromBytes(req.Did)
	if err != nil {
		return fmt.Errorf("%w: did: %w", ErrProtocol, err)
	}

	local, user := s.users.Local()
	if did != local {
		u, err := s.owner(ctx, did)
		if err != nil {
			return fmt.Errorf("owner of %s: %w: %w", did.Short(), storage.ErrNotFound, err)
		}
		user = u
	}
	resp := &pb.ResolveUserResponse{Did: did.Bytes(), User: string(user)}
	return s.sender.Reply(ctx, p, msg, pb.Type_RESOLVE_USER_RESPONSE, &pb.Core{ResolveUserResponse: resp})
}

// owner returns the user owning did, asking did itself for cold entries.
func (s *Service) owner(ctx context.Context, did ids.DID) (ids.UserID, error) {
	if u, ok := s.users.Cached(did); ok {
		return u, nil
	}
	if s.o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.o.Timeout)
		defer cancel()
	}
	return s.users.Get(ctx, did)
}

// deviceOnline learns the owner of a device as soon as it is reachable.
func (s *Service) deviceOnline(ctx context.Context, p p2p.Peer) {
	u, err := s.users.Get(ctx, p.DID)
	if err != nil {
		s.logger.Debugf("protocol: owner of %s: %v", p.DID.Short(), err)
		return
	}
	s.logger.Tracef("protocol: %s owned by %s", p.DID.Short(), u)
}
