// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p/protobuf"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
)

// ComponentVersion is the version of one branch of a component held by a
// device.
type ComponentVersion struct {
	SOCID   ids.SOCID
	KIdx    ids.KIndex
	Version version.Vector
}

func (cv ComponentVersion) toPB() *pb.ComponentVersion {
	return &pb.ComponentVersion{
		Oid:     cv.SOCID.OID.Bytes(),
		Cid:     int32(cv.SOCID.CID),
		Kidx:    int32(cv.KIdx),
		Version: cv.Version.ToPB(),
	}
}

func componentVersionFromPB(sidx ids.SIndex, m *pb.ComponentVersion) (ComponentVersion, error) {
	oid, err := ids.OIDFromBytes(m.Oid)
	if err != nil {
		return ComponentVersion{}, fmt.Errorf("%w: oid: %w", ErrProtocol, err)
	}
	v, err := version.FromPB(m.Version)
	if err != nil {
		return ComponentVersion{}, fmt.Errorf("%w: version: %w", ErrProtocol, err)
	}
	return ComponentVersion{
		SOCID:   ids.NewSOCID(ids.NewSOID(sidx, oid), ids.CID(m.Cid)),
		KIdx:    ids.KIndex(m.Kidx),
		Version: v,
	}, nil
}

// GetVersions asks did for the versions of the objects of a store. The
// answers are recorded as known remote versions.
func (s *Service) GetVersions(ctx context.Context, did ids.DID, sidx ids.SIndex, oids []ids.OID) ([]ComponentVersion, error) {
	req := &pb.GetVersionsRequest{Store: int32(sidx)}
	for _, oid := range oids {
		req.Oids = append(req.Oids, oid.Bytes())
	}
	msg := &pb.Core{Type: pb.Type_GET_VERSIONS_REQUEST, GetVersionsRequest: req}
	s.request(ctx, msg)

	reply, err := s.rpc.DoTo(ctx, msg, did, s.o.Timeout)
	if err != nil {
		return nil, err
	}
	defer reply.Close()

	resp := reply.Msg.GetGetVersionsResponse()
	if resp == nil || reply.Msg.ReplyType != pb.Type_GET_VERSIONS_RESPONSE {
		return nil, fmt.Errorf("%w: %s in reply to versions request", ErrProtocol, reply.Msg.ReplyType)
	}
	cvs := make([]ComponentVersion, 0, len(resp.Versions))
	for _, m := range resp.Versions {
		cv, err := componentVersionFromPB(sidx, m)
		if err != nil {
			return nil, err
		}
		s.knowledge.Learn(cv.SOCID, cv.Version)
		cvs = append(cvs, cv)
	}
	return cvs, nil
}

func (s *Service) handleGetVersions(ctx context.Context, p p2p.Peer, msg *pb.Core) error {
	req := msg.GetVersionsRequest
	if req == nil {
		return fmt.Errorf("%w: empty versions request", ErrProtocol)
	}
	sidx := ids.SIndex(req.Store)
	if !s.store.StoreExists(sidx) {
		return storage.ErrStoreNotFound
	}

	resp := &pb.GetVersionsResponse{}
	for _, b := range req.Oids {
		oid, err := ids.OIDFromBytes(b)
		if err != nil {
			return fmt.Errorf("%w: oid: %w", ErrProtocol, err)
		}
		cvs, err := s.localVersions(ids.NewSOID(sidx, oid))
		if err != nil {
			return err
		}
		for _, cv := range cvs {
			resp.Versions = append(resp.Versions, cv.toPB())
		}
	}
	return s.sender.Reply(ctx, p, msg, pb.Type_GET_VERSIONS_RESPONSE, &pb.Core{GetVersionsResponse: resp})
}

// localVersions lists the versions of the metadata and of every content
// branch of an object. Unknown and expelled objects have none.
func (s *Service) localVersions(soid ids.SOID) ([]ComponentVersion, error) {
	oa, err := s.store.GetOA(nil, s.store.ResolveAlias(soid))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if oa.IsExpelled() {
		return nil, nil
	}

	// versions are reported under the requested id, aliases included
	meta := ids.NewSOCID(soid, ids.CIDMeta)
	v, err := s.store.LocalVersion(ids.NewSOCKID(ids.NewSOCID(oa.SOID, ids.CIDMeta), ids.KMaster))
	if err != nil {
		return nil, err
	}
	cvs := []ComponentVersion{{SOCID: meta, KIdx: ids.KMaster, Version: v}}

	content := ids.NewSOCID(soid, ids.CIDContent)
	for _, br := range oa.Branches {
		v, err := s.store.LocalVersion(ids.NewSOCKID(ids.NewSOCID(oa.SOID, ids.CIDContent), br.KIdx))
		if err != nil {
			return nil, err
		}
		cvs = append(cvs, ComponentVersion{SOCID: content, KIdx: br.KIdx, Version: v})
	}
	return cvs, nil
}

// NewUpdates announces locally updated components to the members of the
// store.
func (s *Service) NewUpdates(ctx context.Context, sidx ids.SIndex, updates []ComponentVersion) error {
	m := &pb.NewUpdates{Store: int32(sidx)}
	for _, cv := range updates {
		if cv.SOCID.SIdx != sidx {
			return fmt.Errorf("update of %s announced to store %s", cv.SOCID, sidx)
		}
		m.Updates = append(m.Updates, cv.toPB())
	}
	msg := &pb.Core{Type: pb.Type_NEW_UPDATES, NewUpdates: m}
	s.request(ctx, msg)

	payload, err := protobuf.Encode(msg, nil)
	if err != nil {
		return fmt.Errorf("encode new updates: %w", err)
	}
	if err := s.sender.SendMaxcast(ctx, sidx, payload); err != nil {
		return fmt.Errorf("announce %d updates to %s: %w", len(updates), sidx, err)
	}
	s.metrics.UpdatesAnnounced.Add(float64(len(updates)))
	return nil
}

func (s *Service) handleNewUpdates(_ context.Context, p p2p.Peer, msg *pb.Core) error {
	m := msg.NewUpdates
	if m == nil {
		return fmt.Errorf("%w: empty update notification", ErrProtocol)
	}
	sidx := ids.SIndex(m.Store)
	if !s.store.StoreExists(sidx) {
		s.logger.Debugf("protocol: updates from %s for unknown store %s", p.DID.Short(), sidx)
		return nil
	}

	seen := make(map[ids.SOCID]struct{}, len(m.Updates))
	var socids []ids.SOCID
	for _, u := range m.Updates {
		cv, err := componentVersionFromPB(sidx, u)
		if err != nil {
			return err
		}
		s.knowledge.Learn(cv.SOCID, cv.Version)
		if _, ok := seen[cv.SOCID]; !ok {
			seen[cv.SOCID] = struct{}{}
			socids = append(socids, cv.SOCID)
		}
	}
	s.metrics.UpdatesReceived.Add(float64(len(m.Updates)))

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil && len(socids) > 0 {
		l.NewUpdates(p.DID, sidx, socids)
	}
	return nil
}

// SenderFilter is the position of a device in the update stream of a
// store, as last announced by that device.
type SenderFilter struct {
	FilterIndex uint64
	UpdateSeq   uint64
}

type filterKey struct {
	did  ids.DID
	sidx ids.SIndex
}

type senderFilters struct {
	mu      sync.Mutex
	filters map[filterKey]SenderFilter
}

func newSenderFilters() *senderFilters {
	return &senderFilters{filters: make(map[filterKey]SenderFilter)}
}

// update records f unless an announcement with a later sequence number was
// already received.
func (sf *senderFilters) update(k filterKey, f SenderFilter) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if cur, ok := sf.filters[k]; ok && cur.UpdateSeq > f.UpdateSeq {
		return false
	}
	sf.filters[k] = f
	return true
}

func (sf *senderFilters) get(k filterKey) (SenderFilter, bool) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	f, ok := sf.filters[k]
	return f, ok
}

// SendUpdateSenderFilter tells did the position of the local device in the
// update stream of the store.
func (s *Service) SendUpdateSenderFilter(ctx context.Context, did ids.DID, sidx ids.SIndex, f SenderFilter) error {
	msg := &pb.Core{
		Type: pb.Type_UPDATE_SENDER_FILTER,
		UpdateSenderFilter: &pb.UpdateSenderFilter{
			Store:       int32(sidx),
			FilterIndex: f.FilterIndex,
			UpdateSeq:   f.UpdateSeq,
		},
	}
	s.request(ctx, msg)

	payload, err := protobuf.Encode(msg, nil)
	if err != nil {
		return fmt.Errorf("encode sender filter: %w", err)
	}
	return s.sender.SendUnicast(ctx, did, payload)
}

// SenderFilter returns the last position announced by did for a store.
func (s *Service) SenderFilter(did ids.DID, sidx ids.SIndex) (SenderFilter, bool) {
	return s.filters.get(filterKey{did: did, sidx: sidx})
}

func (s *Service) handleUpdateSenderFilter(_ context.Context, p p2p.Peer, msg *pb.Core) error {
	m := msg.UpdateSenderFilter
	if m == nil {
		return fmt.Errorf("%w: empty sender filter", ErrProtocol)
	}
	k := filterKey{did: p.DID, sidx: ids.SIndex(m.Store)}
	if !s.filters.update(k, SenderFilter{FilterIndex: m.FilterIndex, UpdateSeq: m.UpdateSeq}) {
		s.logger.Debugf("protocol: stale sender filter %d from %s", m.UpdateSeq, p.DID.Short())
	}
	return nil
}
