// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/download"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/rpc"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
	"github.com/aer0ss/aerofs-sub003/pkg/version"
	"github.com/opentracing/opentracing-go"
)

// Bits of causality.Update.MetaDiff.
const (
	MetaDiffType int32 = 1 << iota
	MetaDiffParent
	MetaDiffName
	MetaDiffFlags

	metaDiffAll = MetaDiffType | MetaDiffParent | MetaDiffName | MetaDiffFlags
)

var _ download.Fetcher = (*Service)(nil)

// GetComponent asks the devices of t for a component newer than the local
// one. The body of a content update must be read before the reply is
// released, it implements io.Closer.
func (s *Service) GetComponent(ctx context.Context, socid ids.SOCID, t *to.To, progress download.ProgressFunc) (*causality.Update, error) {
	span, _, ctx := s.tracer.StartSpanFromContext(ctx, "get-component", nil, opentracing.Tag{Key: "socid", Value: socid.String()})
	defer span.Finish()

	local, err := s.store.AllLocalVersions(socid)
	if err != nil {
		return nil, fmt.Errorf("local versions of %s: %w", socid, err)
	}
	req := &pb.GetComponentRequest{
		Store:        int32(socid.SIdx),
		Oid:          socid.OID.Bytes(),
		Cid:          int32(socid.CID),
		LocalVersion: local.ToPB(),
	}
	if !socid.CID.IsMeta() {
		pv, n, err := s.prefixes.Prefix(socid)
		if err != nil {
			return nil, fmt.Errorf("prefix of %s: %w", socid, err)
		}
		if n > 0 {
			req.PrefixLength = n
			req.PrefixVersion = pv.ToPB()
		}
	}

	msg := &pb.Core{Type: pb.Type_GET_COMPONENT_REQUEST, GetComponentRequest: req}
	s.request(ctx, msg)
	s.metrics.ComponentRequests.Inc()

	reply, err := s.rpc.Do(ctx, msg, t, s.o.Timeout)
	if err != nil {
		return nil, err
	}
	upd, err := s.update(socid, reply, progress)
	if err != nil {
		reply.Close()
		return nil, err
	}
	return upd, nil
}

func (s *Service) update(socid ids.SOCID, reply *rpc.Reply, progress download.ProgressFunc) (*causality.Update, error) {
	resp := reply.Msg.GetComponentResponse
	if resp == nil || reply.Msg.ReplyType != pb.Type_GET_COMPONENT_RESPONSE {
		return nil, fmt.Errorf("%w: %s in reply to component request", ErrProtocol, reply.Msg.ReplyType)
	}
	v, err := version.FromPB(resp.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: version: %w", ErrProtocol, err)
	}
	upd := &causality.Update{From: reply.From, SOCID: socid, Version: v}

	if socid.CID.IsMeta() {
		reply.Close()
		m := resp.Meta
		if m == nil {
			return nil, fmt.Errorf("%w: meta reply without metadata", ErrProtocol)
		}
		parent, err := ids.OIDFromBytes(m.ParentOid)
		if err != nil {
			return nil, fmt.Errorf("%w: parent: %w", ErrProtocol, err)
		}
		upd.Meta = &causality.RemoteMeta{
			Type:   storage.ObjectType(m.ObjectType),
			Parent: parent,
			Name:   m.Name,
			Flags:  m.Flags,
		}
		upd.MetaDiff, err = s.metaDiff(socid.SOID(), upd.Meta)
		if err != nil {
			return nil, err
		}
		return upd, nil
	}

	c := resp.Content
	if c == nil {
		return nil, fmt.Errorf("%w: content reply without content", ErrProtocol)
	}
	if c.PrefixOffset > c.Length {
		return nil, fmt.Errorf("%w: prefix offset %d beyond length %d", ErrProtocol, c.PrefixOffset, c.Length)
	}
	upd.Content = &causality.RemoteContent{
		Length:       c.Length,
		Mtime:        c.Mtime,
		Hash:         c.Hash,
		PrefixOffset: c.PrefixOffset,
	}
	b := &body{
		reply:    reply,
		total:    c.Length - c.PrefixOffset,
		progress: progress,
		metrics:  &s.metrics,
	}
	switch {
	case resp.Streamed:
		b.first = reply.Trailer
		if reply.Stream == nil {
			return nil, fmt.Errorf("%w: streamed content in a datagram", ErrProtocol)
		}
	default:
		b.first = resp.Body
	}
	upd.Body = b
	return upd, nil
}

// metaDiff returns the fields of m that differ from the local object.
func (s *Service) metaDiff(soid ids.SOID, m *causality.RemoteMeta) (int32, error) {
	oa, err := s.store.GetOA(nil, s.store.ResolveAlias(soid))
	if errors.Is(err, storage.ErrNotFound) {
		return metaDiffAll, nil
	}
	if err != nil {
		return 0, err
	}
	var diff int32
	if oa.Type != m.Type {
		diff |= MetaDiffType
	}
	if oa.Parent != m.Parent {
		diff |= MetaDiffParent
	}
	if oa.Name != m.Name {
		diff |= MetaDiffName
	}
	if oa.Flags&^storage.FlagExpelled != m.Flags&^storage.FlagExpelled {
		diff |= MetaDiffFlags
	}
	return diff, nil
}

// body yields the content of a reply: the bytes that came with the reply
// envelope, then the chunks of its stream.
type body struct {
	reply    *rpc.Reply
	first    []byte
	started  bool
	done     uint64
	total    uint64
	progress download.ProgressFunc
	metrics  *metrics
}

func (b *body) Next(ctx context.Context) ([]byte, error) {
	var chunk []byte
	switch {
	case !b.started:
		b.started = true
		chunk = b.first
		if len(chunk) == 0 {
			return b.Next(ctx)
		}
	case b.reply.Stream != nil:
		c, err := b.reply.Stream.Read(ctx)
		if err != nil {
			return nil, err
		}
		chunk = c
	default:
		return nil, io.EOF
	}

	b.done += uint64(len(chunk))
	b.metrics.ContentBytesReceived.Add(float64(len(chunk)))
	if b.progress != nil {
		b.progress(b.reply.From, b.done, b.total)
	}
	return chunk, nil
}

// Close releases the stream of the reply.
func (b *body) Close() error {
	b.reply.Close()
	return nil
}

func (s *Service) handleGetComponent(ctx context.Context, p p2p.Peer, msg *pb.Core) error {
	req := msg.GetComponentRequest
	if req == nil {
		return fmt.Errorf("%w: empty component request", ErrProtocol)
	}
	oid, err := ids.OIDFromBytes(req.Oid)
	if err != nil {
		return fmt.Errorf("%w: oid: %w", ErrProtocol, err)
	}
	known, err := version.FromPB(req.LocalVersion)
	if err != nil {
		return fmt.Errorf("%w: version: %w", ErrProtocol, err)
	}
	sidx := ids.SIndex(req.Store)
	if !s.store.StoreExists(sidx) {
		return storage.ErrStoreNotFound
	}

	soid := s.store.ResolveAlias(ids.NewSOID(sidx, oid))
	oa, err := s.store.GetOA(nil, soid)
	if err != nil {
		return err
	}
	if oa.IsExpelled() {
		return causality.ErrExpelled
	}

	socid := ids.NewSOCID(soid, ids.CID(req.Cid))
	if socid.CID.IsMeta() {
		return s.sendMeta(ctx, p, msg, socid, oa, known)
	}
	return s.sendContent(ctx, p, msg, socid, oa, known)
}

func (s *Service) sendMeta(ctx context.Context, p p2p.Peer, req *pb.Core, socid ids.SOCID, oa *storage.OA, known version.Vector) error {
	v, err := s.store.LocalVersion(ids.NewSOCKID(socid, ids.KMaster))
	if err != nil {
		return err
	}
	if v.IsDominatedBy(known) {
		return causality.ErrNoNewUpdate
	}
	resp := &pb.GetComponentResponse{
		Version: v.ToPB(),
		Meta: &pb.Meta{
			ObjectType: int32(oa.Type),
			ParentOid:  oa.Parent.Bytes(),
			Name:       oa.Name,
			Flags:      oa.Flags &^ storage.FlagExpelled,
		},
	}
	return s.sender.Reply(ctx, p, req, pb.Type_GET_COMPONENT_RESPONSE, &pb.Core{GetComponentResponse: resp})
}

// sendContent sends the first branch the requester does not know. The
// transfer resumes after the prefix of the requester if that prefix was
// downloaded for the same version.
func (s *Service) sendContent(ctx context.Context, p p2p.Peer, req *pb.Core, socid ids.SOCID, oa *storage.OA, known version.Vector) error {
	if oa.Type != storage.TypeFile {
		return fmt.Errorf("content of %s: %w", socid, storage.ErrNotFound)
	}

	var (
		sockid ids.SOCKID
		v      version.Vector
		found  bool
	)
	for _, br := range oa.Branches {
		k := ids.NewSOCKID(socid, br.KIdx)
		bv, err := s.store.LocalVersion(k)
		if err != nil {
			return err
		}
		if !bv.IsDominatedBy(known) {
			sockid, v, found = k, bv, true
			break
		}
	}
	if !found {
		return causality.ErrNoNewUpdate
	}

	rc, br, err := s.store.OpenContent(sockid)
	if err != nil {
		return err
	}
	defer rc.Close()

	var offset uint64
	if n := req.GetComponentRequest.PrefixLength; n > 0 && n <= br.Length {
		pv, err := version.FromPB(req.GetComponentRequest.PrefixVersion)
		if err == nil && pv.Equal(v) {
			if _, err := io.CopyN(io.Discard, rc, int64(n)); err != nil {
				return fmt.Errorf("skip prefix of %s: %w", sockid, err)
			}
			offset = n
		}
	}

	resp := &pb.GetComponentResponse{
		Version: v.ToPB(),
		Content: &pb.ContentInfo{
			Length:       br.Length,
			Mtime:        br.Mtime,
			Hash:         br.Hash,
			PrefixOffset: offset,
		},
	}
	tp, err := s.sender.Transport(p)
	if err != nil {
		return err
	}

	remaining := br.Length - offset
	var inline []byte
	if remaining <= uint64(tp.MaxUnicastSize()) {
		inline = make([]byte, remaining)
		if _, err := io.ReadFull(rc, inline); err != nil {
			return fmt.Errorf("read %s: %w", sockid, err)
		}
		resp.Body = inline
		payload, err := encodeReply(req, pb.Type_GET_COMPONENT_RESPONSE, &pb.Core{GetComponentResponse: resp})
		if err != nil {
			return err
		}
		if len(payload) <= tp.MaxUnicastSize() {
			s.metrics.ContentBytesSent.Add(float64(len(inline)))
			return tp.SendUnicast(ctx, p.DID, payload)
		}
		resp.Body = nil
	}

	resp.Streamed = true
	header, err := encodeReply(req, pb.Type_GET_COMPONENT_RESPONSE, &pb.Core{GetComponentResponse: resp})
	if err != nil {
		return err
	}
	out, err := s.outgoing.Begin(ctx, tp, p.DID, header)
	if err != nil {
		return err
	}
	s.metrics.StreamedReplies.Inc()

	// the requester owns the outcome once the stream is begun
	size := s.o.ChunkSize
	if m := tp.MaxUnicastSize(); size > m {
		size = m
	}
	r := io.MultiReader(bytes.NewReader(inline), rc)
	buf := make([]byte, size)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := out.Send(ctx, append([]byte(nil), buf[:n]...)); err != nil {
				s.logger.Debugf("protocol: stream %s to %s: %v", sockid, p.DID.Short(), err)
				return nil
			}
			s.metrics.ContentBytesSent.Add(float64(n))
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			s.logger.Debugf("protocol: read %s: %v", sockid, err)
			out.Abort(p2p.ReasonInternalError)
			return nil
		}
	}
	out.End()
	return nil
}
