// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the frames exchanged by the websocket carrier.
package pb

import (
	"strconv"

	proto "github.com/gogo/protobuf/proto"
)

type Frame_Kind int32

const (
	Frame_DATAGRAM       Frame_Kind = 0
	Frame_MAXCAST        Frame_Kind = 1
	Frame_BEGIN          Frame_Kind = 2
	Frame_CHUNK          Frame_Kind = 3
	Frame_END_OUTGOING   Frame_Kind = 4
	Frame_ABORT_OUTGOING Frame_Kind = 5
	Frame_END_INCOMING   Frame_Kind = 6
	Frame_ABORT_INCOMING Frame_Kind = 7
	Frame_PING           Frame_Kind = 8
	Frame_PONG           Frame_Kind = 9
)

var Frame_Kind_name = map[int32]string{
	0: "DATAGRAM",
	1: "MAXCAST",
	2: "BEGIN",
	3: "CHUNK",
	4: "END_OUTGOING",
	5: "ABORT_OUTGOING",
	6: "END_INCOMING",
	7: "ABORT_INCOMING",
	8: "PING",
	9: "PONG",
}

var Frame_Kind_value = map[string]int32{
	"DATAGRAM":       0,
	"MAXCAST":        1,
	"BEGIN":          2,
	"CHUNK":          3,
	"END_OUTGOING":   4,
	"ABORT_OUTGOING": 5,
	"END_INCOMING":   6,
	"ABORT_INCOMING": 7,
	"PING":           8,
	"PONG":           9,
}

func (x Frame_Kind) String() string {
	if s, ok := Frame_Kind_name[int32(x)]; ok {
		return s
	}
	return strconv.Itoa(int(x))
}

type Hello struct {
	Did             []byte  `protobuf:"bytes,1,opt,name=did,proto3" json:"did,omitempty"`
	Stores          []int32 `protobuf:"varint,2,rep,packed,name=stores,proto3" json:"stores,omitempty"`
	ProtocolVersion string  `protobuf:"bytes,3,opt,name=protocol_version,json=protocolVersion,proto3" json:"protocol_version,omitempty"`
}

func (m *Hello) Reset()         { *m = Hello{} }
func (m *Hello) String() string { return proto.CompactTextString(m) }
func (*Hello) ProtoMessage()    {}

type Frame struct {
	Kind    Frame_Kind `protobuf:"varint,1,opt,name=kind,proto3,enum=frame.Frame_Kind" json:"kind,omitempty"`
	Store   int32      `protobuf:"varint,2,opt,name=store,proto3" json:"store,omitempty"`
	Stream  uint32     `protobuf:"varint,3,opt,name=stream,proto3" json:"stream,omitempty"`
	Seq     uint32     `protobuf:"varint,4,opt,name=seq,proto3" json:"seq,omitempty"`
	Reason  int32      `protobuf:"varint,5,opt,name=reason,proto3" json:"reason,omitempty"`
	Nonce   uint64     `protobuf:"varint,6,opt,name=nonce,proto3" json:"nonce,omitempty"`
	Payload []byte     `protobuf:"bytes,7,opt,name=payload,proto3" json:"payload,omitempty"`
}

func (m *Frame) Reset()         { *m = Frame{} }
func (m *Frame) String() string { return proto.CompactTextString(m) }
func (*Frame) ProtoMessage()    {}

func init() {
	proto.RegisterEnum("frame.Frame_Kind", Frame_Kind_name, Frame_Kind_value)
	proto.RegisterType((*Hello)(nil), "frame.Hello")
	proto.RegisterType((*Frame)(nil), "frame.Frame")
}
