// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pb holds the wire messages of the replication protocol. The types
// mirror core.proto field for field and are marshalled through the gogo
// protobuf table driven codec using the struct tags.
package pb

import (
	"strconv"

	proto "github.com/gogo/protobuf/proto"
)

type Type int32

const (
	Type_UNKNOWN                Type = 0
	Type_GET_COMPONENT_REQUEST  Type = 1
	Type_GET_COMPONENT_RESPONSE Type = 2
	Type_GET_VERSIONS_REQUEST   Type = 3
	Type_GET_VERSIONS_RESPONSE  Type = 4
	Type_NEW_UPDATES            Type = 5
	Type_UPDATE_SENDER_FILTER   Type = 6
	Type_REPLY                  Type = 7
	Type_RESOLVE_USER_REQUEST   Type = 8
	Type_RESOLVE_USER_RESPONSE  Type = 9
)

var Type_name = map[int32]string{
	0: "UNKNOWN",
	1: "GET_COMPONENT_REQUEST",
	2: "GET_COMPONENT_RESPONSE",
	3: "GET_VERSIONS_REQUEST",
	4: "GET_VERSIONS_RESPONSE",
	5: "NEW_UPDATES",
	6: "UPDATE_SENDER_FILTER",
	7: "REPLY",
	8: "RESOLVE_USER_REQUEST",
	9: "RESOLVE_USER_RESPONSE",
}

var Type_value = map[string]int32{
	"UNKNOWN":                0,
	"GET_COMPONENT_REQUEST":  1,
	"GET_COMPONENT_RESPONSE": 2,
	"GET_VERSIONS_REQUEST":   3,
	"GET_VERSIONS_RESPONSE":  4,
	"NEW_UPDATES":            5,
	"UPDATE_SENDER_FILTER":   6,
	"REPLY":                  7,
	"RESOLVE_USER_REQUEST":   8,
	"RESOLVE_USER_RESPONSE":  9,
}

func (x Type) String() string {
	if s, ok := Type_name[int32(x)]; ok {
		return s
	}
	return strconv.Itoa(int(x))
}

type Exception_Type int32

const (
	Exception_INTERNAL           Exception_Type = 0
	Exception_NO_NEW_UPDATE      Exception_Type = 1
	Exception_NO_PERM            Exception_Type = 2
	Exception_NOT_FOUND          Exception_Type = 3
	Exception_UPDATE_IN_PROGRESS Exception_Type = 4
	Exception_EXPELLED           Exception_Type = 5
	Exception_PROTOCOL_ERROR     Exception_Type = 6
	Exception_ABORTED            Exception_Type = 7
)

var Exception_Type_name = map[int32]string{
	0: "INTERNAL",
	1: "NO_NEW_UPDATE",
	2: "NO_PERM",
	3: "NOT_FOUND",
	4: "UPDATE_IN_PROGRESS",
	5: "EXPELLED",
	6: "PROTOCOL_ERROR",
	7: "ABORTED",
}

var Exception_Type_value = map[string]int32{
	"INTERNAL":           0,
	"NO_NEW_UPDATE":      1,
	"NO_PERM":            2,
	"NOT_FOUND":          3,
	"UPDATE_IN_PROGRESS": 4,
	"EXPELLED":           5,
	"PROTOCOL_ERROR":     6,
	"ABORTED":            7,
}

func (x Exception_Type) String() string {
	if s, ok := Exception_Type_name[int32(x)]; ok {
		return s
	}
	return strconv.Itoa(int(x))
}

type Core struct {
	Type                 Type                  `protobuf:"varint,1,opt,name=type,proto3,enum=core.Type" json:"type,omitempty"`
	RpcId                uint32                `protobuf:"varint,2,opt,name=rpc_id,json=rpcId,proto3" json:"rpc_id,omitempty"`
	ReplyType            Type                  `protobuf:"varint,3,opt,name=reply_type,json=replyType,proto3,enum=core.Type" json:"reply_type,omitempty"`
	Exception            *Exception            `protobuf:"bytes,4,opt,name=exception,proto3" json:"exception,omitempty"`
	GetComponentRequest  *GetComponentRequest  `protobuf:"bytes,5,opt,name=get_component_request,json=getComponentRequest,proto3" json:"get_component_request,omitempty"`
	GetComponentResponse *GetComponentResponse `protobuf:"bytes,6,opt,name=get_component_response,json=getComponentResponse,proto3" json:"get_component_response,omitempty"`
	GetVersionsRequest   *GetVersionsRequest   `protobuf:"bytes,7,opt,name=get_versions_request,json=getVersionsRequest,proto3" json:"get_versions_request,omitempty"`
	GetVersionsResponse  *GetVersionsResponse  `protobuf:"bytes,8,opt,name=get_versions_response,json=getVersionsResponse,proto3" json:"get_versions_response,omitempty"`
	NewUpdates           *NewUpdates           `protobuf:"bytes,9,opt,name=new_updates,json=newUpdates,proto3" json:"new_updates,omitempty"`
	UpdateSenderFilter   *UpdateSenderFilter   `protobuf:"bytes,10,opt,name=update_sender_filter,json=updateSenderFilter,proto3" json:"update_sender_filter,omitempty"`
	ResolveUserRequest   *ResolveUserRequest   `protobuf:"bytes,11,opt,name=resolve_user_request,json=resolveUserRequest,proto3" json:"resolve_user_request,omitempty"`
	ResolveUserResponse  *ResolveUserResponse  `protobuf:"bytes,12,opt,name=resolve_user_response,json=resolveUserResponse,proto3" json:"resolve_user_response,omitempty"`
	Trace                []byte                `protobuf:"bytes,13,opt,name=trace,proto3" json:"trace,omitempty"`
}

func (m *Core) Reset()         { *m = Core{} }
func (m *Core) String() string { return proto.CompactTextString(m) }
func (*Core) ProtoMessage()    {}

func (m *Core) GetType() Type {
	if m != nil {
		return m.Type
	}
	return Type_UNKNOWN
}

func (m *Core) GetException() *Exception {
	if m != nil {
		return m.Exception
	}
	return nil
}

func (m *Core) GetGetComponentResponse() *GetComponentResponse {
	if m != nil {
		return m.GetComponentResponse
	}
	return nil
}

type Exception struct {
	Type    Exception_Type `protobuf:"varint,1,opt,name=type,proto3,enum=core.Exception_Type" json:"type,omitempty"`
	Message string         `protobuf:"bytes,2,opt,name=message,proto3" json:"message,omitempty"`
}

func (m *Exception) Reset()         { *m = Exception{} }
func (m *Exception) String() string { return proto.CompactTextString(m) }
func (*Exception) ProtoMessage()    {}

type Tick struct {
	Did  []byte `protobuf:"bytes,1,opt,name=did,proto3" json:"did,omitempty"`
	Tick uint64 `protobuf:"varint,2,opt,name=tick,proto3" json:"tick,omitempty"`
}

func (m *Tick) Reset()         { *m = Tick{} }
func (m *Tick) String() string { return proto.CompactTextString(m) }
func (*Tick) ProtoMessage()    {}

type Vector struct {
	Ticks []*Tick `protobuf:"bytes,1,rep,name=ticks,proto3" json:"ticks,omitempty"`
}

func (m *Vector) Reset()         { *m = Vector{} }
func (m *Vector) String() string { return proto.CompactTextString(m) }
func (*Vector) ProtoMessage()    {}

func (m *Vector) GetTicks() []*Tick {
	if m != nil {
		return m.Ticks
	}
	return nil
}

type GetComponentRequest struct {
	Store         int32   `protobuf:"varint,1,opt,name=store,proto3" json:"store,omitempty"`
	Oid           []byte  `protobuf:"bytes,2,opt,name=oid,proto3" json:"oid,omitempty"`
	Cid           int32   `protobuf:"varint,3,opt,name=cid,proto3" json:"cid,omitempty"`
	LocalVersion  *Vector `protobuf:"bytes,4,opt,name=local_version,json=localVersion,proto3" json:"local_version,omitempty"`
	PrefixLength  uint64  `protobuf:"varint,5,opt,name=prefix_length,json=prefixLength,proto3" json:"prefix_length,omitempty"`
	PrefixVersion *Vector `protobuf:"bytes,6,opt,name=prefix_version,json=prefixVersion,proto3" json:"prefix_version,omitempty"`
}

func (m *GetComponentRequest) Reset()         { *m = GetComponentRequest{} }
func (m *GetComponentRequest) String() string { return proto.CompactTextString(m) }
func (*GetComponentRequest) ProtoMessage()    {}

type Meta struct {
	ObjectType int32  `protobuf:"varint,1,opt,name=object_type,json=objectType,proto3" json:"object_type,omitempty"`
	ParentOid  []byte `protobuf:"bytes,2,opt,name=parent_oid,json=parentOid,proto3" json:"parent_oid,omitempty"`
	Name       string `protobuf:"bytes,3,opt,name=name,proto3" json:"name,omitempty"`
	Flags      uint32 `protobuf:"varint,4,opt,name=flags,proto3" json:"flags,omitempty"`
}

func (m *Meta) Reset()         { *m = Meta{} }
func (m *Meta) String() string { return proto.CompactTextString(m) }
func (*Meta) ProtoMessage()    {}

type ContentInfo struct {
	Length       uint64 `protobuf:"varint,1,opt,name=length,proto3" json:"length,omitempty"`
	Mtime        int64  `protobuf:"varint,2,opt,name=mtime,proto3" json:"mtime,omitempty"`
	Hash         []byte `protobuf:"bytes,3,opt,name=hash,proto3" json:"hash,omitempty"`
	PrefixOffset uint64 `protobuf:"varint,4,opt,name=prefix_offset,json=prefixOffset,proto3" json:"prefix_offset,omitempty"`
}

func (m *ContentInfo) Reset()         { *m = ContentInfo{} }
func (m *ContentInfo) String() string { return proto.CompactTextString(m) }
func (*ContentInfo) ProtoMessage()    {}

type GetComponentResponse struct {
	Version  *Vector      `protobuf:"bytes,1,opt,name=version,proto3" json:"version,omitempty"`
	Meta     *Meta        `protobuf:"bytes,3,opt,name=meta,proto3" json:"meta,omitempty"`
	Content  *ContentInfo `protobuf:"bytes,4,opt,name=content,proto3" json:"content,omitempty"`
	Body     []byte       `protobuf:"bytes,5,opt,name=body,proto3" json:"body,omitempty"`
	Streamed bool         `protobuf:"varint,6,opt,name=streamed,proto3" json:"streamed,omitempty"`
}

func (m *GetComponentResponse) Reset()         { *m = GetComponentResponse{} }
func (m *GetComponentResponse) String() string { return proto.CompactTextString(m) }
func (*GetComponentResponse) ProtoMessage()    {}

type ComponentVersion struct {
	Oid     []byte  `protobuf:"bytes,1,opt,name=oid,proto3" json:"oid,omitempty"`
	Cid     int32   `protobuf:"varint,2,opt,name=cid,proto3" json:"cid,omitempty"`
	Kidx    int32   `protobuf:"varint,3,opt,name=kidx,proto3" json:"kidx,omitempty"`
	Version *Vector `protobuf:"bytes,4,opt,name=version,proto3" json:"version,omitempty"`
}

func (m *ComponentVersion) Reset()         { *m = ComponentVersion{} }
func (m *ComponentVersion) String() string { return proto.CompactTextString(m) }
func (*ComponentVersion) ProtoMessage()    {}

type GetVersionsRequest struct {
	Store int32    `protobuf:"varint,1,opt,name=store,proto3" json:"store,omitempty"`
	Oids  [][]byte `protobuf:"bytes,2,rep,name=oids,proto3" json:"oids,omitempty"`
}

func (m *GetVersionsRequest) Reset()         { *m = GetVersionsRequest{} }
func (m *GetVersionsRequest) String() string { return proto.CompactTextString(m) }
func (*GetVersionsRequest) ProtoMessage()    {}

type GetVersionsResponse struct {
	Versions []*ComponentVersion `protobuf:"bytes,1,rep,name=versions,proto3" json:"versions,omitempty"`
}

func (m *GetVersionsResponse) Reset()         { *m = GetVersionsResponse{} }
func (m *GetVersionsResponse) String() string { return proto.CompactTextString(m) }
func (*GetVersionsResponse) ProtoMessage()    {}

type NewUpdates struct {
	Store   int32               `protobuf:"varint,1,opt,name=store,proto3" json:"store,omitempty"`
	Updates []*ComponentVersion `protobuf:"bytes,2,rep,name=updates,proto3" json:"updates,omitempty"`
}

func (m *NewUpdates) Reset()         { *m = NewUpdates{} }
func (m *NewUpdates) String() string { return proto.CompactTextString(m) }
func (*NewUpdates) ProtoMessage()    {}

type UpdateSenderFilter struct {
	Store       int32  `protobuf:"varint,1,opt,name=store,proto3" json:"store,omitempty"`
	FilterIndex uint64 `protobuf:"varint,2,opt,name=filter_index,json=filterIndex,proto3" json:"filter_index,omitempty"`
	UpdateSeq   uint64 `protobuf:"varint,3,opt,name=update_seq,json=updateSeq,proto3" json:"update_seq,omitempty"`
}

func (m *UpdateSenderFilter) Reset()         { *m = UpdateSenderFilter{} }
func (m *UpdateSenderFilter) String() string { return proto.CompactTextString(m) }
func (*UpdateSenderFilter) ProtoMessage()    {}

type ResolveUserRequest struct {
	Did []byte `protobuf:"bytes,1,opt,name=did,proto3" json:"did,omitempty"`
}

func (m *ResolveUserRequest) Reset()         { *m = ResolveUserRequest{} }
func (m *ResolveUserRequest) String() string { return proto.CompactTextString(m) }
func (*ResolveUserRequest) ProtoMessage()    {}

type ResolveUserResponse struct {
	Did  []byte `protobuf:"bytes,1,opt,name=did,proto3" json:"did,omitempty"`
	User string `protobuf:"bytes,2,opt,name=user,proto3" json:"user,omitempty"`
}

func (m *ResolveUserResponse) Reset()         { *m = ResolveUserResponse{} }
func (m *ResolveUserResponse) String() string { return proto.CompactTextString(m) }
func (*ResolveUserResponse) ProtoMessage()    {}

func init() {
	proto.RegisterEnum("core.Type", Type_name, Type_value)
	proto.RegisterEnum("core.Exception_Type", Exception_Type_name, Exception_Type_value)
	proto.RegisterType((*Core)(nil), "core.Core")
	proto.RegisterType((*Exception)(nil), "core.Exception")
	proto.RegisterType((*Tick)(nil), "core.Tick")
	proto.RegisterType((*Vector)(nil), "core.Vector")
	proto.RegisterType((*GetComponentRequest)(nil), "core.GetComponentRequest")
	proto.RegisterType((*Meta)(nil), "core.Meta")
	proto.RegisterType((*ContentInfo)(nil), "core.ContentInfo")
	proto.RegisterType((*GetComponentResponse)(nil), "core.GetComponentResponse")
	proto.RegisterType((*ComponentVersion)(nil), "core.ComponentVersion")
	proto.RegisterType((*GetVersionsRequest)(nil), "core.GetVersionsRequest")
	proto.RegisterType((*GetVersionsResponse)(nil), "core.GetVersionsResponse")
	proto.RegisterType((*NewUpdates)(nil), "core.NewUpdates")
	proto.RegisterType((*UpdateSenderFilter)(nil), "core.UpdateSenderFilter")
	proto.RegisterType((*ResolveUserRequest)(nil), "core.ResolveUserRequest")
	proto.RegisterType((*ResolveUserResponse)(nil), "core.ResolveUserResponse")
}

func (m *GetComponentResponse) GetVersion() *Vector {
	if m != nil {
		return m.Version
	}
	return nil
}

func (m *GetComponentResponse) GetMeta() *Meta {
	if m != nil {
		return m.Meta
	}
	return nil
}

func (m *GetComponentResponse) GetContent() *ContentInfo {
	if m != nil {
		return m.Content
	}
	return nil
}

func (m *Core) GetGetVersionsResponse() *GetVersionsResponse {
	if m != nil {
		return m.GetVersionsResponse
	}
	return nil
}

func (m *Core) GetResolveUserResponse() *ResolveUserResponse {
	if m != nil {
		return m.ResolveUserResponse
	}
	return nil
}
