// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protobuf_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/p2p/protobuf"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
)

func TestReadMessages(t *testing.T) {
	t.Parallel()

	r, pipe := io.Pipe()

	w := protobuf.NewWriter(pipe)

	users := []string{"first", "second", "third"}

	go func() {
		for _, u := range users {
			if err := w.WriteMsg(&pb.ResolveUserResponse{
				User: u,
			}); err != nil {
				panic(err)
			}
		}
		if err := pipe.Close(); err != nil {
			panic(err)
		}
	}()

	got, err := protobuf.ReadMessages(r, func() protobuf.Message { return new(pb.ResolveUserResponse) })
	if err != nil {
		t.Fatal(err)
	}

	var gotUsers []string
	for _, m := range got {
		gotUsers = append(gotUsers, m.(*pb.ResolveUserResponse).User)
	}

	if fmt.Sprint(gotUsers) != fmt.Sprint(users) {
		t.Errorf("got messages %v, want %v", gotUsers, users)
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	msg := &pb.Core{
		Type:  pb.Type_REPLY,
		RpcId: 42,
		GetComponentResponse: &pb.GetComponentResponse{
			Meta:    &pb.Meta{Name: "foo"},
			Content: &pb.ContentInfo{Length: 16},
		},
	}
	body := []byte("trailing content")

	b, err := protobuf.Encode(msg, body)
	if err != nil {
		t.Fatal(err)
	}

	var got pb.Core
	rest, err := protobuf.Decode(b, &got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rest, body) {
		t.Fatalf("got trailer %q, want %q", rest, body)
	}
	if got.RpcId != 42 || got.Type != pb.Type_REPLY {
		t.Fatalf("got header %v", got.String())
	}
	if got.GetComponentResponse.GetMeta().Name != "foo" {
		t.Fatalf("got meta %v", got.GetComponentResponse.GetMeta())
	}

	if _, err := protobuf.Decode(b[:3], &got); !errors.Is(err, protobuf.ErrMalformed) {
		t.Fatalf("got error %v, want %v", err, protobuf.ErrMalformed)
	}
}
