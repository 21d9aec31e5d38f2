// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protobuf provides length delimited protobuf message framing over
// byte streams and helpers to encode single messages.
package protobuf

import (
	"context"
	"encoding/binary"
	"errors"
	"io"

	ggio "github.com/gogo/protobuf/io"
	"github.com/gogo/protobuf/proto"
)

const delimitedReaderMaxSize = 128 * 1024 // max message size

var (
	ErrTimeout   = errors.New("timeout")
	ErrMalformed = errors.New("malformed delimited message")
)

type Message = proto.Message

func NewWriterAndReader(s io.ReadWriter) (Writer, Reader) {
	return NewWriter(s), NewReader(s)
}

func NewReader(r io.Reader) Reader {
	return newReader(ggio.NewDelimitedReader(r, delimitedReaderMaxSize))
}

func NewWriter(w io.Writer) Writer {
	return newWriter(ggio.NewDelimitedWriter(w))
}

func ReadMessages(r io.Reader, newMessage func() Message) (m []Message, err error) {
	pr := NewReader(r)
	for {
		msg := newMessage()
		if err := pr.ReadMsg(msg); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		m = append(m, msg)
	}
	return m, nil
}

// Encode returns msg framed with its varint length prefix followed by
// trailer, which is left unframed.
func Encode(msg Message, trailer []byte) ([]byte, error) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, binary.MaxVarintLen64+len(b)+len(trailer))
	out = binary.AppendUvarint(out, uint64(len(b)))
	out = append(out, b...)
	return append(out, trailer...), nil
}

// Decode reads one delimited message from the head of b into msg and returns
// the remaining bytes.
func Decode(b []byte, msg Message) (rest []byte, err error) {
	l, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, ErrMalformed
	}
	if l > delimitedReaderMaxSize || uint64(len(b)-n) < l {
		return nil, ErrMalformed
	}
	if err := proto.Unmarshal(b[n:n+int(l)], msg); err != nil {
		return nil, err
	}
	return b[n+int(l):], nil
}

type Reader struct {
	ggio.Reader
}

func newReader(r ggio.Reader) Reader {
	return Reader{Reader: r}
}

func (r Reader) ReadMsgWithContext(ctx context.Context, msg proto.Message) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- r.ReadMsg(msg)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Writer struct {
	ggio.Writer
}

func newWriter(r ggio.Writer) Writer {
	return Writer{Writer: r}
}

func (w Writer) WriteMsgWithContext(ctx context.Context, msg proto.Message) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.WriteMsg(msg)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
