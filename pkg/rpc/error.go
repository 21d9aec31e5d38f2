// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"errors"
	"fmt"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
)

// ExceptionError is an error reported by the remote device in its reply.
type ExceptionError struct {
	From    ids.DID
	Type    pb.Exception_Type
	Message string
}

func (e *ExceptionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote %s from %s", e.Type, e.From.Short())
	}
	return fmt.Sprintf("remote %s from %s: %s", e.Type, e.From.Short(), e.Message)
}

// IsException reports whether err carries a remote exception of type t.
func IsException(err error, t pb.Exception_Type) bool {
	var e *ExceptionError
	return errors.As(err, &e) && e.Type == t
}

func isException(err error) bool {
	var e *ExceptionError
	return errors.As(err, &e)
}
