// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package download

import (
	"context"
	"errors"
	"os"

	"github.com/aer0ss/aerofs-sub003/pkg/causality"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/aer0ss/aerofs-sub003/pkg/protocol/pb"
	"github.com/aer0ss/aerofs-sub003/pkg/rpc"
	"github.com/aer0ss/aerofs-sub003/pkg/streams"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
	"github.com/aer0ss/aerofs-sub003/pkg/tokens"
)

// Outcome is the kind of result of one download attempt.
type Outcome int

const (
	// OutcomeApplied: the update was applied.
	OutcomeApplied Outcome = iota
	// OutcomeDependsOn: another object must be downloaded first.
	OutcomeDependsOn
	// OutcomeIncrementalFailed: the partial content is unusable, fetch it
	// all again.
	OutcomeIncrementalFailed
	// OutcomeUpdateInProgress: the object is being changed, back off.
	OutcomeUpdateInProgress
	// OutcomeNoNewUpdate: the device had nothing newer.
	OutcomeNoNewUpdate
	// OutcomeNoResource: a local resource is exhausted, sleep.
	OutcomeNoResource
	// OutcomeDeviceFailed: try another device.
	OutcomeDeviceFailed
	// OutcomeExhausted: no device is left to try.
	OutcomeExhausted
	// OutcomeTerminal: give up.
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDependsOn:
		return "depends on"
	case OutcomeIncrementalFailed:
		return "incremental failed"
	case OutcomeUpdateInProgress:
		return "update in progress"
	case OutcomeNoNewUpdate:
		return "no new update"
	case OutcomeNoResource:
		return "no resource"
	case OutcomeDeviceFailed:
		return "device failed"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeTerminal:
		return "terminal"
	}
	return "unknown"
}

// Result of one download attempt.
type Result struct {
	Outcome Outcome
	Err     error
	// From is the device that answered, if known.
	From ids.DID
	// Dep is set for OutcomeDependsOn.
	Dep *causality.DependsOnError
}

// Classify maps the error of an attempt to its outcome.
func Classify(err error) Result {
	r := Result{Err: err}
	var exc *rpc.ExceptionError
	if errors.As(err, &exc) {
		r.From = exc.From
	}

	var dep *causality.DependsOnError
	switch {
	case err == nil:
		r.Outcome = OutcomeApplied
	case errors.As(err, &dep):
		r.Outcome = OutcomeDependsOn
		r.Dep = dep
	case errors.Is(err, causality.ErrIncrementalFailed):
		r.Outcome = OutcomeIncrementalFailed
	case errors.Is(err, causality.ErrUpdateInProgress),
		streams.IsInvalidated(err, p2p.ReasonUpdateInProgress),
		rpc.IsException(err, pb.Exception_UPDATE_IN_PROGRESS):
		r.Outcome = OutcomeUpdateInProgress
	case errors.Is(err, causality.ErrNoNewUpdate),
		rpc.IsException(err, pb.Exception_NO_NEW_UPDATE):
		r.Outcome = OutcomeNoNewUpdate
	case errors.Is(err, tokens.ErrNoResource),
		errors.Is(err, p2p.ErrBackPressure):
		r.Outcome = OutcomeNoResource
	case errors.Is(err, to.ErrNoAvailDevice):
		r.Outcome = OutcomeExhausted
	case errors.Is(err, causality.ErrAborted),
		errors.Is(err, context.Canceled),
		errors.Is(err, causality.ErrNoSpace),
		errors.Is(err, causality.ErrStoreNotFound),
		errors.Is(err, causality.ErrExpelled),
		errors.Is(err, os.ErrPermission):
		r.Outcome = OutcomeTerminal
	default:
		// timeouts, refusals and failures of the remote device
		r.Outcome = OutcomeDeviceFailed
	}
	return r
}
