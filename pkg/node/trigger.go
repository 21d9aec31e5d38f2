// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/download"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/sched"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/aer0ss/aerofs-sub003/pkg/to"
)

const defaultRetryDelay = time.Second

// trigger starts downloads for components announced by other devices and
// for components requested through the debug API. Announcements that find
// no free token are retried later for as long as they stay outstanding.
type trigger struct {
	downloads *download.Downloads
	knowledge *download.Knowledge
	factory   *to.Factory
	scheduler *sched.Scheduler
	stores    interface{ StoreExists(ids.SIndex) bool }
	logger    logging.Logger
	metrics   metrics
	retry     time.Duration
}

// NewUpdates implements protocol.UpdateListener.
func (tr *trigger) NewUpdates(from ids.DID, sidx ids.SIndex, socids []ids.SOCID) {
	for _, socid := range socids {
		tr.pull(socid, from)
	}
}

// Request implements debugapi.Requester.
func (tr *trigger) Request(socid ids.SOCID) error {
	if !tr.stores.StoreExists(socid.SIdx) {
		return fmt.Errorf("store %s: %w", socid.SIdx, storage.ErrNotFound)
	}
	_, err := tr.start(socid, tr.factory.Create(socid.SIdx), sched.PriorityHigh)
	return err
}

func (tr *trigger) pull(socid ids.SOCID, from ids.DID) {
	ok, err := tr.knowledge.Outstanding(socid)
	if err != nil {
		tr.logger.Debugf("trigger: outstanding %s: %v", socid, err)
		return
	}
	if !ok {
		return
	}

	t := tr.factory.Create(socid.SIdx)
	t.Add(from)
	_, err = tr.start(socid, t, sched.PriorityNormal)
	switch {
	case err == nil:
	case errors.Is(err, download.ErrNoResource):
		tr.metrics.TriggerRetries.Inc()
		err := tr.scheduler.Schedule(func(ctx context.Context) {
			if ctx.Err() != nil {
				return
			}
			tr.pull(socid, from)
		}, sched.PriorityLow, tr.retry)
		if err != nil {
			tr.logger.Debugf("trigger: retry %s: %v", socid, err)
		}
	default:
		tr.logger.Debugf("trigger: download %s: %v", socid, err)
	}
}

func (tr *trigger) start(socid ids.SOCID, t *to.To, prio sched.Priority) (*download.Download, error) {
	d, err := tr.downloads.DownloadAsync(socid, t, tr, nil, prio)
	if err != nil {
		return nil, err
	}
	tr.metrics.Triggered.Inc()
	return d, nil
}

func (tr *trigger) OnOK(socid ids.SOCID, from ids.DID) {
	tr.metrics.TriggerSucceeded.Inc()
	tr.logger.Debugf("trigger: %s downloaded from %s", socid, from.Short())
}

func (tr *trigger) OnError(socid ids.SOCID, err error) {
	tr.metrics.TriggerFailed.Inc()
	tr.logger.Debugf("trigger: %s failed: %v", socid, err)
}
