// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package devices keeps track of the devices that carriers report online,
// the stores they share with the local device and the carriers that reach
// them.
package devices

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
)

// ProbingPenalty is added to the preference of a device whose liveness is
// being re-probed, pushing it behind every healthy device.
const ProbingPenalty = 1000

type device struct {
	transports map[string]p2p.Transport
	stores     map[ids.SIndex]int
	probing    bool
}

func (d *device) best() p2p.Transport {
	var best p2p.Transport
	for _, tp := range d.transports {
		if best == nil || tp.Preference() < best.Preference() ||
			(tp.Preference() == best.Preference() && tp.Name() < best.Name()) {
			best = tp
		}
	}
	return best
}

// Device is a point in time copy of a registered device.
type Device struct {
	DID       ids.DID
	Transport p2p.Transport
	Stores    []ids.SIndex
	Probing   bool
	pref      int
}

// Preference is the preference of the best online carrier, increased by
// ProbingPenalty while the device is probed. Lower is better.
func (d Device) Preference() int { return d.pref }

type Registry struct {
	mu         sync.Mutex
	transports map[string]p2p.Transport
	devices    map[ids.DID]*device
	logger     logging.Logger
	metrics    metrics
}

func New(logger logging.Logger, transports ...p2p.Transport) *Registry {
	r := &Registry{
		transports: make(map[string]p2p.Transport),
		devices:    make(map[ids.DID]*device),
		logger:     logger,
		metrics:    newMetrics(),
	}
	for _, tp := range transports {
		r.transports[tp.Name()] = tp
	}
	return r
}

// Online records that a carrier reaches did, which is a member of stores.
func (r *Registry) Online(did ids.DID, transport string, stores []ids.SIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tp, ok := r.transports[transport]
	if !ok {
		r.logger.Warningf("devices: online report from unknown transport %q", transport)
		return
	}
	d, ok := r.devices[did]
	if !ok {
		d = &device{
			transports: make(map[string]p2p.Transport),
			stores:     make(map[ids.SIndex]int),
		}
		r.devices[did] = d
		r.metrics.OnlineDevices.Inc()
		r.logger.Debugf("devices: %s online via %s", did.Short(), transport)
	}
	if _, ok := d.transports[transport]; !ok {
		d.transports[transport] = tp
		for _, s := range stores {
			d.stores[s]++
		}
	}
}

// Offline records that the named carrier lost the device. The device is
// forgotten once no carrier reaches it.
func (r *Registry) Offline(did ids.DID, transport string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[did]
	if !ok {
		return
	}
	delete(d.transports, transport)
	if len(d.transports) == 0 {
		delete(r.devices, did)
		r.metrics.OnlineDevices.Dec()
		r.logger.Debugf("devices: %s offline", did.Short())
	}
}

// Probing marks the device as suspected unreachable until Reachable is called.
func (r *Registry) Probing(did ids.DID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[did]; ok {
		d.probing = true
	}
}

// Reachable reports the result of a liveness probe. An unreachable device is
// dropped from every carrier.
func (r *Registry) Reachable(did ids.DID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, found := r.devices[did]
	if !found {
		return
	}
	if ok {
		d.probing = false
		return
	}
	delete(r.devices, did)
	r.metrics.OnlineDevices.Dec()
	r.metrics.Unreachable.Inc()
	r.logger.Infof("devices: %s unreachable", did.Short())
}

// Get returns a copy of the device state.
func (r *Registry) Get(did ids.DID) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[did]
	if !ok {
		return Device{}, false
	}
	return snapshot(did, d), true
}

// OnlineMembers returns the online devices that are members of the store,
// sorted by DID.
func (r *Registry) OnlineMembers(sidx ids.SIndex) []ids.DID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dids []ids.DID
	for did, d := range r.devices {
		if d.stores[sidx] > 0 {
			dids = append(dids, did)
		}
	}
	sort.Slice(dids, func(i, j int) bool { return dids[i].Compare(dids[j]) < 0 })
	return dids
}

// All returns a copy of every online device, sorted by DID.
func (r *Registry) All() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Device, 0, len(r.devices))
	for did, d := range r.devices {
		out = append(out, snapshot(did, d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DID.Compare(out[j].DID) < 0 })
	return out
}

func snapshot(did ids.DID, d *device) Device {
	tp := d.best()
	dev := Device{DID: did, Transport: tp, Probing: d.probing}
	if tp != nil {
		dev.pref = tp.Preference()
	}
	if d.probing {
		dev.pref += ProbingPenalty
	}
	for s := range d.stores {
		dev.Stores = append(dev.Stores, s)
	}
	sort.Slice(dev.Stores, func(i, j int) bool { return dev.Stores[i] < dev.Stores[j] })
	return dev
}

// Ping measures the round trip to did over its best carrier.
func (r *Registry) Ping(ctx context.Context, did ids.DID) (time.Duration, error) {
	d, ok := r.Get(did)
	if !ok || d.Transport == nil {
		return 0, p2p.ErrDeviceOffline
	}
	return d.Transport.Ping(ctx, did)
}
