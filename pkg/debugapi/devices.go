// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp"
	"github.com/aer0ss/aerofs-sub003/pkg/p2p"
	"github.com/gorilla/mux"
)

const pingTimeout = 10 * time.Second

type deviceResponse struct {
	DID        string       `json:"did"`
	Transport  string       `json:"transport,omitempty"`
	Stores     []ids.SIndex `json:"stores"`
	Probing    bool         `json:"probing"`
	Preference int          `json:"preference"`
}

type devicesResponse struct {
	Devices []deviceResponse `json:"devices"`
}

type pingResponse struct {
	RTT string `json:"rtt"`
}

func newDeviceResponse(d devices.Device) deviceResponse {
	r := deviceResponse{
		DID:        d.DID.String(),
		Stores:     d.Stores,
		Probing:    d.Probing,
		Preference: d.Preference(),
	}
	if r.Stores == nil {
		r.Stores = []ids.SIndex{}
	}
	if d.Transport != nil {
		r.Transport = d.Transport.Name()
	}
	return r
}

func (s *Service) devicesHandler(w http.ResponseWriter, _ *http.Request) {
	all := s.devices.All()
	resp := devicesResponse{Devices: make([]deviceResponse, 0, len(all))}
	for _, d := range all {
		resp.Devices = append(resp.Devices, newDeviceResponse(d))
	}
	jsonhttp.OK(w, resp)
}

func (s *Service) deviceHandler(w http.ResponseWriter, r *http.Request) {
	did, err := ids.ParseDID(mux.Vars(r)["did"])
	if err != nil {
		s.logger.Debugf("debug api: device: parse did: %v", err)
		jsonhttp.BadRequest(w, "invalid did")
		return
	}
	d, ok := s.devices.Get(did)
	if !ok {
		jsonhttp.NotFound(w, "device offline")
		return
	}
	jsonhttp.OK(w, newDeviceResponse(d))
}

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	did, err := ids.ParseDID(mux.Vars(r)["did"])
	if err != nil {
		s.logger.Debugf("debug api: ping: parse did: %v", err)
		jsonhttp.BadRequest(w, "invalid did")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	rtt, err := s.devices.Ping(ctx, did)
	if err != nil {
		s.logger.Debugf("debug api: ping %s: %v", did.Short(), err)
		if errors.Is(err, p2p.ErrDeviceOffline) {
			jsonhttp.NotFound(w, "device offline")
			return
		}
		s.logger.Errorf("debug api: ping %s failed", did.Short())
		jsonhttp.InternalServerError(w, err)
		return
	}
	jsonhttp.OK(w, pingResponse{RTT: rtt.String()})
}
