// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"errors"
	"net/http"
	"sort"

	"github.com/aer0ss/aerofs-sub003/pkg/dlstate"
	"github.com/aer0ss/aerofs-sub003/pkg/download"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp"
	"github.com/aer0ss/aerofs-sub003/pkg/storage"
	"github.com/gorilla/mux"
)

type downloadResponse struct {
	SOCID string `json:"socid"`
	State string `json:"state"`
	Peer  string `json:"peer,omitempty"`
	Done  uint64 `json:"done,omitempty"`
	Total uint64 `json:"total,omitempty"`
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

type downloadsResponse struct {
	Downloads []downloadResponse `json:"downloads"`
}

func newDownloadResponse(socid ids.SOCID, st dlstate.State) downloadResponse {
	r := downloadResponse{
		SOCID: socid.Key(),
		State: st.Kind.String(),
		Done:  st.Done,
		Total: st.Total,
		OK:    st.OK,
		Error: st.Err,
	}
	if st.Kind == dlstate.Ongoing {
		r.Peer = st.Peer.String()
	}
	return r
}

func (s *Service) downloadsHandler(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.Snapshot()
	keys := make([]ids.SOCID, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	resp := downloadsResponse{Downloads: make([]downloadResponse, 0, len(keys))}
	for _, k := range keys {
		resp.Downloads = append(resp.Downloads, newDownloadResponse(k, snap[k]))
	}
	jsonhttp.OK(w, resp)
}

func (s *Service) downloadHandler(w http.ResponseWriter, r *http.Request) {
	socid, err := ids.ParseSOCID(mux.Vars(r)["socid"])
	if err != nil {
		s.logger.Debugf("debug api: download: %v", err)
		jsonhttp.BadRequest(w, "invalid socid")
		return
	}
	st, ok := s.tracker.Get(socid)
	if !ok {
		jsonhttp.NotFound(w, nil)
		return
	}
	jsonhttp.OK(w, newDownloadResponse(socid, st))
}

func (s *Service) requestDownloadHandler(w http.ResponseWriter, r *http.Request) {
	socid, err := ids.ParseSOCID(mux.Vars(r)["socid"])
	if err != nil {
		s.logger.Debugf("debug api: request download: %v", err)
		jsonhttp.BadRequest(w, "invalid socid")
		return
	}
	if s.requester == nil {
		jsonhttp.ServiceUnavailable(w, nil)
		return
	}
	if err := s.requester.Request(socid); err != nil {
		s.logger.Debugf("debug api: request download %s: %v", socid, err)
		switch {
		case errors.Is(err, download.ErrNoResource):
			jsonhttp.TooManyRequests(w, "no download token available")
		case errors.Is(err, storage.ErrNotFound):
			jsonhttp.NotFound(w, "unknown store")
		default:
			s.logger.Errorf("debug api: request download %s failed", socid)
			jsonhttp.InternalServerError(w, nil)
		}
		return
	}
	jsonhttp.Accepted(w, nil)
}
