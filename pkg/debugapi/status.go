// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	"net/http"

	replicad "github.com/aer0ss/aerofs-sub003"
	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp"
)

type StatusResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion"`
}

func (s *Service) statusHandler(w http.ResponseWriter, _ *http.Request) {
	jsonhttp.OK(w, StatusResponse{
		Status:          "ok",
		Version:         replicad.Version,
		ProtocolVersion: replicad.ProtocolVersion,
	})
}
