// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugapi exposes the diagnostics API of the replication daemon:
// health, metrics, online devices and the state of downloads.
package debugapi

import (
	"net/http"
	"sync"

	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/dlstate"
	"github.com/aer0ss/aerofs-sub003/pkg/ids"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/tracing"
	"github.com/prometheus/client_golang/prometheus"
)

// Requester starts the download of a component on demand.
type Requester interface {
	Request(socid ids.SOCID) error
}

type Options struct {
	Devices   *devices.Registry
	Tracker   *dlstate.Tracker
	Requester Requester
}

// Service implements http.Handler interface to be used in HTTP server.
type Service struct {
	devices         *devices.Registry
	tracker         *dlstate.Tracker
	requester       Requester
	logger          logging.Logger
	tracer          *tracing.Tracer
	corsAllowed     []string
	metricsRegistry *prometheus.Registry

	handler   http.Handler
	handlerMu sync.RWMutex
}

// New creates a Service that serves only /health, metrics and pprof until
// Configure is called.
func New(logger logging.Logger, tracer *tracing.Tracer, corsAllowedOrigins []string) *Service {
	s := &Service{
		logger:          logger,
		tracer:          tracer,
		corsAllowed:     corsAllowedOrigins,
		metricsRegistry: newMetricsRegistry(),
	}
	s.setRouter(s.newBasicRouter())
	return s
}

// Configure injects the replication components and enables the routes that
// depend on them. It must be called at most once.
func (s *Service) Configure(o Options) {
	s.devices = o.Devices
	s.tracker = o.Tracker
	s.requester = o.Requester

	s.setRouter(s.newRouter())
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handlerMu.RLock()
	h := s.handler
	s.handlerMu.RUnlock()

	h.ServeHTTP(w, r)
}
