// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi

import (
	replicad "github.com/aer0ss/aerofs-sub003"
	"github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func newMetricsRegistry() *prometheus.Registry {
	r := metrics.NewRegistry()
	r.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Name:      "info",
		Help:      "Replication daemon information.",
		ConstLabels: prometheus.Labels{
			"version":          replicad.Version,
			"protocol_version": replicad.ProtocolVersion,
		},
	}))
	return r
}

func (s *Service) MustRegisterMetrics(cs ...prometheus.Collector) {
	s.metricsRegistry.MustRegister(cs...)
}
