// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devices

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	OnlineDevices prometheus.Gauge
	Unreachable   prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "devices"

	return metrics{
		OnlineDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "online",
			Help:      "Number of devices reachable by at least one carrier.",
		}),
		Unreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "unreachable_total",
			Help:      "Number of devices dropped after a failed liveness probe.",
		}),
	}
}

func (r *Registry) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(r.metrics)
}
