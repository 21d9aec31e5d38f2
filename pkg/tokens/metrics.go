// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tokens

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	InUse     *prometheus.GaugeVec
	Exhausted *prometheus.CounterVec
}

func newMetrics() metrics {
	subsystem := "tokens"

	return metrics{
		InUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "in_use",
			Help:      "Tokens held per category.",
		}, []string{"category"}),
		Exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "exhausted_total",
			Help:      "Acquisitions refused because the category was full.",
		}, []string{"category"}),
	}
}

func (mg *Manager) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(mg.metrics)
}
