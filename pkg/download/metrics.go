// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package download

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Ongoing   prometheus.Gauge
	Started   prometheus.Counter
	Joined    prometheus.Counter
	Succeeded prometheus.Counter
	Failed    prometheus.Counter
	Outcomes  *prometheus.CounterVec
}

func newMetrics() metrics {
	subsystem := "download"

	return metrics{
		Ongoing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "ongoing",
			Help:      "Downloads in progress.",
		}),
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "started_total",
			Help:      "Downloads started.",
		}),
		Joined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "joined_total",
			Help:      "Requests merged into a download in progress.",
		}),
		Succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "succeeded_total",
			Help:      "Downloads completed.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "failed_total",
			Help:      "Downloads given up.",
		}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "attempt_outcomes_total",
			Help:      "Outcomes of download attempts.",
		}, []string{"outcome"}),
	}
}

func (ds *Downloads) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(ds.metrics)
}
