// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dlstate

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Tracked   prometheus.Gauge
	Succeeded prometheus.Counter
	Failed    prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "dlstate"

	return metrics{
		Tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "tracked",
			Help:      "Downloads not yet ended.",
		}),
		Succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "succeeded_total",
			Help:      "Downloads ended successfully.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "failed_total",
			Help:      "Downloads ended with an error.",
		}),
	}
}

func (t *Tracker) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(t.metrics)
}
