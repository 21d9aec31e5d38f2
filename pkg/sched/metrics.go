// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sched

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Queued   prometheus.Gauge
	Executed prometheus.Counter
	Rejected prometheus.Counter
	Deferred prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "sched"

	return metrics{
		Queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "queued",
			Help:      "Events waiting for a worker.",
		}),
		Executed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "executed_total",
			Help:      "Events run by the workers.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "rejected_total",
			Help:      "Events refused by a full or closed queue.",
		}),
		Deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "deferred_total",
			Help:      "Events deferred because the queue was full.",
		}),
	}
}

func (q *Queue) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(q.metrics)
}
