// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Requests        prometheus.Counter
	Timeouts        prometheus.Counter
	Exceptions      prometheus.Counter
	SpuriousReplies prometheus.Counter
	Pending         prometheus.Gauge
}

func newMetrics() metrics {
	subsystem := "rpc"

	return metrics{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Number of requests sent, retries included.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "timeouts_total",
			Help:      "Number of requests that timed out.",
		}),
		Exceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "exceptions_total",
			Help:      "Number of replies carrying a remote exception.",
		}),
		SpuriousReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "spurious_replies_total",
			Help:      "Number of replies dropped because no request waited for them.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "pending",
			Help:      "Number of requests waiting for a reply.",
		}),
	}
}

func (r *RPC) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(r.metrics)
}
