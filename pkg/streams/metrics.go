// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package streams

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type incomingMetrics struct {
	Active     prometheus.Gauge
	Begun      prometheus.Counter
	OutOfOrder prometheus.Counter
	Aborted    prometheus.Counter
	Deferred   prometheus.Gauge
}

func newIncomingMetrics() incomingMetrics {
	subsystem := "streams_incoming"

	return incomingMetrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of open incoming streams.",
		}),
		Begun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "begun_total",
			Help:      "Number of incoming streams begun.",
		}),
		OutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "out_of_order_total",
			Help:      "Number of chunks received out of sequence.",
		}),
		Aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "aborted_total",
			Help:      "Number of incoming streams invalidated.",
		}),
		Deferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "deferred_notifications",
			Help:      "Notifications held back by carrier back pressure.",
		}),
	}
}

func (in *Incoming) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(in.metrics)
}

type outgoingMetrics struct {
	Active   prometheus.Gauge
	Begun    prometheus.Counter
	Aborted  prometheus.Counter
	Deferred prometheus.Gauge
}

func newOutgoingMetrics() outgoingMetrics {
	subsystem := "streams_outgoing"

	return outgoingMetrics{
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "active",
			Help:      "Number of open outgoing streams.",
		}),
		Begun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "begun_total",
			Help:      "Number of outgoing streams begun.",
		}),
		Aborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "aborted_total",
			Help:      "Number of outgoing streams aborted locally.",
		}),
		Deferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "deferred_notifications",
			Help:      "Notifications held back by carrier back pressure.",
		}),
	}
}

func (out *Outgoing) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(out.metrics)
}
