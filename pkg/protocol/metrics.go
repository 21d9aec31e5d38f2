// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protocol

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	ComponentRequests    prometheus.Counter
	StreamedReplies      prometheus.Counter
	ContentBytesSent     prometheus.Counter
	ContentBytesReceived prometheus.Counter
	UpdatesAnnounced     prometheus.Counter
	UpdatesReceived      prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "protocol"

	return metrics{
		ComponentRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "component_requests_total",
			Help:      "Total number of component requests sent.",
		}),
		StreamedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "streamed_replies_total",
			Help:      "Total number of replies sent over a stream.",
		}),
		ContentBytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "content_sent_bytes_total",
			Help:      "Total number of content bytes sent.",
		}),
		ContentBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "content_received_bytes_total",
			Help:      "Total number of content bytes received.",
		}),
		UpdatesAnnounced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "updates_announced_total",
			Help:      "Total number of component updates announced.",
		}),
		UpdatesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "updates_received_total",
			Help:      "Total number of component updates announced by other devices.",
		}),
	}
}

func (s *Service) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(s.metrics)
}

type dispatcherMetrics struct {
	Received       *prometheus.CounterVec
	Malformed      prometheus.Counter
	ProtocolErrors prometheus.Counter
	Exceptions     prometheus.Counter
	Dropped        prometheus.Counter
}

func newDispatcherMetrics() dispatcherMetrics {
	subsystem := "dispatcher"

	return dispatcherMetrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "messages_total",
			Help:      "Total number of messages received by type.",
		}, []string{"type"}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "malformed_total",
			Help:      "Total number of messages that could not be decoded.",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "protocol_errors_total",
			Help:      "Total number of messages of an unexpected type.",
		}),
		Exceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "exceptions_total",
			Help:      "Total number of requests answered with an exception.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dropped_total",
			Help:      "Total number of messages dropped after shutdown.",
		}),
	}
}

func (d *Dispatcher) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(d.metrics)
}
