// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package websocket

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Sessions        prometheus.Gauge
	HandshakeErrors prometheus.Counter
	BackPressure    prometheus.Counter
	FramesSent      *prometheus.CounterVec
	FramesReceived  *prometheus.CounterVec
	BytesSent       prometheus.Counter
	BytesReceived   prometheus.Counter
	PingRTT         prometheus.Histogram
}

func newMetrics() metrics {
	subsystem := "websocket"

	return metrics{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of open peer sessions.",
		}),
		HandshakeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "handshake_errors_total",
			Help:      "Total number of refused or failed hello exchanges.",
		}),
		BackPressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "back_pressure_total",
			Help:      "Total number of frames refused by a full queue.",
		}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent by kind.",
		}, []string{"kind"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "frames_received_total",
			Help:      "Total number of frames received by kind.",
		}, []string{"kind"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "sent_bytes_total",
			Help:      "Total number of payload bytes sent.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "received_bytes_total",
			Help:      "Total number of payload bytes received.",
		}),
		PingRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "ping_rtt_seconds",
			Help:      "Round trip time of ping frames.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}
}

func (t *Transport) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(t.metrics)
}
