// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	// StartDuration measures the time taken by NewReplicad.
	StartDuration prometheus.Histogram
	DialAttempts  prometheus.Counter
	DialFailures  prometheus.Counter
	// Triggered counts downloads started from update notifications.
	Triggered        prometheus.Counter
	TriggerRetries   prometheus.Counter
	TriggerSucceeded prometheus.Counter
	TriggerFailed    prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "node"

	return metrics{
		StartDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "start_duration_seconds",
			Help:      "Duration in seconds for the node to start.",
		}),
		DialAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dial_attempts",
			Help:      "Number of attempts to connect to configured peers.",
		}),
		DialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "dial_failures",
			Help:      "Number of failed attempts to connect to configured peers.",
		}),
		Triggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "triggered_downloads",
			Help:      "Number of downloads started from update notifications or requests.",
		}),
		TriggerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "trigger_retries",
			Help:      "Number of triggered downloads postponed for lack of a token.",
		}),
		TriggerSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "trigger_succeeded",
			Help:      "Number of triggered downloads that completed.",
		}),
		TriggerFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "trigger_failed",
			Help:      "Number of triggered downloads that failed.",
		}),
	}
}

func (b *Replicad) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(b.metrics)
}
