// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package identity

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	CacheHits         prometheus.Counter
	StoreHits         prometheus.Counter
	RemoteResolutions prometheus.Counter
	Evictions         prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "identity"

	return metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Owner lookups served from memory.",
		}),
		StoreHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "store_hits_total",
			Help:      "Owner lookups served from the state store.",
		}),
		RemoteResolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "remote_resolutions_total",
			Help:      "Owner lookups that asked the device.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "evictions_total",
			Help:      "Devices evicted from the memory cache.",
		}),
	}
}

func (mp *Mapper) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(mp.metrics)
}
