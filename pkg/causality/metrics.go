// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package causality

import (
	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	Applied          prometheus.Counter
	NoNewUpdate      prometheus.Counter
	Conflicts        prometheus.Counter
	Renames          prometheus.Counter
	Aliases          prometheus.Counter
	ConflictBranches prometheus.Counter
}

func newMetrics() metrics {
	subsystem := "causality"

	return metrics{
		Applied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "applied_total",
			Help:      "Remote updates applied.",
		}),
		NoNewUpdate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "no_new_update_total",
			Help:      "Remote updates already known locally.",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "meta_conflicts_total",
			Help:      "Concurrent metadata updates.",
		}),
		Renames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "renames_total",
			Help:      "Name conflicts resolved by renaming.",
		}),
		Aliases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "aliases_total",
			Help:      "Name conflicts resolved by aliasing.",
		}),
		ConflictBranches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "conflict_branches_total",
			Help:      "Conflict branches created.",
		}),
	}
}

func (r *Resolver) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(r.metrics)
}
