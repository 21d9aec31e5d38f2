// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging provides the logger interface abstraction
// and implementation for the replication daemon. It uses logrus
// under the hood.
package logging

import (
	"fmt"
	"io"
	"strconv"

	m "github.com/aer0ss/aerofs-sub003/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type Logger interface {
	Tracef(format string, args ...any)
	Trace(args ...any)
	Debugf(format string, args ...any)
	Debug(args ...any)
	Infof(format string, args ...any)
	Info(args ...any)
	Warningf(format string, args ...any)
	Warning(args ...any)
	Errorf(format string, args ...any)
	Error(args ...any)
	WithField(key string, value any) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
	WriterLevel(logrus.Level) *io.PipeWriter
	NewEntry() *logrus.Entry
	Metrics() []prometheus.Collector
}

type logger struct {
	*logrus.Logger
	metrics metrics
}

func New(w io.Writer, level logrus.Level) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}
	metrics := newMetrics()
	l.AddHook(metrics)
	return &logger{
		Logger:  l,
		metrics: metrics,
	}
}

func (l *logger) NewEntry() *logrus.Entry {
	return logrus.NewEntry(l.Logger)
}

func (l *logger) Metrics() []prometheus.Collector {
	return m.PrometheusCollectorsFromFields(l.metrics)
}

// ParseVerbosity accepts either a logrus level name or a number
// in the range [0..6] where 0 is panic and 6 is trace.
func ParseVerbosity(v string) (logrus.Level, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n < int(logrus.PanicLevel) || n > int(logrus.TraceLevel) {
			return 0, fmt.Errorf("unknown verbosity level %q", v)
		}
		return logrus.Level(n), nil
	}
	lvl, err := logrus.ParseLevel(v)
	if err != nil {
		return 0, fmt.Errorf("unknown verbosity level %q", v)
	}
	return lvl, nil
}
