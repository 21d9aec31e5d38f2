// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package debugapi_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/debugapi"
	"github.com/aer0ss/aerofs-sub003/pkg/devices"
	"github.com/aer0ss/aerofs-sub003/pkg/dlstate"
	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/sirupsen/logrus"
	"resenje.org/web"
)

type testServerOptions struct {
	Unconfigured bool
	Devices      *devices.Registry
	Tracker      *dlstate.Tracker
	Requester    debugapi.Requester
}

func newTestServer(t *testing.T, o testServerOptions) *http.Client {
	t.Helper()

	logger := logging.New(io.Discard, logrus.ErrorLevel)
	if o.Devices == nil {
		o.Devices = devices.New(logger)
	}
	if o.Tracker == nil {
		o.Tracker = dlstate.New(logger)
	}

	s := debugapi.New(logger, nil, []string{"https://console.example.org"})
	if !o.Unconfigured {
		s.Configure(debugapi.Options{
			Devices:   o.Devices,
			Tracker:   o.Tracker,
			Requester: o.Requester,
		})
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return &http.Client{
		Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			u, err := url.Parse(ts.URL + r.URL.String())
			if err != nil {
				return nil, err
			}
			r.URL = u
			return ts.Client().Transport.RoundTrip(r)
		}),
	}
}
