// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package httpaccess_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/logging"
	"github.com/aer0ss/aerofs-sub003/pkg/logging/httpaccess"
	"github.com/sirupsen/logrus"
	"resenje.org/web"
)

func TestAccessLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.New(&buf, logrus.DebugLevel)

	h := web.ChainHandlers(
		httpaccess.NewHTTPAccessLogHandler(logger, logrus.InfoLevel, nil, "api access"),
		web.FinalHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}),
	)

	r := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	h.ServeHTTP(httptest.NewRecorder(), r)

	got := buf.String()
	for _, want := range []string{`msg="api access"`, "status=418", "size=15", "uri=/downloads", "method=GET"} {
		if !strings.Contains(got, want) {
			t.Errorf("log %q does not contain %q", got, want)
		}
	}
}

func TestAccessLogSuppressed(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.New(&buf, logrus.DebugLevel)

	h := web.ChainHandlers(
		httpaccess.NewHTTPAccessLogHandler(logger, logrus.InfoLevel, nil, "api access"),
		httpaccess.SetAccessLogLevelHandler(0),
		web.FinalHandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
	)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if buf.Len() != 0 {
		t.Errorf("got log %q, want none", buf.String())
	}
}
