// Copyright 2024 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonhttptest_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp"
	"github.com/aer0ss/aerofs-sub003/pkg/jsonhttp/jsonhttptest"
	"resenje.org/web"
)

type entry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newServer(t *testing.T) *http.Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/entry", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tag") != "" {
			w.Header().Set("X-Tag", r.Header.Get("X-Tag"))
		}
		jsonhttp.OK(w, entry{Name: "report.txt", Count: 3})
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		var e entry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			jsonhttp.BadRequest(w, err)
			return
		}
		e.Count++
		jsonhttp.OK(w, e)
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusNoContent)
	})

	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return &http.Client{
		Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			u, err := url.Parse(s.URL + r.URL.String())
			if err != nil {
				return nil, err
			}
			r.URL = u
			return s.Client().Transport.RoundTrip(r)
		}),
	}
}

func TestRequest(t *testing.T) {
	t.Parallel()

	client := newServer(t)

	t.Run("expected json", func(t *testing.T) {
		jsonhttptest.Request(t, client, http.MethodGet, "/entry", http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(entry{Name: "report.txt", Count: 3}),
		)
	})

	t.Run("unmarshal", func(t *testing.T) {
		var got entry
		jsonhttptest.Request(t, client, http.MethodPost, "/echo", http.StatusOK,
			jsonhttptest.WithJSONRequestBody(entry{Name: "a", Count: 1}),
			jsonhttptest.WithUnmarshalResponse(&got),
		)
		if got != (entry{Name: "a", Count: 2}) {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("headers", func(t *testing.T) {
		h := jsonhttptest.Request(t, client, http.MethodGet, "/entry", http.StatusOK,
			jsonhttptest.WithRequestHeader("X-Tag", "t1"),
		)
		if got := h.Get("X-Tag"); got != "t1" {
			t.Errorf("got header %q", got)
		}
	})

	t.Run("no body", func(t *testing.T) {
		jsonhttptest.Request(t, client, http.MethodGet, "/empty", http.StatusNoContent,
			jsonhttptest.WithNoResponseBody(),
		)
	})
}
